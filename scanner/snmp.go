package scanner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"printmaster/telemetry/common/storage"

	"github.com/gosnmp/gosnmp"
)

const (
	defaultSNMPPort    = 161
	defaultSNMPTimeout = 2 * time.Second
	defaultSNMPRetries = 1
)

// SNMPConfig holds SNMP connection parameters for a single attempt.
type SNMPConfig struct {
	Version   gosnmp.SnmpVersion
	Community string
	V3        *storage.SNMPv3Credentials
	Port      uint16
	Timeout   time.Duration
	Retries   int
}

// SNMPClient defines the interface for SNMP operations.
type SNMPClient interface {
	Connect() error
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	Walk(rootOid string, walkFn gosnmp.WalkFunc) error
	Close() error
}

// gosnmpClient wraps gosnmp.GoSNMP to implement SNMPClient.
type gosnmpClient struct {
	conn *gosnmp.GoSNMP
}

func (c *gosnmpClient) Connect() error {
	return c.conn.Connect()
}

func (c *gosnmpClient) Get(oids []string) (*gosnmp.SnmpPacket, error) {
	return c.conn.Get(oids)
}

func (c *gosnmpClient) Walk(rootOid string, walkFn gosnmp.WalkFunc) error {
	return c.conn.Walk(rootOid, walkFn)
}

func (c *gosnmpClient) Close() error {
	if c.conn.Conn == nil {
		return nil
	}
	return c.conn.Conn.Close()
}

// ClientFactory creates an SNMP client for one target. Tests replace it with a mock.
type ClientFactory func(ctx context.Context, cfg *SNMPConfig, target string) (SNMPClient, error)

// newSNMPClientImpl is the gosnmp-backed ClientFactory.
func newSNMPClientImpl(ctx context.Context, cfg *SNMPConfig, target string) (SNMPClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("SNMP config required")
	}
	if target == "" {
		return nil, fmt.Errorf("target IP required")
	}

	port := cfg.Port
	if port == 0 {
		port = defaultSNMPPort
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSNMPTimeout
	}

	conn := &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    target,
		Port:      port,
		Community: cfg.Community,
		Version:   cfg.Version,
		Timeout:   timeout,
		Retries:   cfg.Retries,
		MaxOids:   gosnmp.MaxOids,
	}
	if cfg.Version == gosnmp.Version3 {
		if err := configureV3(conn, cfg.V3); err != nil {
			return nil, err
		}
	}

	client := &gosnmpClient{conn: conn}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return client, nil
}

// NewSNMPClientFunc is the function used to create SNMP clients.
// It can be replaced with a mock for testing.
var NewSNMPClientFunc ClientFactory = newSNMPClientImpl

// configureV3 sets USM security parameters and the matching message flags.
func configureV3(conn *gosnmp.GoSNMP, creds *storage.SNMPv3Credentials) error {
	if creds == nil || creds.Username == "" {
		return fmt.Errorf("SNMPv3 requires a username")
	}

	usm := &gosnmp.UsmSecurityParameters{UserName: creds.Username}
	flags := gosnmp.NoAuthNoPriv

	switch strings.ToUpper(creds.AuthProtocol) {
	case "":
	case "MD5":
		usm.AuthenticationProtocol = gosnmp.MD5
	case "SHA":
		usm.AuthenticationProtocol = gosnmp.SHA
	case "SHA224":
		usm.AuthenticationProtocol = gosnmp.SHA224
	case "SHA256":
		usm.AuthenticationProtocol = gosnmp.SHA256
	case "SHA384":
		usm.AuthenticationProtocol = gosnmp.SHA384
	case "SHA512":
		usm.AuthenticationProtocol = gosnmp.SHA512
	default:
		return fmt.Errorf("unsupported SNMPv3 auth protocol %q", creds.AuthProtocol)
	}
	if creds.AuthProtocol != "" {
		usm.AuthenticationPassphrase = creds.AuthPassword
		flags = gosnmp.AuthNoPriv
	}

	switch strings.ToUpper(creds.PrivProtocol) {
	case "":
	case "DES":
		usm.PrivacyProtocol = gosnmp.DES
	case "AES":
		usm.PrivacyProtocol = gosnmp.AES
	case "AES192":
		usm.PrivacyProtocol = gosnmp.AES192
	case "AES256":
		usm.PrivacyProtocol = gosnmp.AES256
	default:
		return fmt.Errorf("unsupported SNMPv3 privacy protocol %q", creds.PrivProtocol)
	}
	if creds.PrivProtocol != "" {
		if flags != gosnmp.AuthNoPriv {
			return fmt.Errorf("SNMPv3 privacy requires authentication")
		}
		usm.PrivacyPassphrase = creds.PrivPassword
		flags = gosnmp.AuthPriv
	}

	conn.SecurityModel = gosnmp.UserSecurityModel
	conn.MsgFlags = flags
	conn.SecurityParameters = usm
	conn.ContextName = creds.ContextName
	return nil
}

// versionLabel renders a gosnmp version the way it is recorded in results.
func versionLabel(v gosnmp.SnmpVersion) string {
	switch v {
	case gosnmp.Version1:
		return "1"
	case gosnmp.Version2c:
		return "2c"
	case gosnmp.Version3:
		return "3"
	}
	return v.String()
}
