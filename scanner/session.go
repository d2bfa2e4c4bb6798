package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"printmaster/telemetry/common/logger"
	"printmaster/telemetry/common/snmp/oids"
	"printmaster/telemetry/common/storage"
	"printmaster/telemetry/util"

	"github.com/gosnmp/gosnmp"
)

// Session is an SNMP client bound to the version/credential combination that
// answered for one device. It is owned by a single poll and not shared.
type Session struct {
	Address     string
	Version     gosnmp.SnmpVersion
	SysObjectID string
	SysDescr    string

	client    SNMPClient
	batchSize int
}

// Get fetches OIDs and returns their values keyed by normalized OID.
// Missing objects are simply absent from the map.
func (s *Session) Get(ctx context.Context, oidList []string) (map[string]interface{}, error) {
	pdus, err := batchedGet(ctx, s.client, oidList, s.batchSize)
	if err != nil {
		return nil, err
	}
	return pduValues(pdus), nil
}

// Walk walks a subtree and returns values keyed by normalized OID.
func (s *Session) Walk(ctx context.Context, root string) (map[string]interface{}, error) {
	var pdus []gosnmp.SnmpPDU
	err := s.client.Walk(root, func(pdu gosnmp.SnmpPDU) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pdus = append(pdus, pdu)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("SNMP WALK %s failed: %w", root, err)
	}
	return pduValues(pdus), nil
}

// Close releases the underlying client.
func (s *Session) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// VersionLabel returns "1", "2c" or "3".
func (s *Session) VersionLabel() string {
	return versionLabel(s.Version)
}

// attempts lists the combinations for a device: registered v3 credentials
// alone when present, otherwise v2c then v1 with the community string.
func (c *PollingClient) attempts(device *storage.Device) []SNMPConfig {
	base := SNMPConfig{
		Port:    c.cfg.Port,
		Timeout: c.cfg.Timeout,
		Retries: c.cfg.Retries,
	}

	if creds := c.credentialsFor(device); creds != nil {
		v3 := base
		v3.Version = gosnmp.Version3
		v3.V3 = creds
		return []SNMPConfig{v3}
	}

	community := device.Community
	if community == "" {
		community = c.cfg.Community
	}
	v2 := base
	v2.Version = gosnmp.Version2c
	v2.Community = community
	v1 := v2
	v1.Version = gosnmp.Version1
	return []SNMPConfig{v2, v1}
}

// credentialsFor resolves versioned credentials: the device's own, then the
// run-scoped table keyed by address.
func (c *PollingClient) credentialsFor(device *storage.Device) *storage.SNMPv3Credentials {
	if device.SNMPv3 != nil && device.SNMPv3.Username != "" {
		return device.SNMPv3
	}
	if creds, ok := c.creds[device.IP]; ok && creds != nil && creds.Username != "" {
		return creds
	}
	return nil
}

// Open negotiates a session with the device. Each combination is verified
// with a GET of sysObjectID/sysDescr; the first one answering wins.
func (c *PollingClient) Open(ctx context.Context, device *storage.Device) (*Session, error) {
	if device == nil {
		return nil, errors.New("device required")
	}
	if device.IP == "" {
		return nil, fmt.Errorf("%w: device %d has no address", ErrProtocolExhausted, device.ID)
	}

	var reasons []string
	for _, cfg := range c.attempts(device) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cfg := cfg
		label := versionLabel(cfg.Version)

		client, err := c.factory(ctx, &cfg, device.IP)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("v%s: %v", label, err))
			continue
		}

		pdus, err := batchedGet(ctx, client, []string{oids.SysObjectID, oids.SysDescr}, c.cfg.BatchSize)
		if err != nil {
			client.Close()
			reasons = append(reasons, fmt.Sprintf("v%s: %v", label, err))
			if logger.Global != nil {
				logger.Global.Debug("SNMP version negotiation failed", "ip", device.IP, "version", label, "error", err.Error())
			}
			continue
		}

		vals := pduValues(pdus)
		sess := &Session{
			Address:     device.IP,
			Version:     cfg.Version,
			SysObjectID: normalizeOID(objectIDString(vals[oids.SysObjectID])),
			SysDescr:    util.ValueString(vals[oids.SysDescr]),
			client:      client,
			batchSize:   c.cfg.BatchSize,
		}
		if logger.Global != nil {
			logger.Global.Debug("SNMP session established", "ip", device.IP, "version", label)
		}
		return sess, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrProtocolExhausted, strings.Join(reasons, "; "))
}

// objectIDString renders an OBJECT IDENTIFIER value (gosnmp returns a string).
func objectIDString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return util.ValueString(v)
}
