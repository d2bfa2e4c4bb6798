package scanner

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/gosnmp/gosnmp"
)

// mockSNMPClient implements SNMPClient for testing. Values are keyed by OID
// without a leading dot; unknown OIDs answer noSuchObject (or, in v1Strict
// mode, fail the whole PDU with noSuchName like a v1 agent).
type mockSNMPClient struct {
	mu         sync.Mutex
	values     map[string]interface{}
	connectErr error
	getErr     error
	v1Strict   bool
	requested  []string
	closed     int
}

func newMockClient(values map[string]interface{}) *mockSNMPClient {
	return &mockSNMPClient{values: values}
}

func (m *mockSNMPClient) Connect() error {
	return m.connectErr
}

func (m *mockSNMPClient) Get(oids []string) (*gosnmp.SnmpPacket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requested = append(m.requested, oids...)
	if m.getErr != nil {
		return nil, m.getErr
	}

	pkt := &gosnmp.SnmpPacket{}
	for _, oid := range oids {
		key := strings.TrimPrefix(oid, ".")
		v, ok := m.values[key]
		if !ok {
			if m.v1Strict {
				return &gosnmp.SnmpPacket{Error: gosnmp.NoSuchName}, nil
			}
			pkt.Variables = append(pkt.Variables, gosnmp.SnmpPDU{Name: "." + key, Type: gosnmp.NoSuchObject})
			continue
		}
		pkt.Variables = append(pkt.Variables, pduFor(key, v))
	}
	return pkt, nil
}

func (m *mockSNMPClient) Walk(rootOid string, walkFn gosnmp.WalkFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	root := strings.TrimPrefix(rootOid, ".") + "."
	for k, v := range m.values {
		if strings.HasPrefix(k, root) {
			if err := walkFn(pduFor(k, v)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *mockSNMPClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mockSNMPClient) wasRequested(oid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requested {
		if strings.TrimPrefix(r, ".") == oid {
			return true
		}
	}
	return false
}

func pduFor(oid string, v interface{}) gosnmp.SnmpPDU {
	pdu := gosnmp.SnmpPDU{Name: "." + oid, Value: v}
	switch t := v.(type) {
	case int:
		pdu.Type = gosnmp.Integer
	case uint:
		pdu.Type = gosnmp.Counter32
	case []byte:
		pdu.Type = gosnmp.OctetString
	case string:
		if strings.HasPrefix(t, ".1.") || strings.HasPrefix(t, "1.") {
			pdu.Type = gosnmp.ObjectIdentifier
		} else {
			pdu.Type = gosnmp.OctetString
			pdu.Value = []byte(t)
		}
	}
	return pdu
}

var errTimeout = errors.New("request timeout (after 1 retries)")

// versionedFactory returns a ClientFactory that serves clients per SNMP
// version and records which versions were attempted.
type versionedFactory struct {
	mu       sync.Mutex
	clients  map[gosnmp.SnmpVersion]*mockSNMPClient
	attempts []gosnmp.SnmpVersion
	configs  []SNMPConfig
}

func (f *versionedFactory) factory(_ context.Context, cfg *SNMPConfig, _ string) (SNMPClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, cfg.Version)
	f.configs = append(f.configs, *cfg)
	c, ok := f.clients[cfg.Version]
	if !ok {
		return &mockSNMPClient{getErr: errTimeout}, nil
	}
	return c, nil
}

// allVersions serves the same mock for v1, v2c and v3.
func allVersions(m *mockSNMPClient) *versionedFactory {
	return &versionedFactory{clients: map[gosnmp.SnmpVersion]*mockSNMPClient{
		gosnmp.Version1:  m,
		gosnmp.Version2c: m,
		gosnmp.Version3:  m,
	}}
}
