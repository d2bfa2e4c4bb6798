// Package storage provides the shared data model for telemetry collection:
// registry devices, counter samples, tray snapshots, refills and batch reports.
package storage

import (
	"encoding/json"
	"time"
)

// Collection methods recorded on samples and refills.
const (
	MethodScheduled = "scheduled"
	MethodManual    = "manual"
	MethodAuto      = "auto"
)

// Per-device batch outcome statuses.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// DefaultTrayCapacity is the nominal number of units in a freshly loaded tray cartridge.
const DefaultTrayCapacity = 100

// SNMPv3Credentials holds USM settings for a single device.
type SNMPv3Credentials struct {
	Username     string `json:"username" toml:"username"`
	AuthProtocol string `json:"auth_protocol,omitempty" toml:"auth_protocol"` // MD5, SHA, SHA224, SHA256, SHA384, SHA512
	AuthPassword string `json:"-" toml:"auth_password"`
	PrivProtocol string `json:"priv_protocol,omitempty" toml:"priv_protocol"` // DES, AES, AES192, AES256
	PrivPassword string `json:"-" toml:"priv_password"`
	ContextName  string `json:"context_name,omitempty" toml:"context_name"`
}

// Device is a fleet registry entry. The engine reads it and may only correct its address.
type Device struct {
	ID              int64              `json:"id"`
	Serial          string             `json:"serial,omitempty"`
	IP              string             `json:"ip"`
	Model           string             `json:"model,omitempty"`
	Profile         string             `json:"profile,omitempty"`   // Vendor profile hint ("hp", "oki", ...)
	Community       string             `json:"-"`                   // SNMP community, empty = engine default
	SNMPv3          *SNMPv3Credentials `json:"snmpv3,omitempty"`    // Registered versioned credentials
	IsColor         bool               `json:"is_color"`            // Capability flag
	TrayBased       bool               `json:"tray_based"`          // Consumables tracked as trays via the web console
	TrayCapacity    int                `json:"tray_capacity"`       // Units per cartridge (0 = DefaultTrayCapacity)
	RefillThreshold int                `json:"refill_threshold"`    // 0 = engine default
	InitialMono     int64              `json:"initial_mono"`        // Counters at onboarding
	InitialColor    int64              `json:"initial_color"`
	InitialTotal    int64              `json:"initial_total"`
	Active          bool               `json:"active"`
	UpdatedAt       time.Time          `json:"updated_at,omitempty"`
}

// Identity returns the stable identity of the device: serial when known, address otherwise.
func (d *Device) Identity() string {
	if d.Serial != "" {
		return d.Serial
	}
	return d.IP
}

// Capacity returns the tray capacity, falling back to DefaultTrayCapacity.
func (d *Device) Capacity() int {
	if d.TrayCapacity > 0 {
		return d.TrayCapacity
	}
	return DefaultTrayCapacity
}

// CounterSample is one append-only counter reading for a device.
type CounterSample struct {
	ID         int64           `json:"id"`
	DeviceID   int64           `json:"device_id"`
	Period     string          `json:"period"` // YYYY-MM
	Timestamp  time.Time       `json:"timestamp"`
	Mono       int64           `json:"mono"`
	Color      int64           `json:"color"`
	Total      int64           `json:"total"`
	MonoDelta  int64           `json:"mono_delta"`
	ColorDelta int64           `json:"color_delta"`
	TotalDelta int64           `json:"total_delta"`
	Method     string          `json:"method"`
	Profile    string          `json:"profile,omitempty"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
	Locked     bool            `json:"locked"`
}

// TraySnapshot is an immutable point-in-time reading of one tray.
type TraySnapshot struct {
	ID             int64     `json:"id"`
	DeviceID       int64     `json:"device_id"`
	Tray           int       `json:"tray"`
	Available      int       `json:"available"`
	Printed        int       `json:"printed"` // Units consumed since the previous snapshot
	ChangeDetected bool      `json:"change_detected"`
	Timestamp      time.Time `json:"timestamp"`
	RefillID       *int64    `json:"refill_id,omitempty"`
}

// RefillRecord is a consumable replacement, detected automatically or entered manually.
type RefillRecord struct {
	ID             int64     `json:"id"`
	DeviceID       int64     `json:"device_id"`
	Tray           int       `json:"tray"`
	UnitsLoaded    int       `json:"units_loaded"`
	Before         int       `json:"before"`
	After          int       `json:"after"`
	PrintedFromOld int       `json:"printed_from_old"`
	Method         string    `json:"method"`
	Timestamp      time.Time `json:"timestamp"`
}

// DeviceOutcome is the per-device line of an execution report.
type DeviceOutcome struct {
	DeviceID   int64  `json:"device_id"`
	Address    string `json:"address"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Method     string `json:"method,omitempty"` // snmp or webui
	Profile    string `json:"profile,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// ExecutionReport is the aggregate outcome of one batch collection run.
type ExecutionReport struct {
	BatchID        string          `json:"batch_id"`
	Period         string          `json:"period"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	Processed      int             `json:"processed"`
	Succeeded      int             `json:"succeeded"`
	Failed         int             `json:"failed"`
	Skipped        int             `json:"skipped"`
	RecordsCreated int             `json:"records_created"`
	Details        []DeviceOutcome `json:"details"`
}

// Selection chooses the devices a batch runs over. Empty DeviceIDs means all active devices.
type Selection struct {
	DeviceIDs []int64 `json:"device_ids,omitempty"`
}

// All reports whether the selection targets every active device.
func (s Selection) All() bool {
	return len(s.DeviceIDs) == 0
}

// PeriodKey formats the reporting period (YYYY-MM) for a timestamp.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
