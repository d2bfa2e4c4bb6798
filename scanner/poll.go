package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"printmaster/telemetry/common/logger"
	"printmaster/telemetry/common/storage"
	"printmaster/telemetry/scanner/vendor"
	"printmaster/telemetry/supplies"
	"printmaster/telemetry/util"
)

// PollStatus classifies a poll outcome.
type PollStatus string

const (
	PollOK      PollStatus = "ok"
	PollPartial PollStatus = "partial"
	PollFailed  PollStatus = "failure"
)

// Credentials maps device addresses to SNMPv3 credentials for one collection run.
type Credentials map[string]*storage.SNMPv3Credentials

// PollerConfig configures a PollingClient.
type PollerConfig struct {
	Community   string
	Port        uint16
	Timeout     time.Duration
	Retries     int
	BatchSize   int
	SupplySlots int
}

// DefaultPollerConfig returns the engine defaults: public community, 2s timeout, one retry.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Community:   "public",
		Port:        defaultSNMPPort,
		Timeout:     defaultSNMPTimeout,
		Retries:     defaultSNMPRetries,
		BatchSize:   defaultOIDBatchSize,
		SupplySlots: defaultSupplySlots,
	}
}

// PollResult is the outcome of one poll. Poll never returns an error; a
// failed poll carries Status=failure and Err.
type PollResult struct {
	Address      string            `json:"address"`
	Status       PollStatus        `json:"status"`
	Version      string            `json:"snmp_version,omitempty"`
	Profile      string            `json:"profile,omitempty"`
	Mono         int64             `json:"mono"`
	Color        int64             `json:"color"`
	Total        int64             `json:"total"`
	Toner        map[string]int    `json:"toner,omitempty"` // percent by colour, -1 unknown
	Supplies     []SupplyReading   `json:"supplies,omitempty"`
	PaperLevel   int64             `json:"paper_level"` // prtInputCurrentLevel, negative values are MIB sentinels
	DeviceStatus int64             `json:"device_status"`
	Serial       string            `json:"serial,omitempty"`
	SysName      string            `json:"sys_name,omitempty"`
	Location     string            `json:"location,omitempty"`
	SysDescr     string            `json:"sys_descr,omitempty"`
	Missing      []string          `json:"missing,omitempty"`
	Raw          map[string]string `json:"raw,omitempty"`
	Elapsed      time.Duration     `json:"elapsed"`
	Reason       string            `json:"reason,omitempty"`
	Err          error             `json:"-"`
}

// Succeeded reports whether counters were obtained (ok or partial).
func (r *PollResult) Succeeded() bool {
	return r != nil && (r.Status == PollOK || r.Status == PollPartial)
}

// Option configures a PollingClient.
type Option func(*PollingClient)

// WithClientFactory overrides how SNMP clients are created.
func WithClientFactory(f ClientFactory) Option {
	return func(c *PollingClient) {
		if f != nil {
			c.factory = f
		}
	}
}

// PollingClient reads counters and attributes over SNMP using vendor profiles.
// Credentials are scoped to the client; there is no process-wide state.
type PollingClient struct {
	cfg     PollerConfig
	creds   Credentials
	factory ClientFactory
}

// NewPollingClient builds a client. Zero config fields take the defaults.
func NewPollingClient(cfg PollerConfig, creds Credentials, opts ...Option) *PollingClient {
	def := DefaultPollerConfig()
	if cfg.Community == "" {
		cfg.Community = def.Community
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = def.Retries
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.SupplySlots <= 0 {
		cfg.SupplySlots = def.SupplySlots
	}
	if creds == nil {
		creds = Credentials{}
	}
	c := &PollingClient{cfg: cfg, creds: creds, factory: NewSNMPClientFunc}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *PollingClient) Config() PollerConfig {
	return c.cfg
}

// counterReading is the winning profile's counter triple.
type counterReading struct {
	profile vendor.Profile
	mono    int64
	color   int64
	total   int64
}

// Poll negotiates a session and reads counters, toner, paper, status and
// system attributes. A single missing attribute never fails the poll.
func (c *PollingClient) Poll(ctx context.Context, device *storage.Device) *PollResult {
	start := time.Now()
	res := &PollResult{Status: PollFailed, PaperLevel: -1, DeviceStatus: -1, Raw: map[string]string{}}
	if device == nil {
		res.Err = errors.New("device required")
		res.Reason = res.Err.Error()
		return res
	}
	res.Address = device.IP

	sess, err := c.Open(ctx, device)
	if err != nil {
		res.Err = err
		res.Reason = err.Error()
		res.Elapsed = time.Since(start)
		return res
	}
	defer sess.Close()

	res.Version = sess.VersionLabel()
	res.SysDescr = sess.SysDescr

	declared, _ := vendor.Parse(device.Profile)
	if device.Profile == "" {
		declared = vendor.Detect(sess.SysObjectID, sess.SysDescr)
	}

	reading, err := c.readCounters(ctx, sess, declared, res.Raw)
	if err != nil {
		res.Err = err
		res.Reason = err.Error()
		res.Elapsed = time.Since(start)
		if logger.Global != nil {
			logger.Global.WarnRateLimited("poll-"+device.IP, 5*time.Minute, "Counter acquisition failed", "ip", device.IP, "error", err.Error())
		}
		return res
	}
	res.Profile = reading.profile.Name()
	res.Mono, res.Color, res.Total = reading.mono, reading.color, reading.total

	c.readAttributes(ctx, sess, reading.profile, res)
	c.readToner(ctx, sess, reading.profile, res)

	res.Status = PollOK
	if len(res.Missing) > 0 {
		res.Status = PollPartial
		res.Err = fmt.Errorf("%w: missing %s", ErrPartialData, strings.Join(res.Missing, ", "))
		res.Reason = res.Err.Error()
	}
	res.Elapsed = time.Since(start)

	if logger.Global != nil {
		logger.Global.Debug("Poll complete", "ip", device.IP, "profile", res.Profile, "version", res.Version,
			"total", res.Total, "mono", res.Mono, "color", res.Color, "status", string(res.Status))
	}
	return res
}

// readCounters tries the declared profile, then the alternates (vendor
// profiles, generic last). The first profile yielding a numeric mono value,
// or a total to stand in for it, wins.
func (c *PollingClient) readCounters(ctx context.Context, sess *Session, declared vendor.Vendor, raw map[string]string) (*counterReading, error) {
	var reasons []string
	for _, p := range vendor.Alternates(declared) {
		oidList := p.CounterOIDs()
		if len(oidList) == 0 {
			continue
		}
		if logger.Global != nil {
			logger.Global.TraceTag("snmp_profile", "Trying profile", "ip", sess.Address, "profile", p.Name())
		}

		vals, err := sess.Get(ctx, oidList)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			reasons = append(reasons, fmt.Sprintf("%s: %v", p.Name(), err))
			continue
		}

		total, hasTotal := numeric(vals, p.TotalPages)
		mono, hasMono := numeric(vals, p.MonoPages)
		color, hasColor := numeric(vals, p.ColorPages)

		if !hasMono && hasTotal {
			mono, hasMono = total, true
		}
		if !hasMono {
			reasons = append(reasons, p.Name()+": no numeric counter")
			continue
		}
		if !hasColor {
			color = 0
		}
		if !hasTotal {
			total = mono + color
		}

		for _, oid := range oidList {
			if v, ok := vals[normalizeOID(oid)]; ok {
				raw[normalizeOID(oid)] = util.ValueString(v)
			}
		}
		return &counterReading{profile: p, mono: mono, color: color, total: total}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrProtocolExhausted, strings.Join(reasons, "; "))
}

// readAttributes fills status, paper, serial, sysName and location.
func (c *PollingClient) readAttributes(ctx context.Context, sess *Session, p vendor.Profile, res *PollResult) {
	oidList := p.AttributeOIDs()
	if len(oidList) == 0 {
		return
	}
	vals, err := sess.Get(ctx, oidList)
	if err != nil {
		if logger.Global != nil {
			logger.Global.Debug("Attribute read failed", "ip", sess.Address, "error", err.Error())
		}
		vals = map[string]interface{}{}
	}
	for k, v := range vals {
		res.Raw[k] = util.ValueString(v)
	}

	if p.PaperLevel != "" {
		if v, ok := numeric(vals, p.PaperLevel); ok {
			res.PaperLevel = v
		} else {
			res.Missing = append(res.Missing, "paper_level")
		}
	}
	if p.Status != "" {
		if v, ok := numeric(vals, p.Status); ok {
			res.DeviceStatus = v
		} else {
			res.Missing = append(res.Missing, "status")
		}
	}
	res.Serial = textValue(vals, p.Serial)
	res.SysName = textValue(vals, p.SysName)
	res.Location = textValue(vals, p.Location)
	if p.Serial != "" && res.Serial == "" {
		res.Missing = append(res.Missing, "serial")
	}
	if p.SysName != "" && res.SysName == "" {
		res.Missing = append(res.Missing, "sys_name")
	}
}

// readToner runs supply discovery and falls back to the profile's level OIDs
// for colours discovery could not classify.
func (c *PollingClient) readToner(ctx context.Context, sess *Session, p vendor.Profile, res *PollResult) {
	res.Toner = make(map[string]int)

	readings, err := DiscoverSupplies(ctx, sess, c.cfg.SupplySlots)
	if err != nil && logger.Global != nil {
		logger.Global.Debug("Supply discovery failed", "ip", sess.Address, "error", err.Error())
	}
	res.Supplies = readings
	for _, r := range readings {
		if _, seen := res.Toner[r.Color]; !seen && r.Percent >= 0 {
			res.Toner[r.Color] = r.Percent
		}
	}

	var fallback []string
	var colors []supplies.Color
	for i, col := range supplies.Colors {
		if _, ok := res.Toner[col.String()]; ok || p.TonerLevels[i] == "" {
			continue
		}
		fallback = append(fallback, p.TonerLevels[i])
		colors = append(colors, col)
	}
	if len(fallback) > 0 && len(readings) == 0 {
		if vals, err := sess.Get(ctx, fallback); err == nil {
			for i, oid := range fallback {
				if v, ok := numeric(vals, oid); ok && v >= 0 && v <= 100 {
					res.Toner[colors[i].String()] = int(v)
				}
			}
		}
	}

	if len(res.Toner) == 0 {
		res.Missing = append(res.Missing, "toner")
	}
}

func numeric(vals map[string]interface{}, oid string) (int64, bool) {
	if oid == "" {
		return 0, false
	}
	v, ok := vals[normalizeOID(oid)]
	if !ok {
		return 0, false
	}
	return util.CoerceToInt(v)
}

func textValue(vals map[string]interface{}, oid string) string {
	if oid == "" {
		return ""
	}
	v, ok := vals[normalizeOID(oid)]
	if !ok {
		return ""
	}
	return util.ValueString(v)
}
