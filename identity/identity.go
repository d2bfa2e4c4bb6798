// Package identity derives a device's serial number and colour capability
// from SNMP values and, when those are inconclusive, its console pages.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"printmaster/telemetry/common/logger"
	"printmaster/telemetry/common/snmp/oids"
	"printmaster/telemetry/common/storage"
	"printmaster/telemetry/scanner"
	"printmaster/telemetry/scanner/vendor"
	"printmaster/telemetry/util"
)

// ErrInconclusive means the heuristics produced no confident answer for a field.
var ErrInconclusive = errors.New("identity: inconclusive")

// Source records where a resolved value came from.
type Source string

const (
	SourceProtocol Source = "protocol"
	SourceScrape   Source = "scrape"
	SourceOverride Source = "override"
)

// Confidence grades a resolved value.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Field is one best-effort identity attribute. Unresolved fields carry
// ErrInconclusive in Err and a zero Value.
type Field[T any] struct {
	Value      T          `json:"value"`
	Source     Source     `json:"source,omitempty"`
	Confidence Confidence `json:"confidence,omitempty"`
	Resolved   bool       `json:"resolved"`
	Err        error      `json:"-"`
}

func resolved[T any](v T, src Source, conf Confidence) Field[T] {
	return Field[T]{Value: v, Source: src, Confidence: conf, Resolved: true}
}

func unresolved[T any](reason string) Field[T] {
	return Field[T]{Err: fmt.Errorf("%w: %s", ErrInconclusive, reason)}
}

// IdentityResult is the resolver's answer for one device.
type IdentityResult struct {
	DeviceID int64         `json:"device_id"`
	Address  string        `json:"address"`
	Vendor   string        `json:"vendor,omitempty"`
	Model    string        `json:"model,omitempty"`
	Serial   Field[string] `json:"serial"`
	Color    Field[bool]   `json:"color"`
	Notes    []string      `json:"notes,omitempty"`
}

func (r *IdentityResult) note(format string, args ...interface{}) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// PageSource returns the bodies of a device's informational console pages.
type PageSource interface {
	Pages(ctx context.Context, device *storage.Device) ([]string, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPageSource enables the console-page serial fallback.
func WithPageSource(p PageSource) Option {
	return func(r *Resolver) { r.pages = p }
}

// WithKnownMono replaces the known-monochrome model substrings.
func WithKnownMono(models []string) Option {
	return func(r *Resolver) {
		r.knownMono = normalizeList(models)
	}
}

// Resolver runs the serial and colour heuristics.
type Resolver struct {
	poller    *scanner.PollingClient
	pages     PageSource
	knownMono []string
	slots     int
}

// NewResolver builds a resolver over a polling client.
func NewResolver(poller *scanner.PollingClient, opts ...Option) *Resolver {
	r := &Resolver{
		poller:    poller,
		knownMono: normalizeList(DefaultKnownMono),
		slots:     poller.Config().SupplySlots,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve derives serial and colour capability. It never fails for device
// level problems: unresolved fields carry ErrInconclusive and the reason is
// noted. Only a nil device returns an error.
func (r *Resolver) Resolve(ctx context.Context, device *storage.Device) (*IdentityResult, error) {
	if device == nil {
		return nil, errors.New("device required")
	}
	res := &IdentityResult{DeviceID: device.ID, Address: device.IP, Model: device.Model}

	sess, err := r.poller.Open(ctx, device)
	if err != nil {
		res.note("snmp unavailable: %v", err)
		res.Serial = unresolved[string]("no protocol session")
		res.Color = unresolved[bool]("no protocol session")
		r.applyPageSerial(ctx, device, vendor.Generic, res)
		r.log(res)
		return res, nil
	}
	defer sess.Close()

	v, ok := vendor.Parse(device.Profile)
	if !ok {
		v = vendor.Detect(sess.SysObjectID, sess.SysDescr)
	}
	res.Vendor = v.String()
	profile := vendor.LookupName(v.String())

	base, err := sess.Get(ctx, identityOIDs())
	if err != nil {
		res.note("identity read failed: %v", err)
		base = map[string]interface{}{}
	}
	ieee := parseDeviceIDPayload(text(base, oids.PpmPrinterIEEE1284DeviceID))
	if res.Model == "" {
		res.Model = firstNonEmpty(ieee["mdl"], ieee["model"], text(base, oids.HrDeviceDescr), sess.SysDescr)
	}

	res.Serial = r.protocolSerial(base, ieee, v)
	if !res.Serial.Resolved || res.Serial.Confidence != ConfidenceHigh {
		r.applyPageSerial(ctx, device, v, res)
	}

	res.Color = r.color(ctx, sess, profile, res)
	r.log(res)
	return res, nil
}

// identityOIDs lists every scalar the serial heuristic may consult.
func identityOIDs() []string {
	list := []string{oids.PrtGeneralSerialNumber}
	for _, oid := range vendor.AllSerialOIDs() {
		if oid != oids.PrtGeneralSerialNumber {
			list = append(list, oid)
		}
	}
	return append(list, oids.PpmPrinterIEEE1284DeviceID, oids.SysName, oids.HrDeviceDescr)
}

// protocolSerial walks the ordered candidates and returns the first valid one.
func (r *Resolver) protocolSerial(vals map[string]interface{}, ieee map[string]string, v vendor.Vendor) Field[string] {
	var candidates []string
	for _, oid := range identityOIDs() {
		switch oid {
		case oids.PpmPrinterIEEE1284DeviceID, oids.SysName, oids.HrDeviceDescr:
			continue
		}
		candidates = append(candidates, text(vals, oid))
	}
	candidates = append(candidates, ieee["sn"], ieee["serial"], ieee["ser"], ieee["sern"])
	fallbacks := []string{text(vals, oids.SysName), text(vals, oids.HrDeviceDescr)}

	for _, c := range candidates {
		if s, ok := AcceptSerial(c, v); ok {
			return resolved(s, SourceProtocol, serialConfidence(s, v))
		}
	}
	// sysName/hrDeviceDescr only ever hold a serial by operator convention.
	for _, c := range fallbacks {
		if s, ok := AcceptSerial(c, v); ok {
			return resolved(s, SourceProtocol, ConfidenceLow)
		}
	}
	return unresolved[string]("no protocol candidate passed validation")
}

// applyPageSerial consults the console pages and merges their serial.
func (r *Resolver) applyPageSerial(ctx context.Context, device *storage.Device, v vendor.Vendor, res *IdentityResult) {
	if r.pages == nil {
		return
	}
	bodies, err := r.pages.Pages(ctx, device)
	if err != nil {
		res.note("console pages unavailable: %v", err)
	}
	page, ok := SerialFromPages(bodies, v)
	if !ok {
		return
	}
	merged := MergeSerial(res.Serial, page, v)
	if merged.Source == SourceScrape && res.Serial.Resolved {
		res.note("console serial %q replaced protocol serial %q", merged.Value, res.Serial.Value)
	}
	res.Serial = merged
}

// color gathers colourant, supply and toner evidence and decides.
func (r *Resolver) color(ctx context.Context, sess *scanner.Session, p vendor.Profile, res *IdentityResult) Field[bool] {
	ev := ColorEvidence{Model: res.Model}

	colorants, err := scanner.ReadColorants(ctx, sess, p.ColorantTable, r.slots)
	if err != nil {
		res.note("colorant table read failed: %v", err)
	}
	ev.Colorants = colorants

	descs, err := scanner.ReadSupplyDescriptions(ctx, sess, p.SupplyDescTable, r.slots)
	if err != nil {
		res.note("supply descriptions read failed: %v", err)
	}
	ev.SupplyDescriptions = descs

	var levelOIDs []string
	for _, oid := range p.TonerLevels[1:] {
		if oid != "" {
			levelOIDs = append(levelOIDs, oid)
		}
	}
	if len(levelOIDs) > 0 {
		if vals, err := sess.Get(ctx, levelOIDs); err == nil {
			for _, oid := range levelOIDs {
				if v, ok := util.CoerceToInt(vals[strings.TrimPrefix(oid, ".")]); ok {
					ev.ColorLevels = append(ev.ColorLevels, v)
				}
			}
		}
	}

	return DecideColor(ev, r.knownMono)
}

func (r *Resolver) log(res *IdentityResult) {
	if logger.Global == nil {
		return
	}
	if !res.Serial.Resolved || !res.Color.Resolved {
		logger.Global.Info("Identity partially resolved", "ip", res.Address, "serial_resolved", res.Serial.Resolved,
			"color_resolved", res.Color.Resolved, "notes", strings.Join(res.Notes, "; "))
		return
	}
	logger.Global.Debug("Identity resolved", "ip", res.Address, "serial", res.Serial.Value, "serial_source", string(res.Serial.Source),
		"color", res.Color.Value, "color_confidence", string(res.Color.Confidence))
}

func text(vals map[string]interface{}, oid string) string {
	v, ok := vals[strings.TrimPrefix(oid, ".")]
	if !ok {
		return ""
	}
	return strings.TrimSpace(util.ValueString(v))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
