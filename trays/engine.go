// Package trays turns successive per-tray availability readings into
// consumption, refill events and retained history.
package trays

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"printmaster/telemetry/common/logger"
	"printmaster/telemetry/common/storage"
	"printmaster/telemetry/webui"
)

const (
	// DefaultThreshold is the minimum availability increase treated as a refill.
	DefaultThreshold = 20
	// DefaultRetentionDays is the age after which snapshots are thinned to one per day.
	DefaultRetentionDays = 30
)

// Config tunes detection and retention.
type Config struct {
	RefillThreshold int `toml:"refill_threshold"`
	RetentionDays   int `toml:"retention_days"`
}

// DefaultConfig returns the standard detection settings.
func DefaultConfig() Config {
	return Config{RefillThreshold: DefaultThreshold, RetentionDays: DefaultRetentionDays}
}

// Store is the persistence the engine writes through. A storage.Session
// satisfies it.
type Store interface {
	LatestSnapshot(ctx context.Context, deviceID int64, tray int) (*storage.TraySnapshot, error)
	InsertSnapshot(ctx context.Context, s *storage.TraySnapshot) error
	InsertRefill(ctx context.Context, r *storage.RefillRecord) error
}

// Compactor removes superseded history.
type Compactor interface {
	CompactSnapshots(ctx context.Context, before time.Time) (int64, error)
}

// Kind classifies the change between two readings of a tray.
type Kind string

const (
	KindFirst       Kind = "first"
	KindConsumption Kind = "consumption"
	KindNoise       Kind = "noise"
	KindRefill      Kind = "refill"
)

// Decision is the outcome of comparing a tray reading with its predecessor.
type Decision struct {
	Kind    Kind
	Delta   int
	Printed int
}

// Evaluate compares the previous and current availability of one tray.
// An increase of at least threshold is a refill and the previous contents
// count as printed. Smaller increases are noise. Decreases are consumption.
func Evaluate(previous, current, threshold int) Decision {
	delta := current - previous
	switch {
	case delta >= threshold:
		return Decision{Kind: KindRefill, Delta: delta, Printed: previous}
	case delta > 0:
		return Decision{Kind: KindNoise, Delta: delta}
	default:
		return Decision{Kind: KindConsumption, Delta: delta, Printed: -delta}
	}
}

// Result is what one cycle of tray readings produced.
type Result struct {
	Snapshots []*storage.TraySnapshot
	Refills   []*storage.RefillRecord
	Printed   int
}

// Engine applies refill detection and retention.
type Engine struct {
	cfg Config
}

// NewEngine builds an engine; zero config values take the defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.RefillThreshold <= 0 {
		cfg.RefillThreshold = DefaultThreshold
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	return &Engine{cfg: cfg}
}

// Config returns the effective settings.
func (e *Engine) Config() Config {
	return e.cfg
}

// Threshold resolves the refill threshold for a device: its own override,
// then the engine setting.
func (e *Engine) Threshold(device *storage.Device) int {
	if device != nil && device.RefillThreshold > 0 {
		return device.RefillThreshold
	}
	return e.cfg.RefillThreshold
}

// Process records one cycle of tray readings for a device. Each tray gets
// exactly one snapshot; a detected refill is stored first and linked from
// its snapshot. Repeated tray numbers keep the first reading.
func (e *Engine) Process(ctx context.Context, st Store, device *storage.Device, readings []webui.TrayCounter, now time.Time) (*Result, error) {
	if device == nil {
		return nil, errors.New("device required")
	}
	threshold := e.Threshold(device)
	now = now.UTC()

	ordered := make([]webui.TrayCounter, len(readings))
	copy(ordered, readings)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Tray < ordered[j].Tray })

	res := &Result{}
	seen := make(map[int]bool, len(ordered))
	for _, r := range ordered {
		if seen[r.Tray] {
			if logger.Global != nil {
				logger.Global.Debug("Duplicate tray reading ignored", "device_id", device.ID, "tray", r.Tray)
			}
			continue
		}
		seen[r.Tray] = true
		if r.Available < 0 {
			if logger.Global != nil {
				logger.Global.Warn("Negative tray availability ignored", "device_id", device.ID, "tray", r.Tray, "available", r.Available)
			}
			continue
		}

		prev, err := st.LatestSnapshot(ctx, device.ID, r.Tray)
		if err != nil {
			return res, fmt.Errorf("tray %d: %w", r.Tray, err)
		}

		snap := &storage.TraySnapshot{DeviceID: device.ID, Tray: r.Tray, Available: r.Available, Timestamp: now}
		if prev == nil {
			if err := st.InsertSnapshot(ctx, snap); err != nil {
				return res, err
			}
			res.Snapshots = append(res.Snapshots, snap)
			continue
		}

		d := Evaluate(prev.Available, r.Available, threshold)
		snap.Printed = d.Printed
		if d.Kind == KindRefill {
			refill := &storage.RefillRecord{
				DeviceID:       device.ID,
				Tray:           r.Tray,
				UnitsLoaded:    r.Available,
				Before:         prev.Available,
				After:          r.Available,
				PrintedFromOld: prev.Available,
				Method:         storage.MethodAuto,
				Timestamp:      now,
			}
			if err := st.InsertRefill(ctx, refill); err != nil {
				return res, err
			}
			snap.ChangeDetected = true
			snap.RefillID = &refill.ID
			res.Refills = append(res.Refills, refill)
			if logger.Global != nil {
				logger.Global.Info("Refill detected", "device_id", device.ID, "tray", r.Tray,
					"before", prev.Available, "after", r.Available, "threshold", threshold)
			}
		} else if d.Kind == KindNoise && logger.Global != nil {
			logger.Global.TraceTag("trays", "Availability increase below threshold", "device_id", device.ID,
				"tray", r.Tray, "delta", d.Delta, "threshold", threshold)
		}

		if err := st.InsertSnapshot(ctx, snap); err != nil {
			return res, err
		}
		res.Snapshots = append(res.Snapshots, snap)
		res.Printed += snap.Printed
	}
	return res, nil
}

// RecordManualRefill stores an operator-entered refill and a snapshot at
// the new level so the next cycle compares against it.
func (e *Engine) RecordManualRefill(ctx context.Context, st Store, device *storage.Device, tray, unitsLoaded int, now time.Time) (*storage.RefillRecord, error) {
	if device == nil {
		return nil, errors.New("device required")
	}
	if tray <= 0 || unitsLoaded <= 0 {
		return nil, fmt.Errorf("invalid manual refill: tray=%d units=%d", tray, unitsLoaded)
	}
	now = now.UTC()

	before := 0
	prev, err := st.LatestSnapshot(ctx, device.ID, tray)
	if err != nil {
		return nil, fmt.Errorf("tray %d: %w", tray, err)
	}
	if prev != nil {
		before = prev.Available
	}

	refill := &storage.RefillRecord{
		DeviceID:    device.ID,
		Tray:        tray,
		UnitsLoaded: unitsLoaded,
		Before:      before,
		After:       before + unitsLoaded,
		Method:      storage.MethodManual,
		Timestamp:   now,
	}
	if err := st.InsertRefill(ctx, refill); err != nil {
		return nil, err
	}
	snap := &storage.TraySnapshot{
		DeviceID:       device.ID,
		Tray:           tray,
		Available:      refill.After,
		ChangeDetected: true,
		Timestamp:      now,
		RefillID:       &refill.ID,
	}
	if err := st.InsertSnapshot(ctx, snap); err != nil {
		return refill, err
	}
	if logger.Global != nil {
		logger.Global.Info("Manual refill recorded", "device_id", device.ID, "tray", tray, "units", unitsLoaded)
	}
	return refill, nil
}

// Compact thins snapshots older than the retention horizon.
func (e *Engine) Compact(ctx context.Context, c Compactor, now time.Time) (int64, error) {
	before := now.UTC().AddDate(0, 0, -e.cfg.RetentionDays)
	removed, err := c.CompactSnapshots(ctx, before)
	if err != nil {
		return removed, fmt.Errorf("compact tray history: %w", err)
	}
	return removed, nil
}
