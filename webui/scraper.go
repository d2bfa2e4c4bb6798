// Package webui scrapes consumable-tray counters from devices that only
// expose an HTML management console.
package webui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"printmaster/telemetry/common/logger"
	"printmaster/telemetry/common/storage"
)

// TrayReading is the outcome of one console scrape.
type TrayReading struct {
	Address string        `json:"address"`
	Online  bool          `json:"online"`
	Trays   []TrayCounter `json:"trays,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Scraper logs into device consoles and reads their counters page.
type Scraper struct {
	cfg Config
}

// NewScraper builds a scraper. Zero config fields take the defaults.
func NewScraper(cfg Config) *Scraper {
	return &Scraper{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (s *Scraper) Config() Config {
	return s.cfg
}

// Scrape authenticates against the device console and returns per-tray
// counters. Printed units are derived as capacity - available. An
// unreachable console yields Online=false together with ErrOffline.
func (s *Scraper) Scrape(ctx context.Context, device *storage.Device) (*TrayReading, error) {
	if device == nil {
		return nil, errors.New("device required")
	}
	start := time.Now()
	reading := &TrayReading{Address: device.IP}

	sess, err := Login(ctx, s.cfg.BaseURL(device.IP), s.cfg)
	if err != nil {
		reading.Elapsed = time.Since(start)
		if logger.Global != nil {
			logger.Global.WarnRateLimited("webui-"+device.IP, 5*time.Minute, "Console login failed", "ip", device.IP, "error", err.Error())
		}
		return reading, err
	}
	reading.Online = true

	body, err := sess.Fetch(ctx, s.cfg.CountersPath)
	if err != nil {
		reading.Online = !errors.Is(err, ErrOffline)
		reading.Elapsed = time.Since(start)
		return reading, fmt.Errorf("fetch counters page: %w", err)
	}

	trays, err := ParseTrays(body)
	if err != nil {
		reading.Elapsed = time.Since(start)
		if logger.Global != nil {
			logger.Global.Warn("Counters page parse failed", "ip", device.IP, "bytes", len(body))
		}
		return reading, err
	}

	capacity := device.Capacity()
	for i := range trays {
		trays[i].Printed = PrintedUnits(capacity, trays[i].Available)
	}
	reading.Trays = trays
	reading.Elapsed = time.Since(start)

	if logger.Global != nil {
		logger.Global.Debug("Console scrape complete", "ip", device.IP, "trays", len(trays), "elapsed_ms", reading.Elapsed.Milliseconds())
	}
	return reading, nil
}

// PrintedUnits assumes every cartridge starts at full capacity: a tray
// showing available units has printed capacity - available. Empty or
// over-capacity readings count as zero.
func PrintedUnits(capacity, available int) int {
	if available <= 0 || available >= capacity {
		return 0
	}
	return capacity - available
}
