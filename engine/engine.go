// Package engine is the operation facade of the telemetry engine: single
// device polls, connectivity tests, identity resolution, batch collection
// and history compaction over one set of collaborators.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"printmaster/telemetry/collector"
	"printmaster/telemetry/common/logger"
	commonstorage "printmaster/telemetry/common/storage"
	"printmaster/telemetry/identity"
	"printmaster/telemetry/scanner"
	"printmaster/telemetry/sink"
	"printmaster/telemetry/storage"
	"printmaster/telemetry/trays"
	"printmaster/telemetry/webui"
)

// Config gathers the settings of every component.
type Config struct {
	Poller       scanner.PollerConfig
	ProbePorts   []int
	ProbeTimeout time.Duration
	WebUI        webui.Config
	Trays        trays.Config
	Collector    collector.Config
	KnownMono    []string
	// CorrectAddresses lets identity resolution move a registry entry to
	// the address its serial was found at.
	CorrectAddresses bool
}

// DefaultConfig returns the defaults of every component.
func DefaultConfig() Config {
	return Config{
		Poller:       scanner.DefaultPollerConfig(),
		ProbePorts:   scanner.DefaultProbePorts,
		ProbeTimeout: scanner.DefaultProbeTimeout,
		WebUI:        webui.DefaultConfig(),
		Trays:        trays.DefaultConfig(),
		Collector:    collector.DefaultConfig(),
		KnownMono:    identity.DefaultKnownMono,
	}
}

// Option adjusts collaborators, mostly for tests.
type Option func(*options)

type options struct {
	factory scanner.ClientFactory
	dial    scanner.DialFunc
	sink    sink.Sink
	now     func() time.Time
}

// WithClientFactory replaces how SNMP clients are created.
func WithClientFactory(f scanner.ClientFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithDial replaces the probe's TCP dialer.
func WithDial(d scanner.DialFunc) Option {
	return func(o *options) { o.dial = d }
}

// WithSink forwards batch results to an external sink.
func WithSink(s sink.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Engine exposes the telemetry operations.
type Engine struct {
	cfg       Config
	store     *storage.Store
	prober    *scanner.Prober
	poller    *scanner.PollingClient
	scraper   *webui.Scraper
	resolver  *identity.Resolver
	trays     *trays.Engine
	collector *collector.Collector
	now       func() time.Time
}

// New wires the engine. Credentials are scoped to this engine and are
// consulted for devices without registered SNMPv3 settings.
func New(cfg Config, store *storage.Store, creds scanner.Credentials, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store required")
	}
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	var pollOpts []scanner.Option
	if o.factory != nil {
		pollOpts = append(pollOpts, scanner.WithClientFactory(o.factory))
	}
	poller := scanner.NewPollingClient(cfg.Poller, creds, pollOpts...)

	prober := scanner.NewProber(cfg.ProbePorts, cfg.ProbeTimeout)
	if o.dial != nil {
		prober.Dial = o.dial
	}

	scraper := webui.NewScraper(cfg.WebUI)
	resolverOpts := []identity.Option{identity.WithPageSource(identity.NewConsolePages(scraper.Config()))}
	if len(cfg.KnownMono) > 0 {
		resolverOpts = append(resolverOpts, identity.WithKnownMono(cfg.KnownMono))
	}
	trayEngine := trays.NewEngine(cfg.Trays)

	var collOpts []collector.Option
	if o.sink != nil {
		collOpts = append(collOpts, collector.WithSink(o.sink))
	}
	collOpts = append(collOpts, collector.WithClock(o.now))

	return &Engine{
		cfg:       cfg,
		store:     store,
		prober:    prober,
		poller:    poller,
		scraper:   scraper,
		resolver:  identity.NewResolver(poller, resolverOpts...),
		trays:     trayEngine,
		collector: collector.New(cfg.Collector, store, poller, prober, scraper, trayEngine, collOpts...),
		now:       o.now,
	}, nil
}

// TestConnectivity runs the multi-port reachability probe.
func (e *Engine) TestConnectivity(ctx context.Context, device *commonstorage.Device) scanner.ProbeResult {
	if device == nil {
		return e.prober.Probe(ctx, "")
	}
	return e.prober.Probe(ctx, device.IP)
}

// PollOne probes a device and, when reachable, polls it. Failed polls
// return the result together with its error; partial polls succeed and
// carry ErrPartialData in the result only.
func (e *Engine) PollOne(ctx context.Context, device *commonstorage.Device) (*scanner.PollResult, error) {
	if device == nil {
		return nil, errors.New("device required")
	}
	probe := e.prober.Probe(ctx, device.IP)
	if !probe.Reachable {
		return &scanner.PollResult{
			Address:      device.IP,
			Status:       scanner.PollFailed,
			PaperLevel:   -1,
			DeviceStatus: -1,
			Elapsed:      probe.Elapsed,
			Reason:       probe.Reason,
			Err:          probe.Err,
		}, probe.Err
	}
	res := e.poller.Poll(ctx, device)
	if !res.Succeeded() {
		return res, res.Err
	}
	return res, nil
}

// ScrapeTrays reads a tray-based device's console without recording anything.
func (e *Engine) ScrapeTrays(ctx context.Context, device *commonstorage.Device) (*webui.TrayReading, error) {
	return e.scraper.Scrape(ctx, device)
}

// ResolveIdentity derives serial and colour capability. With address
// correction enabled, a confidently identified serial that the registry
// knows at another address moves that entry to this device's address.
func (e *Engine) ResolveIdentity(ctx context.Context, device *commonstorage.Device) (*identity.IdentityResult, error) {
	res, err := e.resolver.Resolve(ctx, device)
	if err != nil {
		return nil, err
	}
	if !e.cfg.CorrectAddresses || !res.Serial.Resolved || res.Serial.Confidence != identity.ConfidenceHigh {
		return res, nil
	}

	known, err := e.store.FindDeviceBySerial(ctx, res.Serial.Value)
	if errors.Is(err, storage.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		res.Notes = append(res.Notes, fmt.Sprintf("registry lookup failed: %v", err))
		return res, nil
	}
	if known.IP == device.IP {
		return res, nil
	}
	if err := e.store.UpdateDeviceAddress(ctx, known.ID, device.IP); err != nil {
		res.Notes = append(res.Notes, fmt.Sprintf("address correction failed: %v", err))
		return res, nil
	}
	res.Notes = append(res.Notes, fmt.Sprintf("registry device %d moved from %s to %s", known.ID, known.IP, device.IP))
	if logger.Global != nil {
		logger.Global.Info("Device address corrected from identity", "device_id", known.ID, "serial", res.Serial.Value,
			"old_ip", known.IP, "new_ip", device.IP)
	}
	return res, nil
}

// CollectBatch runs one scheduled collection over the selection.
func (e *Engine) CollectBatch(ctx context.Context, sel commonstorage.Selection, period string) (*commonstorage.ExecutionReport, error) {
	return e.collector.Run(ctx, sel, period, collector.Options{})
}

// CollectBatchWith runs a collection with explicit run options, such as a
// manual collection method.
func (e *Engine) CollectBatchWith(ctx context.Context, sel commonstorage.Selection, period string, opts collector.Options) (*commonstorage.ExecutionReport, error) {
	return e.collector.Run(ctx, sel, period, opts)
}

// RecordManualRefill stores an operator-entered refill for a registry device.
func (e *Engine) RecordManualRefill(ctx context.Context, deviceID int64, tray, units int) (*commonstorage.RefillRecord, error) {
	device, err := e.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	sess, err := e.store.Session(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return e.trays.RecordManualRefill(ctx, sess, device, tray, units, e.now())
}

// CompactHistory thins tray snapshots older than the retention horizon.
func (e *Engine) CompactHistory(ctx context.Context) (int64, error) {
	return e.trays.Compact(ctx, e.store, e.now())
}

// LockPeriod closes a device's period to further collection.
func (e *Engine) LockPeriod(ctx context.Context, deviceID int64, period string) (int64, error) {
	return e.store.LockPeriod(ctx, deviceID, period)
}
