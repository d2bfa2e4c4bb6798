// Package collector runs batch collection over a fleet selection: a bounded
// worker pool probes, polls or scrapes each device, persists a counter
// sample per device and aggregates an execution report.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"printmaster/telemetry/common/logger"
	commonstorage "printmaster/telemetry/common/storage"
	"printmaster/telemetry/scanner"
	"printmaster/telemetry/sink"
	"printmaster/telemetry/storage"
	"printmaster/telemetry/trays"
	"printmaster/telemetry/webui"

	"github.com/google/uuid"
)

// ErrLockedPeriod means the device's period is closed to collection.
var ErrLockedPeriod = errors.New("collector: period locked")

// DefaultMaxWorkers bounds batch parallelism.
const DefaultMaxWorkers = 10

// Config tunes batch execution.
type Config struct {
	MaxWorkers         int  `toml:"max_workers"`
	ProbeFirst         bool `toml:"probe_first"`
	TaskTimeoutSeconds int  `toml:"task_timeout_seconds"`
}

// DefaultConfig returns the standard batch settings.
func DefaultConfig() Config {
	return Config{MaxWorkers: DefaultMaxWorkers, ProbeFirst: true, TaskTimeoutSeconds: 60}
}

// Options are per-run settings.
type Options struct {
	// Method tags created samples; empty means scheduled.
	Method string
}

// Poller reads counters over SNMP.
type Poller interface {
	Poll(ctx context.Context, device *commonstorage.Device) *scanner.PollResult
}

// Prober checks reachability before the protocol work.
type Prober interface {
	Probe(ctx context.Context, address string) scanner.ProbeResult
}

// Scraper reads tray counters from a device's web console.
type Scraper interface {
	Scrape(ctx context.Context, device *commonstorage.Device) (*webui.TrayReading, error)
}

// Collector executes batches. It is safe for concurrent use; every run
// owns its own state.
type Collector struct {
	cfg     Config
	store   *storage.Store
	poller  Poller
	prober  Prober
	scraper Scraper
	trays   *trays.Engine
	sink    sink.Sink
	now     func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithSink forwards persisted results to an external sink.
func WithSink(s sink.Sink) Option {
	return func(c *Collector) { c.sink = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a collector. A nil prober disables the reachability check.
func New(cfg Config, store *storage.Store, poller Poller, prober Prober, scraper Scraper, engine *trays.Engine, opts ...Option) *Collector {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.TaskTimeoutSeconds <= 0 {
		cfg.TaskTimeoutSeconds = DefaultConfig().TaskTimeoutSeconds
	}
	if engine == nil {
		engine = trays.NewEngine(trays.DefaultConfig())
	}
	c := &Collector{
		cfg:     cfg,
		store:   store,
		poller:  poller,
		prober:  prober,
		scraper: scraper,
		trays:   engine,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// taskResult is what a worker reports for one device.
type taskResult struct {
	outcome commonstorage.DeviceOutcome
	created int
	locked  bool
}

// Run executes one batch over the selection for a period (YYYY-MM, empty
// means the current period). Per-device failures land in the report; only
// a failure to enumerate the registry aborts the batch.
func (c *Collector) Run(ctx context.Context, sel commonstorage.Selection, period string, opts Options) (*commonstorage.ExecutionReport, error) {
	started := c.now().UTC()
	if period == "" {
		period = commonstorage.PeriodKey(started)
	}
	if opts.Method == "" {
		opts.Method = commonstorage.MethodScheduled
	}

	devices, err := c.store.ListDevices(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	ids := make([]int64, len(devices))
	for i, d := range devices {
		ids[i] = d.ID
	}
	previous, err := c.store.LatestSamples(ctx, ids)
	if err != nil {
		// Workers fall back to per-device lookups.
		if logger.Global != nil {
			logger.Global.Warn("Preloading previous samples failed", "error", err.Error())
		}
		previous = nil
	}

	report := &commonstorage.ExecutionReport{
		BatchID:   uuid.New().String(),
		Period:    period,
		StartedAt: started,
		Details:   make([]commonstorage.DeviceOutcome, 0, len(devices)),
	}
	if logger.Global != nil {
		logger.Global.Info("Batch collection starting", "batch_id", report.BatchID, "period", period,
			"devices", len(devices), "method", opts.Method)
	}

	workers := c.cfg.MaxWorkers
	if len(devices) < workers {
		workers = len(devices)
	}
	jobs := make(chan *commonstorage.Device, len(devices))
	for _, d := range devices {
		jobs <- d
	}
	close(jobs)
	results := make(chan taskResult, len(devices))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for d := range jobs {
				results <- c.runTask(ctx, d, period, previous, opts)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		report.Processed++
		switch {
		case r.outcome.Status == commonstorage.OutcomeSuccess:
			report.Succeeded++
		case r.locked:
			report.Failed++
			report.Skipped++
		default:
			report.Failed++
		}
		report.RecordsCreated += r.created
		report.Details = append(report.Details, r.outcome)
	}
	report.FinishedAt = c.now().UTC()

	if logger.Global != nil {
		logger.Global.Info("Batch collection finished", "batch_id", report.BatchID, "processed", report.Processed,
			"succeeded", report.Succeeded, "failed", report.Failed, "skipped", report.Skipped,
			"duration", report.FinishedAt.Sub(report.StartedAt).String())
	}

	if err := c.store.SaveReport(ctx, report); err != nil {
		return report, fmt.Errorf("persist report: %w", err)
	}
	if c.sink != nil {
		if err := c.sink.PublishReport(ctx, report); err != nil && logger.Global != nil {
			logger.Global.Warn("Publishing batch report failed", "batch_id", report.BatchID, "error", err.Error())
		}
	}
	return report, nil
}

// runTask collects one device with its own persistence session.
func (c *Collector) runTask(ctx context.Context, d *commonstorage.Device, period string, previous map[int64]*commonstorage.CounterSample, opts Options) (res taskResult) {
	start := time.Now()
	res.outcome = commonstorage.DeviceOutcome{DeviceID: d.ID, Address: d.IP, Status: commonstorage.OutcomeFailed}
	defer func() {
		if r := recover(); r != nil {
			res = taskResult{outcome: res.outcome}
			res.outcome.Status = commonstorage.OutcomeFailed
			res.outcome.Reason = fmt.Sprintf("panic: %v", r)
			if logger.Global != nil {
				logger.Global.Error("Collection task panicked", "device_id", d.ID, "panic", fmt.Sprint(r))
			}
		}
		res.outcome.DurationMs = time.Since(start).Milliseconds()
	}()

	if err := ctx.Err(); err != nil {
		res.outcome.Reason = err.Error()
		return res
	}
	taskCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.TaskTimeoutSeconds)*time.Second)
	defer cancel()

	sess, err := c.store.Session(taskCtx)
	if err != nil {
		res.outcome.Reason = err.Error()
		return res
	}
	defer sess.Close()

	locked, err := sess.HasLockedSample(taskCtx, d.ID, period)
	if err != nil {
		res.outcome.Reason = err.Error()
		return res
	}
	if locked {
		res.locked = true
		res.outcome.Status = commonstorage.OutcomeSkipped
		res.outcome.Reason = ErrLockedPeriod.Error()
		return res
	}

	if c.prober != nil && c.cfg.ProbeFirst {
		probe := c.prober.Probe(taskCtx, d.IP)
		if !probe.Reachable {
			res.outcome.Reason = probe.Reason
			if probe.Err != nil {
				res.outcome.Reason = probe.Err.Error()
			}
			return res
		}
	}

	prev, err := c.previousSample(taskCtx, sess, d.ID, previous)
	if err != nil {
		res.outcome.Reason = err.Error()
		return res
	}

	var sample *commonstorage.CounterSample
	var reading *webui.TrayReading
	if d.TrayBased {
		res.outcome.Method = "webui"
		reading, err = c.scrape(taskCtx, d)
	} else {
		res.outcome.Method = "snmp"
		sample, res.outcome.Reason, err = c.collectCounters(taskCtx, d, prev)
	}
	if err != nil {
		res.outcome.Reason = err.Error()
		return res
	}

	// Tray snapshots, refills and the sample commit together so a failed
	// insert cannot leave a baseline whose printed units were never counted.
	tx, err := sess.Begin(taskCtx)
	if err != nil {
		res.outcome.Reason = err.Error()
		return res
	}
	defer tx.Rollback()

	var refills []*commonstorage.RefillRecord
	if d.TrayBased {
		sample, refills, err = c.recordTrays(taskCtx, tx, d, prev, reading)
		if err != nil {
			res.outcome.Reason = err.Error()
			return res
		}
	}

	sample.DeviceID = d.ID
	sample.Period = period
	sample.Method = opts.Method
	if sample.Timestamp.IsZero() {
		sample.Timestamp = c.now().UTC()
	}
	if err := tx.InsertSample(taskCtx, sample); err != nil {
		res.outcome.Reason = err.Error()
		return res
	}
	if err := tx.Commit(); err != nil {
		res.outcome.Reason = err.Error()
		return res
	}
	res.created = 1
	res.outcome.Status = commonstorage.OutcomeSuccess
	res.outcome.Profile = sample.Profile

	if c.sink != nil {
		if err := c.sink.PublishSample(taskCtx, d, sample); err != nil && logger.Global != nil {
			logger.Global.WarnRateLimited("sink-sample", time.Minute, "Publishing sample failed", "device_id", d.ID, "error", err.Error())
		}
		for _, r := range refills {
			if err := c.sink.PublishRefill(taskCtx, d, r); err != nil && logger.Global != nil {
				logger.Global.WarnRateLimited("sink-refill", time.Minute, "Publishing refill failed", "device_id", d.ID, "error", err.Error())
			}
		}
	}
	return res
}

func (c *Collector) previousSample(ctx context.Context, sess *storage.Session, id int64, preloaded map[int64]*commonstorage.CounterSample) (*commonstorage.CounterSample, error) {
	if preloaded != nil {
		return preloaded[id], nil
	}
	latest, err := sess.LatestSamples(ctx, []int64{id})
	if err != nil {
		return nil, fmt.Errorf("load previous sample: %w", err)
	}
	return latest[id], nil
}

// baseline is the counter triple deltas are measured against.
func baseline(d *commonstorage.Device, prev *commonstorage.CounterSample) (mono, color, total int64) {
	if prev != nil {
		return prev.Mono, prev.Color, prev.Total
	}
	return d.InitialMono, d.InitialColor, d.InitialTotal
}

// Advance returns the value to store for a counter and its growth since
// the baseline. A reading below the baseline keeps the baseline, so a bad
// read followed by a good one cannot count the same pages twice.
func Advance(current, baseline int64) (stored, delta int64, regressed bool) {
	if current < baseline {
		return baseline, 0, true
	}
	return current, current - baseline, false
}

// counterPayload is the raw protocol data kept with an SNMP sample.
type counterPayload struct {
	Version  string            `json:"snmp_version,omitempty"`
	Status   string            `json:"status"`
	Missing  []string          `json:"missing,omitempty"`
	Toner    map[string]int    `json:"toner,omitempty"`
	Paper    int64             `json:"paper_level"`
	Serial   string            `json:"serial,omitempty"`
	Counters map[string]string `json:"counters,omitempty"`
	// Regressed holds readings that came back below the stored baseline.
	Regressed map[string]int64 `json:"regressed,omitempty"`
}

// collectCounters polls a device and measures it against the baseline.
// The note is non-empty when a counter went backwards.
func (c *Collector) collectCounters(ctx context.Context, d *commonstorage.Device, prev *commonstorage.CounterSample) (*commonstorage.CounterSample, string, error) {
	if c.poller == nil {
		return nil, "", errors.New("no protocol poller configured")
	}
	res := c.poller.Poll(ctx, d)
	if !res.Succeeded() {
		if res.Err != nil {
			return nil, "", res.Err
		}
		return nil, "", fmt.Errorf("%w: %s", scanner.ErrProtocolExhausted, res.Reason)
	}

	pm, pc, pt := baseline(d, prev)
	mono, monoDelta, monoBack := Advance(res.Mono, pm)
	color, colorDelta, colorBack := Advance(res.Color, pc)
	total, totalDelta, totalBack := Advance(res.Total, pt)

	payload := counterPayload{
		Version:  res.Version,
		Status:   string(res.Status),
		Missing:  res.Missing,
		Toner:    res.Toner,
		Paper:    res.PaperLevel,
		Serial:   res.Serial,
		Counters: res.Raw,
	}
	var note string
	if monoBack || colorBack || totalBack {
		payload.Regressed = map[string]int64{}
		var parts []string
		for _, ch := range []struct {
			name       string
			back       bool
			got, floor int64
		}{{"mono", monoBack, res.Mono, pm}, {"color", colorBack, res.Color, pc}, {"total", totalBack, res.Total, pt}} {
			if ch.back {
				payload.Regressed[ch.name] = ch.got
				parts = append(parts, fmt.Sprintf("%s %d < %d", ch.name, ch.got, ch.floor))
			}
		}
		note = "counter regression held at baseline: " + strings.Join(parts, ", ")
		if logger.Global != nil {
			logger.Global.Warn("Counter went backwards, keeping baseline", "device_id", d.ID, "ip", d.IP,
				"detail", strings.Join(parts, ", "))
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("encode payload: %w", err)
	}
	return &commonstorage.CounterSample{
		Mono:       mono,
		Color:      color,
		Total:      total,
		MonoDelta:  monoDelta,
		ColorDelta: colorDelta,
		TotalDelta: totalDelta,
		Profile:    res.Profile,
		RawPayload: raw,
	}, note, nil
}

// trayPayload is the raw console data kept with a tray sample.
type trayPayload struct {
	Trays   []webui.TrayCounter `json:"trays"`
	Printed int                 `json:"printed"`
	Refills int                 `json:"refills"`
}

// scrape reads the tray counters from the device's console.
func (c *Collector) scrape(ctx context.Context, d *commonstorage.Device) (*webui.TrayReading, error) {
	if c.scraper == nil {
		return nil, errors.New("no web console scraper configured")
	}
	reading, err := c.scraper.Scrape(ctx, d)
	if err != nil {
		return nil, err
	}
	if !reading.Online {
		return nil, fmt.Errorf("%w: console offline", webui.ErrOffline)
	}
	return reading, nil
}

// recordTrays records snapshots and refills, and advances the counters by
// the units printed this cycle.
func (c *Collector) recordTrays(ctx context.Context, st trays.Store, d *commonstorage.Device, prev *commonstorage.CounterSample, reading *webui.TrayReading) (*commonstorage.CounterSample, []*commonstorage.RefillRecord, error) {
	now := c.now().UTC()
	out, err := c.trays.Process(ctx, st, d, reading.Trays, now)
	if err != nil {
		return nil, nil, fmt.Errorf("record tray snapshots: %w", err)
	}

	pm, pc, pt := baseline(d, prev)
	printed := int64(out.Printed)
	raw, err := json.Marshal(trayPayload{Trays: reading.Trays, Printed: out.Printed, Refills: len(out.Refills)})
	if err != nil {
		return nil, nil, fmt.Errorf("encode payload: %w", err)
	}
	return &commonstorage.CounterSample{
		Timestamp:  now,
		Mono:       pm + printed,
		Color:      pc,
		Total:      pt + printed,
		MonoDelta:  printed,
		TotalDelta: printed,
		Profile:    "webui",
		RawPayload: raw,
	}, out.Refills, nil
}
