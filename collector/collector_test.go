package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	commonstorage "printmaster/telemetry/common/storage"
	"printmaster/telemetry/scanner"
	"printmaster/telemetry/storage"
	"printmaster/telemetry/trays"
	"printmaster/telemetry/webui"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePoller serves counters by address and tracks parallelism.
type fakePoller struct {
	mu       sync.Mutex
	counters map[string][3]int64
	inFlight int32
	peak     int32
	delay    time.Duration
}

func (f *fakePoller) set(ip string, mono, color, total int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counters == nil {
		f.counters = map[string][3]int64{}
	}
	f.counters[ip] = [3]int64{mono, color, total}
}

func (f *fakePoller) Poll(_ context.Context, d *commonstorage.Device) *scanner.PollResult {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	c, ok := f.counters[d.IP]
	f.mu.Unlock()
	if !ok {
		err := fmt.Errorf("%w: no response from %s", scanner.ErrProtocolExhausted, d.IP)
		return &scanner.PollResult{Address: d.IP, Status: scanner.PollFailed, Err: err, Reason: err.Error()}
	}
	return &scanner.PollResult{
		Address: d.IP, Status: scanner.PollOK, Version: "2c", Profile: "generic",
		Mono: c[0], Color: c[1], Total: c[2], PaperLevel: -1,
		Raw: map[string]string{"1.3.6.1.2.1.43.10.2.1.4.1.1": fmt.Sprint(c[2])},
	}
}

type fakeProber struct {
	down map[string]bool
}

func (f *fakeProber) Probe(_ context.Context, address string) scanner.ProbeResult {
	if f.down[address] {
		return scanner.ProbeResult{Address: address, Reason: "no management port answered",
			Err: fmt.Errorf("%w: no management port answered", scanner.ErrUnreachable)}
	}
	return scanner.ProbeResult{Address: address, Reachable: true, Port: 80}
}

type fakeScraper struct {
	mu       sync.Mutex
	readings map[string][]webui.TrayCounter
	err      error
}

func (f *fakeScraper) Scrape(_ context.Context, d *commonstorage.Device) (*webui.TrayReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return &webui.TrayReading{Address: d.IP}, f.err
	}
	return &webui.TrayReading{Address: d.IP, Online: true, Trays: f.readings[d.IP]}, nil
}

type countingSink struct {
	mu      sync.Mutex
	samples int
	refills []*commonstorage.RefillRecord
	reports int
}

func (s *countingSink) PublishSample(context.Context, *commonstorage.Device, *commonstorage.CounterSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples++
	return nil
}

func (s *countingSink) PublishRefill(_ context.Context, _ *commonstorage.Device, r *commonstorage.RefillRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refills = append(s.refills, r)
	return nil
}

func (s *countingSink) PublishReport(context.Context, *commonstorage.ExecutionReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports++
	return errors.New("sink failures are logged, not returned")
}

func (s *countingSink) Close() error { return nil }

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "collector.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func addDevice(t *testing.T, store *storage.Store, d *commonstorage.Device) *commonstorage.Device {
	t.Helper()
	d.Active = true
	require.NoError(t, store.SaveDevice(context.Background(), d))
	return d
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestRun_BatchCompleteness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	poller := &fakePoller{delay: 20 * time.Millisecond}
	prober := &fakeProber{down: map[string]bool{}}

	var locked *commonstorage.Device
	for i := 1; i <= 14; i++ {
		ip := fmt.Sprintf("10.9.0.%d", i)
		d := addDevice(t, store, &commonstorage.Device{IP: ip})
		switch {
		case i <= 9:
			poller.set(ip, int64(i*100), 0, int64(i*100))
		case i == 10:
			prober.down[ip] = true
		case i == 11:
			locked = d
			poller.set(ip, 1, 0, 1)
		}
		// 12..14 answer no protocol at all
	}

	seed := &commonstorage.CounterSample{DeviceID: locked.ID, Period: "2026-10", Timestamp: time.Now(), Method: commonstorage.MethodScheduled}
	require.NoError(t, store.InsertSample(ctx, seed))
	_, err := store.LockPeriod(ctx, locked.ID, "2026-10")
	require.NoError(t, err)

	sk := &countingSink{}
	c := New(DefaultConfig(), store, poller, prober, nil, nil, WithSink(sk))
	report, err := c.Run(ctx, commonstorage.Selection{}, "2026-10", Options{})
	require.NoError(t, err)

	assert.Equal(t, 14, report.Processed)
	assert.Equal(t, report.Processed, report.Succeeded+report.Failed)
	assert.Equal(t, 9, report.Succeeded)
	assert.Equal(t, 5, report.Failed)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 9, report.RecordsCreated)
	assert.Len(t, report.Details, 14)
	assert.LessOrEqual(t, atomic.LoadInt32(&poller.peak), int32(DefaultMaxWorkers))
	assert.NotEmpty(t, report.BatchID)

	statuses := map[int64]commonstorage.DeviceOutcome{}
	for _, o := range report.Details {
		statuses[o.DeviceID] = o
	}
	assert.Equal(t, commonstorage.OutcomeSkipped, statuses[locked.ID].Status)
	assert.Equal(t, ErrLockedPeriod.Error(), statuses[locked.ID].Reason)

	saved, err := store.GetReport(ctx, report.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 14, saved.Processed)
	assert.Len(t, saved.Details, 14)

	assert.Equal(t, 9, sk.samples)
	assert.Equal(t, 1, sk.reports)
}

func TestRun_ProbeFailureReason(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	d := addDevice(t, store, &commonstorage.Device{IP: "10.9.1.1"})

	c := New(DefaultConfig(), store, &fakePoller{}, &fakeProber{down: map[string]bool{d.IP: true}}, nil, nil)
	report, err := c.Run(context.Background(), commonstorage.Selection{}, "2026-10", Options{})
	require.NoError(t, err)
	require.Len(t, report.Details, 1)
	assert.Equal(t, commonstorage.OutcomeFailed, report.Details[0].Status)
	assert.Contains(t, report.Details[0].Reason, scanner.ErrUnreachable.Error())
}

func TestRun_DeltasAgainstInitialAndPrevious(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	poller := &fakePoller{}
	d := addDevice(t, store, &commonstorage.Device{IP: "10.9.2.1", InitialMono: 1000, InitialColor: 200, InitialTotal: 1200})

	c := New(DefaultConfig(), store, poller, nil, nil, nil, WithClock(fixedClock(time.Date(2026, 10, 5, 1, 0, 0, 0, time.UTC))))

	poller.set(d.IP, 1100, 250, 1350)
	_, err := c.Run(ctx, commonstorage.Selection{}, "", Options{})
	require.NoError(t, err)

	poller.set(d.IP, 1150, 240, 1390)
	report, err := c.Run(ctx, commonstorage.Selection{DeviceIDs: []int64{d.ID}}, "", Options{Method: commonstorage.MethodManual})
	require.NoError(t, err)
	require.Equal(t, 1, report.Succeeded)
	assert.Contains(t, report.Details[0].Reason, "color 240 < 250")

	samples, err := store.ListSamples(ctx, d.ID, "2026-10")
	require.NoError(t, err)
	require.Len(t, samples, 2)

	first := samples[0]
	assert.Equal(t, int64(100), first.MonoDelta)
	assert.Equal(t, int64(50), first.ColorDelta)
	assert.Equal(t, int64(150), first.TotalDelta)
	assert.Equal(t, commonstorage.MethodScheduled, first.Method)
	assert.Equal(t, "generic", first.Profile)
	assert.False(t, first.Locked)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(first.RawPayload, &payload))
	assert.Equal(t, "2c", payload["snmp_version"])

	second := samples[1]
	assert.Equal(t, int64(50), second.MonoDelta)
	assert.Equal(t, int64(0), second.ColorDelta, "a counter going backwards yields no negative delta")
	assert.Equal(t, int64(250), second.Color, "the baseline is kept")
	assert.Equal(t, int64(40), second.TotalDelta)
	assert.Equal(t, commonstorage.MethodManual, second.Method)

	payload = nil
	require.NoError(t, json.Unmarshal(second.RawPayload, &payload))
	assert.Equal(t, map[string]interface{}{"color": float64(240)}, payload["regressed"])
}

func TestRun_CounterRegressionHoldsBaseline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	poller := &fakePoller{}
	d := addDevice(t, store, &commonstorage.Device{IP: "10.9.2.2"})

	c := New(DefaultConfig(), store, poller, nil, nil, nil)
	var reasons []string
	for _, total := range []int64{5000, 10, 5000} {
		poller.set(d.IP, total, 0, total)
		report, err := c.Run(ctx, commonstorage.Selection{}, "2026-10", Options{})
		require.NoError(t, err)
		require.Equal(t, 1, report.Succeeded)
		reasons = append(reasons, report.Details[0].Reason)
	}

	samples, err := store.ListSamples(ctx, d.ID, "2026-10")
	require.NoError(t, err)
	require.Len(t, samples, 3)

	var counted int64
	for i, s := range samples {
		assert.Equal(t, int64(5000), s.Total, "sample %d", i)
		if i > 0 {
			assert.GreaterOrEqual(t, s.Total, samples[i-1].Total)
		}
		counted += s.TotalDelta
	}
	assert.Equal(t, int64(5000), counted, "pages are counted once")

	assert.Empty(t, reasons[0])
	assert.Contains(t, reasons[1], "total 10 < 5000")
	assert.Empty(t, reasons[2])
}

func TestRun_TrayDevice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	d := addDevice(t, store, &commonstorage.Device{IP: "10.9.3.1", TrayBased: true, InitialTotal: 500, InitialMono: 500})

	scraper := &fakeScraper{readings: map[string][]webui.TrayCounter{
		d.IP: {{Tray: 1, Available: 60}, {Tray: 2, Available: 5}},
	}}
	sk := &countingSink{}
	c := New(DefaultConfig(), store, nil, nil, scraper, trays.NewEngine(trays.DefaultConfig()), WithSink(sk))

	report, err := c.Run(ctx, commonstorage.Selection{}, "2026-10", Options{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Succeeded)
	assert.Equal(t, "webui", report.Details[0].Method)

	scraper.mu.Lock()
	scraper.readings[d.IP] = []webui.TrayCounter{{Tray: 1, Available: 45}, {Tray: 2, Available: 100}}
	scraper.mu.Unlock()

	_, err = c.Run(ctx, commonstorage.Selection{}, "2026-10", Options{})
	require.NoError(t, err)

	samples, err := store.ListSamples(ctx, d.ID, "2026-10")
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, int64(500), samples[0].Total, "first snapshot prints nothing")
	// Tray 1 consumed 15, tray 2 was refilled after printing its last 5.
	assert.Equal(t, int64(520), samples[1].Total)
	assert.Equal(t, int64(20), samples[1].TotalDelta)
	assert.Equal(t, "webui", samples[1].Profile)

	refills, err := store.ListRefills(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, refills, 1)
	assert.Equal(t, 2, refills[0].Tray)
	assert.Len(t, sk.refills, 1)

	snaps, err := store.ListSnapshots(ctx, d.ID, 0)
	require.NoError(t, err)
	assert.Len(t, snaps, 4)
}

func TestRun_TraySampleFailureRollsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	d := addDevice(t, store, &commonstorage.Device{IP: "10.9.3.2", TrayBased: true})

	scraper := &fakeScraper{readings: map[string][]webui.TrayCounter{d.IP: {{Tray: 1, Available: 60}}}}
	c := New(DefaultConfig(), store, nil, nil, scraper, nil)
	_, err := c.Run(ctx, commonstorage.Selection{}, "2026-10", Options{})
	require.NoError(t, err)

	_, err = store.DB().ExecContext(ctx, `CREATE TRIGGER reject_samples BEFORE INSERT ON counter_samples
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)

	scraper.mu.Lock()
	scraper.readings[d.IP] = []webui.TrayCounter{{Tray: 1, Available: 45}}
	scraper.mu.Unlock()
	report, err := c.Run(ctx, commonstorage.Selection{}, "2026-10", Options{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Details[0].Reason, "disk full")

	snaps, err := store.ListSnapshots(ctx, d.ID, 1)
	require.NoError(t, err)
	require.Len(t, snaps, 1, "the snapshot written with the failed sample is rolled back")
	assert.Equal(t, 60, snaps[0].Available)

	_, err = store.DB().ExecContext(ctx, `DROP TRIGGER reject_samples`)
	require.NoError(t, err)
	_, err = c.Run(ctx, commonstorage.Selection{}, "2026-10", Options{})
	require.NoError(t, err)

	samples, err := store.ListSamples(ctx, d.ID, "2026-10")
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, int64(15), samples[1].TotalDelta, "units printed before the failure are still counted")
}

func TestRun_TrayScrapeFailure(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	addDevice(t, store, &commonstorage.Device{IP: "10.9.4.1", TrayBased: true})

	scraper := &fakeScraper{err: webui.ErrAuthenticationFailed}
	c := New(DefaultConfig(), store, nil, nil, scraper, nil)
	report, err := c.Run(context.Background(), commonstorage.Selection{}, "2026-10", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Details[0].Reason, webui.ErrAuthenticationFailed.Error())
}

func TestRun_EmptySelection(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	report, err := New(DefaultConfig(), store, &fakePoller{}, nil, nil, nil).Run(context.Background(), commonstorage.Selection{}, "2026-10", Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)
	assert.Empty(t, report.Details)
}

func TestRunTask_CanceledContext(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	d := addDevice(t, store, &commonstorage.Device{IP: "10.9.5.1"})

	c := New(DefaultConfig(), store, &fakePoller{}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := c.runTask(ctx, d, "2026-10", nil, Options{Method: commonstorage.MethodScheduled})
	assert.Equal(t, commonstorage.OutcomeFailed, res.outcome.Status)
	assert.Equal(t, context.Canceled.Error(), res.outcome.Reason)
	assert.Zero(t, res.created)
}

func TestRun_EnumerationFailureIsFatal(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	require.NoError(t, store.Close())

	_, err := New(DefaultConfig(), store, &fakePoller{}, nil, nil, nil).Run(context.Background(), commonstorage.Selection{}, "2026-10", Options{})
	require.Error(t, err)
}

func TestAdvance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name              string
		current, baseline int64
		stored, delta     int64
		regressed         bool
	}{
		{"growth", 15, 10, 15, 5, false},
		{"unchanged", 10, 10, 10, 0, false},
		{"backwards", 10, 15, 15, 0, true},
	}
	for _, tt := range tests {
		stored, delta, regressed := Advance(tt.current, tt.baseline)
		assert.Equal(t, tt.stored, stored, tt.name)
		assert.Equal(t, tt.delta, delta, tt.name)
		assert.Equal(t, tt.regressed, regressed, tt.name)
	}
}
