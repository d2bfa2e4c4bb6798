package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commonstorage "printmaster/telemetry/common/storage"
)

func TestSamples(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	d := seedDevice(t, store, &commonstorage.Device{IP: "10.0.0.30", Active: true})
	other := seedDevice(t, store, &commonstorage.Device{IP: "10.0.0.31", Active: true})
	empty := seedDevice(t, store, &commonstorage.Device{IP: "10.0.0.32", Active: true})

	march := time.Date(2026, 3, 31, 23, 30, 0, 0, time.UTC)
	april := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

	first := &commonstorage.CounterSample{DeviceID: d.ID, Timestamp: march, Mono: 1000, Total: 1000, Method: commonstorage.MethodScheduled}
	second := &commonstorage.CounterSample{
		DeviceID: d.ID, Timestamp: april, Mono: 1200, Total: 1200, MonoDelta: 200, TotalDelta: 200,
		Method: commonstorage.MethodManual, Profile: "hp", RawPayload: json.RawMessage(`{"page_count":1200}`),
	}
	third := &commonstorage.CounterSample{DeviceID: other.ID, Timestamp: april, Mono: 5, Total: 5, Method: commonstorage.MethodScheduled}
	for _, s := range []*commonstorage.CounterSample{first, second, third} {
		if err := store.InsertSample(ctx, s); err != nil {
			t.Fatalf("InsertSample: %v", err)
		}
		if s.ID == 0 {
			t.Fatal("InsertSample did not set ID")
		}
	}

	t.Run("PeriodDerivedFromTimestamp", func(t *testing.T) {
		if first.Period != "2026-03" || second.Period != "2026-04" {
			t.Errorf("periods = %q, %q", first.Period, second.Period)
		}
	})

	t.Run("LatestSamples", func(t *testing.T) {
		latest, err := store.LatestSamples(ctx, []int64{d.ID, other.ID, empty.ID})
		if err != nil {
			t.Fatalf("LatestSamples: %v", err)
		}
		if len(latest) != 2 {
			t.Fatalf("len = %d, want 2", len(latest))
		}
		got := latest[d.ID]
		if got.ID != second.ID || got.Mono != 1200 || got.MonoDelta != 200 {
			t.Errorf("latest for device = %+v", got)
		}
		if string(got.RawPayload) != `{"page_count":1200}` {
			t.Errorf("RawPayload = %s", got.RawPayload)
		}
		if !got.Timestamp.Equal(april) {
			t.Errorf("Timestamp = %v, want %v", got.Timestamp, april)
		}
		if _, ok := latest[empty.ID]; ok {
			t.Error("device without history must be absent")
		}
	})

	t.Run("LatestSamplesEmptyInput", func(t *testing.T) {
		latest, err := store.LatestSamples(ctx, nil)
		if err != nil || len(latest) != 0 {
			t.Fatalf("LatestSamples(nil) = %v, %v", latest, err)
		}
	})

	t.Run("ListSamplesByPeriod", func(t *testing.T) {
		all, err := store.ListSamples(ctx, d.ID, "")
		if err != nil {
			t.Fatalf("ListSamples: %v", err)
		}
		if len(all) != 2 || all[0].ID != first.ID {
			t.Fatalf("unexpected list: %+v", all)
		}
		inMarch, _ := store.ListSamples(ctx, d.ID, "2026-03")
		if len(inMarch) != 1 {
			t.Errorf("march samples = %d, want 1", len(inMarch))
		}
	})

	t.Run("LockPeriod", func(t *testing.T) {
		locked, err := store.HasLockedSample(ctx, d.ID, "2026-03")
		if err != nil || locked {
			t.Fatalf("HasLockedSample before lock = %v, %v", locked, err)
		}
		n, err := store.LockPeriod(ctx, d.ID, "2026-03")
		if err != nil {
			t.Fatalf("LockPeriod: %v", err)
		}
		if n != 1 {
			t.Errorf("locked %d samples, want 1", n)
		}
		locked, _ = store.HasLockedSample(ctx, d.ID, "2026-03")
		if !locked {
			t.Error("period should be locked")
		}
		locked, _ = store.HasLockedSample(ctx, d.ID, "2026-04")
		if locked {
			t.Error("other period must stay open")
		}
	})
}
