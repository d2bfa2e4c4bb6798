//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	commonstorage "printmaster/telemetry/common/storage"
)

// TestPostgresStore_Integration runs the core data paths against Postgres.
func TestPostgresStore_Integration(t *testing.T) {
	WithPostgresStore(t, func(t *testing.T, store *Store) {
		ctx := context.Background()

		if store.Dialect().Name() != "postgres" {
			t.Fatalf("dialect = %q", store.Dialect().Name())
		}

		d := &commonstorage.Device{IP: "10.1.0.1", Serial: "VNB3R12345", Active: true, TrayBased: true}
		if err := store.SaveDevice(ctx, d); err != nil {
			t.Fatalf("SaveDevice: %v", err)
		}

		t.Run("ListDevicesByID", func(t *testing.T) {
			devices, err := store.ListDevices(ctx, commonstorage.Selection{DeviceIDs: []int64{d.ID}})
			if err != nil || len(devices) != 1 {
				t.Fatalf("ListDevices = %v, %v", devices, err)
			}
		})

		t.Run("SamplesThroughSession", func(t *testing.T) {
			sess, err := store.Session(ctx)
			if err != nil {
				t.Fatalf("Session: %v", err)
			}
			defer sess.Close()

			s := &commonstorage.CounterSample{DeviceID: d.ID, Timestamp: time.Now().UTC(), Mono: 10, Total: 10, Method: commonstorage.MethodScheduled}
			if err := sess.InsertSample(ctx, s); err != nil {
				t.Fatalf("InsertSample: %v", err)
			}
			latest, err := sess.LatestSamples(ctx, []int64{d.ID})
			if err != nil {
				t.Fatalf("LatestSamples: %v", err)
			}
			if latest[d.ID] == nil || latest[d.ID].ID != s.ID {
				t.Errorf("latest = %+v", latest[d.ID])
			}
			if _, err := sess.LockPeriod(ctx, d.ID, s.Period); err != nil {
				t.Fatalf("LockPeriod: %v", err)
			}
			locked, err := sess.HasLockedSample(ctx, d.ID, s.Period)
			if err != nil || !locked {
				t.Errorf("HasLockedSample = %v, %v", locked, err)
			}
		})

		t.Run("CompactSnapshots", func(t *testing.T) {
			old := time.Now().UTC().AddDate(0, 0, -45).Truncate(24 * time.Hour)
			for i := 0; i < 3; i++ {
				s := &commonstorage.TraySnapshot{DeviceID: d.ID, Tray: 1, Available: 90 - i, Timestamp: old.Add(time.Duration(i) * time.Hour)}
				if err := store.InsertSnapshot(ctx, s); err != nil {
					t.Fatalf("InsertSnapshot: %v", err)
				}
			}
			removed, err := store.CompactSnapshots(ctx, time.Now().UTC().AddDate(0, 0, -30))
			if err != nil {
				t.Fatalf("CompactSnapshots: %v", err)
			}
			if removed != 2 {
				t.Errorf("removed = %d, want 2", removed)
			}
		})

		t.Run("Reports", func(t *testing.T) {
			r := &commonstorage.ExecutionReport{BatchID: "pg-batch-1", Period: "2026-07", StartedAt: time.Now().UTC(), FinishedAt: time.Now().UTC()}
			if err := store.SaveReport(ctx, r); err != nil {
				t.Fatalf("SaveReport: %v", err)
			}
			if _, err := store.GetReport(ctx, "pg-batch-1"); err != nil {
				t.Fatalf("GetReport: %v", err)
			}
		})
	})
}
