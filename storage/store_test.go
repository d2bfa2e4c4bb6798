package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"printmaster/telemetry/common/config"
	commonstorage "printmaster/telemetry/common/storage"
)

// newTestStore opens a file-backed SQLite store so sessions can pin their
// own connections.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "telemetry.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedDevice(t *testing.T, store *Store, d *commonstorage.Device) *commonstorage.Device {
	t.Helper()
	if err := store.SaveDevice(context.Background(), d); err != nil {
		t.Fatalf("SaveDevice: %v", err)
	}
	return d
}

func TestNewStore_SQLite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  *config.DatabaseConfig
	}{
		{"nil config", nil},
		{"memory", &config.DatabaseConfig{Path: ":memory:"}},
		{"explicit sqlite driver", &config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}},
		{"sqlite3 driver", &config.DatabaseConfig{Driver: "sqlite3", Path: ":memory:"}},
		{"modernc driver", &config.DatabaseConfig{Driver: "modernc", Path: ":memory:"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store, err := NewStore(tt.cfg)
			if err != nil {
				t.Fatalf("NewStore: %v", err)
			}
			defer store.Close()
			if store.Dialect().Name() != "sqlite" {
				t.Errorf("dialect = %q, want sqlite", store.Dialect().Name())
			}
		})
	}
}

func TestNewStore_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	if _, err := NewStore(&config.DatabaseConfig{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestNewPostgresStore_RequiresDSN(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNewSQLiteStore_ReopenKeepsSchema(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "telemetry.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	d := seedDevice(t, store, &commonstorage.Device{IP: "10.0.0.5", Active: true})
	store.Close()

	store, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	if store.Path() != path {
		t.Errorf("Path() = %q, want %q", store.Path(), path)
	}
	if _, err := store.GetDevice(context.Background(), d.ID); err != nil {
		t.Fatalf("GetDevice after reopen: %v", err)
	}
}

func TestDevices(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	a := seedDevice(t, store, &commonstorage.Device{
		Serial: "CNB8K1234X", IP: "10.0.0.10", Model: "Color LaserJet", Profile: "hp",
		IsColor: true, InitialMono: 100, InitialColor: 50, InitialTotal: 150, Active: true,
		SNMPv3: &commonstorage.SNMPv3Credentials{Username: "ops", AuthProtocol: "SHA", AuthPassword: "secret123"},
	})
	b := seedDevice(t, store, &commonstorage.Device{IP: "10.0.0.11", TrayBased: true, TrayCapacity: 250, Active: true})
	inactive := seedDevice(t, store, &commonstorage.Device{IP: "10.0.0.12", Active: false})

	t.Run("GetDevice", func(t *testing.T) {
		got, err := store.GetDevice(ctx, a.ID)
		if err != nil {
			t.Fatalf("GetDevice: %v", err)
		}
		if got.Serial != "CNB8K1234X" || !got.IsColor || got.InitialTotal != 150 {
			t.Errorf("unexpected device: %+v", got)
		}
		if got.SNMPv3 == nil || got.SNMPv3.Username != "ops" || got.SNMPv3.AuthPassword != "secret123" {
			t.Errorf("v3 credentials not round-tripped: %+v", got.SNMPv3)
		}
		if got.UpdatedAt.IsZero() {
			t.Error("UpdatedAt not set")
		}

		plain, _ := store.GetDevice(ctx, b.ID)
		if plain.SNMPv3 != nil {
			t.Error("device without username should have nil SNMPv3")
		}
		if plain.Capacity() != 250 {
			t.Errorf("Capacity() = %d, want 250", plain.Capacity())
		}
	})

	t.Run("GetDeviceMissing", func(t *testing.T) {
		_, err := store.GetDevice(ctx, 9999)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("ListAllActive", func(t *testing.T) {
		devices, err := store.ListDevices(ctx, commonstorage.Selection{})
		if err != nil {
			t.Fatalf("ListDevices: %v", err)
		}
		if len(devices) != 2 {
			t.Fatalf("len = %d, want 2", len(devices))
		}
		for _, d := range devices {
			if d.ID == inactive.ID {
				t.Error("inactive device listed")
			}
		}
	})

	t.Run("ListExplicitIncludesInactive", func(t *testing.T) {
		devices, err := store.ListDevices(ctx, commonstorage.Selection{DeviceIDs: []int64{inactive.ID, a.ID}})
		if err != nil {
			t.Fatalf("ListDevices: %v", err)
		}
		if len(devices) != 2 || devices[0].ID != a.ID || devices[1].ID != inactive.ID {
			t.Fatalf("unexpected selection result: %+v", devices)
		}
	})

	t.Run("FindBySerial", func(t *testing.T) {
		got, err := store.FindDeviceBySerial(ctx, "CNB8K1234X")
		if err != nil {
			t.Fatalf("FindDeviceBySerial: %v", err)
		}
		if got.ID != a.ID {
			t.Errorf("ID = %d, want %d", got.ID, a.ID)
		}
		if _, err := store.FindDeviceBySerial(ctx, "NOPE0000"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("UpdateAddress", func(t *testing.T) {
		if err := store.UpdateDeviceAddress(ctx, b.ID, "10.0.1.11"); err != nil {
			t.Fatalf("UpdateDeviceAddress: %v", err)
		}
		got, _ := store.GetDevice(ctx, b.ID)
		if got.IP != "10.0.1.11" {
			t.Errorf("IP = %q, want 10.0.1.11", got.IP)
		}
		if err := store.UpdateDeviceAddress(ctx, 9999, "10.0.0.1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("SaveUpdatesExisting", func(t *testing.T) {
		a.Model = "Color LaserJet Pro"
		if err := store.SaveDevice(ctx, a); err != nil {
			t.Fatalf("SaveDevice: %v", err)
		}
		got, _ := store.GetDevice(ctx, a.ID)
		if got.Model != "Color LaserJet Pro" {
			t.Errorf("Model = %q", got.Model)
		}
	})
}

func TestSessionSharesData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	d := seedDevice(t, store, &commonstorage.Device{IP: "10.0.0.20", Active: true})

	sess, err := store.Session(ctx)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	got, err := sess.GetDevice(ctx, d.ID)
	if err != nil {
		t.Fatalf("session GetDevice: %v", err)
	}
	if got.IP != "10.0.0.20" {
		t.Errorf("IP = %q", got.IP)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var nilSession *Session
	if err := nilSession.Close(); err != nil {
		t.Errorf("nil session Close: %v", err)
	}
}
