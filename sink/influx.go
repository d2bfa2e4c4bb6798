package sink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"printmaster/telemetry/common/storage"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// ErrInfluxUnhealthy means the server answered the ping but reported itself unhealthy.
var ErrInfluxUnhealthy = errors.New("influxdb: server not healthy")

const defaultInfluxTimeout = 10 * time.Second

// InfluxConfig selects the InfluxDB v2 bucket counters are written to.
type InfluxConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Token   string `toml:"token"`
	Org     string `toml:"org"`
	Bucket  string `toml:"bucket"`
}

// DefaultInfluxConfig returns a disabled local configuration.
func DefaultInfluxConfig() InfluxConfig {
	return InfluxConfig{URL: "http://localhost:8086", Org: "printmaster", Bucket: "telemetry"}
}

// Measurement names.
const (
	MeasurementCounters = "page_counters"
	MeasurementRefills  = "tray_refills"
	MeasurementBatches  = "collection_batches"
)

// InfluxWriter writes counter samples, refills and batch summaries as
// points. Writes are blocking so a failed write is reported to the caller.
type InfluxWriter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

var _ Sink = (*InfluxWriter)(nil)

// NewInfluxWriter creates the client and verifies connectivity with a ping.
func NewInfluxWriter(ctx context.Context, cfg InfluxConfig) (*InfluxWriter, error) {
	if cfg.URL == "" || cfg.Bucket == "" {
		return nil, errors.New("influx url and bucket required")
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(defaultInfluxTimeout/time.Second)))

	pingCtx, cancel := context.WithTimeout(ctx, defaultInfluxTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping failed: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, ErrInfluxUnhealthy
	}

	return &InfluxWriter{client: client, writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket)}, nil
}

func deviceTags(device *storage.Device) map[string]string {
	tags := map[string]string{
		"device_id": strconv.FormatInt(device.ID, 10),
		"address":   device.IP,
	}
	if device.Serial != "" {
		tags["serial"] = device.Serial
	}
	return tags
}

func (w *InfluxWriter) PublishSample(ctx context.Context, device *storage.Device, s *storage.CounterSample) error {
	if device == nil || s == nil {
		return errors.New("device and sample required")
	}
	tags := deviceTags(device)
	tags["method"] = s.Method
	if s.Profile != "" {
		tags["profile"] = s.Profile
	}
	p := influxdb2.NewPoint(MeasurementCounters, tags, map[string]interface{}{
		"mono":        s.Mono,
		"color":       s.Color,
		"total":       s.Total,
		"mono_delta":  s.MonoDelta,
		"color_delta": s.ColorDelta,
		"total_delta": s.TotalDelta,
	}, s.Timestamp)
	if err := w.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write counter point: %w", err)
	}
	return nil
}

func (w *InfluxWriter) PublishRefill(ctx context.Context, device *storage.Device, r *storage.RefillRecord) error {
	if device == nil || r == nil {
		return errors.New("device and refill required")
	}
	tags := deviceTags(device)
	tags["tray"] = strconv.Itoa(r.Tray)
	tags["method"] = r.Method
	p := influxdb2.NewPoint(MeasurementRefills, tags, map[string]interface{}{
		"units_loaded":     r.UnitsLoaded,
		"before":           r.Before,
		"after":            r.After,
		"printed_from_old": r.PrintedFromOld,
	}, r.Timestamp)
	if err := w.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write refill point: %w", err)
	}
	return nil
}

func (w *InfluxWriter) PublishReport(ctx context.Context, r *storage.ExecutionReport) error {
	if r == nil {
		return errors.New("report required")
	}
	p := influxdb2.NewPoint(MeasurementBatches, map[string]string{"period": r.Period}, map[string]interface{}{
		"processed":       r.Processed,
		"succeeded":       r.Succeeded,
		"failed":          r.Failed,
		"skipped":         r.Skipped,
		"records_created": r.RecordsCreated,
		"duration_ms":     r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}, r.FinishedAt)
	if err := w.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write batch point: %w", err)
	}
	return nil
}

// Close releases the HTTP client.
func (w *InfluxWriter) Close() error {
	if w.client != nil {
		w.client.Close()
	}
	return nil
}
