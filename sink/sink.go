// Package sink forwards collection results to external systems: NATS
// subjects and MQTT topics for events, InfluxDB for counter time series.
package sink

import (
	"context"
	"errors"
	"time"

	"printmaster/telemetry/common/storage"

	"github.com/google/uuid"
)

// Event types carried in the envelope.
const (
	EventSampleRecorded = "telemetry.sample.recorded"
	EventRefillDetected = "telemetry.refill.detected"
	EventBatchCompleted = "telemetry.batch.completed"
)

// Sink receives results after they are persisted. Failures never roll back
// persisted data; callers log them.
type Sink interface {
	PublishSample(ctx context.Context, device *storage.Device, s *storage.CounterSample) error
	PublishRefill(ctx context.Context, device *storage.Device, r *storage.RefillRecord) error
	PublishReport(ctx context.Context, r *storage.ExecutionReport) error
	Close() error
}

// Event is the JSON envelope published for every result.
type Event struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Source  string      `json:"source"`
	Subject string      `json:"subject"`
	Time    time.Time   `json:"time"`
	Data    interface{} `json:"data"`
}

// SamplePayload is the data of a sample event.
type SamplePayload struct {
	DeviceID int64                  `json:"device_id"`
	Serial   string                 `json:"serial,omitempty"`
	Address  string                 `json:"address"`
	Sample   *storage.CounterSample `json:"sample"`
}

// RefillPayload is the data of a refill event.
type RefillPayload struct {
	DeviceID int64                 `json:"device_id"`
	Serial   string                `json:"serial,omitempty"`
	Address  string                `json:"address"`
	Refill   *storage.RefillRecord `json:"refill"`
}

func newEvent(typ, subject string, at time.Time, data interface{}) Event {
	return Event{
		ID:      uuid.New().String(),
		Type:    typ,
		Source:  "printmaster/telemetry",
		Subject: subject,
		Time:    at.UTC(),
		Data:    data,
	}
}

// Multi fans results out to several sinks.
type Multi []Sink

var _ Sink = Multi(nil)

func (m Multi) PublishSample(ctx context.Context, device *storage.Device, s *storage.CounterSample) error {
	var errs []error
	for _, sk := range m {
		errs = append(errs, sk.PublishSample(ctx, device, s))
	}
	return errors.Join(errs...)
}

func (m Multi) PublishRefill(ctx context.Context, device *storage.Device, r *storage.RefillRecord) error {
	var errs []error
	for _, sk := range m {
		errs = append(errs, sk.PublishRefill(ctx, device, r))
	}
	return errors.Join(errs...)
}

func (m Multi) PublishReport(ctx context.Context, r *storage.ExecutionReport) error {
	var errs []error
	for _, sk := range m {
		errs = append(errs, sk.PublishReport(ctx, r))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, sk := range m {
		errs = append(errs, sk.Close())
	}
	return errors.Join(errs...)
}
