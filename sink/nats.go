package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"printmaster/telemetry/common/logger"
	"printmaster/telemetry/common/storage"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSConfig selects the broker and subjects. With Stream set, events go
// through JetStream and are acknowledged; otherwise core NATS is used.
type NATSConfig struct {
	Enabled       bool   `toml:"enabled"`
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
	Stream        string `toml:"stream"`
}

// DefaultNATSConfig returns a disabled local configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{URL: nats.DefaultURL, SubjectPrefix: "telemetry"}
}

// NATSPublisher publishes result events to NATS subjects
// <prefix>.samples.<device>, <prefix>.refills.<device> and <prefix>.reports.
type NATSPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

var _ Sink = (*NATSPublisher)(nil)

// NewNATSPublisher connects and, when a stream is configured, ensures it exists.
func NewNATSPublisher(ctx context.Context, cfg NATSConfig, opts ...nats.Option) (*NATSPublisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	prefix := strings.Trim(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = "telemetry"
	}

	opts = append([]nats.Option{
		nats.Name("printmaster-telemetry"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil && logger.Global != nil {
				logger.Global.Warn("NATS disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if logger.Global != nil {
				logger.Global.Info("NATS reconnected", "url", nc.ConnectedUrl())
			}
		}),
	}, opts...)

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	p := &NATSPublisher{nc: nc, prefix: prefix}

	if cfg.Stream != "" {
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		if _, err := js.Stream(ctx, cfg.Stream); err != nil {
			_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
				Name:     cfg.Stream,
				Subjects: []string{prefix + ".>"},
			})
			if err != nil {
				nc.Close()
				return nil, fmt.Errorf("failed to create or get stream %s: %w", cfg.Stream, err)
			}
			if logger.Global != nil {
				logger.Global.Info("Created JetStream stream", "stream", cfg.Stream, "subjects", prefix+".>")
			}
		}
		p.js = js
	}
	return p, nil
}

// Subject builds a subject below the configured prefix.
func (p *NATSPublisher) Subject(parts ...string) string {
	return strings.Join(append([]string{p.prefix}, parts...), ".")
}

func (p *NATSPublisher) PublishSample(ctx context.Context, device *storage.Device, s *storage.CounterSample) error {
	if device == nil || s == nil {
		return errors.New("device and sample required")
	}
	subject := p.Subject("samples", strconv.FormatInt(device.ID, 10))
	return p.publish(ctx, newEvent(EventSampleRecorded, subject, s.Timestamp, SamplePayload{
		DeviceID: device.ID, Serial: device.Serial, Address: device.IP, Sample: s,
	}))
}

func (p *NATSPublisher) PublishRefill(ctx context.Context, device *storage.Device, r *storage.RefillRecord) error {
	if device == nil || r == nil {
		return errors.New("device and refill required")
	}
	subject := p.Subject("refills", strconv.FormatInt(device.ID, 10))
	return p.publish(ctx, newEvent(EventRefillDetected, subject, r.Timestamp, RefillPayload{
		DeviceID: device.ID, Serial: device.Serial, Address: device.IP, Refill: r,
	}))
}

func (p *NATSPublisher) PublishReport(ctx context.Context, r *storage.ExecutionReport) error {
	if r == nil {
		return errors.New("report required")
	}
	return p.publish(ctx, newEvent(EventBatchCompleted, p.Subject("reports"), r.FinishedAt, r))
}

func (p *NATSPublisher) publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
	}
	if p.js != nil {
		ack, err := p.js.Publish(ctx, ev.Subject, data)
		if err != nil {
			return fmt.Errorf("failed to publish %s event: %w", ev.Type, err)
		}
		if logger.Global != nil {
			logger.Global.TraceTag("sink", "Published event", "subject", ev.Subject, "seq", ack.Sequence)
		}
		return nil
	}
	if err := p.nc.Publish(ev.Subject, data); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Type, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.FlushTimeout(5 * time.Second)
	p.nc.Close()
	if err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("flush NATS: %w", err)
	}
	return nil
}
