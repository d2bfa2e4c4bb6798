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

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttQuiesceMs      = 250
)

// ErrMQTTPublish wraps broker-side publish failures.
var ErrMQTTPublish = errors.New("mqtt: publish failed")

// MQTTConfig selects the broker and topic root. Broker is a URL such as
// tcp://host:1883 or ssl://host:8883.
type MQTTConfig struct {
	Enabled     bool   `toml:"enabled"`
	Broker      string `toml:"broker"`
	ClientID    string `toml:"client_id"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	TopicPrefix string `toml:"topic_prefix"`
	QoS         int    `toml:"qos"`
}

// DefaultMQTTConfig returns a disabled local configuration.
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:      "tcp://127.0.0.1:1883",
		ClientID:    "printmaster-telemetry",
		TopicPrefix: "printmaster/telemetry",
		QoS:         1,
	}
}

// MQTTPublisher publishes result events to <prefix>/samples/<device>,
// <prefix>/refills/<device> and <prefix>/reports. A retained message on
// <prefix>/status tracks whether the publisher is online; the broker flips
// it to offline through the last will when the connection drops.
type MQTTPublisher struct {
	client   pahomqtt.Client
	prefix   string
	qos      byte
	clientID string
}

var _ Sink = (*MQTTPublisher)(nil)

// NewMQTTPublisher connects to the broker.
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	def := DefaultMQTTConfig()
	if cfg.Broker == "" {
		cfg.Broker = def.Broker
	}
	if cfg.ClientID == "" {
		cfg.ClientID = def.ClientID
	}
	prefix := strings.Trim(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = def.TopicPrefix
	}
	if cfg.QoS < 0 || cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt: invalid QoS %d", cfg.QoS)
	}

	p := &MQTTPublisher{prefix: prefix, qos: byte(cfg.QoS), clientID: cfg.ClientID}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetWill(p.Topic("status"), p.statusPayload("offline", "unexpected_disconnect"), 1, true)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if logger.Global != nil {
			logger.Global.Warn("MQTT connection lost", "broker", cfg.Broker, "error", err.Error())
		}
	})
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		c.Publish(p.Topic("status"), 1, true, p.statusPayload("online", ""))
	})

	p.client = pahomqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: timeout after %v", cfg.Broker, mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, err)
	}
	return p, nil
}

// Topic builds a topic below the configured prefix.
func (p *MQTTPublisher) Topic(parts ...string) string {
	return strings.Join(append([]string{p.prefix}, parts...), "/")
}

func (p *MQTTPublisher) statusPayload(status, reason string) string {
	payload, _ := json.Marshal(map[string]string{
		"status":    status,
		"client_id": p.clientID,
		"reason":    reason,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return string(payload)
}

func (p *MQTTPublisher) PublishSample(ctx context.Context, device *storage.Device, s *storage.CounterSample) error {
	if device == nil || s == nil {
		return errors.New("device and sample required")
	}
	topic := p.Topic("samples", strconv.FormatInt(device.ID, 10))
	return p.publish(ctx, newEvent(EventSampleRecorded, topic, s.Timestamp, SamplePayload{
		DeviceID: device.ID, Serial: device.Serial, Address: device.IP, Sample: s,
	}))
}

func (p *MQTTPublisher) PublishRefill(ctx context.Context, device *storage.Device, r *storage.RefillRecord) error {
	if device == nil || r == nil {
		return errors.New("device and refill required")
	}
	topic := p.Topic("refills", strconv.FormatInt(device.ID, 10))
	return p.publish(ctx, newEvent(EventRefillDetected, topic, r.Timestamp, RefillPayload{
		DeviceID: device.ID, Serial: device.Serial, Address: device.IP, Refill: r,
	}))
}

func (p *MQTTPublisher) PublishReport(ctx context.Context, r *storage.ExecutionReport) error {
	if r == nil {
		return errors.New("report required")
	}
	return p.publish(ctx, newEvent(EventBatchCompleted, p.Topic("reports"), r.FinishedAt, r))
}

func (p *MQTTPublisher) publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
	}
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("%w: not connected", ErrMQTTPublish)
	}

	timeout := mqttPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	token := p.client.Publish(ev.Subject, p.qos, false, data)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %s timed out after %v", ErrMQTTPublish, ev.Subject, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMQTTPublish, ev.Subject, err)
	}
	return nil
}

// Close marks the publisher offline and disconnects.
func (p *MQTTPublisher) Close() error {
	if p.client == nil {
		return nil
	}
	if p.client.IsConnectionOpen() {
		token := p.client.Publish(p.Topic("status"), 1, true, p.statusPayload("offline", "graceful_shutdown"))
		token.WaitTimeout(mqttPublishTimeout)
	}
	p.client.Disconnect(mqttQuiesceMs)
	return nil
}
