package sink

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"printmaster/telemetry/common/storage"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// runMQTTBroker starts an embedded NATS server with its MQTT listener.
// MQTT topics a/b/c surface as NATS subjects a.b.c.
func runMQTTBroker(t *testing.T) (*server.Server, string) {
	t.Helper()

	port := freePort(t)
	opts := &server.Options{
		ServerName: "telemetry-mqtt-test",
		Host:       "127.0.0.1",
		Port:       -1,
		JetStream:  true,
		StoreDir:   t.TempDir(),
		MQTT:       server.MQTTOpts{Host: "127.0.0.1", Port: port},
	}
	srv, err := server.NewServer(opts)
	require.NoError(t, err)

	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded MQTT broker not ready for connections")
	}
	t.Cleanup(srv.Shutdown)
	return srv, "tcp://127.0.0.1:" + strconv.Itoa(port)
}

func TestMQTTPublisher_Topics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv, broker := runMQTTBroker(t)

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 16)
	_, err = sub.ChanSubscribe("fleet.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := NewMQTTPublisher(MQTTConfig{Broker: broker, ClientID: "telemetry-topics", TopicPrefix: "/fleet/", QoS: 1})
	require.NoError(t, err)
	defer pub.Close()
	assert.Equal(t, "fleet/samples/7", pub.Topic("samples", "7"))

	sample := &storage.CounterSample{ID: 1, DeviceID: 42, Period: "2026-10", Timestamp: time.Now(), Total: 1500, TotalDelta: 50, Method: storage.MethodScheduled}
	require.NoError(t, pub.PublishSample(ctx, testDevice(), sample))
	require.NoError(t, pub.PublishRefill(ctx, testDevice(), &storage.RefillRecord{Tray: 1, UnitsLoaded: 100, Method: storage.MethodAuto, Timestamp: time.Now()}))
	require.NoError(t, pub.PublishReport(ctx, &storage.ExecutionReport{BatchID: "b-3", Period: "2026-10"}))

	got := map[string]Event{}
	deadline := time.After(10 * time.Second)
	for len(got) < 3 {
		select {
		case m := <-msgs:
			if m.Subject == "fleet.status" {
				continue
			}
			var ev Event
			require.NoError(t, json.Unmarshal(m.Data, &ev))
			got[m.Subject] = ev
		case <-deadline:
			t.Fatalf("timed out waiting for MQTT events, got %d", len(got))
		}
	}

	assert.Equal(t, EventSampleRecorded, got["fleet.samples.42"].Type)
	assert.Equal(t, "fleet/samples/42", got["fleet.samples.42"].Subject)
	assert.Equal(t, EventRefillDetected, got["fleet.refills.42"].Type)
	assert.Equal(t, EventBatchCompleted, got["fleet.reports"].Type)
}

func TestMQTTPublisher_ConnectFailure(t *testing.T) {
	t.Parallel()

	_, err := NewMQTTPublisher(MQTTConfig{Broker: "tcp://127.0.0.1:" + strconv.Itoa(freePort(t)), ClientID: "telemetry-refused"})
	require.Error(t, err)
}

func TestMQTTPublisher_InvalidQoS(t *testing.T) {
	t.Parallel()

	_, err := NewMQTTPublisher(MQTTConfig{QoS: 3})
	require.Error(t, err)
}
