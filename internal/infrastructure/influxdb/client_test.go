package influxdb_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "graylogic-dev-token",
		Org:           "graylogic",
		Bucket:        "nad",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

var (
	influxOnce      sync.Once
	influxAvailable bool
)

// connectOrSkip connects to the dev InfluxDB or skips the test.
func connectOrSkip(t *testing.T) *influxdb.Client {
	t.Helper()
	influxOnce.Do(func() {
		client, err := influxdb.Connect(testConfig())
		if err == nil {
			influxAvailable = true
			client.Close()
		}
	})
	if !influxAvailable {
		t.Skip("InfluxDB not available, skipping integration test")
	}

	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// captureErrors records async write errors.
func captureErrors(client *influxdb.Client) func() error {
	var mu sync.Mutex
	var last error
	client.SetOnError(func(err error) {
		mu.Lock()
		last = err
		mu.Unlock()
	})
	return func() error {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func TestConnect(t *testing.T) {
	client := connectOrSkip(t)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestHealthCheck(t *testing.T) {
	client := connectOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if err := client.HealthCheck(cancelled); err == nil {
		t.Error("HealthCheck() should fail for a cancelled context")
	}
}

func TestWriteChannelState(t *testing.T) {
	client := connectOrSkip(t)
	lastErr := captureErrors(client)

	now := time.Now()
	client.WriteChannelState("nad-test", "zone1#power", true, now)
	client.WriteChannelState("nad-test", "zone1#volumeDB", -35.0, now)
	client.WriteChannelState("nad-test", "zone1#source", 3, now)
	client.WriteChannelState("nad-test", "tuner#rdsName", "BBC R4", now)
	client.Flush()

	time.Sleep(100 * time.Millisecond)
	if err := lastErr(); err != nil {
		t.Errorf("write error = %v", err)
	}
}

func TestWriteBridgeCounters(t *testing.T) {
	client := connectOrSkip(t)
	lastErr := captureErrors(client)

	client.WriteBridgeCounters("nad-test", influxdb.BridgeCounters{
		Connected: true, LinesTx: 10, LinesRx: 42, Reconnects: 1, CommandsOK: 3,
	})
	client.Flush()

	time.Sleep(100 * time.Millisecond)
	if err := lastErr(); err != nil {
		t.Errorf("write error = %v", err)
	}
}

func TestClose(t *testing.T) {
	client := connectOrSkip(t)

	client.WriteChannelState("nad-test", "zone2#mute", false, time.Time{})
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	// Writes and flushes after Close are no-ops.
	client.WriteChannelState("nad-test", "zone2#mute", true, time.Time{})
	client.Flush()
}

func TestNilClient(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() on nil = true")
	}
}
