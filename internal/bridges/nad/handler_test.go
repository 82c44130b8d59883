package nad

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// MockConnector is a scriptable Connector for handler and bridge tests.
type MockConnector struct {
	mu        sync.Mutex
	sent      []Message
	calls     []string
	connected bool
	startErr  error
	sendErr   error

	onMessage   func(LogicalCommand, Message)
	onConnected func()
	onConnError func(error)
}

func (m *MockConnector) Start(context.Context) error {
	m.mu.Lock()
	m.calls = append(m.calls, "start")
	if m.startErr != nil {
		m.mu.Unlock()
		return m.startErr
	}
	m.connected = true
	callback := m.onConnected
	m.mu.Unlock()

	if callback != nil {
		go callback()
	}
	return nil
}

func (m *MockConnector) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *MockConnector) SetOnMessage(cb func(LogicalCommand, Message)) {
	m.mu.Lock()
	m.onMessage = cb
	m.mu.Unlock()
}

func (m *MockConnector) SetOnConnected(cb func()) {
	m.mu.Lock()
	m.onConnected = cb
	m.mu.Unlock()
}

func (m *MockConnector) SetOnConnectionError(cb func(error)) {
	m.mu.Lock()
	m.onConnError = cb
	m.mu.Unlock()
}

func (m *MockConnector) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockConnector) State() ConnectionState {
	if m.IsConnected() {
		return StateConnected
	}
	return StateDisconnected
}

func (m *MockConnector) Stats() ClientStats {
	return ClientStats{State: m.State()}
}

func (m *MockConnector) Interrupt() {
	m.mu.Lock()
	m.calls = append(m.calls, "interrupt")
	m.mu.Unlock()
}

func (m *MockConnector) Close() error {
	m.mu.Lock()
	m.calls = append(m.calls, "close")
	m.connected = false
	m.mu.Unlock()
	return nil
}

// Deliver feeds a raw line through decode and classify, like the reader.
func (m *MockConnector) Deliver(line string) {
	msg, err := Decode(line)
	if err != nil {
		return
	}
	cmd, ok := Classify(msg.Variable, msg.Operator)
	if !ok {
		return
	}
	m.mu.Lock()
	callback := m.onMessage
	m.mu.Unlock()
	if callback != nil {
		callback(cmd, msg)
	}
}

// FailConnection simulates a lost link.
func (m *MockConnector) FailConnection(err error) {
	m.mu.Lock()
	m.connected = false
	callback := m.onConnError
	m.mu.Unlock()
	if callback != nil {
		callback(err)
	}
}

func (m *MockConnector) SentLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, msg := range m.sent {
		out[i] = msg.String()
	}
	return out
}

func (m *MockConnector) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockConnector) ResetSent() {
	m.mu.Lock()
	m.sent = nil
	m.mu.Unlock()
}

func contains(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}

func indexOf(lines []string, want string) int {
	for i, l := range lines {
		if l == want {
			return i
		}
	}
	return -1
}

func newTestHandler(t *testing.T, cfg Config) (*Handler, *MockConnector) {
	t.Helper()
	mock := &MockConnector{}
	h := NewHandler(cfg, WithConnector(mock))
	t.Cleanup(h.Dispose)
	return h, mock
}

func TestHandlerInitializeConfigError(t *testing.T) {
	h, mock := newTestHandler(t, Config{Address: "10.0.0.1", Zones: 7})

	var statuses []Status
	h.SetOnStatus(func(s Status, _ string) { statuses = append(statuses, s) })

	err := h.Initialize(context.Background())
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Initialize() error = %v, want ErrInvalidConfig", err)
	}
	if st, _ := h.Status(); st != StatusConfigurationError {
		t.Errorf("Status() = %s, want CONFIGURATION_ERROR", st)
	}
	if len(mock.Calls()) != 0 {
		t.Errorf("connector calls = %v, want none", mock.Calls())
	}
	if len(statuses) != 1 || statuses[0] != StatusConfigurationError {
		t.Errorf("status callbacks = %v", statuses)
	}
}

func TestHandlerInitializeMissingPresetFile(t *testing.T) {
	h, mock := newTestHandler(t, Config{
		Address:    "10.0.0.1",
		Zones:      1,
		Tuner:      true,
		PresetFile: filepath.Join(t.TempDir(), "missing.yaml"),
	})

	if err := h.Initialize(context.Background()); !errors.Is(err, ErrPresetFile) {
		t.Fatalf("Initialize() error = %v, want ErrPresetFile", err)
	}
	if st, _ := h.Status(); st != StatusConfigurationError {
		t.Errorf("Status() = %s", st)
	}
	if len(mock.Calls()) != 0 {
		t.Error("handler must not connect after a configuration error")
	}
}

func TestHandlerConnectedPopulatesSources(t *testing.T) {
	h, mock := newTestHandler(t, Config{Address: "10.0.0.1", Zones: 2, Sources: 4})

	if err := h.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	waitFor(t, "ONLINE", func() bool { st, _ := h.Status(); return st == StatusOnline })
	waitFor(t, "source name queries", func() bool {
		sent := mock.SentLines()
		return contains(sent, "Source1.Name?") && contains(sent, "Source4.Name?") && contains(sent, "Main.Model?")
	})
	sent := mock.SentLines()
	if contains(sent, "Source5.Name?") {
		t.Error("queried a source beyond the configured count")
	}
	// Source names go out before the first query of the full read.
	if last, first := indexOf(sent, "Source4.Name?"), indexOf(sent, "Main.Power?"); last > first {
		t.Errorf("sent = %q, want every source name query before the full read", sent)
	}

	var options []Option
	var mu sync.Mutex
	h.SetOnSourceOptions(func(o []Option) {
		mu.Lock()
		options = o
		mu.Unlock()
	})
	mock.Deliver("Source3.Name=Blu-ray")

	mu.Lock()
	defer mu.Unlock()
	if len(options) != 4 || options[2].Label != "Blu-ray" {
		t.Errorf("source options = %+v", options)
	}
}

func TestHandlerStateFromMessages(t *testing.T) {
	h, mock := newTestHandler(t, Config{Address: "10.0.0.1", Zones: 1})

	var mu sync.Mutex
	var changes []change
	h.SetOnChange(func(id string, v any) {
		mu.Lock()
		changes = append(changes, change{id, v})
		mu.Unlock()
	})

	if err := h.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	mock.Deliver("Main.Power=On")
	mock.Deliver("Main.Power=On")
	mock.Deliver("Zone2.Power=On") // zone not configured

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 || changes[0].channel != "zone1#power" || changes[0].value != true {
		t.Errorf("changes = %+v, want one zone1#power=true", changes)
	}
}

func TestHandlerHandleCommand(t *testing.T) {
	h, mock := newTestHandler(t, Config{Address: "10.0.0.1", Zones: 2})
	if err := h.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "ONLINE", func() bool { st, _ := h.Status(); return st == StatusOnline })
	waitFor(t, "initial queries", func() bool {
		sent := mock.SentLines()
		return contains(sent, "Source10.Name?") && contains(sent, "Main.Model?")
	})
	waitFor(t, "initial tasks", func() bool { return !h.scheduler.Has(taskSourceNames) })
	mock.ResetSent()

	ctx := context.Background()
	if err := h.HandleCommand(ctx, "zone1#power", OnOff(true)); err != nil {
		t.Fatalf("HandleCommand(power) error = %v", err)
	}
	if err := h.HandleCommand(ctx, "zone2#source", StringCommand("tuner")); err != nil {
		t.Fatalf("HandleCommand(source by name) error = %v", err)
	}

	sent := mock.SentLines()
	if len(sent) != 2 || sent[0] != "Main.Power=On" || sent[1] != "Zone2.Source=2" {
		t.Errorf("sent = %q", sent)
	}
	if _, known := h.State().Power(1); known {
		t.Error("state must only change when the receiver echoes")
	}

	var uv *UnsupportedValueError
	if err := h.HandleCommand(ctx, "zone1#source", StringCommand("Gramophone")); !errors.As(err, &uv) {
		t.Errorf("unknown source name error = %v, want *UnsupportedValueError", err)
	}
	if err := h.HandleCommand(ctx, "zone1#power", Percent(3)); !errors.As(err, &uv) {
		t.Errorf("percent on power error = %v, want *UnsupportedValueError", err)
	}
	if err := h.HandleCommand(ctx, "zone3#power", OnOff(true)); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("unconfigured zone error = %v, want ErrUnknownChannel", err)
	}
	if err := h.HandleCommand(ctx, "tuner#band", StringCommand("FM")); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("disabled tuner error = %v, want ErrUnknownChannel", err)
	}
	if !h.IsConnected() {
		t.Error("rejected commands must not affect the connection")
	}
}

func TestHandlerSendFailureSurfaces(t *testing.T) {
	h, mock := newTestHandler(t, Config{Address: "10.0.0.1", Zones: 1})
	if err := h.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	mock.mu.Lock()
	mock.sendErr = ErrSendFailed
	mock.mu.Unlock()

	if err := h.HandleCommand(context.Background(), "zone1#mute", OnOff(true)); !errors.Is(err, ErrSendFailed) {
		t.Errorf("HandleCommand() error = %v, want ErrSendFailed", err)
	}
}

func TestHandlerConnectionErrorStatus(t *testing.T) {
	h, mock := newTestHandler(t, Config{Address: "10.0.0.1", Zones: 1})
	if err := h.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "ONLINE", func() bool { st, _ := h.Status(); return st == StatusOnline })

	mock.FailConnection(ErrSilentLink)
	st, detail := h.Status()
	if st != StatusCommunicationError || detail == "" {
		t.Errorf("Status() = %s %q, want COMMUNICATION_ERROR", st, detail)
	}
}

func TestHandlerStartFailureIsNotFatal(t *testing.T) {
	mock := &MockConnector{startErr: ErrConnectionFailed}
	h := NewHandler(Config{Address: "10.0.0.1", Zones: 1}, WithConnector(mock))
	defer h.Dispose()

	if err := h.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v, want nil", err)
	}
	if st, _ := h.Status(); st != StatusCommunicationError {
		t.Errorf("Status() = %s, want COMMUNICATION_ERROR", st)
	}
}

func TestHandlerTunerMonitors(t *testing.T) {
	h, mock := newTestHandler(t, Config{
		Address:           "10.0.0.1",
		Zones:             1,
		Tuner:             true,
		BandCheckInterval: 10 * time.Millisecond,
		RDSPollInterval:   10 * time.Millisecond,
	})
	if err := h.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.Monitors()) != 2 {
		t.Fatalf("Monitors() = %d, want 2", len(h.Monitors()))
	}

	mock.Deliver("Tuner.Band=FM")
	mock.Deliver("Main.Source=2")
	mock.Deliver("Main.Power=On")

	rds := h.Monitors()[0]
	waitFor(t, "RDS monitor active", func() bool { return rds.State() == MonitorActive })
	waitFor(t, "RDS text poll", func() bool { return contains(mock.SentLines(), "Tuner.FM.RDSText?") })

	mock.Deliver("Main.Power=Off")
	waitFor(t, "RDS monitor paused", func() bool { return rds.State() == MonitorPaused })
}

func TestHandlerDispose(t *testing.T) {
	h, mock := newTestHandler(t, Config{Address: "10.0.0.1", Zones: 1, Tuner: true, RefreshInterval: time.Hour})
	if err := h.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.Dispose()
	h.Dispose()

	calls := mock.Calls()
	if len(calls) != 3 || calls[0] != "start" || calls[1] != "interrupt" || calls[2] != "close" {
		t.Errorf("connector calls = %v, want [start interrupt close]", calls)
	}
	for _, m := range h.Monitors() {
		if m.State() != MonitorStopped {
			t.Errorf("monitor %s state = %s, want stopped", m.Name(), m.State())
		}
	}
	if names := h.scheduler.Names(); len(names) != 0 {
		t.Errorf("scheduler tasks after Dispose = %v", names)
	}
	if st, _ := h.Status(); st != StatusOffline {
		t.Errorf("Status() = %s, want OFFLINE", st)
	}
	if err := h.HandleCommand(context.Background(), "zone1#power", OnOff(true)); !errors.Is(err, ErrClosed) {
		t.Errorf("HandleCommand() after Dispose = %v, want ErrClosed", err)
	}
}

func TestHandlerCommandBeforeInitialize(t *testing.T) {
	h := NewHandler(Config{Address: "10.0.0.1", Zones: 1})
	if err := h.HandleCommand(context.Background(), "zone1#power", OnOff(true)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HandleCommand() = %v, want ErrNotConnected", err)
	}
	h.Dispose()
}

func TestHandlerChannels(t *testing.T) {
	h := NewHandler(Config{Address: "10.0.0.1", Zones: 2, Tuner: true})
	got := h.Channels()
	want := 2*6 + 1 + len(tunerBindings)
	if len(got) != want {
		t.Errorf("Channels() = %d entries, want %d", len(got), want)
	}
	if got[0] != "zone1#power" {
		t.Errorf("first channel = %q", got[0])
	}
}

// End to end over a real socket: a raw status line becomes exactly one
// state change.
func TestHandlerEndToEnd(t *testing.T) {
	server := NewMockReceiver(t)

	h := NewHandler(Config{
		Address:           server.Address(),
		Zones:             1,
		FastRetryInterval: 20 * time.Millisecond,
	})
	defer h.Dispose()

	changes := make(chan change, 10)
	h.SetOnChange(func(id string, v any) { changes <- change{id, v} })

	if err := h.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got := server.WaitLine(t); got != "Main.Power?" {
		t.Fatalf("first line = %q, want Main.Power?", got)
	}

	server.Write(t, "Main.Power=On\r")

	select {
	case c := <-changes:
		if c.channel != "zone1#power" || c.value != true {
			t.Errorf("change = %+v, want zone1#power=true", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for state change")
	}

	select {
	case c := <-changes:
		t.Errorf("unexpected extra change %+v", c)
	case <-time.After(100 * time.Millisecond):
	}

	if on, _ := h.State().Power(1); !on {
		t.Error("State().Power(1) = false")
	}
}

// A dropped link is repaired underneath the handler: commands reach the new
// socket and a status line the receiver repeats after reconnecting does not
// notify the host a second time.
func TestHandlerReconnectKeepsStateAndCommands(t *testing.T) {
	server := NewMockReceiver(t)

	h := NewHandler(Config{
		Address:           server.Address(),
		Zones:             1,
		Sources:           1,
		FastRetryInterval: 20 * time.Millisecond,
	})
	defer h.Dispose()

	changes := make(chan change, 32)
	h.SetOnChange(func(id string, v any) { changes <- change{id, v} })

	if err := h.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got := server.WaitLine(t); got != "Main.Power?" {
		t.Fatalf("first line = %q, want Main.Power?", got)
	}
	server.Write(t, "Main.Power=On\r")
	expectChange(t, changes, "zone1#power", true)

	// The receiver hangs up after the second line it reads.
	server.WaitLine(t)
	server.Drop()

	waitFor(t, "reconnect", func() bool { return server.Accepted() == 2 && h.IsConnected() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.HandleCommand(ctx, "zone1#mute", OnOff(true)); err != nil {
		t.Fatalf("HandleCommand() after reconnect error = %v", err)
	}
	waitLineFor(t, server, "Main.Mute=On")

	// Replayed power status plus a fresh mute echo, in wire order.
	server.Write(t, "Main.Power=On\rMain.Mute=On\r")
	expectChange(t, changes, "zone1#mute", true)

	if on, _ := h.State().Power(1); !on {
		t.Error("State().Power(1) = false after reconnect")
	}
	waitFor(t, "ONLINE after reconnect", func() bool { st, _ := h.Status(); return st == StatusOnline })
}

// expectChange waits for the next change and fails on anything else,
// including a repeat of an earlier channel.
func expectChange(t *testing.T, changes <-chan change, channel string, value any) {
	t.Helper()
	select {
	case c := <-changes:
		if c.channel != channel || c.value != value {
			t.Fatalf("change = %+v, want %s=%v", c, channel, value)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Timeout waiting for %s", channel)
	}
}

// waitLineFor reads client lines until want arrives.
func waitLineFor(t *testing.T, server *MockReceiver, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if server.WaitLine(t) == want {
			return
		}
	}
	t.Fatalf("Timeout waiting for %q", want)
}
