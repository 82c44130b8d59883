package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-nad/internal/audit"
	"github.com/nerrad567/gray-logic-nad/internal/bridges/nad"
	"github.com/nerrad567/gray-logic-nad/internal/history"
	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/logging"
)

// fakeReceiver is an in-memory Receiver.
type fakeReceiver struct {
	mu       sync.Mutex
	state    map[string]any
	metrics  nad.BridgeMetrics
	ack      *nad.AckMessage // returned by Execute when set
	executed []nad.CommandMessage
}

func newFakeReceiver() *fakeReceiver {
	return &fakeReceiver{
		state: map[string]any{
			"zone1#power":    true,
			"zone1#volumeDB": -35.0,
		},
		metrics: nad.BridgeMetrics{Connected: true, Status: "ONLINE", LinesRx: 12, Channels: 2},
	}
}

func (f *fakeReceiver) Execute(_ context.Context, msg nad.CommandMessage) nad.AckMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, msg)
	if f.ack != nil {
		ack := *f.ack
		ack.CommandID = msg.ID
		return ack
	}
	return nad.NewAckMessage(msg, nad.AckAccepted)
}

func (f *fakeReceiver) GetMetrics() nad.BridgeMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics
}

func (f *fakeReceiver) Snapshot() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]any, len(f.state))
	for k, v := range f.state {
		out[k] = v
	}
	return out
}

func (f *fakeReceiver) Value(channelID string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.state[channelID]
	return v, ok
}

type fakeHistory struct {
	channel string
	limit   int
	entries []history.Entry
	err     error
}

func (f *fakeHistory) List(_ context.Context, channel string, limit int) ([]history.Entry, error) {
	f.channel, f.limit = channel, limit
	return f.entries, f.err
}

type fakeAudit struct {
	filter audit.Filter
}

func (f *fakeAudit) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.filter = filter
	return &audit.ListResult{
		Logs:  []audit.AuditLog{{ID: "aud-1", Action: "command", Channel: "zone1#power", Result: "accepted"}},
		Total: 1,
		Limit: filter.Limit,
	}, nil
}

type fakeBroker struct{ connected bool }

func (f fakeBroker) IsConnected() bool { return f.connected }

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testDeps(rx Receiver) Deps {
	return Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  testLogger(),
		Bridge:  rx,
		MQTT:    fakeBroker{connected: true},
		Version: "test",
	}
}

// testServer creates a Server around a fake receiver with a running hub.
func testServer(t *testing.T) (*Server, *fakeReceiver) {
	t.Helper()

	rx := newFakeReceiver()
	srv, err := New(testDeps(rx))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.hub = NewHub(srv.wsCfg, srv.logger)
	go srv.hub.Run(ctx)

	return srv, rx
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Bridge: newFakeReceiver()}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without bridge should fail")
	}
}

// ─── Health and Metrics ────────────────────────────────────────────

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		wantStatus string
	}{
		{"receiver online", true, "ok"},
		{"receiver unreachable", false, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, rx := testServer(t)
			rx.metrics.Connected = tt.connected

			w := doRequest(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			resp := decodeBody(t, w)
			if resp["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %q", resp["status"], tt.wantStatus)
			}
			if resp["version"] != "test" || resp["mqtt_connected"] != true {
				t.Errorf("resp = %v", resp)
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	srv, rx := testServer(t)
	rx.metrics.CommandsOK = 4

	w := doRequest(t, srv.buildRouter(), http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var m SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if !m.Receiver.Connected || m.Receiver.Status != "ONLINE" || m.Receiver.LinesRx != 12 || m.Receiver.CommandsOK != 4 {
		t.Errorf("receiver = %+v", m.Receiver)
	}
	if !m.MQTT.Connected || m.Runtime.Goroutines == 0 {
		t.Errorf("metrics = %+v", m)
	}
	if m.Database != nil {
		t.Error("database metrics without a DB")
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	w := doRequest(t, router, http.MethodGet, "/api/v1/health", "")
	if _, err := uuid.Parse(w.Header().Get("X-Request-ID")); err != nil {
		t.Errorf("generated X-Request-ID = %q", w.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-42")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-42" {
		t.Errorf("X-Request-ID = %q, want client-42", got)
	}
}

func TestCORS(t *testing.T) {
	srv, _ := testServer(t)
	srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}
	router := srv.buildRouter()

	tests := []struct {
		origin    string
		wantAllow string
	}{
		{"http://panel.local", "http://panel.local"},
		{"http://evil.example", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/commands", nil)
		req.Header.Set("Origin", tt.origin)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("%s: preflight status = %d, want 204", tt.origin, w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
			t.Errorf("%s: Allow-Origin = %q, want %q", tt.origin, got, tt.wantAllow)
		}
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)
	w := doRequest(t, srv.buildRouter(), http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := doRequest(t, h, http.MethodGet, "/", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ─── State and Commands ────────────────────────────────────────────

func TestGetState(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv.buildRouter(), http.MethodGet, "/api/v1/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeBody(t, w)
	state, _ := resp["state"].(map[string]any)
	if resp["count"] != 2.0 || state["zone1#power"] != true || state["zone1#volumeDB"] != -35.0 {
		t.Errorf("resp = %v", resp)
	}
}

func TestGetChannel(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	tests := []struct {
		path      string
		wantCode  int
		wantValue any
	}{
		{"/api/v1/state/zone1/volumeDB", http.StatusOK, -35.0},
		{"/api/v1/state/zone1/power", http.StatusOK, true},
		{"/api/v1/state/zone2/power", http.StatusNotFound, nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := doRequest(t, router, http.MethodGet, tt.path, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if got := decodeBody(t, w)["value"]; got != tt.wantValue {
				t.Errorf("value = %v, want %v", got, tt.wantValue)
			}
		})
	}
}

func TestCommand(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		ack      *nad.AckMessage
		wantCode int
		wantExec bool
	}{
		{
			name:     "accepted",
			body:     `{"channel":"zone1#power","command":"set","value":"on"}`,
			wantCode: http.StatusOK,
			wantExec: true,
		},
		{
			name:     "invalid json",
			body:     `{"channel":`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing command",
			body:     `{"channel":"zone1#power"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "malformed channel",
			body:     `{"channel":"zone1power","command":"on"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown channel",
			body:     `{"channel":"zone9#power","command":"on"}`,
			ack:      &nad.AckMessage{Status: nad.AckFailed, Error: &nad.AckError{Code: nad.ErrCodeUnknownChannel}},
			wantCode: http.StatusNotFound,
			wantExec: true,
		},
		{
			name:     "unsupported value",
			body:     `{"channel":"zone1#source","command":"set","value":"42"}`,
			ack:      &nad.AckMessage{Status: nad.AckFailed, Error: &nad.AckError{Code: nad.ErrCodeUnsupportedValue}},
			wantCode: http.StatusBadRequest,
			wantExec: true,
		},
		{
			name:     "receiver offline",
			body:     `{"channel":"zone1#power","command":"on"}`,
			ack:      &nad.AckMessage{Status: nad.AckFailed, Error: &nad.AckError{Code: nad.ErrCodeDeviceUnreachable}},
			wantCode: http.StatusServiceUnavailable,
			wantExec: true,
		},
		{
			name:     "bridge error",
			body:     `{"channel":"zone1#power","command":"on"}`,
			ack:      &nad.AckMessage{Status: nad.AckFailed, Error: &nad.AckError{Code: nad.ErrCodeBridgeError}},
			wantCode: http.StatusInternalServerError,
			wantExec: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, rx := testServer(t)
			rx.ack = tt.ack

			w := doRequest(t, srv.buildRouter(), http.MethodPost, "/api/v1/commands", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			if got := len(rx.executed) == 1; got != tt.wantExec {
				t.Fatalf("executed = %d commands", len(rx.executed))
			}
			if !tt.wantExec {
				return
			}

			msg := rx.executed[0]
			if msg.ID == "" || msg.Source != "api" || msg.Timestamp.IsZero() {
				t.Errorf("command message = %+v", msg)
			}
			var ack nad.AckMessage
			if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
				t.Fatal(err)
			}
			if ack.CommandID != msg.ID {
				t.Errorf("ack command_id = %q, want %q", ack.CommandID, msg.ID)
			}
		})
	}
}

func TestCommand_KeepsClientID(t *testing.T) {
	srv, rx := testServer(t)
	body := `{"id":"cmd-7","channel":"zone2#mute","command":"on","user_id":"usr-1"}`

	w := doRequest(t, srv.buildRouter(), http.MethodPost, "/api/v1/commands", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if msg := rx.executed[0]; msg.ID != "cmd-7" || msg.UserID != "usr-1" || msg.Channel != "zone2#mute" {
		t.Errorf("command message = %+v", msg)
	}
}

func TestCommand_BodyTooLarge(t *testing.T) {
	srv, rx := testServer(t)
	body := `{"channel":"zone1#power","command":"text","value":"` + strings.Repeat("x", maxRequestBodySize) + `"}`

	w := doRequest(t, srv.buildRouter(), http.MethodPost, "/api/v1/commands", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(rx.executed) != 0 {
		t.Error("oversized command reached the receiver")
	}
}

// ─── History and Audit ─────────────────────────────────────────────

func TestListHistory(t *testing.T) {
	at := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		query       string
		wantCode    int
		wantChannel string
		wantLimit   int
	}{
		{"defaults", "", http.StatusOK, "", defaultHistoryLimit},
		{"channel", "?channel=zone1%23volumeDB&limit=5", http.StatusOK, "zone1#volumeDB", 5},
		{"clamped", "?limit=100000", http.StatusOK, "", maxHistoryLimit},
		{"bad limit", "?limit=abc", http.StatusBadRequest, "", 0},
		{"zero limit", "?limit=0", http.StatusBadRequest, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t)
			hist := &fakeHistory{entries: []history.Entry{
				{ID: 1, Channel: "zone1#volumeDB", Value: -35.0, Source: history.SourceReceiver, CreatedAt: at},
			}}
			srv.history = hist

			w := doRequest(t, srv.buildRouter(), http.MethodGet, "/api/v1/history"+tt.query, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if hist.channel != tt.wantChannel || hist.limit != tt.wantLimit {
				t.Errorf("List(%q, %d), want (%q, %d)", hist.channel, hist.limit, tt.wantChannel, tt.wantLimit)
			}
			if resp := decodeBody(t, w); resp["count"] != 1.0 {
				t.Errorf("resp = %v", resp)
			}
		})
	}
}

func TestListHistory_Errors(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	w := doRequest(t, router, http.MethodGet, "/api/v1/history", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("without store: status = %d, want 503", w.Code)
	}

	srv.history = &fakeHistory{err: errors.New("disk I/O error")}
	w = doRequest(t, router, http.MethodGet, "/api/v1/history", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("store error: status = %d, want 500", w.Code)
	}

	srv.history = &fakeHistory{}
	w = doRequest(t, router, http.MethodGet, "/api/v1/history", "")
	if resp := decodeBody(t, w); resp["history"] == nil {
		t.Errorf("empty history should be [], got %v", resp)
	}
}

func TestListAuditLogs(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	w := doRequest(t, router, http.MethodGet, "/api/v1/audit", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("without store: status = %d, want 503", w.Code)
	}

	log := &fakeAudit{}
	srv.audit = log
	w = doRequest(t, router, http.MethodGet, "/api/v1/audit?action=command&channel=zone1%23power&result=failed&limit=20&offset=40", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	want := audit.Filter{Action: "command", Channel: "zone1#power", Result: "failed", Limit: 20, Offset: 40}
	if log.filter != want {
		t.Errorf("filter = %+v, want %+v", log.filter, want)
	}

	var res audit.ListResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 || res.Logs[0].ID != "aud-1" {
		t.Errorf("result = %+v", res)
	}
}

// ─── Hub ───────────────────────────────────────────────────────────

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHub_RecordStateBroadcasts(t *testing.T) {
	hub := newTestHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{EventStateChanged: {}},
	}
	hub.Register(client)

	at := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	if err := hub.RecordState(context.Background(), nad.StateChange{Channel: "zone1#mute", Value: true, Timestamp: at}); err != nil {
		t.Fatalf("RecordState() error = %v", err)
	}

	select {
	case msg := <-client.send:
		var wsMsg struct {
			Type      string     `json:"type"`
			EventType string     `json:"event_type"`
			Payload   StateEvent `json:"payload"`
		}
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != EventStateChanged {
			t.Errorf("message = %+v", wsMsg)
		}
		if wsMsg.Payload.Channel != "zone1#mute" || wsMsg.Payload.Value != true || !wsMsg.Payload.Timestamp.Equal(at) {
			t.Errorf("payload = %+v", wsMsg.Payload)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_RecordStateFilter(t *testing.T) {
	hub := newTestHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{EventStateChanged: {}},
		filter:        map[string]struct{}{"zone2": {}, "tuner#rdsText": {}},
	}
	hub.Register(client)

	tests := []struct {
		channel string
		want    bool
	}{
		{"zone1#power", false},
		{"zone2#power", true},
		{"tuner#rdsText", true},
		{"tuner#fmFrequency", false},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			//nolint:errcheck // Hub.RecordState never fails
			hub.RecordState(context.Background(), nad.StateChange{Channel: tt.channel, Value: 1})

			select {
			case <-client.send:
				if !tt.want {
					t.Errorf("%s passed the filter", tt.channel)
				}
			case <-time.After(50 * time.Millisecond):
				if tt.want {
					t.Errorf("%s was filtered out", tt.channel)
				}
			}
		})
	}
}

func TestValidFilter(t *testing.T) {
	tests := []struct {
		filter string
		want   bool
	}{
		{"zone1", true},
		{"zone1#power", true},
		{"", false},
		{"#power", false},
		{"zone1#", false},
	}
	for _, tt := range tests {
		if got := validFilter(tt.filter); got != tt.want {
			t.Errorf("validFilter(%q) = %v, want %v", tt.filter, got, tt.want)
		}
	}
}

func TestWSClient_SnapshotHonoursFilter(t *testing.T) {
	client := &WSClient{
		hub:           newTestHub(t),
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
		snapshot:      newFakeReceiver().Snapshot,
	}

	client.subscribe("s1", WSSubscribePayload{
		Channels: []string{EventStateChanged},
		Filter:   []string{"zone1#power"},
	})

	<-client.send // subscribe response
	var msg struct {
		EventType string `json:"event_type"`
		Payload   struct {
			State map[string]any `json:"state"`
			Count int            `json:"count"`
		} `json:"payload"`
	}
	select {
	case data := <-client.send:
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot sent")
	}
	if msg.EventType != EventStateSnapshot || msg.Payload.Count != 1 || msg.Payload.State["zone1#power"] != true {
		t.Errorf("snapshot = %+v", msg)
	}
}

func TestWSClient_SubscribeRejectsBadFilter(t *testing.T) {
	client := &WSClient{
		hub:           newTestHub(t),
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}

	client.subscribe("s1", WSSubscribePayload{Channels: []string{EventStateChanged}, Filter: []string{"zone1#"}})

	var msg WSMessage
	if err := json.Unmarshal(<-client.send, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != WSTypeError {
		t.Errorf("type = %q, want error", msg.Type)
	}
	if client.isSubscribed(EventStateChanged) {
		t.Error("rejected subscribe must not register the event")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := newTestHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)

	hub.Broadcast(EventStateChanged, StateEvent{Channel: "zone1#power", Value: false})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := newTestHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

// ─── Lifecycle and WebSocket ───────────────────────────────────────

// startServer starts a real listener on an ephemeral port.
func startServer(t *testing.T) (*Server, string) {
	t.Helper()

	srv, err := New(testDeps(newFakeReceiver()))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, srv.Addr()
}

func TestServer_StartAndClose(t *testing.T) {
	srv, addr := startServer(t)

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}

	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	deps := testDeps(newFakeReceiver())
	deps.Config.Port = ln.Addr().(*net.TCPAddr).Port
	srv, err := New(deps)
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(context.Background()); err == nil {
		srv.Close()
		t.Fatal("Start() on a bound port should fail")
	}
}

func TestServer_HealthCheckNotStarted(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start = %v", err)
	}
}

func dialWS(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	return msg
}

func TestWebSocket_StateChanged(t *testing.T) {
	srv, addr := startServer(t)
	ws := dialWS(t, addr)

	err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{EventStateChanged}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
	snap := readWS(t, ws)
	if snap.EventType != EventStateSnapshot {
		t.Fatalf("snapshot = %+v", snap)
	}
	snapPayload, _ := snap.Payload.(map[string]any)
	if snapPayload["count"] != 2.0 {
		t.Errorf("snapshot payload = %v", snapPayload)
	}

	//nolint:errcheck // Hub.RecordState never fails
	srv.Hub().RecordState(context.Background(), nad.StateChange{Channel: "zone1#volumeDB", Value: -30.0, Timestamp: time.Now()})

	event := readWS(t, ws)
	if event.Type != WSTypeEvent || event.EventType != EventStateChanged {
		t.Fatalf("event = %+v", event)
	}
	payload, _ := event.Payload.(map[string]any)
	if payload["channel"] != "zone1#volumeDB" || payload["value"] != -30.0 {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_Messages(t *testing.T) {
	_, addr := startServer(t)
	ws := dialWS(t, addr)

	tests := []struct {
		name     string
		send     string
		wantType string
	}{
		{"ping", `{"type":"ping","id":"p1"}`, WSTypePong},
		{"unsubscribe", `{"type":"unsubscribe","id":"u1","payload":{"channels":["state.changed"]}}`, WSTypeResponse},
		{"unknown type", `{"type":"dance","id":"d1"}`, WSTypeError},
		{"invalid json", `{not json`, WSTypeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.send)); err != nil {
				t.Fatal(err)
			}
			if got := readWS(t, ws); got.Type != tt.wantType {
				t.Errorf("type = %q, want %q", got.Type, tt.wantType)
			}
		})
	}
}
