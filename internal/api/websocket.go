package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-nad/internal/bridges/nad"
	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Event types.
const (
	// EventStateChanged carries one receiver channel change.
	EventStateChanged = "state.changed"

	// EventStateSnapshot is sent once after subscribing to state.changed,
	// with the current value of every matching channel.
	EventStateSnapshot = "state.snapshot"
)

const (
	wsSendBufferSize = 256

	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

// WSMessage is the envelope of every WebSocket message in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload selects events and, for state events, channels.
//
// Channels are event types (state.changed). Filter narrows state events
// to scopes ("zone2") or channel IDs ("tuner#rdsText"); empty means every
// channel. A subscribe replaces the previous filter when Filter is set.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Filter   []string `json:"filter,omitempty"`
}

// StateEvent is the payload of a state.changed event.
type StateEvent struct {
	Channel   string    `json:"channel"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans receiver state changes out to WebSocket clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	snapshot func() map[string]any // optional

	mu            sync.RWMutex
	subscriptions map[string]struct{}
	filter        map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub. Call Run to tie its lifetime to a context.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. Only the call that removes it closes its
// send channel, so repeated calls are safe.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every client subscribed to eventType.
func (h *Hub) Broadcast(eventType string, payload any) {
	h.broadcast(eventType, payload, func(*WSClient) bool { return true })
}

// RecordState broadcasts a receiver channel change to clients subscribed
// to state.changed whose filter matches. It satisfies nad.StateObserver.
func (h *Hub) RecordState(_ context.Context, change nad.StateChange) error {
	event := StateEvent{
		Channel:   change.Channel,
		Value:     change.Value,
		Timestamp: change.Timestamp.UTC(),
	}
	h.broadcast(EventStateChanged, event, func(c *WSClient) bool {
		return c.wantsChannel(change.Channel)
	})
	return nil
}

func (h *Hub) broadcast(eventType string, payload any, match func(*WSClient) bool) {
	data, err := encodeEvent(eventType, payload)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	// Snapshot under the hub lock; client locks are taken after release.
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.isSubscribed(eventType) && match(client) {
			client.trySend(data)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

func encodeEvent(eventType string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// handleWebSocket upgrades the connection and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn)
	client.snapshot = s.bridge.Snapshot
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

func newWSClient(hub *Hub, conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
}

// wsTimings returns the ping interval and pong wait, defaulting unset values.
func wsTimings(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	ping = time.Duration(cfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = defaultPingInterval
	}
	pong = time.Duration(cfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = defaultPongTimeout
	}
	return ping, pong
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	pingInterval, pongWait := wsTimings(cfg)
	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers that ignore protocol pings still keep the link by talking.
		extend() //nolint:errcheck // as above
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval, pongWait := wsTimings(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(messageType int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(pongWait)) //nolint:errcheck // write reports it
		return c.conn.WriteMessage(messageType, data)
	}

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.subscribe(msg.ID, msg.Payload)
	case WSTypeUnsubscribe:
		c.unsubscribe(msg.ID, msg.Payload)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *WSClient) subscribe(id string, sub WSSubscribePayload) {
	for _, f := range sub.Filter {
		if !validFilter(f) {
			c.sendError(id, "invalid filter: "+f)
			return
		}
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		c.subscriptions[ch] = struct{}{}
	}
	if len(sub.Filter) > 0 {
		c.filter = make(map[string]struct{}, len(sub.Filter))
		for _, f := range sub.Filter {
			c.filter[f] = struct{}{}
		}
	}
	c.mu.Unlock()

	c.sendResponse(id, WSTypeResponse, map[string]any{
		"subscribed": sub.Channels,
		"filter":     sub.Filter,
	})

	for _, ch := range sub.Channels {
		if ch == EventStateChanged {
			c.sendSnapshot()
			break
		}
	}
}

func (c *WSClient) unsubscribe(id string, sub WSSubscribePayload) {
	c.mu.Lock()
	for _, ch := range sub.Channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.sendResponse(id, WSTypeResponse, map[string]any{
		"unsubscribed": sub.Channels,
	})
}

// sendSnapshot sends the current value of every channel the client's
// filter matches.
func (c *WSClient) sendSnapshot() {
	if c.snapshot == nil {
		return
	}

	state := make(map[string]any)
	for channel, value := range c.snapshot() {
		if c.wantsChannel(channel) {
			state[channel] = value
		}
	}

	data, err := encodeEvent(EventStateSnapshot, map[string]any{"state": state, "count": len(state)})
	if err != nil {
		return
	}
	c.trySend(data)
}

// validFilter accepts a scope ("zone1", "tuner") or a channel ID.
func validFilter(f string) bool {
	if f == "" {
		return false
	}
	if !strings.Contains(f, "#") {
		return true
	}
	_, _, err := nad.ParseChannelID(f)
	return err == nil
}

// wantsChannel reports whether channelID passes the client's filter.
func (c *WSClient) wantsChannel(channelID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.filter) == 0 {
		return true
	}
	if _, ok := c.filter[channelID]; ok {
		return true
	}
	scope, _, err := nad.ParseChannelID(channelID)
	if err != nil {
		return false
	}
	_, ok := c.filter[scope]
	return ok
}

func (c *WSClient) isSubscribed(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[eventType]
	return ok
}

// trySend queues data without blocking. Slow clients lose messages; a
// client closed mid-broadcast is ignored.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on closed channel
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
