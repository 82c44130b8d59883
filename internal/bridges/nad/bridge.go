package nad

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 3

	// commandTimeout bounds one host command including send retries.
	commandTimeout = 10 * time.Second

	// observerTimeout bounds one observer or audit write.
	observerTimeout = 5 * time.Second

	// stateQueueSize is how many changes may wait for publishing before
	// the reader is held back.
	stateQueueSize = 256
)

// Audit actions recorded by the bridge.
const (
	AuditActionCommand = "command"
	AuditActionStatus  = "status"
)

// Bridge connects a receiver Handler to MQTT. It:
//   - translates Core commands into handler commands and acknowledges them
//   - publishes every channel change as retained state
//   - publishes source options and periodic health
//   - fans changes out to observers and records an audit trail
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	bridgeID  string
	handler   *Handler
	mqtt      MQTTClient
	health    *HealthReporter
	observers []StateObserver
	audit     AuditRecorder

	metricsMu     sync.Mutex
	commandsOK    uint64
	commandsFail  uint64
	statesEmitted uint64

	changes     chan StateChange
	changesDone chan struct{} // closed once the handler is disposed
	fanout      sync.WaitGroup

	done      chan struct{}
	doneMu    sync.Mutex // orders wg.Add against close(done)
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// StateChange is one channel change delivered to observers.
type StateChange struct {
	Channel   string
	Value     any
	Timestamp time.Time
}

// StateObserver receives every channel change (history, time series,
// live API clients). Errors are logged and do not stop the fan-out.
type StateObserver interface {
	RecordState(ctx context.Context, change StateChange) error
}

// AuditEvent describes one command or status transition.
type AuditEvent struct {
	Action    string
	Channel   string
	Command   string
	Source    string
	UserID    string
	Result    string
	Detail    string
	Timestamp time.Time
}

// AuditRecorder persists audit events.
type AuditRecorder interface {
	RecordEvent(ctx context.Context, event AuditEvent) error
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies the bridge in health messages.
	BridgeID string

	// Version is reported in health messages.
	Version string

	// HealthInterval is the health publish interval. Default: 30s.
	HealthInterval time.Duration

	// Handler is the receiver handler. Start initialises it and Stop
	// disposes it.
	Handler *Handler

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Observers receive every state change. Optional.
	Observers []StateObserver

	// Audit records commands and status changes. Optional.
	Audit AuditRecorder

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	bridgeID := opts.BridgeID
	if bridgeID == "" {
		bridgeID = "nad-bridge"
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		bridgeID:    bridgeID,
		handler:     opts.Handler,
		mqtt:        opts.MQTTClient,
		observers:   opts.Observers,
		audit:       opts.Audit,
		changes:     make(chan StateChange, stateQueueSize),
		changesDone: make(chan struct{}),
		done:        make(chan struct{}),
		ctx:         ctx,
		ctxCancel:   ctxCancel,
		logger:      opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  bridgeID,
		Version:   opts.Version,
		Address:   opts.Handler.Config().Address,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Receiver:  opts.Handler,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start wires the handler callbacks, subscribes to command and request
// topics, initialises the handler and starts health reporting.
//
// A handler configuration error is returned; an unreachable receiver is
// not, the handler keeps retrying and health reports degraded.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.fanout.Add(1)
	go b.runFanOut()

	b.handler.SetOnChange(b.handleStateChange)
	b.handler.SetOnStatus(b.handleStatus)
	b.handler.SetOnSourceOptions(b.handleSourceOptions)

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	if err := b.handler.Initialize(ctx); err != nil {
		//nolint:errcheck // Best-effort, the error is returned below
		b.health.PublishNow()
		return fmt.Errorf("initialise receiver handler: %w", err)
	}

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.bridgeID,
		"address", b.handler.Config().Address,
		"channels", len(b.handler.Channels()))

	return nil
}

// Stop gracefully shuts down the bridge and disposes the handler.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.doneMu.Lock()
		close(b.done)
		b.doneMu.Unlock()

		// Abort in-flight commands before the handler goes away.
		b.ctxCancel()

		b.handler.Dispose()
		close(b.changesDone)
		b.fanout.Wait()
		b.wg.Wait()
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	select {
	case <-b.done:
		return
	default:
	}

	switch parts[1] {
	case "command":
		b.handleCommand(topic, payload)
	case "request":
		b.handleRequest(payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand processes a command message from Core.
func (b *Bridge) handleCommand(topic string, payload []byte) {
	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if msg.Channel == "" {
		channelID, err := ChannelFromTopic(topic)
		if err != nil {
			b.logError("command without channel", err)
			return
		}
		msg.Channel = channelID
	}

	b.logInfo("received command",
		"command_id", msg.ID,
		"channel", msg.Channel,
		"command", msg.Command,
		"value", msg.Value)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	b.publishAck(b.Execute(ctx, msg))
}

// Execute runs one host command against the receiver and returns the ack
// that describes the outcome. MQTT commands and the HTTP API share it, so
// both are counted and audited the same way.
func (b *Bridge) Execute(ctx context.Context, msg CommandMessage) AckMessage {
	cmd, err := ParseCommand(msg.Command, msg.Value)
	if err != nil {
		return b.failCommand(msg, ErrCodeInvalidCommand, err)
	}

	if err := b.handler.HandleCommand(ctx, msg.Channel, cmd); err != nil {
		return b.failCommand(msg, commandErrorCode(err), err)
	}

	b.metricsMu.Lock()
	b.commandsOK++
	b.metricsMu.Unlock()

	b.recordAudit(AuditEvent{
		Action:  AuditActionCommand,
		Channel: msg.Channel,
		Command: cmd.String(),
		Source:  msg.Source,
		UserID:  msg.UserID,
		Result:  string(AckAccepted),
	})
	return NewAckMessage(msg, AckAccepted)
}

func (b *Bridge) failCommand(msg CommandMessage, code string, err error) AckMessage {
	b.metricsMu.Lock()
	b.commandsFail++
	b.metricsMu.Unlock()

	b.logError("command failed", fmt.Errorf("channel=%s code=%s: %w", msg.Channel, code, err))
	b.recordAudit(AuditEvent{
		Action:  AuditActionCommand,
		Channel: msg.Channel,
		Command: strings.TrimSpace(msg.Command + " " + msg.Value),
		Source:  msg.Source,
		UserID:  msg.UserID,
		Result:  string(AckFailed),
		Detail:  code + ": " + err.Error(),
	})
	return NewAckError(msg, code, err.Error())
}

// commandErrorCode maps handler errors onto ack error codes.
func commandErrorCode(err error) string {
	var unsupported *UnsupportedValueError
	switch {
	case errors.As(err, &unsupported):
		return ErrCodeUnsupportedValue
	case errors.Is(err, ErrUnknownChannel):
		return ErrCodeUnknownChannel
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrSendFailed),
		errors.Is(err, context.DeadlineExceeded):
		return ErrCodeDeviceUnreachable
	default:
		return ErrCodeBridgeError
	}
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(ack.Channel), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// handleRequest processes a request message from Core.
func (b *Bridge) handleRequest(payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case ActionReadState:
		resp = b.handleReadState(req)
	case ActionReadAll:
		resp = b.handleReadAll(req)
	default:
		resp = errorResponse(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}
	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

// handleReadState returns the cached value of one channel and queries the
// receiver so a fresh value follows on the state topic.
func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	if req.Channel == "" {
		return errorResponse(req, ErrCodeInvalidCommand, "channel is required")
	}
	state := b.handler.State()
	if state == nil {
		return errorResponse(req, ErrCodeDeviceUnreachable, "receiver not initialised")
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := b.handler.HandleCommand(ctx, req.Channel, Refresh()); err != nil {
		code := commandErrorCode(err)
		if code == ErrCodeUnknownChannel || code == ErrCodeUnsupportedValue {
			return errorResponse(req, code, err.Error())
		}
		b.logError("read request failed", fmt.Errorf("channel=%s: %w", req.Channel, err))
	}

	value, known := state.Value(req.Channel)
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"channel": req.Channel,
			"value":   value,
			"known":   known,
		},
	}
}

// handleReadAll returns every cached value and triggers a full refresh.
func (b *Bridge) handleReadAll(req RequestMessage) ResponseMessage {
	state := b.handler.State()
	if state == nil {
		return errorResponse(req, ErrCodeDeviceUnreachable, "receiver not initialised")
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	refreshed := true
	if err := b.handler.Refresh(ctx); err != nil {
		refreshed = false
		b.logError("refresh failed", err)
	}

	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"state":     state.Snapshot(),
			"refreshed": refreshed,
		},
	}
}

func errorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &ResponseError{Code: code, Message: message},
	}
}

// handleStateChange queues a channel change for publishing. It runs on
// the client's reader (or the scheduler for RDS resets) and only blocks
// when stateQueueSize changes are already waiting, so a slow broker or
// database does not stall line processing. Changes made while the handler
// is disposed (the final RDS reset) are still published; later ones are
// dropped.
func (b *Bridge) handleStateChange(channelID string, value any) {
	change := StateChange{Channel: channelID, Value: value, Timestamp: time.Now().UTC()}
	select {
	case <-b.changesDone:
		return
	default:
	}
	select {
	case b.changes <- change:
	case <-b.changesDone:
	}
}

// runFanOut publishes queued changes in order until the handler is
// disposed, then drains whatever is still queued.
func (b *Bridge) runFanOut() {
	defer b.fanout.Done()
	for {
		select {
		case change := <-b.changes:
			b.emitState(change)
		case <-b.changesDone:
			for {
				select {
				case change := <-b.changes:
					b.emitState(change)
				default:
					return
				}
			}
		}
	}
}

// emitState publishes one change as retained state and hands it to every
// observer. An observer error is logged and the rest still run.
func (b *Bridge) emitState(change StateChange) {
	msg := NewStateMessage(change.Channel, change.Value)
	msg.Timestamp = change.Timestamp

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(change.Channel), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
	}

	b.metricsMu.Lock()
	b.statesEmitted++
	b.metricsMu.Unlock()

	if len(b.observers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
	defer cancel()
	for _, o := range b.observers {
		if err := o.RecordState(ctx, change); err != nil {
			b.logError("state observer failed", fmt.Errorf("channel=%s: %w", change.Channel, err))
		}
	}
}

// handleSourceOptions publishes the source list for every zone.
func (b *Bridge) handleSourceOptions(options []Option) {
	now := time.Now().UTC()
	for zone := 1; zone <= b.handler.Config().Zones; zone++ {
		channelID := ChannelID(ZoneScope(zone), AttrSource)
		payload, err := json.Marshal(OptionsMessage{Channel: channelID, Timestamp: now, Options: options})
		if err != nil {
			b.logError("failed to marshal options", err)
			return
		}
		if err := b.mqtt.Publish(OptionsTopic(channelID), payload, 1, true); err != nil {
			b.logError("failed to publish options", err)
		}
	}
}

// handleStatus republishes health and audits the transition. It runs on
// whichever goroutine changed the status, so health publishing is
// handed to the bridge's wait group.
func (b *Bridge) handleStatus(status Status, detail string) {
	b.doneMu.Lock()
	select {
	case <-b.done:
		b.doneMu.Unlock()
		return
	default:
	}
	b.wg.Add(1)
	b.doneMu.Unlock()

	go func() {
		defer b.wg.Done()
		if err := b.health.PublishNow(); err != nil {
			b.logError("failed to publish health", err)
		}
	}()

	b.recordAudit(AuditEvent{
		Action: AuditActionStatus,
		Result: string(status),
		Detail: detail,
	})
}

func (b *Bridge) recordAudit(event AuditEvent) {
	if b.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
	defer cancel()
	if err := b.audit.RecordEvent(ctx, event); err != nil {
		b.logError("failed to record audit event", err)
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// Handler returns the receiver handler.
func (b *Bridge) Handler() *Handler {
	return b.handler
}

// Snapshot returns every known channel value. It is empty until the
// handler has been initialised.
func (b *Bridge) Snapshot() map[string]any {
	state := b.handler.State()
	if state == nil {
		return map[string]any{}
	}
	return state.Snapshot()
}

// Value returns the cached value of one channel.
func (b *Bridge) Value(channelID string) (any, bool) {
	state := b.handler.State()
	if state == nil {
		return nil, false
	}
	return state.Value(channelID)
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	Connected      bool
	Status         string
	LinesTx        uint64
	LinesRx        uint64
	ParseErrors    uint64
	Reconnects     uint64
	CommandsOK     uint64
	CommandsFailed uint64
	StatesEmitted  uint64
	Channels       int
}

// GetMetrics returns current bridge metrics for the API metrics endpoint.
func (b *Bridge) GetMetrics() BridgeMetrics {
	stats := b.handler.Stats()
	status, _ := b.handler.Status()

	b.metricsMu.Lock()
	defer b.metricsMu.Unlock()

	return BridgeMetrics{
		Connected:      b.handler.IsConnected(),
		Status:         string(status),
		LinesTx:        stats.LinesTx,
		LinesRx:        stats.LinesRx,
		ParseErrors:    stats.ParseErrors,
		Reconnects:     stats.ReconnectsTotal,
		CommandsOK:     b.commandsOK,
		CommandsFailed: b.commandsFail,
		StatesEmitted:  b.statesEmitted,
		Channels:       len(b.handler.Channels()),
	}
}
