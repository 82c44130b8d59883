package nad

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
)

// Status is the host-visible status of a receiver handler.
type Status string

// Handler statuses.
const (
	StatusOnline             Status = "ONLINE"
	StatusOffline            Status = "OFFLINE"
	StatusConfigurationError Status = "CONFIGURATION_ERROR"
	StatusCommunicationError Status = "COMMUNICATION_ERROR"
)

// Task names used on the handler's scheduler.
const (
	taskSourceNames = "source-names"
	taskRefresh     = "refresh"
)

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// WithConnector injects the connection manager instead of creating a
// Client from the configuration.
func WithConnector(c Connector) HandlerOption {
	return func(h *Handler) { h.client = c }
}

// WithPresetResolver injects the preset lookup instead of loading
// Config.PresetFile.
func WithPresetResolver(r PresetResolver) HandlerOption {
	return func(h *Handler) { h.presets = r }
}

// WithLogger sets the handler logger. It is also passed to the client,
// scheduler and monitors the handler creates.
func WithLogger(l Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// Handler binds one receiver: it owns the connection, the device state,
// the scheduler and the tuner monitors.
//
// Device state is mutated only from the client's message callback. Host
// commands are translated and sent; their effect arrives as the
// receiver's status echo.
type Handler struct {
	cfg    Config
	logger Logger

	client      Connector
	presets     PresetResolver
	state       *DeviceState
	sources     *InputSourceList
	presetNames *PresetNameList
	scheduler   *Scheduler
	monitors    []*TunerMonitor

	statusMu     sync.RWMutex
	status       Status
	statusDetail string

	callbackMu      sync.RWMutex
	onChange        func(channelID string, value any)
	onStatus        func(status Status, detail string)
	onSourceOptions func(options []Option)

	initOnce    sync.Once
	initErr     error
	initialized atomic.Bool
	disposeOnce sync.Once
	disposed    *closeOnce
}

// NewHandler creates a handler. Nothing is validated or connected until
// Initialize.
func NewHandler(cfg Config, opts ...HandlerOption) *Handler {
	h := &Handler{
		cfg:      cfg,
		status:   StatusOffline,
		disposed: newCloseOnce(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetOnChange registers the state change callback.
func (h *Handler) SetOnChange(callback func(channelID string, value any)) {
	h.callbackMu.Lock()
	h.onChange = callback
	h.callbackMu.Unlock()
}

// SetOnStatus registers the status callback.
func (h *Handler) SetOnStatus(callback func(status Status, detail string)) {
	h.callbackMu.Lock()
	h.onStatus = callback
	h.callbackMu.Unlock()
}

// SetOnSourceOptions registers the callback for updated source options.
// It fires once per source list change; the options apply to every zone.
func (h *Handler) SetOnSourceOptions(callback func(options []Option)) {
	h.callbackMu.Lock()
	h.onSourceOptions = callback
	h.callbackMu.Unlock()
}

// Initialize validates the configuration, loads the preset file, wires the
// client and starts supervision and the monitors.
//
// A configuration error sets StatusConfigurationError and returns before
// any connection attempt. A failed first connect is not an error: the
// status becomes COMMUNICATION_ERROR and the client keeps retrying.
func (h *Handler) Initialize(ctx context.Context) error {
	h.initOnce.Do(func() {
		h.initErr = h.initialize(ctx)
	})
	return h.initErr
}

func (h *Handler) initialize(ctx context.Context) error {
	if h.disposed.IsClosed() {
		return ErrClosed
	}

	if err := h.cfg.Validate(); err != nil {
		h.setStatus(StatusConfigurationError, err.Error())
		return err
	}

	if h.presets == nil && h.cfg.PresetFile != "" {
		file, err := LoadPresetFile(h.cfg.PresetFile)
		if err != nil {
			h.setStatus(StatusConfigurationError, err.Error())
			return err
		}
		h.presets = file
		h.presetNames = NewPresetNameList()
		file.ApplyNames(h.presetNames)
	}
	if h.presetNames == nil {
		h.presetNames = NewPresetNameList()
	}

	if h.client == nil {
		client, err := NewClient(h.cfg.ClientConfig())
		if err != nil {
			h.setStatus(StatusConfigurationError, err.Error())
			return err
		}
		if h.logger != nil {
			client.SetLogger(h.logger)
		}
		h.client = client
	}

	h.sources = NewInputSourceList(h.cfg.SourceCount())
	h.state = NewDeviceState(h.cfg.Zones, h.sources, h.presets)
	h.state.SetOnChange(h.forwardChange)
	h.state.SetOnSourceNames(h.forwardSourceNames)
	h.scheduler = NewScheduler(h.logger)

	h.client.SetOnMessage(h.handleMessage)
	h.client.SetOnConnected(h.handleConnected)
	h.client.SetOnConnectionError(h.handleConnectionError)

	if h.cfg.Tuner {
		mcfg := MonitorConfig{CheckInterval: h.cfg.BandCheckInterval, Logger: h.logger}
		rds := mcfg
		rds.PollInterval = h.cfg.RDSPollInterval
		xm := mcfg
		xm.PollInterval = h.cfg.XMPollInterval
		h.monitors = []*TunerMonitor{
			NewRDSMonitor(h.state, h.client, h.scheduler, rds),
			NewXMMonitor(h.state, h.client, h.scheduler, xm),
		}
	}
	h.initialized.Store(true)

	if err := h.client.Start(ctx); err != nil {
		h.setStatus(StatusCommunicationError, err.Error())
		h.logWarn("receiver not reachable, retrying in background", "address", h.cfg.Address, "error", err)
	}

	for _, m := range h.monitors {
		if err := m.Start(); err != nil {
			h.logWarn("tuner monitor not started", "monitor", m.Name(), "error", err)
		}
	}

	if h.cfg.RefreshInterval > 0 {
		err := h.scheduler.Schedule(taskRefresh, h.cfg.RefreshInterval, h.cfg.RefreshInterval, h.refreshAll)
		if err != nil {
			h.logWarn("refresh poller not started", "error", err)
		}
	}
	return nil
}

// handleMessage is the single mutation path for device state.
func (h *Handler) handleMessage(cmd LogicalCommand, msg Message) {
	if err := h.state.Apply(cmd, msg); err != nil {
		h.logDebug("ignoring status line", "message", msg.String(), "error", err)
	}
}

func (h *Handler) handleConnected() {
	h.setStatus(StatusOnline, "")

	// Source names first, then a full read so channels are populated.
	queries := SourceNameQueries(h.cfg.SourceCount())
	//nolint:errcheck // scheduler stopped means disposed
	_ = h.scheduler.RunOnce(taskSourceNames, 0, func(ctx context.Context) {
		if err := SendAll(ctx, h.client, queries); err != nil {
			h.logWarn("source name population failed", "error", err)
		}
		h.refreshAll(ctx)
	})
}

func (h *Handler) handleConnectionError(err error) {
	if h.disposed.IsClosed() {
		return
	}
	h.setStatus(StatusCommunicationError, err.Error())
}

func (h *Handler) refreshAll(ctx context.Context) {
	if err := h.Refresh(ctx); err != nil {
		h.logDebug("refresh incomplete", "error", err)
	}
}

// Refresh queries every configured channel. Answers arrive through the
// normal status path.
func (h *Handler) Refresh(ctx context.Context) error {
	if h.disposed.IsClosed() {
		return ErrClosed
	}
	if !h.initialized.Load() {
		return ErrNotConnected
	}
	msgs := RefreshQueries(h.cfg.Zones, h.cfg.Tuner)
	if err := SendAll(ctx, h.client, msgs); err != nil {
		return err
	}
	h.logDebug("refresh sent", "queries", len(msgs))
	return nil
}

// HandleCommand translates a host command and sends it. Source channels
// also accept a source name. The state changes only when the receiver
// echoes the new value.
func (h *Handler) HandleCommand(ctx context.Context, channelID string, cmd Command) error {
	if h.disposed.IsClosed() {
		return ErrClosed
	}
	if !h.initialized.Load() {
		return ErrNotConnected
	}

	scope, attr, err := ParseChannelID(channelID)
	if err != nil {
		return err
	}
	if err := h.checkScope(channelID, scope); err != nil {
		return err
	}

	if attr == AttrSource && cmd.Kind == CommandString {
		if _, numErr := strconv.Atoi(cmd.Text); numErr != nil {
			idx, ok := h.sources.IndexOf(cmd.Text)
			if !ok {
				return &UnsupportedValueError{Channel: channelID, Command: cmd}
			}
			cmd = Decimal(float64(idx))
		}
	}

	msgs, err := BuildCommand(channelID, cmd)
	if err != nil {
		return err
	}
	h.logDebug("sending command", "channel", channelID, "command", cmd.String(), "lines", formatLines(msgs))

	for _, msg := range msgs {
		if err := h.client.Send(ctx, msg); err != nil {
			return fmt.Errorf("sending %s: %w", msg, err)
		}
	}
	return nil
}

func (h *Handler) checkScope(channelID, scope string) error {
	switch scope {
	case ScopeTuner:
		if !h.cfg.Tuner {
			return fmt.Errorf("%w: %q (tuner disabled)", ErrUnknownChannel, channelID)
		}
	case ScopeReceiver:
	default:
		zone, ok := ParseZoneScope(scope)
		if !ok || zone > h.cfg.Zones {
			return fmt.Errorf("%w: %q", ErrUnknownChannel, channelID)
		}
	}
	return nil
}

// Dispose stops the reader, then the scheduler and monitors, then closes
// the connection. Safe to call multiple times.
func (h *Handler) Dispose() {
	h.disposeOnce.Do(func() {
		h.disposed.Close()
		if !h.initialized.Load() {
			return
		}

		h.client.Interrupt()
		for _, m := range h.monitors {
			m.Stop()
		}
		h.scheduler.Stop()
		if err := h.client.Close(); err != nil {
			h.logWarn("closing receiver connection", "error", err)
		}
		h.setStatus(StatusOffline, "disposed")
	})
}

// Status returns the current status and its detail message.
func (h *Handler) Status() (Status, string) {
	h.statusMu.RLock()
	defer h.statusMu.RUnlock()
	return h.status, h.statusDetail
}

func (h *Handler) setStatus(status Status, detail string) {
	h.statusMu.Lock()
	changed := h.status != status || h.statusDetail != detail
	h.status = status
	h.statusDetail = detail
	h.statusMu.Unlock()

	if !changed {
		return
	}
	h.logInfo("receiver status", "status", string(status), "detail", detail)

	h.callbackMu.RLock()
	callback := h.onStatus
	h.callbackMu.RUnlock()
	if callback != nil {
		callback(status, detail)
	}
}

func (h *Handler) forwardChange(channelID string, value any) {
	h.callbackMu.RLock()
	callback := h.onChange
	h.callbackMu.RUnlock()
	if callback != nil {
		callback(channelID, value)
	}
}

func (h *Handler) forwardSourceNames([]string) {
	h.callbackMu.RLock()
	callback := h.onSourceOptions
	h.callbackMu.RUnlock()
	if callback != nil {
		callback(h.sources.Options())
	}
}

// Config returns the handler configuration.
func (h *Handler) Config() Config {
	return h.cfg
}

// State returns the device state, or nil until Initialize has wired it.
// Accessors below check initialized because requests may arrive while
// Initialize is still running.
func (h *Handler) State() *DeviceState {
	if !h.initialized.Load() {
		return nil
	}
	return h.state
}

// Sources returns the source list, or nil before Initialize.
func (h *Handler) Sources() *InputSourceList {
	if !h.initialized.Load() {
		return nil
	}
	return h.sources
}

// PresetNames returns the preset option list, or nil before Initialize.
func (h *Handler) PresetNames() *PresetNameList {
	if !h.initialized.Load() {
		return nil
	}
	return h.presetNames
}

// Monitors returns the tuner monitors (empty when the tuner is disabled).
func (h *Handler) Monitors() []*TunerMonitor {
	if !h.initialized.Load() {
		return nil
	}
	return h.monitors
}

// Stats returns client statistics, or zero stats before Initialize.
func (h *Handler) Stats() ClientStats {
	if !h.initialized.Load() {
		return ClientStats{}
	}
	return h.client.Stats()
}

// IsConnected reports whether the receiver link is up.
func (h *Handler) IsConnected() bool {
	return h.initialized.Load() && h.client.IsConnected()
}

// Channels returns every channel ID the configuration exposes.
func (h *Handler) Channels() []string {
	var out []string
	for zone := 1; zone <= h.cfg.Zones; zone++ {
		scope := ZoneScope(zone)
		for _, attr := range []string{AttrPower, AttrMute, AttrVolumeDB, AttrVolumePercent, AttrSource, AttrListeningMode} {
			out = append(out, ChannelID(scope, attr))
		}
	}
	out = append(out, ChannelID(ScopeReceiver, AttrModel))
	if h.cfg.Tuner {
		tuner := make([]string, 0, len(tunerBindings))
		for attr := range tunerBindings {
			tuner = append(tuner, ChannelID(ScopeTuner, attr))
		}
		sort.Strings(tuner)
		out = append(out, tuner...)
	}
	return out
}

// IsClosed reports whether Dispose has been called.
func (h *Handler) IsClosed() bool {
	return h.disposed.IsClosed()
}

func (h *Handler) logDebug(msg string, keysAndValues ...any) {
	if h.logger != nil {
		h.logger.Debug(msg, keysAndValues...)
	}
}

func (h *Handler) logInfo(msg string, keysAndValues ...any) {
	if h.logger != nil {
		h.logger.Info(msg, keysAndValues...)
	}
}

func (h *Handler) logWarn(msg string, keysAndValues ...any) {
	if h.logger != nil {
		h.logger.Warn(msg, keysAndValues...)
	}
}
