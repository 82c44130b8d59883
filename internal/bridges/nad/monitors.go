package nad

import (
	"context"
	"sync"
	"time"
)

// Sender writes commands to the receiver. Connector satisfies it.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Default monitor intervals.
const (
	DefaultBandCheckInterval = 10 * time.Second
	DefaultRDSPollInterval   = 25 * time.Second
	DefaultXMPollInterval    = 10 * time.Second
)

// MonitorState is the lifecycle state of a tuner monitor.
type MonitorState int

// Monitor states.
const (
	MonitorIdle MonitorState = iota
	MonitorActive
	MonitorPaused
	MonitorStopped
)

func (s MonitorState) String() string {
	switch s {
	case MonitorActive:
		return "active"
	case MonitorPaused:
		return "paused"
	case MonitorStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// TunerMonitor streams tuner text (RDS or XM) while it is worth having.
//
// A band check runs every CheckInterval. The monitor is Active while the
// tuner is on its band and at least one powered zone listens to the tuner;
// while Active a second task polls the text queries every PollInterval.
// Replies flow through the client's reader like any other status line;
// the only state the monitor writes itself is the RDS text reset.
type TunerMonitor struct {
	name          string
	band          string
	queries       []Message
	checkInterval time.Duration
	pollInterval  time.Duration
	onDeactivate  func()

	state     *DeviceState
	sender    Sender
	scheduler *Scheduler
	logger    Logger

	mu     sync.Mutex
	status MonitorState
}

// MonitorConfig configures a tuner monitor.
type MonitorConfig struct {
	CheckInterval time.Duration
	PollInterval  time.Duration
	Logger        Logger
}

// NewRDSMonitor creates the FM RDS text monitor. Leaving Active clears the
// RDS text so the host never shows text from a station no one hears.
func NewRDSMonitor(state *DeviceState, sender Sender, scheduler *Scheduler, cfg MonitorConfig) *TunerMonitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultRDSPollInterval
	}
	m := newTunerMonitor("rds", BandFM, state, sender, scheduler, cfg,
		mustBuild(CmdTunerFMRDSTextQuery, PrefixTuner),
	)
	m.onDeactivate = state.ResetRDSText
	return m
}

// NewXMMonitor creates the XM channel/artist/title monitor.
func NewXMMonitor(state *DeviceState, sender Sender, scheduler *Scheduler, cfg MonitorConfig) *TunerMonitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultXMPollInterval
	}
	return newTunerMonitor("xm", BandXM, state, sender, scheduler, cfg,
		mustBuild(CmdTunerXMChannelNameQuery, PrefixTuner),
		mustBuild(CmdTunerXMNameQuery, PrefixTuner),
		mustBuild(CmdTunerXMSongTitleQuery, PrefixTuner),
	)
}

func newTunerMonitor(name, band string, state *DeviceState, sender Sender, scheduler *Scheduler, cfg MonitorConfig, queries ...Message) *TunerMonitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultBandCheckInterval
	}
	return &TunerMonitor{
		name:          name,
		band:          band,
		queries:       queries,
		checkInterval: cfg.CheckInterval,
		pollInterval:  cfg.PollInterval,
		state:         state,
		sender:        sender,
		scheduler:     scheduler,
		logger:        cfg.Logger,
	}
}

// Name returns the monitor name ("rds" or "xm").
func (m *TunerMonitor) Name() string {
	return m.name
}

func (m *TunerMonitor) checkTask() string { return m.name + "-band-check" }
func (m *TunerMonitor) pollTask() string  { return m.name + "-poll" }

// Start schedules the band check. The first check runs immediately.
func (m *TunerMonitor) Start() error {
	m.mu.Lock()
	stopped := m.status == MonitorStopped
	m.mu.Unlock()
	if stopped {
		return ErrClosed
	}
	return m.scheduler.Schedule(m.checkTask(), 0, m.checkInterval, m.Check)
}

// Check evaluates the activation condition once and transitions.
func (m *TunerMonitor) Check(ctx context.Context) {
	tunerInUse := m.state.TunerInUse()
	want := tunerInUse && m.state.TunerBand() == m.band

	m.mu.Lock()
	prev := m.status
	switch {
	case prev == MonitorStopped:
		m.mu.Unlock()
		return
	case want && prev != MonitorActive:
		m.status = MonitorActive
	case !want && prev == MonitorActive:
		m.status = MonitorPaused
	}
	next := m.status
	m.mu.Unlock()

	if next != prev {
		m.transition(prev, next)
	}

	// Keep the band fresh while someone listens, so a band change made on
	// the front panel is noticed on the next check.
	if tunerInUse {
		m.send(ctx, mustBuild(CmdTunerBandQuery, PrefixTuner))
	}
}

func (m *TunerMonitor) transition(prev, next MonitorState) {
	m.logDebug("tuner monitor transition", "monitor", m.name, "from", prev.String(), "to", next.String())

	switch next {
	case MonitorActive:
		if err := m.scheduler.Schedule(m.pollTask(), 0, m.pollInterval, m.poll); err != nil {
			m.logDebug("tuner monitor poll not scheduled", "monitor", m.name, "error", err)
		}
	case MonitorPaused:
		m.scheduler.Cancel(m.pollTask())
		if m.onDeactivate != nil {
			m.onDeactivate()
		}
	}
}

func (m *TunerMonitor) poll(ctx context.Context) {
	for _, q := range m.queries {
		m.send(ctx, q)
	}
}

func (m *TunerMonitor) send(ctx context.Context, msg Message) {
	if err := m.sender.Send(ctx, msg); err != nil {
		m.logDebug("tuner monitor query failed", "monitor", m.name, "message", msg.String(), "error", err)
	}
}

// Stop cancels both tasks. Safe to call multiple times.
func (m *TunerMonitor) Stop() {
	m.mu.Lock()
	prev := m.status
	m.status = MonitorStopped
	m.mu.Unlock()

	m.scheduler.Cancel(m.checkTask())
	m.scheduler.Cancel(m.pollTask())
	if prev == MonitorActive && m.onDeactivate != nil {
		m.onDeactivate()
	}
}

// State returns the current monitor state.
func (m *TunerMonitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *TunerMonitor) logDebug(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, keysAndValues...)
	}
}

// SourceNameQueries returns Source<n>.Name? for every configured source.
func SourceNameQueries(count int) []Message {
	out := make([]Message, 0, count)
	for i := 1; i <= count; i++ {
		out = append(out, mustBuild(CmdSourceNameQuery, SourcePrefix(i)))
	}
	return out
}

// RefreshQueries returns a query for every channel the receiver reports:
// power, volume, mute and source per zone, listening mode and model on
// Main, and the tuner channels when tuner is set.
func RefreshQueries(zones int, tuner bool) []Message {
	var out []Message
	for zone := 1; zone <= zones; zone++ {
		prefix, ok := ZonePrefix(zone)
		if !ok {
			break
		}
		for _, cmd := range []LogicalCommand{CmdPowerQuery, CmdVolumeQuery, CmdMuteQuery, CmdSourceQuery} {
			out = append(out, mustBuild(cmd, prefix))
		}
	}
	out = append(out,
		mustBuild(CmdListeningModeQuery, PrefixMain),
		mustBuild(CmdModelQuery, PrefixMain),
	)
	if tuner {
		for _, cmd := range []LogicalCommand{
			CmdTunerBandQuery, CmdTunerAMFrequencyQuery, CmdTunerFMFrequencyQuery,
			CmdTunerFMMuteQuery, CmdTunerPresetQuery, CmdTunerFMRDSNameQuery,
			CmdTunerDABServiceNameQuery,
		} {
			out = append(out, mustBuild(cmd, PrefixTuner))
		}
	}
	return out
}

// SendAll writes msgs in order and stops at the first failure or when ctx
// is done.
func SendAll(ctx context.Context, sender Sender, msgs []Message) error {
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sender.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// mustBuild builds a query for a command known to be in the catalog.
func mustBuild(cmd LogicalCommand, prefix string) Message {
	msg, err := Build(cmd, prefix, "")
	if err != nil {
		panic(err)
	}
	return msg
}
