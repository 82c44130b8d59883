package nad

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

func (c *closeOnce) IsClosed() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// Default timeouts and intervals for receiver communication.
const (
	// defaultConnectTimeout bounds a single dial.
	defaultConnectTimeout = 5 * time.Second

	// defaultReadTimeout is the supervision interval: a link with no data for
	// this long is probed, and declared dead after silenceLimit periods.
	defaultReadTimeout = 60 * time.Second

	// defaultWriteTimeout bounds a single line write.
	defaultWriteTimeout = 5 * time.Second

	// defaultSendRetries is how often Send retries after a failed write.
	defaultSendRetries = 3

	// defaultFastRetries is the number of reconnect attempts made at
	// FastRetryInterval before falling back to SlowRetryInterval.
	defaultFastRetries = 3

	defaultFastRetryInterval = 1 * time.Second
	defaultSlowRetryInterval = 60 * time.Second

	// silenceLimit is the number of consecutive empty read periods after
	// which the link is considered dead.
	silenceLimit = 2

	// maxLineLength caps a single inbound line; longer input is discarded up
	// to the next terminator.
	maxLineLength = 4096

	readBufferSize = 1024
)

// ErrSilentLink is reported when the receiver stays silent through a probe.
var ErrSilentLink = errors.New("nad: no data from receiver")

// ConnectionState is the lifecycle state of the receiver link.
type ConnectionState int

// Connection states.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ClientConfig holds receiver connection configuration.
type ClientConfig struct {
	// Address is the receiver address.
	// Supported formats:
	//   - "192.168.1.50" / "tcp://192.168.1.50:23" (telnet, port 23 by default)
	//   - "serial:///dev/ttyUSB0?baud=115200" (RS-232)
	Address string

	// ConnectTimeout bounds a single dial. Default: 5 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the supervision interval for silent links.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout bounds a single write. Default: 5 seconds.
	WriteTimeout time.Duration

	// SendRetries is how many times Send retries, reconnecting in between.
	// Default: 3.
	SendRetries int

	// FastRetries is the number of reconnect attempts at FastRetryInterval
	// before the supervisor slows down to SlowRetryInterval. Default: 3.
	FastRetries int

	// FastRetryInterval is the spacing of fast reconnect attempts and the
	// supervisor's check period. Default: 1 second.
	FastRetryInterval time.Duration

	// SlowRetryInterval is the reconnect spacing once fast retries are
	// exhausted. Default: 60 seconds.
	SlowRetryInterval time.Duration

	// Probe is sent immediately after every (re)connect and when the link
	// goes quiet. Default: Main.Power?
	Probe Message

	// Dial opens the stream. Default: DefaultDialer.
	Dial Dialer
}

func (cfg *ClientConfig) applyDefaults() {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.SendRetries <= 0 {
		cfg.SendRetries = defaultSendRetries
	}
	if cfg.FastRetries <= 0 {
		cfg.FastRetries = defaultFastRetries
	}
	if cfg.FastRetryInterval <= 0 {
		cfg.FastRetryInterval = defaultFastRetryInterval
	}
	if cfg.SlowRetryInterval <= 0 {
		cfg.SlowRetryInterval = defaultSlowRetryInterval
	}
	if cfg.Probe.Prefix == "" {
		cfg.Probe = NewQuery(PrefixMain, "Power")
	}
	if cfg.Dial == nil {
		cfg.Dial = DefaultDialer
	}
}

// ClientStats holds operational statistics.
type ClientStats struct {
	LinesRx         uint64
	LinesTx         uint64
	ParseErrors     uint64
	Unrecognized    uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64
	RetryCount      int32
	LastActivity    time.Time
	State           ConnectionState
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Connector interface for testability.
// This allows mocking the receiver client in tests.
type Connector interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, msg Message) error
	SetOnMessage(callback func(LogicalCommand, Message))
	SetOnConnected(callback func())
	SetOnConnectionError(callback func(error))
	IsConnected() bool
	State() ConnectionState
	Stats() ClientStats
	Interrupt()
	Close() error
}

// Ensure Client implements Connector.
var _ Connector = (*Client)(nil)

// Client is the connection manager for one receiver.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Writes are serialised by a single writer gate; there is exactly one
//     reader goroutine per socket.
//   - OnMessage runs on the reader goroutine, in wire order. It is the only
//     path through which device state should be mutated.
//
// Reconnection:
//   - A supervisor goroutine reconnects after any failure: FastRetries
//     attempts FastRetryInterval apart, then every SlowRetryInterval.
//   - Every (re)connect sends the probe command before reporting success.
//   - Reconnection stops only when Interrupt or Close is called.
type Client struct {
	cfg ClientConfig
	ep  endpoint

	// Connection state, guarded by connMu.
	connMu sync.RWMutex
	conn   Conn
	state  ConnectionState

	// writeMu is the single writer gate. It is also held while dialling so
	// a reconnect and a write never interleave.
	writeMu sync.Mutex

	// Callbacks (optional)
	callbackMu        sync.RWMutex
	onMessage         func(LogicalCommand, Message)
	onConnected       func()
	onConnectionError func(error)

	// Shutdown coordination.
	interrupted *closeOnce // stops readers and further reconnects
	done        *closeOnce // stops the supervisor
	readers     sync.WaitGroup
	wg          sync.WaitGroup // supervisor and async callbacks
	startOnce   sync.Once
	wake        chan struct{}

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	linesRx         atomic.Uint64
	linesTx         atomic.Uint64
	parseErrors     atomic.Uint64
	unrecognized    atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	retryCount      atomic.Int32
	everConnected   atomic.Bool
	lastActivity    atomic.Int64 // Unix nanoseconds
}

// NewClient validates cfg and returns an unconnected client.
func NewClient(cfg ClientConfig) (*Client, error) {
	cfg.applyDefaults()

	ep, err := parseConnectionURL(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &Client{
		cfg:         cfg,
		ep:          ep,
		interrupted: newCloseOnce(),
		done:        newCloseOnce(),
		wake:        make(chan struct{}, 1),
	}, nil
}

// Connect creates a client, connects and starts supervision. Unlike Start,
// it fails (and releases the client) when the first connect fails.
func Connect(ctx context.Context, cfg ClientConfig) (*Client, error) {
	c, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		c.Close() //nolint:errcheck // best effort cleanup
		return nil, err
	}
	return c, nil
}

// Start makes the first connection attempt and starts the supervisor.
//
// The supervisor runs even when the first attempt fails, so the returned
// error is informational: the client keeps retrying in the background.
func (c *Client) Start(ctx context.Context) error {
	var err error
	c.startOnce.Do(func() {
		if c.interrupted.IsClosed() {
			err = ErrClosed
			return
		}

		c.wg.Add(1)
		go c.supervise()

		c.retryCount.Add(1)
		c.writeMu.Lock()
		err = c.connectLocked(ctx)
		c.writeMu.Unlock()
		if err != nil {
			c.errorsTotal.Add(1)
			c.logError("initial connection failed", err)
			return
		}
		c.connectionEstablished()
	})
	return err
}

// connectLocked dials, starts the reader and writes the probe.
// The caller must hold writeMu.
func (c *Client) connectLocked(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	if c.interrupted.IsClosed() {
		return ErrClosed
	}

	c.setState(StateConnecting)

	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.cfg.Dial(dialCtx, c.cfg.Address)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Register the socket and its reader atomically with respect to Interrupt.
	c.connMu.Lock()
	if c.interrupted.IsClosed() {
		c.state = StateDisconnected
		c.connMu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.state = StateConnected
	c.readers.Add(1)
	c.connMu.Unlock()

	go c.readLoop(conn)

	if err := c.writeLine(conn, Encode(c.cfg.Probe)); err != nil {
		c.connectionLost(conn, err, false)
		return fmt.Errorf("%w: probe: %w", ErrConnectionFailed, err)
	}

	c.logInfo("connected to receiver", "address", c.ep.String())
	return nil
}

// connectionEstablished resets the backoff and fires OnConnected
// asynchronously, so callbacks may call Send.
func (c *Client) connectionEstablished() {
	c.retryCount.Store(0)
	if c.everConnected.Swap(true) {
		c.reconnectsTotal.Add(1)
	}
	c.touch()

	c.callbackMu.RLock()
	callback := c.onConnected
	c.callbackMu.RUnlock()
	if callback == nil {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.recoverCallback("connected callback")
		callback()
	}()
}

// supervise reconnects whenever the link is down.
func (c *Client) supervise() {
	defer c.wg.Done()

	for {
		timer := time.NewTimer(c.nextSupervisorDelay())
		select {
		case <-c.done.Done():
			timer.Stop()
			return
		case <-c.interrupted.Done():
			timer.Stop()
			return
		case <-c.wake:
			// Disconnected: restart the timer at the fast interval.
			timer.Stop()
			continue
		case <-timer.C:
		}

		if c.IsConnected() {
			continue
		}
		c.attemptReconnect()
	}
}

// nextSupervisorDelay returns the fast interval for the first FastRetries
// failed attempts and the slow interval afterwards.
func (c *Client) nextSupervisorDelay() time.Duration {
	if int(c.retryCount.Load()) >= c.cfg.FastRetries {
		return c.cfg.SlowRetryInterval
	}
	return c.cfg.FastRetryInterval
}

func (c *Client) attemptReconnect() {
	c.writeMu.Lock()
	if c.IsConnected() {
		// Reconnected by Start or Send while we waited for the gate.
		c.writeMu.Unlock()
		return
	}
	attempt := c.retryCount.Add(1)
	c.logInfo("attempting reconnection", "attempt", attempt, "address", c.ep.String())
	err := c.connectLocked(context.Background())
	c.writeMu.Unlock()

	if err != nil {
		if !errors.Is(err, ErrClosed) {
			c.errorsTotal.Add(1)
			c.logError("reconnect failed", err, "attempt", attempt, "next_in", c.nextSupervisorDelay().String())
		}
		return
	}

	c.connectionEstablished()
	c.logInfo("reconnection successful", "total_reconnects", c.reconnectsTotal.Load())
}

// readLoop reads lines from one socket until it fails or the client is
// interrupted.
func (c *Client) readLoop(conn Conn) {
	defer c.readers.Done()

	lr := newLineReader(conn)
	silentPeriods := 0

	for {
		if c.interrupted.IsClosed() {
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			c.connectionLost(conn, fmt.Errorf("set read deadline: %w", err), true)
			return
		}

		line, err := lr.ReadLine()
		if err != nil {
			if c.interrupted.IsClosed() {
				return
			}
			if isTimeout(err) {
				silentPeriods++
				if silentPeriods < silenceLimit {
					c.probe(conn)
					continue
				}
				err = ErrSilentLink
			}
			c.connectionLost(conn, err, true)
			return
		}

		silentPeriods = 0
		if line == "" {
			continue
		}
		c.linesRx.Add(1)
		c.touch()
		c.handleLine(line)
	}
}

// probe asks the receiver for a reply on a quiet link.
func (c *Client) probe(conn Conn) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.currentConn() != conn {
		return
	}
	if err := c.writeLine(conn, Encode(c.cfg.Probe)); err != nil {
		c.logError("silence probe failed", err)
	}
}

// handleLine decodes, classifies and delivers one line. Parse errors and
// unrecognised commands are logged and dropped.
func (c *Client) handleLine(line string) {
	msg, err := Decode(line)
	if err != nil {
		if errors.Is(err, ErrEmptyLine) {
			return
		}
		c.parseErrors.Add(1)
		c.logDebug("discarding unparseable line", "line", line, "error", err)
		return
	}

	cmd, ok := Classify(msg.Variable, msg.Operator)
	if !ok {
		c.unrecognized.Add(1)
		c.logDebug("ignoring unrecognised command", "message", msg.String())
		return
	}

	c.callbackMu.RLock()
	callback := c.onMessage
	c.callbackMu.RUnlock()
	if callback == nil {
		return
	}

	defer c.recoverCallback("message callback")
	callback(cmd, msg)
}

// connectionLost tears down conn if it is still the current socket.
func (c *Client) connectionLost(conn Conn, cause error, notify bool) {
	c.connMu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
		c.state = StateDisconnected
	}
	c.connMu.Unlock()

	if !current {
		return
	}

	conn.Close()
	c.errorsTotal.Add(1)
	c.logWarn("connection lost", "error", cause)

	if notify {
		c.notifyConnectionError(cause)
	}

	// Wake the supervisor (non-blocking).
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) notifyConnectionError(err error) {
	c.callbackMu.RLock()
	callback := c.onConnectionError
	c.callbackMu.RUnlock()
	if callback == nil {
		return
	}
	defer c.recoverCallback("connection error callback")
	callback(err)
}

// Send encodes msg and writes it to the receiver.
//
// A failed write is retried up to SendRetries times with a reconnect before
// each retry. When every attempt fails the connection-error callback fires,
// the client stays disconnected for the supervisor to repair, and
// ErrSendFailed is returned.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if c.interrupted.IsClosed() {
		return ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	line := Encode(msg)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var lastErr error
	attempts := c.cfg.SendRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
		if c.interrupted.IsClosed() {
			return ErrClosed
		}

		if attempt > 0 {
			if !c.sleep(ctx, c.cfg.FastRetryInterval) {
				if c.interrupted.IsClosed() {
					return ErrClosed
				}
				return fmt.Errorf("%w: %w", ErrSendFailed, ctx.Err())
			}
			if err := c.connectLocked(ctx); err != nil {
				lastErr = err
				continue
			}
			c.connectionEstablished()
		}

		conn := c.currentConn()
		if conn == nil {
			lastErr = ErrNotConnected
			continue
		}

		if err := c.writeLine(conn, line); err != nil {
			lastErr = err
			c.connectionLost(conn, err, false)
			continue
		}

		c.logDebug("sent command", "message", msg.String())
		return nil
	}

	err := fmt.Errorf("%w after %d attempts: %w", ErrSendFailed, attempts, lastErr)
	c.notifyConnectionError(err)
	return err
}

// sleep waits d unless ctx is cancelled or the client interrupted.
func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.interrupted.Done():
		return false
	}
}

// writeLine writes one encoded line. The caller must hold writeMu.
func (c *Client) writeLine(conn Conn, line string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := io.WriteString(conn, line); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("write: %w", err)
	}
	c.linesTx.Add(1)
	c.touch()
	return nil
}

// Interrupt stops the reader and blocks further reconnects. A pending read
// is unblocked via its deadline. The socket stays open until Close.
// Safe to call multiple times.
func (c *Client) Interrupt() {
	c.connMu.Lock()
	c.interrupted.Close()
	conn := c.conn
	c.connMu.Unlock()

	if conn != nil {
		conn.SetReadDeadline(time.Now()) //nolint:errcheck // best effort unblock
	}
	c.readers.Wait()
}

// Close stops the reader, the supervisor and closes the socket, in that
// order. Safe to call multiple times.
func (c *Client) Close() error {
	c.Interrupt()

	c.done.Close()
	c.wg.Wait()

	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	wasOpen := conn != nil
	c.state = StateDisconnected
	c.connMu.Unlock()

	if wasOpen {
		conn.Close()
		c.logInfo("connection closed", "address", c.ep.String())
	}
	return nil
}

func (c *Client) currentConn() Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

func (c *Client) setState(s ConnectionState) {
	c.connMu.Lock()
	c.state = s
	c.connMu.Unlock()
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// SetOnMessage sets the callback for classified inbound messages. It runs on
// the reader goroutine; panics are recovered and logged.
func (c *Client) SetOnMessage(callback func(LogicalCommand, Message)) {
	c.callbackMu.Lock()
	c.onMessage = callback
	c.callbackMu.Unlock()
}

// SetOnConnected sets the callback fired after every successful (re)connect.
func (c *Client) SetOnConnected(callback func()) {
	c.callbackMu.Lock()
	c.onConnected = callback
	c.callbackMu.Unlock()
}

// SetOnConnectionError sets the callback fired when the link is lost or a
// send exhausts its retries. It must not block or call Send.
func (c *Client) SetOnConnectionError(callback func(error)) {
	c.callbackMu.Lock()
	c.onConnectionError = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true if connected to the receiver.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.state
}

// Address returns the normalised receiver address.
func (c *Client) Address() string {
	return c.ep.String()
}

// Stats returns current operational statistics.
func (c *Client) Stats() ClientStats {
	var last time.Time
	if ns := c.lastActivity.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return ClientStats{
		LinesRx:         c.linesRx.Load(),
		LinesTx:         c.linesTx.Load(),
		ParseErrors:     c.parseErrors.Load(),
		Unrecognized:    c.unrecognized.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		RetryCount:      c.retryCount.Load(),
		LastActivity:    last,
		State:           c.State(),
	}
}

// HealthCheck verifies the connection is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("nad health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (c *Client) recoverCallback(name string) {
	if r := recover(); r != nil {
		c.logError(name+" panic", fmt.Errorf("%v", r))
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

// lineReader splits a stream on CR or LF. A partial line survives read
// timeouts.
type lineReader struct {
	r       *bufio.Reader
	buf     []byte
	discard bool
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, readBufferSize)}
}

// ReadLine returns the next line without its terminator. The empty line
// between CR and LF is returned as "".
func (l *lineReader) ReadLine() (string, error) {
	for {
		b, err := l.r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\r' || b == '\n' {
			if l.discard {
				l.discard = false
				l.buf = l.buf[:0]
				continue
			}
			line := string(l.buf)
			l.buf = l.buf[:0]
			return line, nil
		}
		if l.discard {
			continue
		}
		if len(l.buf) >= maxLineLength {
			l.discard = true
			continue
		}
		l.buf = append(l.buf, b)
	}
}
