package nad

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultPort is the NADCP telnet port.
const DefaultPort = 23

// defaultBaudRate is the RS-232 rate of current NAD receivers.
const defaultBaudRate = 115200

// Conn is the byte stream to a receiver. net.Conn satisfies it; serial
// ports are adapted by serialConn.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Dialer opens a Conn to the receiver at address.
type Dialer func(ctx context.Context, address string) (Conn, error)

// endpoint is a parsed connection address.
type endpoint struct {
	network string // "tcp" or "serial"
	address string // host:port or device path
	baud    int
}

func (e endpoint) String() string {
	if e.network == "serial" {
		return fmt.Sprintf("serial://%s?baud=%d", e.address, e.baud)
	}
	return "tcp://" + e.address
}

// parseConnectionURL parses a receiver address.
//
// Supported formats:
//   - "192.168.1.50" or "receiver.lan:23" (TCP, port 23 by default)
//   - "tcp://192.168.1.50:23"
//   - "serial:///dev/ttyUSB0?baud=115200"
func parseConnectionURL(addr string) (endpoint, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return endpoint{}, fmt.Errorf("empty address")
	}
	if !strings.Contains(addr, "://") {
		addr = "tcp://" + addr
	}

	u, err := url.Parse(addr)
	if err != nil {
		return endpoint{}, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "tcp":
		if u.Hostname() == "" {
			return endpoint{}, fmt.Errorf("missing host in %q", addr)
		}
		port := u.Port()
		if port == "" {
			port = strconv.Itoa(DefaultPort)
		}
		return endpoint{network: "tcp", address: net.JoinHostPort(u.Hostname(), port)}, nil
	case "serial":
		if u.Path == "" {
			return endpoint{}, fmt.Errorf("missing device path in %q", addr)
		}
		baud := defaultBaudRate
		if v := u.Query().Get("baud"); v != "" {
			b, err := strconv.Atoi(v)
			if err != nil || b <= 0 {
				return endpoint{}, fmt.Errorf("invalid baud rate %q", v)
			}
			baud = b
		}
		return endpoint{network: "serial", address: u.Path, baud: baud}, nil
	default:
		return endpoint{}, fmt.Errorf("unsupported scheme %q (use tcp or serial)", u.Scheme)
	}
}

// DefaultDialer dials TCP addresses with net.Dialer and opens serial
// devices 8N1 with go.bug.st/serial.
func DefaultDialer(ctx context.Context, address string) (Conn, error) {
	ep, err := parseConnectionURL(address)
	if err != nil {
		return nil, err
	}

	switch ep.network {
	case "serial":
		return openSerial(ep)
	default:
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", ep.address)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", ep, err)
		}
		return conn, nil
	}
}

func openSerial(ep endpoint) (Conn, error) {
	port, err := serial.Open(ep.address, &serial.Mode{
		BaudRate: ep.baud,
		DataBits: 8, //nolint:mnd // 8N1
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ep, err)
	}
	// Discard anything buffered from before we opened the port.
	_ = port.ResetInputBuffer() //nolint:errcheck // best effort
	return &serialConn{port: port}, nil
}

// serialPollInterval bounds a single blocking serial read so a deadline
// moved into the past takes effect promptly.
const serialPollInterval = 200 * time.Millisecond

// serialConn adapts a serial.Port to Conn. A read that reaches the deadline
// returns a net.Error with Timeout() true, like a TCP deadline.
type serialConn struct {
	port serial.Port

	mu       sync.Mutex
	deadline time.Time
}

func (s *serialConn) Read(p []byte) (int, error) {
	for {
		s.mu.Lock()
		deadline := s.deadline
		s.mu.Unlock()

		wait := serialPollInterval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return 0, serialTimeoutError{}
			}
			wait = min(wait, remaining)
		}

		if err := s.port.SetReadTimeout(wait); err != nil {
			return 0, err
		}
		n, err := s.port.Read(p)
		if err != nil || n > 0 {
			return n, err
		}
	}
}

func (s *serialConn) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *serialConn) Close() error {
	return s.port.Close()
}

// SetReadDeadline sets the deadline for pending and future reads. A zero
// deadline blocks until data arrives.
func (s *serialConn) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	s.deadline = t
	s.mu.Unlock()
	return nil
}

// SetWriteDeadline is a no-op: serial writes do not block on the peer.
func (s *serialConn) SetWriteDeadline(time.Time) error {
	return nil
}

type serialTimeoutError struct{}

func (serialTimeoutError) Error() string   { return "serial read timeout" }
func (serialTimeoutError) Timeout() bool   { return true }
func (serialTimeoutError) Temporary() bool { return true }

var _ net.Error = serialTimeoutError{}
