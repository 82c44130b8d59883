package nad

import (
	"errors"
	"fmt"
)

// Domain errors for the NAD bridge package.
var (
	// ErrNotConnected is returned when an operation requires a connection
	// but the client is not connected to the receiver.
	ErrNotConnected = errors.New("nad: not connected to receiver")

	// ErrConnectionFailed is returned when dialling the receiver fails.
	ErrConnectionFailed = errors.New("nad: connection to receiver failed")

	// ErrSendFailed is returned when a command could not be written after
	// all retries were exhausted.
	ErrSendFailed = errors.New("nad: send failed")

	// ErrEmptyLine is returned by Decode for an empty line.
	ErrEmptyLine = errors.New("nad: empty line")

	// ErrUnknownCommand is returned when a logical command has no template.
	ErrUnknownCommand = errors.New("nad: unknown logical command")

	// ErrUnknownChannel is returned for a channel ID the binding does not model.
	ErrUnknownChannel = errors.New("nad: unknown channel")

	// ErrIndexOutOfRange is returned by source and preset lists for an index
	// outside the configured size.
	ErrIndexOutOfRange = errors.New("nad: index out of range")

	// ErrInvalidConfig is returned when the receiver configuration is invalid.
	ErrInvalidConfig = errors.New("nad: invalid configuration")

	// ErrPresetFile is returned when the preset-name file is missing or malformed.
	ErrPresetFile = errors.New("nad: preset file")

	// ErrClosed is returned by operations on a disposed client or handler.
	ErrClosed = errors.New("nad: closed")
)

// ParseError reports a line that matched neither NADCP grammar.
// The offending line is kept for diagnostics; the reader skips it.
type ParseError struct {
	Line string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("nad: unparseable line %q", e.Line)
}

// UnsupportedValueError reports a host command whose type the target
// channel does not accept. It never affects connection state.
type UnsupportedValueError struct {
	Channel string
	Command Command
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("nad: channel %s does not accept %s", e.Channel, e.Command)
}
