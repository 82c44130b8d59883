package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-nad/internal/bridges/nad"
	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/logging"
)

var version = "dev"

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	timeout  time.Duration
	logLevel string
	dial     nad.Dialer
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{dial: nad.DefaultDialer}

	root := &cobra.Command{
		Use:   "nadctl",
		Short: "NAD receiver commissioning tool",
		Long: `nadctl talks NADCP to a NAD receiver directly.

Receiver addresses:
  TCP:    192.168.1.40, 192.168.1.40:23, tcp://192.168.1.40:23
  Serial: serial:///dev/ttyUSB0?baud=115200`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "Connect timeout")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level for diagnostics on stderr")

	root.AddCommand(
		newSendCmd(opts),
		newMonitorCmd(opts),
		newVolumeCmd(),
	)
	return root
}

// logger returns a text logger on the command's stderr.
func (o *rootOptions) logger(cmd *cobra.Command) *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: o.logLevel, Format: "text"}, version, cmd.ErrOrStderr())
}

// connect opens the receiver link within the connect timeout.
func (o *rootOptions) connect(ctx context.Context, address string) (nad.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	conn, err := o.dial(dialCtx, address)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}
	return conn, nil
}

// newLineScanner splits receiver output on CR or LF and drops empty lines.
func newLineScanner(conn nad.Conn) *bufio.Scanner {
	sc := bufio.NewScanner(conn)
	sc.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		start := 0
		for start < len(data) && (data[start] == '\r' || data[start] == '\n') {
			start++
		}
		if i := bytes.IndexAny(data[start:], "\r\n"); i >= 0 {
			return start + i + 1, data[start : start+i], nil
		}
		if atEOF && start < len(data) {
			return len(data), data[start:], nil
		}
		return start, nil, nil
	})
	return sc
}

// describe renders a decoded line with its logical command, or marks it
// unrecognised.
func describe(line string) string {
	msg, err := nad.Decode(line)
	if err != nil {
		return fmt.Sprintf("%-32s (unparsed)", line)
	}
	cmd, ok := nad.Classify(msg.Variable, msg.Operator)
	if !ok {
		return fmt.Sprintf("%-32s (unrecognised)", line)
	}
	return fmt.Sprintf("%-32s %s", line, cmd)
}
