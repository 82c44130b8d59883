package main

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-nad/internal/bridges/nad"
)

func newSendCmd(opts *rootOptions) *cobra.Command {
	var (
		wait time.Duration
		raw  bool
	)

	cmd := &cobra.Command{
		Use:   "send ADDRESS LINE...",
		Short: "Send NADCP lines and print the replies",
		Long: `Send one or more NADCP lines to the receiver, then print every line
received until --wait elapses.

Lines are decoded before sending, so malformed input such as "Power" is
rejected locally. Use --raw to send a line exactly as typed.`,
		Example: `  nadctl send 192.168.1.40 Main.Power?
  nadctl send --wait 3s serial:///dev/ttyUSB0 Main.Power=On Main.Source?`,
		Args: cobra.MinimumNArgs(2), //nolint:mnd // address plus one line
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := encodeLines(args[1:], raw)
			if err != nil {
				return err
			}

			log := opts.logger(cmd)
			conn, err := opts.connect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer conn.Close()

			for _, line := range lines {
				if err := conn.SetWriteDeadline(time.Now().Add(opts.timeout)); err != nil {
					log.Debug("write deadline not supported", "error", err)
				}
				if _, err := conn.Write([]byte(line)); err != nil {
					return fmt.Errorf("writing %q: %w", line, err)
				}
				log.Debug("sent", "line", line)
			}

			return printReplies(cmd, conn, wait)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", time.Second, "How long to print replies after sending")
	cmd.Flags().BoolVar(&raw, "raw", false, "Send lines without decoding them first")
	return cmd
}

// encodeLines turns command-line arguments into wire lines.
func encodeLines(args []string, raw bool) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if raw {
			out = append(out, arg+"\r")
			continue
		}
		msg, err := nad.Decode(arg)
		if err != nil {
			return nil, fmt.Errorf("line %q: %w", arg, err)
		}
		out = append(out, nad.Encode(msg))
	}
	return out, nil
}

// printReplies prints received lines until wait elapses or the link closes.
func printReplies(cmd *cobra.Command, conn nad.Conn, wait time.Duration) error {
	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return fmt.Errorf("setting read deadline: %w", err)
	}

	sc := newLineScanner(conn)
	for sc.Scan() {
		fmt.Fprintln(cmd.OutOrStdout(), describe(sc.Text()))
	}

	err := sc.Err()
	var netErr net.Error
	if err == nil || (errors.As(err, &netErr) && netErr.Timeout()) {
		return nil
	}
	return fmt.Errorf("reading replies: %w", err)
}
