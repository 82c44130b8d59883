package main

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-nad/internal/bridges/nad"
)

func newMonitorCmd(opts *rootOptions) *cobra.Command {
	var queries []string

	cmd := &cobra.Command{
		Use:   "monitor ADDRESS",
		Short: "Print every line the receiver sends",
		Long: `Connect to the receiver and print each line it sends, with the logical
command it maps to, until interrupted.

Use --query to send queries on connect, e.g. --query Main.Power?`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := encodeLines(queries, false)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			conn, err := opts.connect(ctx, args[0])
			if err != nil {
				return err
			}

			// Closing the link is the only way to unblock a pending read.
			stop := make(chan struct{})
			defer close(stop)
			go func() {
				select {
				case <-ctx.Done():
				case <-stop:
				}
				conn.Close()
			}()

			for _, line := range lines {
				if _, err := conn.Write([]byte(line)); err != nil {
					return fmt.Errorf("writing %q: %w", line, err)
				}
			}

			return monitor(cmd, conn)
		},
	}

	cmd.Flags().StringArrayVar(&queries, "query", nil, "Line to send after connecting (repeatable)")
	return cmd
}

// monitor prints timestamped lines until the link closes.
func monitor(cmd *cobra.Command, conn nad.Conn) error {
	out := cmd.OutOrStdout()
	sc := newLineScanner(conn)
	for sc.Scan() {
		fmt.Fprintf(out, "%s  %s\n", time.Now().Format("15:04:05.000"), describe(sc.Text()))
	}

	if cmd.Context().Err() != nil {
		return nil
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("reading: %w", err)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "connection closed by receiver")
	return nil
}
