// nadctl is a commissioning tool for NAD receivers.
//
// It talks NADCP directly, without MQTT or the bridge:
//
//	nadctl send 192.168.1.40 Main.Power? Main.Volume?
//	nadctl monitor serial:///dev/ttyUSB0
//	nadctl volume -- -35 --to percent
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
