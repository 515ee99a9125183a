package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/onkernel/snaprelay/lib/logger"
)

type rootOptions struct {
	relayURL string
	origin   string
	logLevel string
	timeout  time.Duration
}

func NewSnapctlCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "snapctl",
		Short:         "Drive a LectureSnap relay from the command line",
		SilenceUsage:  true,
		SilenceErrors: false,
		Example: `  snapctl capture
  snapctl seek 75.5
  snapctl watch --relay ws://relay.internal:10001/relay/ws`,
	}

	relayDefault := os.Getenv("SNAPRELAY_URL")
	if relayDefault == "" {
		relayDefault = "ws://localhost:10001/relay/ws"
	}
	cmd.PersistentFlags().StringVar(&opts.relayURL, "relay", relayDefault,
		"Relay WebSocket endpoint (env SNAPRELAY_URL)")
	cmd.PersistentFlags().StringVar(&opts.origin, "origin", "",
		"Origin the tab command presents as its web app; must be on the relay's allow-list")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn",
		"Log level: debug, info, warn or error")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 20*time.Second,
		"How long to wait for a reply")

	cmd.AddCommand(
		newCaptureCommand(opts),
		newSeekCommand(opts),
		newPlaybackCommand(opts),
		newWatchCommand(opts),
		newTabCommand(opts),
	)

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewSnapctlCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func (o *rootOptions) logger() (*slog.Logger, error) {
	level, err := logger.ParseLevel(o.logLevel)
	if err != nil {
		return nil, err
	}
	return logger.New(os.Stderr, level), nil
}
