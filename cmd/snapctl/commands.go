package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// request dials as a panel, sends one request and prints its reply.
func request(cmd *cobra.Command, opts *rootOptions, send func(ctx context.Context, s *panelSession) (string, error)) error {
	logger, err := opts.logger()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	s, err := dialPanel(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := send(ctx, s)
	if err != nil {
		return err
	}
	reply, err := s.await(ctx, id)
	if err != nil {
		return err
	}
	return printMessage(cmd.OutOrStdout(), reply)
}

func newCaptureCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "capture",
		Short: "Capture the current frame from the active source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return request(cmd, opts, func(ctx context.Context, s *panelSession) (string, error) {
				return s.panel.RequestCapture(ctx)
			})
		},
	}
}

func newSeekCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "seek <seconds>",
		Short:   "Seek the active source to a playback position",
		Args:    cobra.ExactArgs(1),
		Example: `  snapctl seek 75.5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := strconv.ParseFloat(args[0], 64)
			if err != nil || ts < 0 {
				return fmt.Errorf("invalid position %q: want non-negative seconds", args[0])
			}
			return request(cmd, opts, func(ctx context.Context, s *panelSession) (string, error) {
				return s.panel.RequestSeek(ctx, ts)
			})
		},
	}
}

func newPlaybackCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "playback",
		Short: "Print the active source's position and duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return request(cmd, opts, func(ctx context.Context, s *panelSession) (string, error) {
				return s.panel.RequestPlayback(ctx)
			})
		},
	}
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print every message the relay sends to panels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			s, err := dialPanel(cmd.Context(), opts, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case m, ok := <-s.frame.Messages():
					if !ok {
						return errRelayClosed
					}
					if err := printMessage(cmd.OutOrStdout(), m); err != nil {
						// Failures are part of the stream, not fatal.
						logger.Debug("relay reported error", "err", err)
					}
				}
			}
		},
	}
}
