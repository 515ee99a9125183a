// Package panelbridge runs in the secondary UI surface. It originates capture
// and seek requests and passes coordinator traffic through, unchanged, to the
// frame it embeds.
package panelbridge

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/onkernel/snaprelay/lib/hotkey"
	"github.com/onkernel/snaprelay/lib/relay"
)

type Options struct {
	Logger *slog.Logger
	// Relay is the port toward the coordinator.
	Relay relay.Port
	// Frame is the embedded frame's message channel.
	Frame  relay.Port
	Hotkey *hotkey.Hotkey
}

type Bridge struct {
	logger *slog.Logger
	relay  relay.Port
	frame  relay.Port
	hotkey hotkey.Hotkey
}

func New(opts Options) (*Bridge, error) {
	if opts.Relay == nil || opts.Frame == nil {
		return nil, errors.New("panelbridge: relay and frame ports are required")
	}
	b := &Bridge{
		logger: opts.Logger,
		relay:  opts.Relay,
		frame:  opts.Frame,
		hotkey: hotkey.Default,
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if opts.Hotkey != nil {
		b.hotkey = *opts.Hotkey
	}
	return b, nil
}

// OnKey requests a remote capture when the trigger fires. The panel has no
// FrameSource of its own.
func (b *Bridge) OnKey(ctx context.Context, e hotkey.KeyEvent) hotkey.Disposition {
	if !b.hotkey.Match(e) {
		return hotkey.Disposition{}
	}
	_, _ = b.RequestCapture(ctx)
	return hotkey.Handled
}

// RequestCapture asks the coordinator for a frame and returns the request id.
func (b *Bridge) RequestCapture(ctx context.Context) (string, error) {
	id := uuid.NewString()
	return id, b.relay.Send(ctx, relay.RemoteCaptureRequest{ID: id})
}

// RequestSeek asks the coordinator to seek the source and returns the request id.
func (b *Bridge) RequestSeek(ctx context.Context, timestamp float64) (string, error) {
	id := uuid.NewString()
	return id, b.relay.Send(ctx, relay.RemoteSeekRequest{ID: id, Timestamp: timestamp})
}

// RequestPlayback asks the source for its position and duration.
func (b *Bridge) RequestPlayback(ctx context.Context) (string, error) {
	id := uuid.NewString()
	return id, b.relay.Send(ctx, relay.VideoRectQuery{ID: id})
}

// OnRelayMessage forwards results to the embedded frame. The frame shares the
// relay vocabulary, so nothing is translated.
func (b *Bridge) OnRelayMessage(ctx context.Context, msg relay.Message) {
	switch msg.(type) {
	case relay.CaptureResult, relay.SeekDone, relay.ErrorReport, relay.VideoRect:
		if err := b.frame.Send(ctx, msg); err != nil {
			b.logger.Debug("panelbridge: frame delivery failed", "kind", msg.Kind(), "err", err)
		}
	default:
		b.logger.Debug("panelbridge: ignoring message", "kind", msg.Kind())
	}
}
