// Package originbridge connects a source context's FrameSource and keyboard
// trigger to the relay. It only ever emits toward the coordinator, except for
// local failure notices which go to the page's own sink.
package originbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onkernel/snaprelay/lib/hotkey"
	"github.com/onkernel/snaprelay/lib/relay"
)

// Frame is a still image captured from the source.
type Frame struct {
	// Image is an encoded still, usually a data URL.
	Image string
	// Timestamp is the playback position in seconds.
	Timestamp float64
}

// Playback is the source's current position and length, in seconds.
type Playback struct {
	CurrentTime float64
	Duration    float64
}

// FrameSource owns the video element. Implementations return an error
// wrapping relay.ErrSourceUnavailable when there is nothing to capture and
// relay.ErrCaptureFailed when drawing the frame fails.
type FrameSource interface {
	Capture(ctx context.Context) (Frame, error)
	Seek(ctx context.Context, timestamp float64) (float64, error)
	Playback(ctx context.Context) (Playback, error)
}

// Options configures a Bridge.
type Options struct {
	Logger *slog.Logger
	Source FrameSource
	// Relay is the port toward the coordinator.
	Relay relay.Port
	// Local receives failure notices for locally triggered captures. Optional.
	Local relay.Port
	// Hotkey defaults to hotkey.Default.
	Hotkey *hotkey.Hotkey
	// Tag names the platform the frames come from, e.g. "youtube".
	Tag string
}

// Bridge is the origin bridge of one source context.
type Bridge struct {
	logger *slog.Logger
	source FrameSource
	relay  relay.Port
	local  relay.Port
	hotkey hotkey.Hotkey
	tag    string
}

// New creates a Bridge.
func New(opts Options) (*Bridge, error) {
	if opts.Source == nil {
		return nil, errors.New("originbridge: frame source is required")
	}
	if opts.Relay == nil {
		return nil, errors.New("originbridge: relay port is required")
	}
	b := &Bridge{
		logger: opts.Logger,
		source: opts.Source,
		relay:  opts.Relay,
		local:  opts.Local,
		hotkey: hotkey.Default,
		tag:    opts.Tag,
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if opts.Hotkey != nil {
		b.hotkey = *opts.Hotkey
	}
	return b, nil
}

// OnKey is installed ahead of the host page's own handlers. A matching event
// is consumed so the observed platform never reacts to it.
func (b *Bridge) OnKey(ctx context.Context, e hotkey.KeyEvent) hotkey.Disposition {
	if !b.hotkey.Match(e) {
		return hotkey.Disposition{}
	}
	_ = b.Capture(ctx)
	return hotkey.Handled
}

// Capture runs the local capture path. On failure it notifies the local sink
// and returns the error; no capture message is emitted.
func (b *Bridge) Capture(ctx context.Context) error {
	frame, err := b.capture(ctx)
	if err != nil {
		b.notifyLocal(ctx, relay.Report("", err))
		return err
	}
	return b.emit(ctx, relay.CaptureTaken{Image: frame.Image, Timestamp: frame.Timestamp, Source: b.tag})
}

// OnRelayMessage handles a message routed to this context by the coordinator.
// Every command is answered exactly once.
func (b *Bridge) OnRelayMessage(ctx context.Context, msg relay.Message) {
	switch m := msg.(type) {
	case relay.RemoteCaptureCommand:
		frame, err := b.capture(ctx)
		if err != nil {
			_ = b.emit(ctx, relay.Report(m.ID, err))
			return
		}
		_ = b.emit(ctx, relay.CaptureTaken{ID: m.ID, Image: frame.Image, Timestamp: frame.Timestamp, Source: b.tag})
	case relay.SeekCommand:
		applied, err := b.source.Seek(ctx, m.Timestamp)
		if err != nil {
			_ = b.emit(ctx, relay.Report(m.ID, fmt.Errorf("seek to %.3f: %w", m.Timestamp, err)))
			return
		}
		_ = b.emit(ctx, relay.SeekAck{ID: m.ID, Timestamp: applied})
	case relay.VideoRectQuery:
		pb, err := b.source.Playback(ctx)
		if err != nil {
			_ = b.emit(ctx, relay.Report(m.ID, err))
			return
		}
		_ = b.emit(ctx, relay.VideoRect{ID: m.ID, CurrentTime: pb.CurrentTime, Duration: pb.Duration})
	default:
		b.logger.Debug("originbridge: ignoring message", "kind", msg.Kind())
	}
}

func (b *Bridge) capture(ctx context.Context) (Frame, error) {
	frame, err := b.source.Capture(ctx)
	if err != nil {
		if !errors.Is(err, relay.ErrSourceUnavailable) && !errors.Is(err, relay.ErrCaptureFailed) {
			err = fmt.Errorf("%w: %w", relay.ErrCaptureFailed, err)
		}
		return Frame{}, err
	}
	if frame.Image == "" {
		return Frame{}, fmt.Errorf("%w: empty image", relay.ErrCaptureFailed)
	}
	return frame, nil
}

func (b *Bridge) emit(ctx context.Context, m relay.Message) error {
	if err := b.relay.Send(ctx, m); err != nil {
		b.logger.Warn("originbridge: send to coordinator failed", "kind", m.Kind(), "err", err)
		return err
	}
	return nil
}

func (b *Bridge) notifyLocal(ctx context.Context, r relay.ErrorReport) {
	if b.local == nil {
		b.logger.Warn("originbridge: capture failed", "code", r.Code, "message", r.Message)
		return
	}
	if err := b.local.Send(ctx, r); err != nil {
		b.logger.Debug("originbridge: local notice dropped", "err", err)
	}
}
