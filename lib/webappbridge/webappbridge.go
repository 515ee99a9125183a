// Package webappbridge is the bridge injected into the web application's
// origin. It is the only component that accepts messages from an untrusted
// page, so every inbound event passes a window check and, for the website
// variant, an origin allow-list before anything else happens.
package webappbridge

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/onkernel/snaprelay/lib/allowlist"
	"github.com/onkernel/snaprelay/lib/pagewire"
	"github.com/onkernel/snaprelay/lib/relay"
)

// PagePoster delivers messages into the page context.
type PagePoster interface {
	PostToPage(ctx context.Context, m pagewire.Message) error
}

// PagePosterFunc adapts a function to a PagePoster.
type PagePosterFunc func(ctx context.Context, m pagewire.Message) error

func (f PagePosterFunc) PostToPage(ctx context.Context, m pagewire.Message) error { return f(ctx, m) }

// Options configures a Bridge.
type Options struct {
	Logger *slog.Logger
	// Window is the bridge's own window; events from any other source are dropped.
	Window pagewire.Window
	// AllowList enables the website variant: events must also come from a
	// member origin. Nil selects the extension variant (window check only).
	AllowList *allowlist.List
	Relay     relay.Port
	Page      PagePoster
}

// Bridge translates between the page vocabulary and the relay vocabulary.
type Bridge struct {
	logger    *slog.Logger
	window    pagewire.Window
	allowList *allowlist.List
	relay     relay.Port
	page      PagePoster

	rejected  atomic.Uint64
	malformed atomic.Uint64
}

// New creates a Bridge.
func New(opts Options) (*Bridge, error) {
	if opts.Window == "" {
		return nil, errors.New("webappbridge: window is required")
	}
	if opts.Relay == nil || opts.Page == nil {
		return nil, errors.New("webappbridge: relay port and page poster are required")
	}
	b := &Bridge{
		logger:    opts.Logger,
		window:    opts.Window,
		allowList: opts.AllowList,
		relay:     opts.Relay,
		page:      opts.Page,
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b, nil
}

// OnPageMessage handles one event from the page's message surface. Rejected
// and malformed events produce no reply and nothing the page can observe.
func (b *Bridge) OnPageMessage(ctx context.Context, ev pagewire.Event) {
	if !b.trusted(ev) {
		b.rejected.Add(1)
		return
	}
	msg, err := pagewire.Parse(ev.Data)
	if err != nil {
		b.malformed.Add(1)
		return
	}

	switch msg.Type {
	case pagewire.TypePing:
		// Answered here, without a coordinator round trip.
		b.post(ctx, pagewire.Pong())
	case pagewire.TypeCaptureRequest:
		b.forward(ctx, relay.RemoteCaptureRequest{ID: requestID(msg)})
	case pagewire.TypeSeekRequest:
		ts := msg.Ts()
		if msg.Timestamp == nil || ts < 0 || math.IsNaN(ts) || math.IsInf(ts, 0) {
			b.malformed.Add(1)
			return
		}
		b.forward(ctx, relay.RemoteSeekRequest{ID: requestID(msg), Timestamp: ts})
	default:
		// Includes our own outbound types echoed back by the page.
	}
}

// OnRelayMessage re-emits coordinator results into the page vocabulary.
func (b *Bridge) OnRelayMessage(ctx context.Context, msg relay.Message) {
	switch m := msg.(type) {
	case relay.CaptureResult:
		b.post(ctx, pagewire.CaptureResponse(m.ID, m.Image, m.Timestamp))
	case relay.SeekDone:
		b.post(ctx, pagewire.SeekDone(m.ID, m.Timestamp))
	case relay.ErrorReport:
		b.post(ctx, pagewire.CaptureError(m.ID, m.Message))
	default:
		b.logger.Debug("webappbridge: ignoring relay message", "kind", msg.Kind())
	}
}

// Rejected counts events dropped by the window or origin check.
func (b *Bridge) Rejected() uint64 { return b.rejected.Load() }

// Malformed counts trusted events that could not be understood.
func (b *Bridge) Malformed() uint64 { return b.malformed.Load() }

func (b *Bridge) trusted(ev pagewire.Event) bool {
	if ev.Source != b.window {
		return false
	}
	if b.allowList != nil && !b.allowList.Contains(ev.Origin) {
		return false
	}
	return true
}

func (b *Bridge) forward(ctx context.Context, m relay.Message) {
	if err := b.relay.Send(ctx, m); err != nil {
		b.logger.Warn("webappbridge: send to coordinator failed", "kind", m.Kind(), "err", err)
	}
}

func (b *Bridge) post(ctx context.Context, m pagewire.Message) {
	if err := b.page.PostToPage(ctx, m); err != nil {
		b.logger.Debug("webappbridge: post to page failed", "type", m.Type, "err", err)
	}
}

func requestID(m pagewire.Message) string {
	if m.RequestID != "" {
		return m.RequestID
	}
	return uuid.NewString()
}
