package coordinator_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/snaprelay/lib/allowlist"
	"github.com/onkernel/snaprelay/lib/coordinator"
	"github.com/onkernel/snaprelay/lib/hotkey"
	"github.com/onkernel/snaprelay/lib/logger"
	"github.com/onkernel/snaprelay/lib/originbridge"
	"github.com/onkernel/snaprelay/lib/pagewire"
	"github.com/onkernel/snaprelay/lib/panelbridge"
	"github.com/onkernel/snaprelay/lib/relay"
	"github.com/onkernel/snaprelay/lib/webappbridge"
)

type stubSource struct {
	frame originbridge.Frame
	err   error
}

func (s *stubSource) Capture(context.Context) (originbridge.Frame, error) { return s.frame, s.err }
func (s *stubSource) Seek(_ context.Context, ts float64) (float64, error) { return ts, nil }
func (s *stubSource) Playback(context.Context) (originbridge.Playback, error) {
	return originbridge.Playback{CurrentTime: s.frame.Timestamp, Duration: 3600}, nil
}

type page struct {
	mu   sync.Mutex
	msgs []pagewire.Message
}

func (p *page) PostToPage(_ context.Context, m pagewire.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
	return nil
}

// system wires every bridge to one coordinator with synchronous ports.
type system struct {
	coord  *coordinator.Coordinator
	origin *originbridge.Bridge
	webapp *webappbridge.Bridge
	panel  *panelbridge.Bridge
	page   *page
	frame  *relay.MemoryPort
	source *stubSource
}

const window pagewire.Window = "window:lecturesnap"

func newSystem(t *testing.T) *system {
	t.Helper()
	s := &system{
		coord:  coordinator.New(coordinator.Options{Logger: logger.Discard()}),
		page:   &page{},
		frame:  relay.NewMemoryPort(16),
		source: &stubSource{},
	}
	t.Cleanup(s.coord.Close)

	toCoord := func(id relay.ContextID) relay.Port {
		return relay.PortFunc(func(ctx context.Context, m relay.Message) error {
			s.coord.OnMessage(ctx, id, m)
			return nil
		})
	}

	var err error
	s.origin, err = originbridge.New(originbridge.Options{
		Logger: logger.Discard(),
		Source: s.source,
		Relay:  toCoord("source-1"),
		Tag:    "youtube",
	})
	require.NoError(t, err)
	s.webapp, err = webappbridge.New(webappbridge.Options{
		Logger:    logger.Discard(),
		Window:    window,
		AllowList: allowlist.MustNew("https://lecturesnap.app"),
		Relay:     toCoord("webapp-1"),
		Page:      s.page,
	})
	require.NoError(t, err)
	s.panel, err = panelbridge.New(panelbridge.Options{
		Logger: logger.Discard(),
		Relay:  toCoord("panel-1"),
		Frame:  s.frame,
	})
	require.NoError(t, err)

	require.NoError(t, s.coord.Connect("source-1", relay.ContextSource, relay.PortFunc(func(ctx context.Context, m relay.Message) error {
		s.origin.OnRelayMessage(ctx, m)
		return nil
	})))
	require.NoError(t, s.coord.Connect("webapp-1", relay.ContextWebApp, relay.PortFunc(func(ctx context.Context, m relay.Message) error {
		s.webapp.OnRelayMessage(ctx, m)
		return nil
	})))
	require.NoError(t, s.coord.Connect("panel-1", relay.ContextPanel, relay.PortFunc(func(ctx context.Context, m relay.Message) error {
		s.panel.OnRelayMessage(ctx, m)
		return nil
	})))
	return s
}

func (s *system) pageMessages() []pagewire.Message {
	s.page.mu.Lock()
	defer s.page.mu.Unlock()
	out := s.page.msgs
	s.page.msgs = nil
	return out
}

func (s *system) post(t *testing.T, origin, data string) {
	t.Helper()
	s.webapp.OnPageMessage(t.Context(), pagewire.Event{Source: window, Origin: origin, Data: []byte(data)})
}

func TestWebAppCaptureEndToEnd(t *testing.T) {
	s := newSystem(t)
	s.source.frame = originbridge.Frame{Image: "data:image/jpeg;base64,AAAA", Timestamp: 42.5}

	s.post(t, "https://lecturesnap.app", `{"type":"LECTURESNAP_CAPTURE_REQUEST","requestId":"page-7"}`)

	assert.Equal(t, []pagewire.Message{
		pagewire.CaptureResponse("page-7", "data:image/jpeg;base64,AAAA", 42.5),
	}, s.pageMessages())
	// The panel sees the same capture, but it did not ask for it.
	assert.Equal(t, []relay.Message{relay.CaptureResult{
		Image: "data:image/jpeg;base64,AAAA", Timestamp: 42.5, Source: "youtube",
	}}, s.frame.Drain())
	assert.Zero(t, s.coord.Stats().Pending)
}

func TestWebAppCaptureWithoutVideoReportsNoSource(t *testing.T) {
	s := newSystem(t)
	s.source.err = relay.ErrSourceUnavailable

	s.post(t, "https://lecturesnap.app", `{"type":"LECTURESNAP_CAPTURE_REQUEST","requestId":"page-8"}`)

	assert.Equal(t, []pagewire.Message{pagewire.CaptureError("page-8", "no source")}, s.pageMessages())
	// Failures go to the requester only.
	assert.Empty(t, s.frame.Drain())
}

func TestUntrustedOriginNeverReachesCoordinator(t *testing.T) {
	s := newSystem(t)
	s.source.frame = originbridge.Frame{Image: "img", Timestamp: 1}

	s.post(t, "https://evil.example", `{"type":"LECTURESNAP_CAPTURE_REQUEST"}`)

	assert.Empty(t, s.pageMessages())
	assert.Empty(t, s.frame.Drain())
	assert.Zero(t, s.coord.Stats().Routed)
}

func TestPanelSeekEndToEnd(t *testing.T) {
	s := newSystem(t)

	id, err := s.panel.RequestSeek(t.Context(), 75.25)
	require.NoError(t, err)

	assert.Equal(t, []relay.Message{relay.SeekDone{ID: id, Timestamp: 75.25}}, s.frame.Drain())
	// Seek completion is not broadcast.
	assert.Empty(t, s.pageMessages())
}

func TestHotkeyOnSourceReachesEveryUI(t *testing.T) {
	s := newSystem(t)
	s.source.frame = originbridge.Frame{Image: "img", Timestamp: 12}

	d := s.origin.OnKey(t.Context(), hotkey.KeyEvent{Key: "S", Code: "KeyS", Alt: true, Shift: true})
	assert.Equal(t, hotkey.Handled, d)

	assert.Equal(t, []pagewire.Message{pagewire.CaptureResponse("", "img", 12)}, s.pageMessages())
	assert.Equal(t, []relay.Message{relay.CaptureResult{Image: "img", Timestamp: 12, Source: "youtube"}}, s.frame.Drain())
}
