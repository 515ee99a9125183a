// Package dashsync keeps sibling dashboard tabs in step. A capture that lands
// in one tab is shown there first and then broadcast to its siblings, which
// show it without broadcasting again.
package dashsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nrednav/cuid2"
	"github.com/samber/lo"

	"github.com/onkernel/snaprelay/lib/crosstab"
	"github.com/onkernel/snaprelay/lib/pagewire"
)

// DefaultChannel is the cross-tab channel name dashboards share.
const DefaultChannel = "lecturesnap-captures"

// Capture is a frame shown in a dashboard tab.
type Capture struct {
	RequestID string  `json:"request_id,omitempty"`
	Image     string  `json:"image"`
	Timestamp float64 `json:"timestamp"`
	// Remote is set when the capture arrived from a sibling tab.
	Remote bool `json:"-"`
}

// Options configures a Sync.
type Options struct {
	Logger *slog.Logger
	// Name is the cross-tab channel name. Defaults to DefaultChannel.
	Name     string
	CrossTab crosstab.Opener
	Page     PageSurface
	// Window, when set, ignores page events from any other window.
	Window pagewire.Window
}

type listener struct {
	id uint64
	fn func(Capture)
}

// wireCapture is the cross-tab payload. Tab identifies the publishing tab.
type wireCapture struct {
	Tab     string  `json:"tab"`
	Capture Capture `json:"capture"`
}

// Sync is one tab's capture registry.
type Sync struct {
	logger   *slog.Logger
	name     string
	opener   crosstab.Opener
	page     PageSurface
	window   pagewire.Window
	tab      string
	readDone chan struct{}

	mu         sync.Mutex
	listeners  []listener
	nextID     uint64
	started    bool
	closed     bool
	channel    crosstab.Channel
	removePage func()

	// dispatch is held shared while callbacks run; Cleanup takes it
	// exclusively to wait them out.
	dispatch    sync.RWMutex
	cleanupOnce sync.Once
}

// New creates a Sync. Nothing is registered until Start.
func New(opts Options) (*Sync, error) {
	if opts.CrossTab == nil {
		return nil, errors.New("dashsync: cross-tab opener is required")
	}
	if opts.Page == nil {
		return nil, errors.New("dashsync: page surface is required")
	}
	s := &Sync{
		logger:   opts.Logger,
		name:     opts.Name,
		opener:   opts.CrossTab,
		page:     opts.Page,
		window:   opts.Window,
		tab:      cuid2.Generate(),
		readDone: make(chan struct{}),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.name == "" {
		s.name = DefaultChannel
	}
	return s, nil
}

// Start registers the page listener and joins the cross-tab channel. Calling
// it again is a no-op.
func (s *Sync) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("dashsync: start after cleanup")
	}
	if s.started {
		return nil
	}
	ch, err := s.opener.Open(ctx, s.name)
	if err != nil {
		return fmt.Errorf("dashsync: open channel %s: %w", s.name, err)
	}
	s.channel = ch
	s.removePage = s.page.AddListener(s.onPageEvent)
	s.started = true
	go s.readLoop(ch)
	return nil
}

// OnCapture registers cb for every capture shown in this tab. The returned
// function removes it and may be called any number of times.
func (s *Sync) OnCapture(cb func(Capture)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: cb})
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.listeners = lo.Filter(s.listeners, func(l listener, _ int) bool { return l.id != id })
		})
	}
}

// Listeners returns the number of registered callbacks.
func (s *Sync) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Cleanup removes the page listener, leaves the cross-tab channel and drops
// every callback. No callback runs once it returns. It is safe to call more
// than once, but not from inside a capture callback.
func (s *Sync) Cleanup() {
	s.cleanupOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.listeners = nil
		remove, ch := s.removePage, s.channel
		s.mu.Unlock()

		if remove != nil {
			remove()
		}
		if ch != nil {
			_ = ch.Close()
			<-s.readDone
		}
		s.dispatch.Lock()
		s.dispatch.Unlock()
	})
}

func (s *Sync) onPageEvent(ev pagewire.Event) {
	if s.window != "" && ev.Source != s.window {
		return
	}
	msg, err := pagewire.Parse(ev.Data)
	if err != nil || msg.Type != pagewire.TypeCaptureResponse {
		return
	}
	c := Capture{RequestID: msg.RequestID, Image: msg.Data, Timestamp: msg.Ts()}
	if !s.notify(c) {
		return
	}

	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	data, err := json.Marshal(wireCapture{Tab: s.tab, Capture: c})
	if err != nil {
		s.logger.Warn("dashsync: marshal capture failed", "err", err)
		return
	}
	if err := ch.Publish(context.Background(), data); err != nil {
		s.logger.Debug("dashsync: cross-tab publish failed", "channel", s.name, "err", err)
	}
}

func (s *Sync) readLoop(ch crosstab.Channel) {
	defer close(s.readDone)
	for payload := range ch.Messages() {
		var w wireCapture
		if err := json.Unmarshal(payload, &w); err != nil {
			s.logger.Debug("dashsync: dropping malformed cross-tab payload", "err", err)
			continue
		}
		if w.Tab == s.tab {
			continue
		}
		c := w.Capture
		c.Remote = true
		s.notify(c)
	}
}

// notify calls every listener in registration order. A listener removed, or a
// Sync cleaned up, while earlier listeners run is skipped. It reports false
// once the Sync is cleaned up.
func (s *Sync) notify(c Capture) bool {
	s.dispatch.RLock()
	defer s.dispatch.RUnlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	ls := append([]listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range ls {
		if !s.subscribed(l.id) {
			continue
		}
		l.fn(c)
	}
	return true
}

func (s *Sync) subscribed(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && lo.ContainsBy(s.listeners, func(l listener) bool { return l.id == id })
}
