package dashsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/onkernel/snaprelay/lib/pagewire"
)

// PageSurface is a tab's window messaging surface.
type PageSurface interface {
	// AddListener registers fn for every message event and returns a function
	// that removes it.
	AddListener(fn func(pagewire.Event)) (remove func())
}

// Surface is an in-process PageSurface. Messages posted to it are seen by
// every listener as coming from the surface's own window and origin, so it
// also serves as the page end of a web-app bridge.
type Surface struct {
	window pagewire.Window
	origin string

	mu        sync.Mutex
	next      uint64
	listeners map[uint64]func(pagewire.Event)
}

// NewSurface creates a Surface for window at origin.
func NewSurface(window pagewire.Window, origin string) *Surface {
	return &Surface{window: window, origin: origin, listeners: make(map[uint64]func(pagewire.Event))}
}

func (s *Surface) Window() pagewire.Window { return s.window }
func (s *Surface) Origin() string          { return s.origin }

func (s *Surface) AddListener(fn func(pagewire.Event)) func() {
	s.mu.Lock()
	s.next++
	id := s.next
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Dispatch delivers ev to the current listeners.
func (s *Surface) Dispatch(ev pagewire.Event) {
	s.mu.Lock()
	fns := make([]func(pagewire.Event), 0, len(s.listeners))
	for id := uint64(1); id <= s.next; id++ {
		if fn, ok := s.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// PostToPage posts m as the page itself would.
func (s *Surface) PostToPage(_ context.Context, m pagewire.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal page message: %w", err)
	}
	s.Dispatch(pagewire.Event{Source: s.window, Origin: s.origin, Data: data})
	return nil
}
