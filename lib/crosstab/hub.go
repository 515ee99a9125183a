package crosstab

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultBuffer = 64

// Hub is an in-process set of named channels.
type Hub struct {
	buffer int

	mu       sync.Mutex
	channels map[string]map[*member]struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a Hub whose members buffer up to buffer undelivered payloads.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{buffer: buffer, channels: make(map[string]map[*member]struct{})}
}

// Open joins the channel called name.
func (h *Hub) Open(_ context.Context, name string) (Channel, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}
	m := &member{hub: h, name: name, ch: make(chan []byte, h.buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.channels[name]
	if !ok {
		set = make(map[*member]struct{})
		h.channels[name] = set
	}
	set[m] = struct{}{}
	return m, nil
}

// Members returns the number of open members of name.
func (h *Hub) Members(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[name])
}

// Published counts payloads accepted for fan-out.
func (h *Hub) Published() uint64 { return h.published.Load() }

// Dropped counts deliveries skipped because a member's buffer was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

type member struct {
	hub    *Hub
	name   string
	ch     chan []byte
	closed bool // guarded by hub.mu
}

func (m *member) Publish(_ context.Context, payload []byte) error {
	h := m.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	h.published.Add(1)
	for other := range h.channels[m.name] {
		if other == m {
			continue
		}
		select {
		case other.ch <- append([]byte(nil), payload...):
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

func (m *member) Messages() <-chan []byte { return m.ch }

func (m *member) Close() error {
	h := m.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if set, ok := h.channels[m.name]; ok {
		delete(set, m)
		if len(set) == 0 {
			delete(h.channels, m.name)
		}
	}
	close(m.ch)
	return nil
}
