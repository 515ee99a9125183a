package relay

import (
	"context"
	"sync"
)

// Port is one end of an asynchronous channel into another context.
// Send must not wait for the destination to process the message.
type Port interface {
	Send(ctx context.Context, m Message) error
}

// Handler consumes messages read from a port.
type Handler func(ctx context.Context, m Message)

// PortFunc adapts a function to a Port.
type PortFunc func(ctx context.Context, m Message) error

func (f PortFunc) Send(ctx context.Context, m Message) error { return f(ctx, m) }

// MemoryPort is an in-process Port backed by a buffered channel.
type MemoryPort struct {
	mu     sync.RWMutex
	ch     chan Message
	closed bool
}

// NewMemoryPort returns a port that buffers up to size messages.
func NewMemoryPort(size int) *MemoryPort {
	if size <= 0 {
		size = 64
	}
	return &MemoryPort{ch: make(chan Message, size)}
}

// Send enqueues m without blocking.
func (p *MemoryPort) Send(_ context.Context, m Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPortClosed
	}
	select {
	case p.ch <- m:
		return nil
	default:
		return ErrPortFull
	}
}

// Messages returns the receive side of the port.
func (p *MemoryPort) Messages() <-chan Message {
	return p.ch
}

// Close stops the port. Further sends fail with ErrPortClosed.
func (p *MemoryPort) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.ch)
}

// Pump delivers every message from p to h, in order, until p is closed or ctx ends.
func (p *MemoryPort) Pump(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-p.ch:
			if !ok {
				return
			}
			h(ctx, m)
		}
	}
}

// Drain returns every message currently buffered without blocking.
func (p *MemoryPort) Drain() []Message {
	var out []Message
	for {
		select {
		case m, ok := <-p.ch:
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}
