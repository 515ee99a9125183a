// Package wsport carries relay messages over WebSocket connections. A Conn is
// a relay.Port whose sends are queued and written by a single goroutine, so a
// slow peer never stalls the sender.
package wsport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/onkernel/snaprelay/lib/relay"
)

const (
	writeTimeout  = 10 * time.Second
	readLimit     = 10 * 1024 * 1024 // 10 MB; captures are data URLs
	defaultOutbox = 64
)

// Conn is a relay.Port over one WebSocket connection.
type Conn struct {
	conn   *websocket.Conn
	logger *slog.Logger
	outbox chan relay.Message

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	dropped   atomic.Uint64
	malformed atomic.Uint64
}

// NewConn wraps c and starts its writer. outbox bounds queued sends.
func NewConn(c *websocket.Conn, logger *slog.Logger, outbox int) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	if outbox <= 0 {
		outbox = defaultOutbox
	}
	c.SetReadLimit(readLimit)
	p := &Conn{
		conn:   c,
		logger: logger,
		outbox: make(chan relay.Message, outbox),
		done:   make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

// Send queues m for writing. It fails with relay.ErrPortFull instead of
// waiting when the outbox is full.
func (p *Conn) Send(_ context.Context, m relay.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return relay.ErrPortClosed
	}
	select {
	case p.outbox <- m:
		return nil
	default:
		p.dropped.Add(1)
		return relay.ErrPortFull
	}
}

// ReadLoop decodes inbound frames and hands each message to h in order. It
// returns when the connection ends or ctx is cancelled. Frames that do not
// decode are logged and skipped.
func (p *Conn) ReadLoop(ctx context.Context, h relay.Handler) error {
	for {
		_, data, err := p.conn.Read(ctx)
		if err != nil {
			p.Close("read loop ended")
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read relay frame: %w", err)
		}
		m, err := relay.Decode(data)
		if err != nil {
			p.malformed.Add(1)
			p.logger.Debug("wsport: dropping malformed frame", "err", err)
			continue
		}
		h(ctx, m)
	}
}

// Done is closed once the connection is closed.
func (p *Conn) Done() <-chan struct{} { return p.done }

// Dropped counts sends refused because the outbox was full.
func (p *Conn) Dropped() uint64 { return p.dropped.Load() }

// Malformed counts inbound frames that failed to decode.
func (p *Conn) Malformed() uint64 { return p.malformed.Load() }

// Close stops the writer and closes the connection. It is safe to call more
// than once.
func (p *Conn) Close(reason string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()
	_ = p.conn.Close(websocket.StatusNormalClosure, reason)
}

func (p *Conn) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case m := <-p.outbox:
			data, err := relay.Encode(m)
			if err != nil {
				p.logger.Error("wsport: encode failed", "kind", m.Kind(), "err", err)
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err = p.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				p.logger.Debug("wsport: write failed", "kind", m.Kind(), "err", err)
				p.Close("write failed")
				return
			}
		}
	}
}
