// Package coordinator implements the privileged relay hub. It keeps a registry
// of connected contexts, routes every relay message along a fixed table and
// correlates requests with their replies through a pending-request table.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nrednav/cuid2"

	"github.com/onkernel/snaprelay/lib/relay"
)

// Options configures a Coordinator.
type Options struct {
	Logger *slog.Logger
	// RequestTimeout bounds how long a request stays pending. Zero disables expiry.
	RequestTimeout time.Duration
}

// Coordinator routes messages between registered contexts. It is safe for
// concurrent use by the read loops of every connected port.
type Coordinator struct {
	logger  *slog.Logger
	timeout time.Duration

	mu        sync.Mutex
	endpoints map[relay.ContextID]*endpoint
	pending   map[string]*pendingRequest
	inflight  map[requestKey]string
	activity  uint64
	closed    bool

	stats counters
}

type endpoint struct {
	id          relay.ContextID
	kind        relay.ContextKind
	port        relay.Port
	connectedAt time.Time
	lastActive  uint64
}

// delivery is one outbound send computed under the lock and performed after it.
type delivery struct {
	to   relay.ContextID
	port relay.Port
	msg  relay.Message
	// request is the correlation id of a pending request a failed send must fail.
	request string
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger:    logger,
		timeout:   opts.RequestTimeout,
		endpoints: make(map[relay.ContextID]*endpoint),
		pending:   make(map[string]*pendingRequest),
		inflight:  make(map[requestKey]string),
	}
}

// NewContextID mints an identifier for a newly connected context.
func NewContextID(kind relay.ContextKind) relay.ContextID {
	return relay.ContextID(string(kind) + "-" + cuid2.Generate())
}

// Connect registers a context. The most recently active source context
// becomes the target of capture and seek requests.
func (c *Coordinator) Connect(id relay.ContextID, kind relay.ContextKind, port relay.Port) error {
	if !kind.Valid() {
		return fmt.Errorf("connect %s: invalid context kind %q", id, kind)
	}
	if port == nil {
		return fmt.Errorf("connect %s: nil port", id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connect %s: coordinator closed", id)
	}
	if _, ok := c.endpoints[id]; ok {
		return fmt.Errorf("connect %s: already connected", id)
	}
	c.activity++
	c.endpoints[id] = &endpoint{
		id:          id,
		kind:        kind,
		port:        port,
		connectedAt: time.Now(),
		lastActive:  c.activity,
	}
	c.logger.Info("coordinator: context connected", "id", id, "kind", kind)
	return nil
}

// Disconnect removes a context. Requests it issued are forgotten; requests
// waiting on it are failed back to their requesters.
func (c *Coordinator) Disconnect(ctx context.Context, id relay.ContextID) {
	c.mu.Lock()
	if _, ok := c.endpoints[id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.endpoints, id)
	var out []delivery
	for corr, p := range c.pending {
		switch id {
		case p.requester:
			c.resolve(corr)
		case p.target:
			c.resolve(corr)
			if e := c.endpoints[p.requester]; e != nil {
				out = append(out, delivery{to: e.id, port: e.port, msg: relay.ErrorReport{
					ID:      p.clientID,
					Code:    relay.CodeSourceUnavailable,
					Message: "capture source disconnected",
				}})
			}
		}
	}
	c.mu.Unlock()
	c.logger.Info("coordinator: context disconnected", "id", id)
	c.deliver(ctx, id, nil, out)
}

// OnMessage routes msg received from sender.
func (c *Coordinator) OnMessage(ctx context.Context, sender relay.ContextID, msg relay.Message) {
	c.mu.Lock()
	from, ok := c.endpoints[sender]
	if !ok {
		c.mu.Unlock()
		c.stats.droppedUnregistered.Add(1)
		c.logger.Debug("coordinator: message from unregistered context", "from", sender, "kind", msg.Kind())
		return
	}

	var out []delivery
	switch m := msg.(type) {
	case relay.RemoteCaptureRequest:
		out = c.routeRequest(from, m.ID, relay.KindRemoteCaptureRequest, func(id string) relay.Message {
			return relay.RemoteCaptureCommand{ID: id}
		})
	case relay.RemoteSeekRequest:
		out = c.routeRequest(from, m.ID, relay.KindRemoteSeekRequest, func(id string) relay.Message {
			return relay.SeekCommand{ID: id, Timestamp: m.Timestamp}
		})
	case relay.VideoRectQuery:
		out = c.routeRequest(from, m.ID, relay.KindVideoRectQuery, func(id string) relay.Message {
			return relay.VideoRectQuery{ID: id}
		})
	case relay.CaptureTaken:
		out = c.routeCapture(from, m)
	case relay.SeekAck:
		out = c.routeReply(from, m.ID, relay.KindRemoteSeekRequest, func(id string) relay.Message {
			return relay.SeekDone{ID: id, Timestamp: m.Timestamp}
		})
	case relay.VideoRect:
		out = c.routeReply(from, m.ID, relay.KindVideoRectQuery, func(id string) relay.Message {
			m.ID = id
			return m
		})
	case relay.ErrorReport:
		out = c.routeReply(from, m.ID, "", func(id string) relay.Message {
			m.ID = id
			return m
		})
	case relay.CaptureResult, relay.RemoteCaptureCommand, relay.SeekCommand, relay.SeekDone:
		c.misdirected(from, msg.Kind())
	case relay.Unknown:
		c.stats.droppedUnknown.Add(1)
		c.logger.Debug("coordinator: dropping unknown kind", "from", sender, "kind", m.Type)
	default:
		c.stats.droppedUnknown.Add(1)
		c.logger.Debug("coordinator: dropping unhandled message", "from", sender, "type", fmt.Sprintf("%T", msg))
	}
	c.mu.Unlock()

	c.deliver(ctx, sender, msg, out)
}

// routeRequest forwards a request to the current source and records it as
// pending. The command carries a fresh correlation id, never the requester's.
func (c *Coordinator) routeRequest(from *endpoint, id string, kind relay.Kind, command func(corr string) relay.Message) []delivery {
	if from.kind == relay.ContextSource {
		c.misdirected(from, kind)
		return nil
	}
	if id == "" {
		id = cuid2.Generate()
	}
	if _, dup := c.inflight[requestKey{requester: from.id, id: id}]; dup {
		c.logger.Warn("coordinator: duplicate request id", "from", from.id, "request_id", id)
		return []delivery{{to: from.id, port: from.port, msg: relay.ErrorReport{
			ID:      id,
			Code:    relay.CodeInternal,
			Message: "duplicate request id",
		}}}
	}
	src := c.currentSource()
	if src == nil {
		c.stats.routeUnresolved.Add(1)
		c.logger.Warn("coordinator: no source for request", "from", from.id, "kind", kind, "request_id", id)
		return []delivery{{to: from.id, port: from.port, msg: relay.ErrorReport{
			ID:      id,
			Code:    relay.CodeRouteUnresolved,
			Message: "no capture source connected",
		}}}
	}
	corr := c.track(kind, from.id, id, src.id)
	c.stats.routed.Add(1)
	return []delivery{{to: src.id, port: src.port, msg: command(corr), request: corr}}
}

// routeCapture fans a capture out to every panel and web-app context. Only
// the requester's copy carries a request id; every other context sees an
// unsolicited capture.
func (c *Coordinator) routeCapture(from *endpoint, m relay.CaptureTaken) []delivery {
	if from.kind != relay.ContextSource {
		c.misdirected(from, m.Kind())
		return nil
	}
	c.touch(from)
	var requester relay.ContextID
	var clientID string
	if m.ID != "" {
		p, ok := c.pending[m.ID]
		if ok && p.kind == relay.KindRemoteCaptureRequest && p.target == from.id {
			c.resolve(m.ID)
			requester, clientID = p.requester, p.clientID
		} else {
			// Expired or foreign ids must not reach a requester that already
			// got its one reply, so the capture goes out unsolicited.
			c.stats.lateReplies.Add(1)
			c.logger.Debug("coordinator: capture for unknown request", "from", from.id, "request_id", m.ID)
		}
	}
	var out []delivery
	for _, e := range c.sorted() {
		if e.id == from.id || (e.kind != relay.ContextPanel && e.kind != relay.ContextWebApp) {
			continue
		}
		result := relay.CaptureResult{Image: m.Image, Timestamp: m.Timestamp, Source: m.Source}
		if e.id == requester {
			result.ID = clientID
		}
		out = append(out, delivery{to: e.id, port: e.port, msg: result})
	}
	c.stats.routed.Add(1)
	return out
}

// routeReply delivers a reply to the requester of a pending request, stamped
// with the id the requester chose. Only the context the request was sent to
// may answer it. An empty want accepts any request kind.
func (c *Coordinator) routeReply(from *endpoint, corr string, want relay.Kind, reply func(id string) relay.Message) []delivery {
	p, ok := c.pending[corr]
	if corr == "" || !ok || p.target != from.id || (want != "" && p.kind != want) {
		c.stats.unmatched.Add(1)
		c.logger.Debug("coordinator: reply matches no pending request", "from", from.id, "request_id", corr)
		return nil
	}
	c.touch(from)
	c.resolve(corr)
	requester := c.endpoints[p.requester]
	if requester == nil {
		return nil
	}
	c.stats.routed.Add(1)
	return []delivery{{to: requester.id, port: requester.port, msg: reply(p.clientID)}}
}

func (c *Coordinator) misdirected(from *endpoint, kind relay.Kind) {
	c.stats.droppedMisdirected.Add(1)
	c.logger.Debug("coordinator: dropping misdirected message", "from", from.id, "from_kind", from.kind, "kind", kind)
}

// currentSource returns the most recently active source context.
func (c *Coordinator) currentSource() *endpoint {
	var best *endpoint
	for _, e := range c.endpoints {
		if e.kind != relay.ContextSource {
			continue
		}
		if best == nil || e.lastActive > best.lastActive {
			best = e
		}
	}
	return best
}

func (c *Coordinator) touch(e *endpoint) {
	c.activity++
	e.lastActive = c.activity
}

// deliver performs sends outside the lock. Each send is independent: a
// failure is counted and logged and never stops the remaining deliveries.
func (c *Coordinator) deliver(ctx context.Context, sender relay.ContextID, in relay.Message, out []delivery) {
	for _, d := range out {
		if d.to == sender && in != nil && d.msg.Kind() == in.Kind() {
			c.stats.loopsPrevented.Add(1)
			continue
		}
		if err := d.port.Send(ctx, d.msg); err != nil {
			c.stats.deliveryFailed.Add(1)
			c.logger.Warn("coordinator: delivery failed", "to", d.to, "kind", d.msg.Kind(), "err", err)
			if d.request != "" {
				c.failRequest(ctx, d.request, relay.CodeRouteUnresolved, "capture source unreachable")
			}
			continue
		}
		c.stats.delivered.Add(1)
	}
}

// Close stops every pending timer. Later connects fail.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id := range c.pending {
		c.resolve(id)
	}
}
