package coordinator

import (
	"context"
	"time"

	"github.com/nrednav/cuid2"

	"github.com/onkernel/snaprelay/lib/relay"
)

// pendingRequest is a request forwarded to a source and not yet answered.
// It is keyed by a correlation id the coordinator minted; the source only
// ever sees that id.
type pendingRequest struct {
	kind      relay.Kind
	requester relay.ContextID
	// clientID is the id the requester chose. Only replies to the requester carry it.
	clientID string
	target   relay.ContextID
	created  time.Time
	timer    *time.Timer
}

// requestKey identifies a request as its requester named it. Two requesters
// may use the same id without colliding.
type requestKey struct {
	requester relay.ContextID
	id        string
}

// track records a pending request and returns its correlation id. Must be
// called with c.mu held.
func (c *Coordinator) track(kind relay.Kind, requester relay.ContextID, clientID string, target relay.ContextID) string {
	corr := cuid2.Generate()
	p := &pendingRequest{
		kind:      kind,
		requester: requester,
		clientID:  clientID,
		target:    target,
		created:   time.Now(),
	}
	if c.timeout > 0 {
		p.timer = time.AfterFunc(c.timeout, func() { c.expire(corr) })
	}
	c.pending[corr] = p
	c.inflight[requestKey{requester: requester, id: clientID}] = corr
	return corr
}

// resolve removes a pending request and stops its timer. Must be called with c.mu held.
func (c *Coordinator) resolve(corr string) *pendingRequest {
	p, ok := c.pending[corr]
	if !ok {
		return nil
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(c.pending, corr)
	delete(c.inflight, requestKey{requester: p.requester, id: p.clientID})
	return p
}

// expire turns a request that never got a reply into an error for its requester.
func (c *Coordinator) expire(corr string) {
	c.failRequest(context.Background(), corr, relay.CodeTimeout, relay.ErrRequestTimeout.Error())
}

// failRequest resolves a pending request with an error report. It is a no-op
// when the request was already answered, so a request never gets two replies.
func (c *Coordinator) failRequest(ctx context.Context, corr string, code relay.ErrorCode, message string) {
	c.mu.Lock()
	p := c.resolve(corr)
	if p == nil {
		c.mu.Unlock()
		return
	}
	if code == relay.CodeTimeout {
		c.stats.timeouts.Add(1)
		c.logger.Warn("coordinator: request timed out", "request_id", p.clientID, "kind", p.kind, "requester", p.requester, "age", time.Since(p.created))
	}
	requester := c.endpoints[p.requester]
	c.mu.Unlock()

	if requester == nil {
		return
	}
	report := relay.ErrorReport{ID: p.clientID, Code: code, Message: message}
	if err := requester.port.Send(ctx, report); err != nil {
		c.stats.deliveryFailed.Add(1)
		c.logger.Warn("coordinator: delivery failed", "to", requester.id, "kind", report.Kind(), "err", err)
		return
	}
	c.stats.delivered.Add(1)
}
