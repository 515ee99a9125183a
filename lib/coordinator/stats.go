package coordinator

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/onkernel/snaprelay/lib/relay"
)

type counters struct {
	routed              atomic.Uint64
	delivered           atomic.Uint64
	deliveryFailed      atomic.Uint64
	routeUnresolved     atomic.Uint64
	droppedUnknown      atomic.Uint64
	droppedMisdirected  atomic.Uint64
	droppedUnregistered atomic.Uint64
	unmatched           atomic.Uint64
	lateReplies         atomic.Uint64
	timeouts            atomic.Uint64
	loopsPrevented      atomic.Uint64
}

// Stats is a point-in-time view of the coordinator's counters.
type Stats struct {
	Sources             int    `json:"sources"`
	Panels              int    `json:"panels"`
	WebApps             int    `json:"webapps"`
	Pending             int    `json:"pending"`
	Routed              uint64 `json:"routed"`
	Delivered           uint64 `json:"delivered"`
	DeliveryFailed      uint64 `json:"delivery_failed"`
	RouteUnresolved     uint64 `json:"route_unresolved"`
	DroppedUnknown      uint64 `json:"dropped_unknown"`
	DroppedMisdirected  uint64 `json:"dropped_misdirected"`
	DroppedUnregistered uint64 `json:"dropped_unregistered"`
	Unmatched           uint64 `json:"unmatched"`
	LateReplies         uint64 `json:"late_replies"`
	Timeouts            uint64 `json:"timeouts"`
	LoopsPrevented      uint64 `json:"loops_prevented"`
}

// Stats returns the current counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	s := Stats{Pending: len(c.pending)}
	for _, e := range c.endpoints {
		switch e.kind {
		case relay.ContextSource:
			s.Sources++
		case relay.ContextPanel:
			s.Panels++
		case relay.ContextWebApp:
			s.WebApps++
		}
	}
	c.mu.Unlock()

	s.Routed = c.stats.routed.Load()
	s.Delivered = c.stats.delivered.Load()
	s.DeliveryFailed = c.stats.deliveryFailed.Load()
	s.RouteUnresolved = c.stats.routeUnresolved.Load()
	s.DroppedUnknown = c.stats.droppedUnknown.Load()
	s.DroppedMisdirected = c.stats.droppedMisdirected.Load()
	s.DroppedUnregistered = c.stats.droppedUnregistered.Load()
	s.Unmatched = c.stats.unmatched.Load()
	s.LateReplies = c.stats.lateReplies.Load()
	s.Timeouts = c.stats.timeouts.Load()
	s.LoopsPrevented = c.stats.loopsPrevented.Load()
	return s
}

// ContextInfo describes one registered context.
type ContextInfo struct {
	ID          relay.ContextID   `json:"id"`
	Kind        relay.ContextKind `json:"kind"`
	ConnectedAt time.Time         `json:"connected_at"`
	// Current marks the source that receives capture and seek commands.
	Current bool `json:"current,omitempty"`
}

// Contexts lists registered contexts in connection order.
func (c *Coordinator) Contexts() []ContextInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.currentSource()
	return lo.Map(c.sorted(), func(e *endpoint, _ int) ContextInfo {
		return ContextInfo{
			ID:          e.id,
			Kind:        e.kind,
			ConnectedAt: e.connectedAt,
			Current:     current != nil && e.id == current.id,
		}
	})
}

// HasSource reports whether any source context is connected.
func (c *Coordinator) HasSource() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSource() != nil
}

// sorted returns endpoints ordered by connection time. Must be called with c.mu held.
func (c *Coordinator) sorted() []*endpoint {
	out := lo.Values(c.endpoints)
	sort.Slice(out, func(i, j int) bool {
		if out[i].connectedAt.Equal(out[j].connectedAt) {
			return out[i].id < out[j].id
		}
		return out[i].connectedAt.Before(out[j].connectedAt)
	})
	return out
}
