package wsport

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/nrednav/cuid2"

	"github.com/onkernel/snaprelay/lib/allowlist"
	"github.com/onkernel/snaprelay/lib/logger"
	"github.com/onkernel/snaprelay/lib/relay"
)

// Registry is the coordinator surface a Handler needs.
type Registry interface {
	Connect(id relay.ContextID, kind relay.ContextKind, port relay.Port) error
	Disconnect(ctx context.Context, id relay.ContextID)
	OnMessage(ctx context.Context, sender relay.ContextID, msg relay.Message)
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Logger   *slog.Logger
	Registry Registry
	// AllowList vets the Origin of webapp connections. Nil accepts any origin.
	AllowList *allowlist.List
	// ExtensionOrigins lists the browser origins (extension pages) trusted to
	// connect as source or panel contexts. Nil trusts none; clients that send
	// no Origin header, such as snapctl, are always accepted for those kinds.
	ExtensionOrigins *allowlist.List
	// NewID mints context ids. Defaults to kind-<cuid2>.
	NewID  func(relay.ContextKind) relay.ContextID
	Outbox int
}

// Handler accepts relay connections at ?kind=source|panel|webapp and
// registers each one as a context for as long as it stays open.
type Handler struct {
	logger     *slog.Logger
	registry   Registry
	allowList  *allowlist.List
	extensions *allowlist.List
	newID      func(relay.ContextKind) relay.ContextID
	outbox     int

	rejected atomic.Uint64
}

// NewHandler creates a relay WebSocket handler.
func NewHandler(opts HandlerOptions) *Handler {
	h := &Handler{
		logger:     opts.Logger,
		registry:   opts.Registry,
		allowList:  opts.AllowList,
		extensions: opts.ExtensionOrigins,
		newID:      opts.NewID,
		outbox:     opts.Outbox,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.newID == nil {
		h.newID = func(kind relay.ContextKind) relay.ContextID {
			return relay.ContextID(string(kind) + "-" + cuid2.Generate())
		}
	}
	return h
}

// Rejected counts connections refused by the origin check.
func (h *Handler) Rejected() uint64 { return h.rejected.Load() }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kind := relay.ContextKind(r.URL.Query().Get("kind"))
	if !kind.Valid() {
		http.Error(w, "kind must be source, panel or webapp", http.StatusBadRequest)
		return
	}
	if origin := r.Header.Get("Origin"); !h.trusted(kind, origin) {
		h.rejected.Add(1)
		h.logger.Debug("wsport: rejected origin", "origin", origin, "kind", kind)
		http.Error(w, relay.ErrOriginRejected.Error(), http.StatusForbidden)
		return
	}

	// Origins were vetted above.
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("wsport: websocket accept failed", "err", err)
		return
	}

	id := h.newID(kind)
	log := h.logger.With("context_id", id, "kind", kind)
	port := NewConn(c, log, h.outbox)
	if err := h.registry.Connect(id, kind, port); err != nil {
		log.Error("wsport: register failed", "err", err)
		port.Close("register failed")
		return
	}

	ctx := logger.AddToContext(r.Context(), log)
	log.Info("wsport: session started")
	err = port.ReadLoop(ctx, func(ctx context.Context, m relay.Message) {
		h.registry.OnMessage(ctx, id, m)
	})
	if err != nil {
		log.Debug("wsport: session read error", "err", err)
	}
	// The request context is gone by now; disconnect still notifies requesters.
	h.registry.Disconnect(context.WithoutCancel(ctx), id)
	port.Close("session ended")
	log.Info("wsport: session ended")
}

// trusted applies the origin rule for kind. Browsers always send an Origin on
// a WebSocket upgrade, so an empty one can only come from a non-browser client.
func (h *Handler) trusted(kind relay.ContextKind, origin string) bool {
	if kind == relay.ContextWebApp {
		return h.allowList == nil || h.allowList.Contains(origin)
	}
	return origin == "" || h.extensions.Contains(origin)
}
