package crosstab

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 10 * time.Second

	// maxPayload bounds one cross-tab message; captures are data URLs.
	maxPayload = 8 << 20
)

// ServerOptions configures a Server.
type ServerOptions struct {
	Logger *slog.Logger
	// Hub holds the channels WebSocket clients join. Required.
	Hub *Hub
	// Upstream, when set, extends every channel past this process: the server
	// pipes each active channel name through one upstream membership.
	Upstream Opener
	// CheckOrigin vets the browser Origin header. Nil accepts any origin.
	CheckOrigin func(origin string) bool
}

// Server exposes Hub channels over WebSocket at a chi route with a
// {channel} parameter. Each connection is one channel member.
type Server struct {
	logger   *slog.Logger
	hub      *Hub
	upstream Opener
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	bridged map[string]struct{}

	clientsTotal   atomic.Uint64
	clientsCurrent atomic.Int64
}

// NewServer creates a Server.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger:   logger,
		hub:      hub,
		upstream: opts.Upstream,
		ctx:      ctx,
		cancel:   cancel,
		bridged:  make(map[string]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			if opts.CheckOrigin == nil {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || opts.CheckOrigin(origin)
		},
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "channel")
	if err := ValidName(name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("crosstab: upgrade failed", "err", err)
		return
	}
	s.ensureUpstream(name)

	m, err := s.hub.Open(r.Context(), name)
	if err != nil {
		_ = conn.Close()
		return
	}
	s.clientsTotal.Add(1)
	s.clientsCurrent.Add(1)
	s.logger.Info("crosstab: client joined", "channel", name, "addr", conn.RemoteAddr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writeLoop(conn, m)
	}()
	s.readLoop(conn, m)

	_ = m.Close()
	_ = conn.Close()
	s.clientsCurrent.Add(-1)
	s.logger.Info("crosstab: client left", "channel", name)
}

func (s *Server) readLoop(conn *websocket.Conn, m Channel) {
	conn.SetReadLimit(maxPayload)
	_ = conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("crosstab: read error", "err", err)
			}
			return
		}
		if err := m.Publish(s.ctx, data); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, m Channel) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			_ = conn.Close()
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case payload, ok := <-m.Messages():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Debug("crosstab: write error", "err", err)
				_ = conn.Close()
				return
			}
		}
	}
}

// ensureUpstream starts piping name through the upstream opener once.
func (s *Server) ensureUpstream(name string) {
	if s.upstream == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bridged[name]; ok {
		return
	}
	up, err := s.upstream.Open(s.ctx, name)
	if err != nil {
		s.logger.Warn("crosstab: upstream open failed", "channel", name, "err", err)
		return
	}
	local, err := s.hub.Open(s.ctx, name)
	if err != nil {
		_ = up.Close()
		return
	}
	s.bridged[name] = struct{}{}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := Pipe(s.ctx, local, up); err != nil {
			s.logger.Warn("crosstab: upstream pipe stopped", "channel", name, "err", err)
		}
		_ = local.Close()
		_ = up.Close()
		s.mu.Lock()
		delete(s.bridged, name)
		s.mu.Unlock()
	}()
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int64 { return s.clientsCurrent.Load() }

// Stats returns server counters.
func (s *Server) Stats() map[string]uint64 {
	return map[string]uint64{
		"clients_total":   s.clientsTotal.Load(),
		"clients_current": uint64(s.clientsCurrent.Load()),
		"published":       s.hub.Published(),
		"dropped":         s.hub.Dropped(),
	}
}

// Close disconnects every client and stops upstream pipes.
func (s *Server) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}
