package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/onkernel/snaprelay/cmd/config"
	"github.com/onkernel/snaprelay/lib/coordinator"
	"github.com/onkernel/snaprelay/lib/crosstab"
	"github.com/onkernel/snaprelay/lib/health"
	"github.com/onkernel/snaprelay/lib/logger"
	"github.com/onkernel/snaprelay/lib/wsport"
)

func main() {
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Load configuration from environment variables
	config, err := config.Load()
	if err != nil {
		slogger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	level, _ := logger.ParseLevel(config.LogLevel)
	slogger = logger.New(os.Stdout, level)
	slogger.Info("server configuration", "config", config)

	allowList, err := config.AllowList()
	if err != nil {
		slogger.Error("invalid allow-list", "err", err)
		os.Exit(1)
	}
	extensions, err := config.ExtensionList()
	if err != nil {
		slogger.Error("invalid extension origins", "err", err)
		os.Exit(1)
	}

	// context cancellation on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord := coordinator.New(coordinator.Options{
		Logger:         slogger.With("component", "coordinator"),
		RequestTimeout: config.RequestTimeout,
	})

	var gossip *crosstab.Gossip
	var upstream crosstab.Opener
	if config.CrossTabP2P {
		gossip, err = crosstab.NewGossip(ctx, crosstab.GossipOptions{
			Logger:      slogger.With("component", "gossip"),
			ListenAddrs: config.P2PListenAddrs,
			Bootstrap:   config.P2PBootstrap,
			Level:       config.P2PCompression,
		})
		if err != nil {
			slogger.Error("failed to start cross-tab gossip", "err", err)
			os.Exit(1)
		}
		upstream = gossip
		slogger.Info("cross-tab gossip started", "peer_id", gossip.PeerID(), "addrs", gossip.ListenAddrs())
	}
	tabs := crosstab.NewServer(crosstab.ServerOptions{
		Logger:      slogger.With("component", "crosstab"),
		Hub:         crosstab.NewHub(0),
		Upstream:    upstream,
		CheckOrigin: allowList.Contains,
	})
	relayHandler := wsport.NewHandler(wsport.HandlerOptions{
		Logger:           slogger.With("component", "wsport"),
		Registry:         coord,
		AllowList:        allowList,
		ExtensionOrigins: extensions,
		NewID:            coordinator.NewContextID,
		Outbox:           config.Outbox,
	})

	reg := health.NewRegistry(slogger, "snaprelay")
	reg.RegisterCheck("source", func() (health.Status, string) {
		if coord.HasSource() {
			return health.StatusHealthy, "capture source connected"
		}
		return health.StatusDegraded, "no capture source connected"
	})
	reg.RegisterStats("coordinator", func() any { return coord.Stats() })
	reg.RegisterStats("crosstab", func() any { return tabs.Stats() })
	reg.RegisterStats("relay", func() any {
		return map[string]uint64{"rejected_origins": relayHandler.Rejected()}
	})
	if gossip != nil {
		reg.RegisterStats("gossip", func() any {
			return map[string]int{"peers": len(gossip.Peers())}
		})
	}

	r := chi.NewRouter()
	r.Use(
		chiMiddleware.Logger,
		chiMiddleware.Recoverer,
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxWithLogger := logger.AddToContext(r.Context(), slogger)
				next.ServeHTTP(w, r.WithContext(ctxWithLogger))
			})
		},
	)
	r.Handle("/relay/ws", relayHandler)
	r.Handle("/crosstab/{channel}", tabs)
	r.Get("/contexts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, coord.Contexts())
	})
	reg.Mount(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: r,
	}

	go func() {
		slogger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slogger.Error("http server failed", "err", err)
			stop()
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	slogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	g, _ := errgroup.WithContext(shutdownCtx)

	g.Go(func() error {
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return tabs.Close()
	})

	if err := g.Wait(); err != nil {
		slogger.Error("server failed to shutdown", "err", err)
	}
	coord.Close()
	if gossip != nil {
		if err := gossip.Close(); err != nil {
			slogger.Error("gossip failed to shutdown", "err", err)
		}
	}
}
