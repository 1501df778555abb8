package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	cfhttp "github.com/GGUFloader/agentcore/internal/adapter/http"
	"github.com/GGUFloader/agentcore/internal/adapter/mcp"
	cfotel "github.com/GGUFloader/agentcore/internal/adapter/otel"
	"github.com/GGUFloader/agentcore/internal/adapter/postgres"
	"github.com/GGUFloader/agentcore/internal/adapter/ws"
	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/middleware"
	"github.com/GGUFloader/agentcore/internal/port/messagequeue"
	"github.com/GGUFloader/agentcore/internal/service"
)

const (
	shutdownTimeout   = 10 * time.Second
	sessionSweepEvery = 10 * time.Minute
	limiterSweepEvery = time.Minute
	limiterMaxIdle    = 10 * time.Minute
)

func runServe(ctx context.Context, cfg *config.Config) error {
	// Nobody can answer confirmation prompts in server mode, so a nil
	// confirmer denies them.
	c, err := newCore(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer c.close(context.Background())

	// --- Event fan-out ---

	hub := ws.NewHub(cfg.Server.CORSOrigin)
	defer hub.Close()

	var queue messagequeue.Queue
	if c.queue != nil {
		queue = c.queue
	}
	relay := service.NewEventRelay(c.bus, hub, queue, c.metrics)
	if c.pool != nil {
		relay.SetArchive(postgres.NewEventStore(c.pool))
	}
	relay.Attach()
	defer relay.Detach()

	// Stream chunks reach WebSocket clients directly; the bus only sees
	// start and finish.
	for _, t := range service.ChunkTypes() {
		c.stream.Register(t, func(ch service.Chunk) {
			hub.BroadcastEvent(context.Background(), ws.EventStreamChunk, ws.StreamChunkEvent{
				Type:     string(ch.Type),
				Content:  ch.Content,
				Metadata: ch.Metadata,
			})
		})
	}

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Pipeline: c.pipeline,
		Events:   c.bus,
		Progress: c.progress,
		Safety:   c.safety,
		Memory:   c.memory,
		Tools:    c.tools,
		Version:  version,
	}

	limiter := middleware.NewRateLimiter(cfg.Server.TurnRate, cfg.Server.TurnBurst)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.SecurityHeaders)
	r.Use(chimw.Recoverer)
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(middleware.APIKey(cfg.Server.APIKey))

	cfhttp.MountRoutes(r, handlers, hub.HandleWS,
		limiter.Handler,
		middleware.Idempotency(c.local, cfg.Server.IdempotencyTTL),
	)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // turns wait on the model
		IdleTimeout:       120 * time.Second,
	}

	// --- MCP ---

	var mcpSrv *mcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = mcp.NewServer(mcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    "agentcore",
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, mcp.ServerDeps{
			Tools:  c.tools,
			Events: c.bus,
			Memory: c.memory,
		})
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		slog.Info("mcp server started", "addr", cfg.MCP.Addr)
	}

	// --- Run ---

	g, gctx := errgroup.WithContext(ctx)
	c.bus.Start(gctx)
	g.Go(func() error { c.progress.Run(gctx); return nil })
	g.Go(func() error { c.context.Run(gctx, sessionSweepEvery); return nil })
	g.Go(func() error { limiter.Run(gctx, limiterSweepEvery, limiterMaxIdle); return nil })
	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		c.pipeline.Stop()
		if mcpSrv != nil {
			if err := mcpSrv.Stop(shutdownCtx); err != nil {
				slog.Warn("mcp shutdown", "error", err)
			}
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		if err := c.bus.Shutdown(shutdownCtx); err != nil {
			slog.Warn("event bus shutdown", "error", err)
		}
		return nil
	})

	return g.Wait()
}
