package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GGUFloader/agentcore/internal/adapter/jsonfile"
	"github.com/GGUFloader/agentcore/internal/adapter/litellm"
	cfnats "github.com/GGUFloader/agentcore/internal/adapter/nats"
	"github.com/GGUFloader/agentcore/internal/adapter/natskv"
	cfotel "github.com/GGUFloader/agentcore/internal/adapter/otel"
	"github.com/GGUFloader/agentcore/internal/adapter/postgres"
	"github.com/GGUFloader/agentcore/internal/adapter/ristretto"
	"github.com/GGUFloader/agentcore/internal/adapter/tiered"
	"github.com/GGUFloader/agentcore/internal/adapter/workspace"
	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/port/cache"
	"github.com/GGUFloader/agentcore/internal/port/confirm"
	"github.com/GGUFloader/agentcore/internal/port/llm"
	"github.com/GGUFloader/agentcore/internal/port/snapshot"
	"github.com/GGUFloader/agentcore/internal/resilience"
	"github.com/GGUFloader/agentcore/internal/service"
)

// core holds the wired services shared by serve and chat.
type core struct {
	cfg *config.Config

	metrics *cfotel.Metrics
	queue   *cfnats.Queue // nil without NATS
	pool    *pgxpool.Pool // nil unless memory.backend is postgres
	local   *ristretto.Cache
	cache   cache.Cache

	bus      *service.EventBus
	progress *service.ProgressTracker
	safety   *service.SafetyGate
	memory   *service.MemoryStore
	context  *service.ContextManager
	stream   *service.StreamBuffer
	tools    *workspace.Registry
	pipeline *service.Pipeline

	closers []func(context.Context) error
}

// newCore connects infrastructure and wires the services. confirmer may
// be nil, in which case operations needing confirmation are denied.
func newCore(ctx context.Context, cfg *config.Config, confirmer confirm.Confirmer) (_ *core, err error) {
	c := &core{cfg: cfg}
	defer func() {
		if err != nil {
			c.close(context.Background())
		}
	}()

	// --- Observability ---

	otelShutdown, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	c.closers = append(c.closers, otelShutdown)

	c.metrics, err = cfotel.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	c.local, err = ristretto.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	c.closers = append(c.closers, func(context.Context) error { c.local.Close(); return nil })
	c.cache = c.local

	if cfg.NATS.URL != "" {
		c.queue, err = cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return c.queue.Drain() })
		slog.Info("nats connected", "url", cfg.NATS.URL)

		shared, kvErr := natskv.Open(ctx, c.queue.JetStream(), cfg.NATS.KVBucket, cfg.Cache.TTL)
		if kvErr != nil {
			slog.Warn("shared confirmation cache unavailable", "bucket", cfg.NATS.KVBucket, "error", kvErr)
		} else {
			c.cache = tiered.New(c.local, shared, cfg.Cache.TTL)
		}
	}

	if cfg.Memory.Backend == "postgres" {
		c.pool, err = postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { c.pool.Close(); return nil })
		slog.Info("postgres connected")

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("migrations applied")
	}

	// --- Services ---

	c.bus = service.NewEventBus(cfg.Events)
	c.progress = service.NewProgressTracker(cfg.Progress, c.bus)

	c.safety = service.NewSafetyGate(cfg.Safety, c.cache, cfg.Cache.TTL, confirmer, c.bus)
	if cfg.Safety.RulesDir != "" {
		n, err := c.safety.LoadRulesDir(cfg.Safety.RulesDir)
		if err != nil {
			return nil, fmt.Errorf("safety rules: %w", err)
		}
		slog.Info("custom safety rules loaded", "count", n, "dir", cfg.Safety.RulesDir)
	}

	sb, err := workspace.NewSandbox(cfg.Agent.Workspace)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}

	memStore, err := c.memorySnapshots(sb.Root())
	if err != nil {
		return nil, err
	}
	c.memory = service.NewMemoryStore(cfg.Memory, memStore, c.bus)
	if err := c.memory.Load(ctx); err != nil {
		slog.Warn("memory persistence disabled", "error", err)
	}

	c.context = service.NewContextManager(cfg.Context, c.sessionStore(), c.bus)
	c.stream = service.NewStreamBuffer(cfg.Stream, c.bus)

	c.tools = workspace.NewRegistry(sb, cfg.Tools, workspace.Options{
		Validator: c.safety,
		Recorder:  c.memory,
	})
	c.tools.SetSession(cfg.Agent.SessionID)

	agentCfg := cfg.Agent
	agentCfg.Workspace = sb.Root()
	c.pipeline = service.NewPipeline(agentCfg, service.PipelineDeps{
		Model:    c.model(),
		Tools:    c.tools,
		Events:   c.bus,
		Progress: c.progress,
		Memory:   c.memory,
		Context:  c.context,
		Stream:   c.stream,
		Prompts:  service.NewPromptBuilder(cfg.Tools, agentCfg),
		Metrics:  c.metrics,
	})

	slog.Info("core ready",
		"workspace", sb.Root(),
		"session", agentCfg.SessionID,
		"nats", c.queue != nil,
		"postgres", c.pool != nil,
		"model", cfg.LiteLLM.Model,
	)
	return c, nil
}

// model returns the LLM client, or nil when no endpoint is configured.
func (c *core) model() llm.Model {
	if c.cfg.LiteLLM.URL == "" {
		slog.Warn("no model endpoint configured, turns will fail until one is set")
		return nil
	}
	client := litellm.NewClient(c.cfg.LiteLLM)
	client.SetBreaker(resilience.NewBreaker(c.cfg.Breaker.MaxFailures, c.cfg.Breaker.Timeout))
	return client
}

// memorySnapshots picks the snapshot backend. root is the resolved workspace
// path, so postgres rows keep the same key across restarts.
func (c *core) memorySnapshots(root string) (snapshot.Store, error) {
	switch c.cfg.Memory.Backend {
	case "none":
		return nil, nil
	case "postgres":
		return postgres.NewSnapshotStore(c.pool, root), nil
	default:
		return jsonfile.NewStore(c.cfg.Memory.StoragePath), nil
	}
}

func (c *core) sessionStore() snapshot.SessionStore {
	if c.pool != nil {
		return postgres.NewSessionStore(c.pool)
	}
	return jsonfile.NewSessionStore(c.cfg.Context.SessionDir)
}

// close releases resources in reverse order of acquisition.
func (c *core) close(ctx context.Context) {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			slog.Warn("shutdown step failed", "error", err)
		}
	}
	c.closers = nil
}
