package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agentcore.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if v := os.Getenv("AGENTCORE_CONFIG"); v != "" {
		path = v
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "AGENTCORE_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTCORE_CORS_ORIGIN")
	setString(&cfg.Server.APIKey, "AGENTCORE_API_KEY")
	setFloat64(&cfg.Server.TurnRate, "AGENTCORE_TURN_RATE")
	setInt(&cfg.Server.TurnBurst, "AGENTCORE_TURN_BURST")
	setDuration(&cfg.Server.IdempotencyTTL, "AGENTCORE_IDEMPOTENCY_TTL")
	setString(&cfg.Logging.Level, "AGENTCORE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTCORE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AGENTCORE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "AGENTCORE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AGENTCORE_BREAKER_TIMEOUT")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.Model, "AGENTCORE_MODEL")
	setDuration(&cfg.LiteLLM.Timeout, "AGENTCORE_MODEL_TIMEOUT")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.KVBucket, "AGENTCORE_NATS_KV_BUCKET")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AGENTCORE_PG_MAX_CONNS")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.MCP.Enabled, "AGENTCORE_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "AGENTCORE_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "AGENTCORE_MCP_API_KEY")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "AGENTCORE_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "AGENTCORE_CACHE_TTL")

	// Agent
	setInt(&cfg.Agent.MaxToolCallsPerTurn, "AGENTCORE_MAX_TOOL_CALLS")
	setFloat64(&cfg.Agent.Temperature, "AGENTCORE_TEMPERATURE")
	setInt(&cfg.Agent.MaxTokens, "AGENTCORE_MAX_TOKENS")
	setString(&cfg.Agent.SystemPrompt, "AGENTCORE_SYSTEM_PROMPT")
	setString(&cfg.Agent.Workspace, "AGENTCORE_WORKSPACE")
	setString(&cfg.Agent.SessionID, "AGENTCORE_SESSION_ID")

	// Events
	setBool(&cfg.Events.AsyncCallbacks, "AGENTCORE_EVENTS_ASYNC")
	setInt(&cfg.Events.MaxQueueSize, "AGENTCORE_EVENTS_QUEUE_SIZE")
	setInt(&cfg.Events.Workers, "AGENTCORE_EVENTS_WORKERS")
	setDuration(&cfg.Events.DrainInterval, "AGENTCORE_EVENTS_DRAIN_INTERVAL")

	// Progress
	setInt(&cfg.Progress.MaxConcurrent, "AGENTCORE_PROGRESS_MAX_CONCURRENT")

	// Safety
	setBool(&cfg.Safety.Enabled, "AGENTCORE_SAFETY_ENABLED")
	setBool(&cfg.Safety.BlockCritical, "AGENTCORE_SAFETY_BLOCK_CRITICAL")
	setBool(&cfg.Safety.RequireConfirmation, "AGENTCORE_SAFETY_REQUIRE_CONFIRMATION")
	setString(&cfg.Safety.RulesDir, "AGENTCORE_SAFETY_RULES_DIR")

	// Memory
	setString(&cfg.Memory.Backend, "AGENTCORE_MEMORY_BACKEND")
	setString(&cfg.Memory.StoragePath, "AGENTCORE_MEMORY_PATH")
	setInt(&cfg.Memory.MaxCompletedTasks, "AGENTCORE_MEMORY_MAX_TASKS")
	setInt(&cfg.Memory.MaxFileModifications, "AGENTCORE_MEMORY_MAX_FILE_MODS")
	setInt(&cfg.Memory.RetentionDays, "AGENTCORE_MEMORY_RETENTION_DAYS")

	// Stream
	setBool(&cfg.Stream.Enabled, "AGENTCORE_STREAM_ENABLED")
	setInt(&cfg.Stream.BufferSize, "AGENTCORE_STREAM_BUFFER_SIZE")

	// Context
	setInt(&cfg.Context.WindowSize, "AGENTCORE_CONTEXT_WINDOW")
	setInt(&cfg.Context.MaxTokens, "AGENTCORE_CONTEXT_MAX_TOKENS")
	setString(&cfg.Context.SessionDir, "AGENTCORE_SESSION_DIR")

	// Tools
	setList(&cfg.Tools.AllowedCommands, "AGENTCORE_ALLOWED_COMMANDS")
	setList(&cfg.Tools.DeniedCommands, "AGENTCORE_DENIED_COMMANDS")
	setDuration(&cfg.Tools.CommandTimeout, "AGENTCORE_COMMAND_TIMEOUT")
	setInt(&cfg.Tools.MaxConcurrent, "AGENTCORE_TOOLS_MAX_CONCURRENT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Agent.MaxToolCallsPerTurn < 1 {
		return errors.New("agent.max_tool_calls_per_turn must be >= 1")
	}
	if cfg.Agent.MaxTokens < 1 {
		return errors.New("agent.max_tokens must be >= 1")
	}
	if cfg.Events.MaxQueueSize < 1 {
		return errors.New("events.max_queue_size must be >= 1")
	}
	if cfg.Events.Workers < 1 {
		return errors.New("events.workers must be >= 1")
	}
	if cfg.Events.DrainInterval <= 0 {
		return errors.New("events.drain_interval must be > 0")
	}
	if cfg.Progress.MaxConcurrent < 1 {
		return errors.New("progress.max_concurrent must be >= 1")
	}
	switch cfg.Memory.Backend {
	case "file", "none":
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for memory.backend postgres")
		}
	default:
		return fmt.Errorf("memory.backend %q is not one of file, postgres, none", cfg.Memory.Backend)
	}
	if cfg.Stream.BufferSize < 1 {
		return errors.New("stream.buffer_size must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
