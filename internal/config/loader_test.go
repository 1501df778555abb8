package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Agent.MaxToolCallsPerTurn != 5 {
		t.Errorf("expected 5 tool calls per turn, got %d", cfg.Agent.MaxToolCallsPerTurn)
	}
	if cfg.Events.DrainInterval != 100*time.Millisecond {
		t.Errorf("expected drain interval 100ms, got %v", cfg.Events.DrainInterval)
	}
	if cfg.Events.Workers != 4 {
		t.Errorf("expected 4 event workers, got %d", cfg.Events.Workers)
	}
	if cfg.Memory.RetentionDays != 7 {
		t.Errorf("expected retention 7 days, got %d", cfg.Memory.RetentionDays)
	}
	if cfg.Progress.Retention != 5*time.Minute {
		t.Errorf("expected progress retention 5m, got %v", cfg.Progress.Retention)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
agent:
  max_tool_calls_per_turn: 3
  workspace: "/srv/ws"
logging:
  level: "debug"
tools:
  allowed_commands: ["ls", "cat"]
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Agent.MaxToolCallsPerTurn != 3 {
		t.Errorf("expected 3 tool calls, got %d", cfg.Agent.MaxToolCallsPerTurn)
	}
	if cfg.Agent.Workspace != "/srv/ws" {
		t.Errorf("expected workspace /srv/ws, got %s", cfg.Agent.Workspace)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	if len(cfg.Tools.AllowedCommands) != 2 {
		t.Errorf("expected 2 allowed commands, got %v", cfg.Tools.AllowedCommands)
	}
	// Unchanged fields keep defaults
	if cfg.Agent.MaxTokens != 2048 {
		t.Errorf("expected default max tokens, got %d", cfg.Agent.MaxTokens)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err == nil {
		t.Error("expected parse error for invalid YAML")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("AGENTCORE_PORT", "7070")
	t.Setenv("AGENTCORE_LOG_LEVEL", "warn")
	t.Setenv("AGENTCORE_BREAKER_TIMEOUT", "1m")
	t.Setenv("AGENTCORE_TEMPERATURE", "0.7")
	t.Setenv("AGENTCORE_EVENTS_ASYNC", "false")
	t.Setenv("AGENTCORE_ALLOWED_COMMANDS", "ls, cat ,")
	t.Setenv("NATS_URL", "nats://nats:4222")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Agent.Temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", cfg.Agent.Temperature)
	}
	if cfg.Events.AsyncCallbacks {
		t.Error("expected async callbacks disabled")
	}
	if len(cfg.Tools.AllowedCommands) != 2 || cfg.Tools.AllowedCommands[1] != "cat" {
		t.Errorf("expected [ls cat], got %v", cfg.Tools.AllowedCommands)
	}
	if cfg.NATS.URL != "nats://nats:4222" {
		t.Errorf("expected NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestEnvOverrideIgnoresMalformed(t *testing.T) {
	cfg := Defaults()
	t.Setenv("AGENTCORE_MAX_TOOL_CALLS", "many")
	t.Setenv("AGENTCORE_COMMAND_TIMEOUT", "soon")

	loadEnv(&cfg)

	if cfg.Agent.MaxToolCallsPerTurn != 5 {
		t.Errorf("malformed int should keep default, got %d", cfg.Agent.MaxToolCallsPerTurn)
	}
	if cfg.Tools.CommandTimeout != 30*time.Second {
		t.Errorf("malformed duration should keep default, got %v", cfg.Tools.CommandTimeout)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "zero tool calls",
			modify: func(c *Config) { c.Agent.MaxToolCallsPerTurn = 0 },
			errMsg: "agent.max_tool_calls_per_turn must be >= 1",
		},
		{
			name:   "zero queue",
			modify: func(c *Config) { c.Events.MaxQueueSize = 0 },
			errMsg: "events.max_queue_size must be >= 1",
		},
		{
			name:   "zero workers",
			modify: func(c *Config) { c.Events.Workers = 0 },
			errMsg: "events.workers must be >= 1",
		},
		{
			name:   "postgres without dsn",
			modify: func(c *Config) { c.Memory.Backend = "postgres"; c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required for memory.backend postgres",
		},
		{
			name:   "unknown backend",
			modify: func(c *Config) { c.Memory.Backend = "redis" },
			errMsg: `memory.backend "redis" is not one of file, postgres, none`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadFromFullHierarchy(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
server:
  port: "9090"
logging:
  level: "debug"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AGENTCORE_PORT", "7070")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("env should override YAML: got port %q, want 7070", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("YAML should override defaults: got level %q, want debug", cfg.Logging.Level)
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags([]string{"--port", "9090", "--log-level", "debug"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "9090" {
		t.Errorf("expected port 9090, got %v", flags.Port)
	}
	if flags.LogLevel == nil || *flags.LogLevel != "debug" {
		t.Errorf("expected log-level debug, got %v", flags.LogLevel)
	}
	if flags.Workspace != nil {
		t.Errorf("expected nil workspace, got %v", *flags.Workspace)
	}
	if flags.ConfigPath != nil {
		t.Errorf("expected nil config path, got %v", *flags.ConfigPath)
	}
}

func TestParseFlagsShorthand(t *testing.T) {
	flags, err := ParseFlags([]string{"-p", "7070", "-c", "custom.yaml"})
	if err != nil {
		t.Fatal(err)
	}
	if flags.Port == nil || *flags.Port != "7070" {
		t.Errorf("expected port 7070, got %v", flags.Port)
	}
	if flags.ConfigPath == nil || *flags.ConfigPath != "custom.yaml" {
		t.Errorf("expected config custom.yaml, got %v", flags.ConfigPath)
	}
}

func TestParseFlagsInvalid(t *testing.T) {
	if _, err := ParseFlags([]string{"--unknown-flag"}); err == nil {
		t.Error("expected error for unknown flag, got nil")
	}
}

func TestCLIOverridesEnv(t *testing.T) {
	t.Setenv("AGENTCORE_PORT", "7070")
	t.Setenv("AGENTCORE_WORKSPACE", "/env/ws")

	dir := t.TempDir()
	flags, err := ParseFlags([]string{
		"--port", "3333",
		"--workspace", "/cli/ws",
		"--config", filepath.Join(dir, "absent.yaml"),
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg, _, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "3333" {
		t.Errorf("expected CLI port 3333 to override ENV 7070, got %s", cfg.Server.Port)
	}
	if cfg.Agent.Workspace != "/cli/ws" {
		t.Errorf("expected CLI workspace, got %s", cfg.Agent.Workspace)
	}
}
