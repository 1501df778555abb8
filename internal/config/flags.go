package config

import (
	"flag"
	"fmt"
)

// CLIFlags holds command-line overrides. Nil fields were not set on the
// command line and leave the loaded value untouched.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	Workspace  *string
	ModelURL   *string
	NatsURL    *string
}

// ParseFlags parses args into CLIFlags. Only flags that were explicitly
// passed are populated.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("agentcore", flag.ContinueOnError)

	configPath := fs.String("config", "", "path to YAML config file")
	fs.StringVar(configPath, "c", "", "shorthand for --config")
	port := fs.String("port", "", "HTTP listen port")
	fs.StringVar(port, "p", "", "shorthand for --port")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	workspace := fs.String("workspace", "", "workspace root for agent tools")
	modelURL := fs.String("model-url", "", "OpenAI-compatible model endpoint")
	natsURL := fs.String("nats-url", "", "NATS server URL")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var out CLIFlags
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			out.ConfigPath = configPath
		case "port", "p":
			out.Port = port
		case "log-level":
			out.LogLevel = logLevel
		case "workspace":
			out.Workspace = workspace
		case "model-url":
			out.ModelURL = modelURL
		case "nats-url":
			out.NatsURL = natsURL
		}
	})
	return out, nil
}

// LoadWithCLI loads configuration with the full hierarchy
// defaults < YAML < ENV < CLI and returns the YAML path that was used.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil && *flags.ConfigPath != "" {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.Workspace != nil {
		cfg.Agent.Workspace = *flags.Workspace
	}
	if flags.ModelURL != nil {
		cfg.LiteLLM.URL = *flags.ModelURL
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
}
