package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const usage = `agentcore runs an agent turn pipeline over a sandboxed workspace.

Usage:
  agentcore [serve] [flags]        start the HTTP, WebSocket and MCP servers
  agentcore chat [flags]           interactive session in the terminal
  agentcore events tail [flags]    print events mirrored to NATS
  agentcore migrate up|down N|status [flags]
  agentcore version

Flags:
  -c, --config PATH     YAML config file (default agentcore.yaml)
  -p, --port PORT       HTTP listen port
      --log-level LVL   debug, info, warn or error
      --workspace DIR   workspace root for agent tools
      --model-url URL   OpenAI-compatible model endpoint
      --nats-url URL    NATS server URL
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cmd, rest := splitCommand(args)
	switch cmd {
	case "help":
		fmt.Print(usage)
		return nil
	case "version":
		fmt.Println("agentcore", version)
		return nil
	case "serve", "chat", "events", "migrate":
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}

	// Subcommands take positional arguments before the flags.
	var positional []string
	for len(rest) > 0 && len(rest[0]) > 0 && rest[0][0] != '-' {
		positional = append(positional, rest[0])
		rest = rest[1:]
	}

	flags, err := config.ParseFlags(rest)
	if err != nil {
		return err
	}
	cfg, path, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// chat owns stdout; its logs go to stderr and default to warn.
	var log *slog.Logger
	var closer logger.Closer
	if cmd == "chat" {
		if cfg.Logging.Level != "debug" {
			cfg.Logging.Level = "warn"
		}
		log, closer = logger.NewWithWriter(cfg.Logging, os.Stderr)
	} else {
		log, closer = logger.New(cfg.Logging)
	}
	defer closer.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"command", cmd,
		"config", path,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"workspace", cfg.Agent.Workspace,
		"memory_backend", cfg.Memory.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		return runServe(ctx, cfg)
	case "chat":
		return runChat(ctx, cfg, os.Stdin, os.Stdout)
	case "events":
		return runEvents(ctx, cfg, positional, os.Stdout)
	default:
		return runMigrate(ctx, cfg, positional, os.Stdout)
	}
}

// splitCommand returns the subcommand and the remaining arguments. Leading
// flags or no arguments at all select serve.
func splitCommand(args []string) (string, []string) {
	if len(args) == 0 {
		return "serve", nil
	}
	switch args[0] {
	case "serve", "chat", "events", "migrate", "help", "version":
		return args[0], args[1:]
	case "-h", "--help", "-help":
		return "help", nil
	}
	if args[0] != "" && args[0][0] == '-' {
		return "serve", args
	}
	return args[0], args[1:]
}
