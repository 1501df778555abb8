// Package mcp exposes the workspace tools and core state over the Model
// Context Protocol (streamable HTTP transport).
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/GGUFloader/agentcore/internal/domain/event"
	"github.com/GGUFloader/agentcore/internal/domain/memory"
	"github.com/GGUFloader/agentcore/internal/port/toolexec"
)

// EndpointPath is the HTTP path the MCP transport is mounted on.
const EndpointPath = "/mcp"

// ServerConfig holds the MCP server settings.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
}

// EventReader reads the event history.
type EventReader interface {
	History(f event.Filter) []event.Event
}

// MemoryStatsReader reports memory store statistics.
type MemoryStatsReader interface {
	Stats() memory.Stats
}

// ServerDeps are the collaborators the MCP server reads from. Nil fields
// disable the tools or resources that need them.
type ServerDeps struct {
	Tools  toolexec.Registry
	Events EventReader
	Memory MemoryStatsReader
}

// Server is an MCP server bound to the agent core.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	httpSrv   *http.Server
}

// NewServer creates the server and registers its tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	if cfg.Name == "" {
		cfg.Name = "agentcore"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the HTTP handler serving the MCP endpoint, wrapped in
// API key auth when a key is configured.
func (s *Server) Handler() http.Handler {
	streamable := mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithEndpointPath(EndpointPath),
	)
	mux := http.NewServeMux()
	mux.Handle(EndpointPath, streamable)
	return AuthMiddleware(s.cfg.APIKey, mux)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	slog.Info("mcp server started", "addr", ln.Addr().String(), "auth", s.cfg.APIKey != "")
	return nil
}

// Stop shuts the HTTP listener down. It is a no-op if Start was not called.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	slog.Info("mcp server stopping")
	return s.httpSrv.Shutdown(ctx)
}
