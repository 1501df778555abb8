package mcp

import (
	"context"
	"encoding/json"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/GGUFloader/agentcore/internal/domain/event"
)

const (
	recentEventsURI = "agentcore://events/recent"
	memoryStatsURI  = "agentcore://memory/stats"

	// recentEventsWindow bounds the events resource.
	recentEventsWindow = time.Hour
	recentEventsLimit  = 100
)

// registerResources registers the read-only state resources.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			recentEventsURI,
			"Recent Events",
			mcplib.WithResourceDescription("Events emitted on the agent bus during the last hour"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentEvents,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			memoryStatsURI,
			"Memory Statistics",
			mcplib.WithResourceDescription("Completed task and file modification counts"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleMemoryStats,
	)
}

func (s *Server) handleRecentEvents(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Events == nil {
		return jsonContents(req.Params.URI, `{"error":"event history not configured"}`), nil
	}
	events := s.deps.Events.History(event.Filter{Since: time.Now().Add(-recentEventsWindow)})
	if len(events) > recentEventsLimit {
		events = events[len(events)-recentEventsLimit:]
	}
	data, err := json.Marshal(events)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, string(data)), nil
}

func (s *Server) handleMemoryStats(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Memory == nil {
		return jsonContents(req.Params.URI, `{"error":"memory store not configured"}`), nil
	}
	data, err := json.Marshal(s.deps.Memory.Stats())
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, string(data)), nil
}

func jsonContents(uri, text string) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     text,
		},
	}
}
