package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/GGUFloader/agentcore/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// EventStreamChunk carries flushed stream buffer chunks. Bus events use
// their own type string.
const EventStreamChunk = "stream_chunk"

// StreamChunkEvent is the payload of EventStreamChunk.
type StreamChunkEvent struct {
	Type     string         `json:"chunk_type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// BroadcastEvent marshals payload and broadcasts it as eventType.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
