package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GGUFloader/agentcore/internal/domain/event"
)

// EventStore archives bus events (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts ev. Re-appending the same event id is a no-op.
func (s *EventStore) Append(ctx context.Context, ev event.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO agent_events (id, event_type, source, priority, data, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.Type.String(), ev.Source, ev.Priority, data, meta, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Recent returns up to limit archived events, newest first. A zero type
// matches every event.
func (s *EventStore) Recent(ctx context.Context, t event.Type, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, event_type, source, priority, data, metadata, created_at FROM agent_events`
	args := []any{}
	if !t.IsZero() {
		q += ` WHERE event_type = $1`
		args = append(args, t.String())
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var (
			ev         event.Event
			typ        string
			data, meta []byte
		)
		if err := rows.Scan(&ev.ID, &typ, &ev.Source, &ev.Priority, &data, &meta, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = event.Parse(typ)
		if err := json.Unmarshal(data, &ev.Data); err != nil {
			return nil, fmt.Errorf("decode event data: %w", err)
		}
		if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("decode event metadata: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
