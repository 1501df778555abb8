package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	cfnats "github.com/GGUFloader/agentcore/internal/adapter/nats"
	"github.com/GGUFloader/agentcore/internal/adapter/postgres"
	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/domain/event"
	"github.com/GGUFloader/agentcore/internal/port/messagequeue"
)

// runEvents implements "events tail [type]" over NATS and
// "events recent [type] [limit]" over the postgres archive.
func runEvents(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("events: want tail or recent")
	}
	switch args[0] {
	case "tail":
		return tailEvents(ctx, cfg, args[1:], out)
	case "recent":
		return recentEvents(ctx, cfg, args[1:], out)
	}
	return fmt.Errorf("events: unknown subcommand %q", args[0])
}

func tailEvents(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	if cfg.NATS.URL == "" {
		return errors.New("events tail needs nats.url")
	}
	subject := messagequeue.SubjectAllEvents
	if len(args) > 0 {
		subject = messagequeue.EventSubject(args[0])
	}

	queue, err := cfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	cancel, err := queue.Subscribe(ctx, subject, func(_ context.Context, _ string, data []byte) error {
		var p messagequeue.EventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		return printEvent(out, p.Timestamp, p.EventType, p.Source, p.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	defer cancel()

	slog.Info("tailing events", "subject", subject)
	<-ctx.Done()
	return nil
}

func recentEvents(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	if cfg.Postgres.DSN == "" {
		return errors.New("events recent needs postgres.dsn")
	}
	var typ event.Type
	limit := 50
	for _, a := range args {
		if n, err := strconv.Atoi(a); err == nil {
			limit = n
			continue
		}
		typ = event.Parse(a)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	evs, err := postgres.NewEventStore(pool).Recent(ctx, typ, limit)
	if err != nil {
		return err
	}
	// oldest first, like tail
	for i := len(evs) - 1; i >= 0; i-- {
		e := evs[i]
		if err := printEvent(out, e.Timestamp, e.Type.String(), e.Source, e.Data); err != nil {
			return err
		}
	}
	return nil
}

func printEvent(out io.Writer, ts time.Time, typ, source string, data map[string]any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s %-28s %-18s %s\n", ts.Local().Format("15:04:05.000"), typ, source, body)
	return err
}
