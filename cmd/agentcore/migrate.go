package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/GGUFloader/agentcore/internal/adapter/postgres"
	"github.com/GGUFloader/agentcore/internal/config"
)

// runMigrate applies, rolls back or reports the postgres schema version.
func runMigrate(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	if cfg.Postgres.DSN == "" {
		return errors.New("migrate needs postgres.dsn")
	}
	action := "up"
	if len(args) > 0 {
		action = args[0]
	}

	switch action {
	case "up":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("migrate down: invalid step count %q", args[1])
			}
			steps = n
		}
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, steps); err != nil {
			return err
		}
	case "status":
	default:
		return fmt.Errorf("migrate: unknown action %q (want up, down or status)", action)
	}

	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "schema version %d\n", v)
	return nil
}
