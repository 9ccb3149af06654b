package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"qcline/internal/config"
	"qcline/internal/db"
	"qcline/internal/engine"
	"qcline/internal/events"
	"qcline/internal/migrate"
)

const OwnerRole = "admin"

// Open opens the workspace database, applies migrations, loads qc.yml (or the
// built-in default) and returns a ready engine. Callers close e.DB.
func Open(ctx context.Context, workspace string, logger *slog.Logger) (engine.Engine, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return engine.Engine{}, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOrDefault(workspace)
	if err != nil {
		conn.Close()
		return engine.Engine{}, err
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		conn.Close()
		return engine.Engine{}, err
	}
	if logger != nil {
		e.Logger = logger
	}
	return e, nil
}

// SeedOwner grants the admin role to actorID when nobody holds any role yet,
// so a fresh workspace has someone able to manage checklists and grants.
// It reports whether a grant was made.
func SeedOwner(ctx context.Context, e engine.Engine, actorID string) (bool, error) {
	if actorID == "" {
		actorID = "local-user"
	}
	grants, err := e.Repo.ListRoleGrants(ctx, "")
	if err != nil {
		return false, err
	}
	if len(grants) > 0 {
		return false, nil
	}
	now := e.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	err = e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.AssignRole(ctx, tx, actorID, OwnerRole, ts); err != nil {
			return fmt.Errorf("assign role: %w", err)
		}
		return e.Events.Append(ctx, tx, events.RoleGranted, "actor", actorID, actorID, events.EventPayload{"role": OwnerRole, "seed": true})
	})
	if err != nil {
		return false, err
	}
	e.Logger.InfoContext(ctx, "workspace owner seeded", "actor_id", actorID, "role", OwnerRole)
	return true, nil
}
