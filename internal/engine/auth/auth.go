package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"qcline/internal/config"
	"qcline/internal/domain"
)

type Capability string

const (
	CapAssetCreate     Capability = "asset.create"
	CapAssetSubmit     Capability = "asset.submit"
	CapAssetViewAll    Capability = "asset.view_all"
	CapQCReview        Capability = "qc.review"
	CapReworkOverride  Capability = "rework.override"
	CapChecklistManage Capability = "checklist.manage"
	CapRBACManage      Capability = "rbac.manage"
)

// ForbiddenError indicates a role lacking a capability.
type ForbiddenError struct {
	ActorID    string
	Role       string
	Capability Capability
	Reason     string
}

func (e ForbiddenError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("actor %s: %s", e.ActorID, e.Reason)
	}
	return fmt.Sprintf("capability %s required (actor %s, role %q)", e.Capability, e.ActorID, e.Role)
}

func (e ForbiddenError) Is(target error) bool { return target == domain.ErrForbidden }

// Service resolves capabilities from the configured roles and role grants
// stored in SQL.
type Service struct {
	DB    *sql.DB
	Roles map[string]config.RBACRole
}

func NewService(db *sql.DB, cfg *config.Config) Service {
	s := Service{DB: db}
	if cfg != nil {
		s.Roles = cfg.RBAC.Roles
	}
	return s
}

// Can reports whether role grants capability c.
func (s Service) Can(role string, c Capability) bool {
	r, ok := s.Roles[role]
	if !ok {
		return false
	}
	for _, have := range r.Capabilities {
		if Capability(have) == c {
			return true
		}
	}
	return false
}

// Require returns a ForbiddenError unless the actor's role grants c.
func (s Service) Require(actor domain.Actor, c Capability) error {
	if s.Can(actor.Role, c) {
		return nil
	}
	return ForbiddenError{ActorID: actor.ID, Role: actor.Role, Capability: c}
}

func (s Service) Capabilities(role string) []string {
	r, ok := s.Roles[role]
	if !ok {
		return nil
	}
	out := append([]string(nil), r.Capabilities...)
	sort.Strings(out)
	return out
}

func (s Service) KnownRole(role string) bool {
	_, ok := s.Roles[role]
	return ok
}

func (s Service) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

// ActorRoles lists roles granted to actorID, strongest grant first.
func (s Service) ActorRoles(ctx context.Context, actorID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT role_id FROM actor_roles WHERE actor_id=? ORDER BY granted_at ASC, role_id ASC`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(roles, func(i, j int) bool {
		return len(s.Capabilities(roles[i])) > len(s.Capabilities(roles[j]))
	})
	return roles, nil
}

// ResolveRole picks the role an actor acts under when the caller did not
// supply one: the strongest granted role, else fallback.
func (s Service) ResolveRole(ctx context.Context, actorID, fallback string) (string, error) {
	roles, err := s.ActorRoles(ctx, actorID)
	if err != nil {
		return "", err
	}
	for _, r := range roles {
		if s.KnownRole(r) {
			return r, nil
		}
	}
	return fallback, nil
}
