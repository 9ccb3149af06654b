package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"qcline/internal/domain"
	"qcline/internal/engine/auth"
	"qcline/internal/events"
	"qcline/internal/repo"
)

func (e Engine) GrantRole(ctx context.Context, actor domain.Actor, targetID, role string) error {
	if err := e.Auth.Require(actor, auth.CapRBACManage); err != nil {
		return err
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return fmt.Errorf("%w: actor id required", domain.ErrInvalidInput)
	}
	if !e.Auth.KnownRole(role) {
		return fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, role)
	}
	now := e.now().UTC().Format(time.RFC3339)
	return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.AssignRole(ctx, tx, targetID, role, now); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.RoleGranted, "actor", targetID, actor.ID, events.EventPayload{"role": role})
	})
}

func (e Engine) RevokeRole(ctx context.Context, actor domain.Actor, targetID, role string) error {
	if err := e.Auth.Require(actor, auth.CapRBACManage); err != nil {
		return err
	}
	return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.RevokeRole(ctx, tx, targetID, role); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.RoleRevoked, "actor", targetID, actor.ID, events.EventPayload{"role": role})
	})
}

func (e Engine) ListRoleGrants(ctx context.Context, actorID string) ([]repo.RoleGrant, error) {
	return e.Repo.ListRoleGrants(ctx, actorID)
}

// CreateAPIKey mints a key for ownerID. The raw key is returned once; only
// its hash is stored. Actors may mint keys for themselves, anyone else needs
// rbac.manage.
func (e Engine) CreateAPIKey(ctx context.Context, actor domain.Actor, ownerID, name string) (domain.APIKey, string, error) {
	if ownerID == "" {
		ownerID = actor.ID
	}
	if ownerID != actor.ID {
		if err := e.Auth.Require(actor, auth.CapRBACManage); err != nil {
			return domain.APIKey{}, "", err
		}
	}
	if ownerID == "" {
		return domain.APIKey{}, "", fmt.Errorf("%w: actor id required", domain.ErrInvalidInput)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	raw := "qc_" + hex.EncodeToString(buf)
	now := e.now().UTC().Format(time.RFC3339)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   ownerID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: now,
	}
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.EnsureActor(ctx, tx, ownerID, now); err != nil {
			return err
		}
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.APIKeyCreated, "actor", ownerID, actor.ID, events.EventPayload{"key_id": key.ID, "name": name})
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}

// ListAPIKeys lists keys without their hashes. Listing another actor's keys,
// or everyone's, needs rbac.manage.
func (e Engine) ListAPIKeys(ctx context.Context, actor domain.Actor, ownerID string) ([]domain.APIKey, error) {
	if ownerID != actor.ID {
		if err := e.Auth.Require(actor, auth.CapRBACManage); err != nil {
			return nil, err
		}
	}
	keys, err := e.Repo.ListAPIKeys(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		keys[i].KeyHash = ""
	}
	return keys, nil
}

// RevokeAPIKey deletes a key. Owners may revoke their own keys.
func (e Engine) RevokeAPIKey(ctx context.Context, actor domain.Actor, keyID string) error {
	return e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		key, err := e.Repo.GetAPIKeyTx(ctx, tx, keyID)
		if err != nil {
			return err
		}
		if key.ActorID != actor.ID {
			if err := e.Auth.Require(actor, auth.CapRBACManage); err != nil {
				return err
			}
		}
		if err := e.Repo.DeleteAPIKeyTx(ctx, tx, keyID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.APIKeyRevoked, "actor", key.ActorID, actor.ID, events.EventPayload{"key_id": keyID})
	})
}

// ResolveAPIKey maps a raw key to the actor it belongs to, acting under the
// strongest role granted to that actor.
func (e Engine) ResolveAPIKey(ctx context.Context, raw string) (domain.Actor, error) {
	key, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(raw))
	if err != nil {
		return domain.Actor{}, err
	}
	role, err := e.Auth.ResolveRole(ctx, key.ActorID, e.Config.Auth.DefaultRole)
	if err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{ID: key.ActorID, Role: role}, nil
}
