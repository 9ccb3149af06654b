package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"qcline/internal/cache"
	"qcline/internal/checklist"
	"qcline/internal/config"
	"qcline/internal/domain"
	"qcline/internal/engine/auth"
	"qcline/internal/events"
	"qcline/internal/lifecycle"
	"qcline/internal/repo"
)

// PersistError reports a store failure after the cache already showed the
// optimistic result. The cache has been reconciled by the time it is returned.
type PersistError struct {
	AssetID string
	Cause   error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("asset %s: %s: %v", e.AssetID, domain.ErrPersistFailedAfterOptimisticUpdate, e.Cause)
}

func (e *PersistError) Is(target error) bool {
	return target == domain.ErrPersistFailedAfterOptimisticUpdate
}

func (e *PersistError) Unwrap() error { return e.Cause }

// Transition is one compare-and-swap write of an asset plus its audit trail.
type Transition struct {
	Asset    domain.AssetRecord
	Expected domain.AssetStatus
	Review   *domain.ReviewRecord
	Event    string
	ActorID  string
	Payload  events.EventPayload
}

// AssetStore is the authoritative asset persistence the coordinator reads
// and writes through.
type AssetStore interface {
	GetAsset(ctx context.Context, id string) (domain.AssetRecord, error)
	AssetVersion(ctx context.Context, id string) (int64, error)
	Commit(ctx context.Context, t Transition) (domain.AssetRecord, error)
}

// SQLStore commits transitions to SQLite: the guarded asset update, the
// review row and the event land in one transaction.
type SQLStore struct {
	Repo   repo.Repo
	Events events.Writer
}

func (s SQLStore) GetAsset(ctx context.Context, id string) (domain.AssetRecord, error) {
	return s.Repo.GetAsset(ctx, id)
}

func (s SQLStore) AssetVersion(ctx context.Context, id string) (int64, error) {
	return s.Repo.AssetVersion(ctx, id)
}

func (s SQLStore) Commit(ctx context.Context, t Transition) (domain.AssetRecord, error) {
	saved := t.Asset
	err := s.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		version, err := s.Repo.SaveAssetTx(ctx, tx, t.Asset, t.Expected)
		if err != nil {
			return err
		}
		saved.Version = version
		if t.Review != nil {
			if err := s.Repo.InsertReviewTx(ctx, tx, *t.Review); err != nil {
				return fmt.Errorf("insert review: %w", err)
			}
		}
		if t.Event == "" {
			return nil
		}
		return s.Events.Append(ctx, tx, t.Event, "asset", t.Asset.ID, t.ActorID, t.Payload)
	})
	if err != nil {
		return domain.AssetRecord{}, err
	}
	return saved, nil
}

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Auth       auth.Service
	Checklists checklist.Store
	Machine    lifecycle.Machine
	Store      AssetStore
	Cache      *cache.Projection
	Logger     *slog.Logger
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	projection, err := cache.New(cfg.CacheSize())
	if err != nil {
		return Engine{}, err
	}
	r := repo.Repo{DB: db}
	w := events.Writer{DB: db}
	az := auth.NewService(db, cfg)
	return Engine{
		DB:         db,
		Repo:       r,
		Events:     w,
		Config:     cfg,
		Auth:       az,
		Checklists: checklist.Store{Repo: r, Events: w, Auth: az, Config: cfg},
		Machine:    lifecycle.Machine{Auth: az},
		Store:      SQLStore{Repo: r, Events: w},
		Cache:      projection,
		Logger:     slog.Default(),
		Now:        time.Now,
	}, nil
}

// SetClock points every component at the same clock.
func (e *Engine) SetClock(now func() time.Time) {
	e.Now = now
	e.Events.Now = now
	e.Checklists.Now = now
	e.Checklists.Events.Now = now
	e.Machine.Now = now
	if s, ok := e.Store.(SQLStore); ok {
		s.Events.Now = now
		e.Store = s
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) persistTimeout() time.Duration {
	return e.Config.PersistTimeout()
}

// readAsset loads the authoritative record under the persist timeout and
// refreshes the projection with it.
func (e Engine) readAsset(ctx context.Context, id string) (domain.AssetRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, e.persistTimeout())
	defer cancel()
	a, err := e.Store.GetAsset(ctx, id)
	if err != nil {
		return domain.AssetRecord{}, err
	}
	if e.Cache != nil {
		e.Cache.Fill(a)
	}
	return a, nil
}

// apply projects t.Asset optimistically, persists it and settles the
// projection with whatever the store holds afterwards.
func (e Engine) apply(ctx context.Context, t Transition) (domain.AssetRecord, error) {
	var pd cache.Pending
	if e.Cache != nil {
		pd = e.Cache.ApplyOptimistic(t.Asset)
	}
	writeCtx, cancel := context.WithTimeout(ctx, e.persistTimeout())
	saved, err := e.Store.Commit(writeCtx, t)
	cancel()
	if err == nil {
		if e.Cache != nil {
			e.Cache.Reconcile(pd, &saved)
		}
		return saved, nil
	}

	e.reconcileFromStore(ctx, pd, t.Asset.ID)
	if errors.Is(err, domain.ErrConcurrentModification) || errors.Is(err, domain.ErrNotFound) {
		e.log().WarnContext(ctx, "asset.write_conflict", "asset_id", t.Asset.ID, "expected", t.Expected, "error", err)
		return domain.AssetRecord{}, err
	}
	e.log().ErrorContext(ctx, "asset.persist_failed", "asset_id", t.Asset.ID, "event", t.Event, "error", err)
	return domain.AssetRecord{}, &PersistError{AssetID: t.Asset.ID, Cause: err}
}

// reconcileFromStore replaces a failed optimistic entry with the stored
// record, or evicts it when the store cannot be read either.
func (e Engine) reconcileFromStore(ctx context.Context, pd cache.Pending, id string) {
	if e.Cache == nil {
		return
	}
	readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.persistTimeout())
	defer cancel()
	stored, err := e.Store.GetAsset(readCtx, id)
	if err != nil {
		e.Cache.Reconcile(pd, nil)
		return
	}
	e.Cache.Reconcile(pd, &stored)
}
