// Package cache keeps a bounded, optimistic projection of asset records.
// It is never authoritative: every entry can be rebuilt from the store, and
// writes go through a two-phase ApplyOptimistic / Reconcile contract.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"qcline/internal/domain"
)

type entry struct {
	asset   domain.AssetRecord
	gen     uint64
	pending bool
}

// Pending identifies one optimistic write awaiting reconciliation.
type Pending struct {
	AssetID string
	Gen     uint64
}

type Projection struct {
	mu      sync.Mutex
	entries *lru.Cache[string, entry]
	gen     uint64
}

func New(size int) (*Projection, error) {
	if size <= 0 {
		size = 1
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &Projection{entries: c}, nil
}

// Get returns the projected record, which may be an unconfirmed optimistic
// value.
func (p *Projection) Get(id string) (domain.AssetRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries.Get(id)
	if !ok {
		return domain.AssetRecord{}, false
	}
	return e.asset, true
}

// IsPending reports whether id has an optimistic write in flight.
func (p *Projection) IsPending(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries.Peek(id)
	return ok && e.pending
}

// Fill stores a record read from the store. It never replaces an entry with
// a write in flight.
func (p *Projection) Fill(a domain.AssetRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries.Peek(a.ID); ok && e.pending {
		return
	}
	p.gen++
	p.entries.Add(a.ID, entry{asset: a, gen: p.gen})
}

// ApplyOptimistic projects a before the store confirms it.
func (p *Projection) ApplyOptimistic(a domain.AssetRecord) Pending {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.entries.Add(a.ID, entry{asset: a, gen: p.gen, pending: true})
	return Pending{AssetID: a.ID, Gen: p.gen}
}

// Reconcile settles pd with the authoritative record. A nil record evicts
// the entry so the next read reloads it. A later write to the same asset
// wins over a stale reconciliation, and Reconcile reports false.
func (p *Projection) Reconcile(pd Pending, authoritative *domain.AssetRecord) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries.Peek(pd.AssetID)
	if ok && e.gen != pd.Gen {
		return false
	}
	if authoritative == nil {
		p.entries.Remove(pd.AssetID)
		return true
	}
	p.gen++
	p.entries.Add(pd.AssetID, entry{asset: *authoritative, gen: p.gen})
	return true
}

func (p *Projection) Invalidate(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries.Remove(id)
}

func (p *Projection) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries.Len()
}
