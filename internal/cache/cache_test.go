package cache_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcline/internal/cache"
	"qcline/internal/domain"
)

func asset(id string, status domain.AssetStatus) domain.AssetRecord {
	return domain.AssetRecord{ID: id, Status: status}
}

func TestOptimisticThenConfirmed(t *testing.T) {
	p, err := cache.New(8)
	require.NoError(t, err)
	p.Fill(asset("a1", domain.StatusPendingQCReview))

	pd := p.ApplyOptimistic(asset("a1", domain.StatusQCApproved))
	assert.True(t, p.IsPending("a1"))
	got, ok := p.Get("a1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusQCApproved, got.Status)

	confirmed := asset("a1", domain.StatusQCApproved)
	confirmed.Version = 2
	assert.True(t, p.Reconcile(pd, &confirmed))
	assert.False(t, p.IsPending("a1"))
	got, _ = p.Get("a1")
	assert.Equal(t, int64(2), got.Version)
}

func TestFailedWriteRevertsToStore(t *testing.T) {
	p, err := cache.New(8)
	require.NoError(t, err)
	stored := asset("a1", domain.StatusPendingQCReview)
	p.Fill(stored)

	pd := p.ApplyOptimistic(asset("a1", domain.StatusQCRejected))
	assert.True(t, p.Reconcile(pd, &stored))
	got, _ := p.Get("a1")
	assert.Equal(t, domain.StatusPendingQCReview, got.Status)

	pd = p.ApplyOptimistic(asset("a1", domain.StatusQCRejected))
	assert.True(t, p.Reconcile(pd, nil))
	_, ok := p.Get("a1")
	assert.False(t, ok)
}

func TestStaleReconcileDoesNotClobberNewerWrite(t *testing.T) {
	p, err := cache.New(8)
	require.NoError(t, err)
	first := p.ApplyOptimistic(asset("a1", domain.StatusQCRejected))
	second := p.ApplyOptimistic(asset("a1", domain.StatusQCApproved))

	assert.False(t, p.Reconcile(first, nil))
	got, ok := p.Get("a1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusQCApproved, got.Status)

	assert.True(t, p.Reconcile(second, nil))
}

func TestFillSkipsPendingEntries(t *testing.T) {
	p, err := cache.New(8)
	require.NoError(t, err)
	p.ApplyOptimistic(asset("a1", domain.StatusQCApproved))
	p.Fill(asset("a1", domain.StatusPendingQCReview))
	got, _ := p.Get("a1")
	assert.Equal(t, domain.StatusQCApproved, got.Status)
}

func TestBoundedSize(t *testing.T) {
	p, err := cache.New(3)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		p.Fill(asset(fmt.Sprintf("a%d", i), domain.StatusDraft))
	}
	assert.Equal(t, 3, p.Len())
	_, ok := p.Get("a0")
	assert.False(t, ok)
}

func TestConcurrentUse(t *testing.T) {
	p, err := cache.New(64)
	require.NoError(t, err)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("a%d", i%4)
			pd := p.ApplyOptimistic(asset(id, domain.StatusQCApproved))
			p.Get(id)
			p.Reconcile(pd, nil)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, p.Len(), 4)
}
