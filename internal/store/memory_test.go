package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/agentcash/internal/domain"
)

func pending(ref string, counterparty domain.AccountRef, expires time.Time) *domain.Request {
	return &domain.Request{
		ID:           uuid.New(),
		Reference:    ref,
		Kind:         domain.KindWithdrawal,
		Requester:    "client-1",
		Counterparty: counterparty,
		Amount:       10_000,
		Status:       domain.StatusPending,
		CreatedAt:    expires.Add(-time.Hour),
		ExpiresAt:    expires,
	}
}

func TestMemory_InsertRejectsDuplicateReference(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	require.NoError(t, m.Insert(ctx, pending("WD-AAAA", "agent-1", now.Add(time.Hour))))
	err := m.Insert(ctx, pending("WD-AAAA", "agent-1", now.Add(time.Hour)))
	assert.ErrorIs(t, err, ErrDuplicateReference)
}

func TestMemory_UpdateStatusIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r := pending("WD-BBBB", "agent-1", time.Now().Add(time.Hour))
	require.NoError(t, m.Insert(ctx, r))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := domain.StatusApproved
			if i%2 == 0 {
				to = domain.StatusRejected
			}
			if _, err := m.UpdateStatus(ctx, r.ID, domain.StatusPending, to, domain.Transition{At: time.Now()}); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrStatusMismatch)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	_, err := m.UpdateStatus(ctx, uuid.New(), domain.StatusPending, domain.StatusExpired, domain.Transition{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ListsAndOverdue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	live := pending("WD-LIVE", "agent-1", now.Add(time.Hour))
	stale := pending("WD-STALE", "agent-1", now.Add(-time.Minute))
	other := pending("WD-OTHER", "agent-2", now.Add(time.Hour))
	for _, r := range []*domain.Request{live, stale, other} {
		require.NoError(t, m.Insert(ctx, r))
	}

	got, err := m.ListPendingFor(ctx, "agent-1", now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "WD-LIVE", got[0].Reference)

	overdue, err := m.ListOverdue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "WD-STALE", overdue[0].Reference)

	mine, err := m.ListFor(ctx, "client-1")
	require.NoError(t, err)
	assert.Len(t, mine, 3)
}

func TestMemory_OneLiveCancellationPerOriginal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	original := uuid.New()

	first := pending("CX-1", "agent-1", time.Now().Add(time.Hour))
	first.Kind = domain.KindCancellation
	first.OriginalRequestID = &original
	require.NoError(t, m.Insert(ctx, first))

	second := pending("CX-2", "agent-1", time.Now().Add(time.Hour))
	second.Kind = domain.KindCancellation
	second.OriginalRequestID = &original
	assert.ErrorIs(t, m.Insert(ctx, second), ErrLiveCancellation)

	_, err := m.UpdateStatus(ctx, first.ID, domain.StatusPending, domain.StatusRejected, domain.Transition{At: time.Now(), ResponseNote: "no"})
	require.NoError(t, err)
	assert.NoError(t, m.Insert(ctx, second))
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r := pending("WD-COPY", "agent-1", time.Now().Add(time.Hour))
	require.NoError(t, m.Insert(ctx, r))

	got, err := m.Get(ctx, r.ID)
	require.NoError(t, err)
	got.Status = domain.StatusApproved

	again, err := m.GetByReference(ctx, "WD-COPY")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, again.Status)
}
