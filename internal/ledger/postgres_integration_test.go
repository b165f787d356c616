//go:build integration

package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/agentcash/internal/domain"
	"github.com/punchamoorthee/agentcash/internal/testdb"
)

func TestPostgres_TransferRules(t *testing.T) {
	ctx := context.Background()
	l := NewPostgres(testdb.Start(t), DefaultLimits())

	require.NoError(t, l.Credit(ctx, "seed:client-1", "client-1", domain.BookMain, 500_000))
	require.NoError(t, l.Credit(ctx, "seed:agent-1", "agent-1", domain.BookFloat, 300_000))
	assert.ErrorIs(t, l.Credit(ctx, "seed:agent-1", "agent-1", domain.BookFloat, 300_000), ErrAlreadyApplied)

	require.NoError(t, l.Transfer(ctx, "req-1", withdrawalLegs()))
	assert.ErrorIs(t, l.Transfer(ctx, "req-1", withdrawalLegs()), ErrAlreadyApplied)

	applied, err := l.Applied(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, applied)
	applied, err = l.Applied(ctx, "req-9")
	require.NoError(t, err)
	assert.False(t, applied)

	other := withdrawalLegs()
	other[0].Amount, other[1].Amount = 52_000, 50_000
	assert.ErrorIs(t, l.Transfer(ctx, "req-1", other), ErrIdempotencyMismatch)

	expect := map[domain.AccountRef]map[domain.Book]int64{
		"client-1": {domain.BookMain: 398_000},
		"agent-1":  {domain.BookFloat: 400_000, domain.BookCommission: 1_200},
		"platform": {domain.BookCommission: 800},
	}
	for account, books := range expect {
		for book, want := range books {
			got, err := l.Balance(ctx, account, book)
			require.NoError(t, err)
			assert.Equal(t, want, got, "%s %s", account, book)
		}
	}

	// Float floor: agent-1 holds 400,000 and must keep 100,000.
	drain := []domain.Leg{
		{Account: "agent-1", Book: domain.BookFloat, Amount: 300_001, Direction: domain.Debit},
		{Account: "client-1", Book: domain.BookMain, Amount: 300_001, Direction: domain.Credit},
	}
	assert.ErrorIs(t, l.Transfer(ctx, "req-2", drain), ErrFloatFloor)

	// The refused key is free for a corrected retry.
	drain[0].Amount, drain[1].Amount = 300_000, 300_000
	require.NoError(t, l.Transfer(ctx, "req-2", drain))

	// First deposit into an unactivated float must meet the minimum.
	small := []domain.Leg{
		{Account: "client-1", Book: domain.BookMain, Amount: 100_000, Direction: domain.Debit},
		{Account: "agent-2", Book: domain.BookFloat, Amount: 100_000, Direction: domain.Credit},
	}
	assert.ErrorIs(t, l.Transfer(ctx, "req-3", small), ErrActivationMinimum)
}

func TestPostgres_ConcurrentSameKeyAppliesOnce(t *testing.T) {
	ctx := context.Background()
	l := NewPostgres(testdb.Start(t), DefaultLimits())
	require.NoError(t, l.Credit(ctx, "seed:client-1", "client-1", domain.BookMain, 500_000))
	require.NoError(t, l.Credit(ctx, "seed:agent-1", "agent-1", domain.BookFloat, 300_000))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Transfer(ctx, "req-1", withdrawalLegs())
		}()
	}
	wg.Wait()
	close(errs)

	applied := 0
	for err := range errs {
		if err == nil {
			applied++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyApplied)
	}
	assert.Equal(t, 1, applied)

	got, err := l.Balance(ctx, "client-1", domain.BookMain)
	require.NoError(t, err)
	assert.Equal(t, int64(398_000), got)
}
