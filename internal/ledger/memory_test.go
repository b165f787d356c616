package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/agentcash/internal/domain"
)

func withdrawalLegs() []domain.Leg {
	return []domain.Leg{
		{Account: "client-1", Book: domain.BookMain, Amount: 102_000, Direction: domain.Debit},
		{Account: "agent-1", Book: domain.BookFloat, Amount: 100_000, Direction: domain.Credit},
		{Account: "platform", Book: domain.BookCommission, Amount: 800, Direction: domain.Credit},
		{Account: "agent-1", Book: domain.BookCommission, Amount: 1_200, Direction: domain.Credit},
	}
}

func seeded() *Memory {
	m := NewMemory(DefaultLimits())
	m.Seed("client-1", domain.BookMain, 500_000)
	m.Seed("agent-1", domain.BookFloat, 300_000)
	return m
}

func balance(t *testing.T, m *Memory, a domain.AccountRef, b domain.Book) int64 {
	t.Helper()
	v, err := m.Balance(context.Background(), a, b)
	require.NoError(t, err)
	return v
}

func TestMemory_TransferMovesAllLegs(t *testing.T) {
	m := seeded()
	require.NoError(t, m.Transfer(context.Background(), "req-1", withdrawalLegs()))

	assert.Equal(t, int64(398_000), balance(t, m, "client-1", domain.BookMain))
	assert.Equal(t, int64(400_000), balance(t, m, "agent-1", domain.BookFloat))
	assert.Equal(t, int64(800), balance(t, m, "platform", domain.BookCommission))
	assert.Equal(t, int64(1_200), balance(t, m, "agent-1", domain.BookCommission))
}

func TestMemory_ReplaySameKey(t *testing.T) {
	m := seeded()
	ctx := context.Background()
	require.NoError(t, m.Transfer(ctx, "req-1", withdrawalLegs()))

	assert.ErrorIs(t, m.Transfer(ctx, "req-1", withdrawalLegs()), ErrAlreadyApplied)

	other := withdrawalLegs()
	other[0].Amount, other[1].Amount = 52_000, 50_000
	assert.ErrorIs(t, m.Transfer(ctx, "req-1", other), ErrIdempotencyMismatch)

	assert.Equal(t, int64(400_000), balance(t, m, "agent-1", domain.BookFloat))
	assert.Equal(t, 1, m.Transfers())

	applied, err := m.Applied(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, applied)
	applied, err = m.Applied(ctx, "req-2")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMemory_ConcurrentSameKeyAppliesOnce(t *testing.T) {
	m := seeded()
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Transfer(context.Background(), "req-1", withdrawalLegs())
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrAlreadyApplied)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(400_000), balance(t, m, "agent-1", domain.BookFloat))
}

func TestMemory_BalanceRules(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		legs []domain.Leg
		want error
	}{
		{
			name: "main cannot go negative",
			legs: []domain.Leg{
				{Account: "client-1", Book: domain.BookMain, Amount: 600_000, Direction: domain.Debit},
				{Account: "agent-1", Book: domain.BookFloat, Amount: 600_000, Direction: domain.Credit},
			},
			want: ErrInsufficientFunds,
		},
		{
			name: "float floor",
			legs: []domain.Leg{
				{Account: "agent-1", Book: domain.BookFloat, Amount: 200_001, Direction: domain.Debit},
				{Account: "admin-1", Book: domain.BookMain, Amount: 200_001, Direction: domain.Credit},
			},
			want: ErrFloatFloor,
		},
		{
			name: "activation minimum",
			legs: []domain.Leg{
				{Account: "client-1", Book: domain.BookMain, Amount: 100_000, Direction: domain.Debit},
				{Account: "agent-new", Book: domain.BookFloat, Amount: 100_000, Direction: domain.Credit},
			},
			want: ErrActivationMinimum,
		},
		{
			name: "unbalanced",
			legs: []domain.Leg{
				{Account: "client-1", Book: domain.BookMain, Amount: 100, Direction: domain.Debit},
				{Account: "agent-1", Book: domain.BookFloat, Amount: 99, Direction: domain.Credit},
			},
			want: ErrUnbalanced,
		},
		{
			name: "zero amount leg",
			legs: []domain.Leg{
				{Account: "client-1", Book: domain.BookMain, Amount: 0, Direction: domain.Debit},
				{Account: "agent-1", Book: domain.BookFloat, Amount: 0, Direction: domain.Credit},
			},
			want: ErrInvalidLeg,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := seeded()
			err := m.Transfer(ctx, "key-"+tt.name, tt.legs)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int64(500_000), balance(t, m, "client-1", domain.BookMain))
			assert.Equal(t, int64(300_000), balance(t, m, "agent-1", domain.BookFloat))
			assert.Zero(t, m.Transfers())
		})
	}
}

func TestMemory_FloorAllowsExactFloorAndActivatesOnLargeDeposit(t *testing.T) {
	ctx := context.Background()
	m := seeded()

	require.NoError(t, m.Transfer(ctx, "to-floor", []domain.Leg{
		{Account: "agent-1", Book: domain.BookFloat, Amount: 200_000, Direction: domain.Debit},
		{Account: "admin-1", Book: domain.BookMain, Amount: 200_000, Direction: domain.Credit},
	}))
	assert.Equal(t, int64(100_000), balance(t, m, "agent-1", domain.BookFloat))

	m.Seed("client-1", domain.BookMain, 1_000_000)
	require.NoError(t, m.Transfer(ctx, "activate", []domain.Leg{
		{Account: "client-1", Book: domain.BookMain, Amount: 250_000, Direction: domain.Debit},
		{Account: "agent-new", Book: domain.BookFloat, Amount: 250_000, Direction: domain.Credit},
	}))
	require.NoError(t, m.Transfer(ctx, "after-activation", []domain.Leg{
		{Account: "client-1", Book: domain.BookMain, Amount: 1_000, Direction: domain.Debit},
		{Account: "agent-new", Book: domain.BookFloat, Amount: 1_000, Direction: domain.Credit},
	}))
	assert.Equal(t, int64(251_000), balance(t, m, "agent-new", domain.BookFloat))
}

func TestMemory_AfterApplyErrorStillCommits(t *testing.T) {
	m := seeded()
	timeout := errors.New("deadline exceeded")
	m.AfterApply = func(string) error { return timeout }

	err := m.Transfer(context.Background(), "req-1", withdrawalLegs())
	assert.ErrorIs(t, err, timeout)
	assert.Equal(t, int64(400_000), balance(t, m, "agent-1", domain.BookFloat))

	m.AfterApply = nil
	assert.ErrorIs(t, m.Transfer(context.Background(), "req-1", withdrawalLegs()), ErrAlreadyApplied)
}

func TestHashLegs_IgnoresOrder(t *testing.T) {
	legs := withdrawalLegs()
	reversed := []domain.Leg{legs[3], legs[2], legs[1], legs[0]}
	assert.Equal(t, HashLegs(legs), HashLegs(reversed))

	legs[2].Amount++
	assert.NotEqual(t, HashLegs(legs), HashLegs(reversed))
}
