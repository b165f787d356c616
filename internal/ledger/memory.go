package ledger

import (
	"context"
	"sync"

	"github.com/punchamoorthee/agentcash/internal/domain"
)

// Memory is an in-process ledger with the same rules as Postgres.
type Memory struct {
	limits Limits

	mu        sync.Mutex
	positions map[bookKey]position
	applied   map[string]string

	// AfterApply runs once a transfer is committed; a non-nil error is
	// returned to the caller even though the movement stands.
	AfterApply func(key string) error
}

func NewMemory(limits Limits) *Memory {
	return &Memory{
		limits:    limits,
		positions: make(map[bookKey]position),
		applied:   make(map[string]string),
	}
}

// Seed sets a starting balance. A positive float balance counts as activated.
func (m *Memory) Seed(account domain.AccountRef, book domain.Book, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[bookKey{account, book}] = position{Balance: balance, Activated: book == domain.BookFloat && balance > 0}
}

func (m *Memory) Transfer(ctx context.Context, key string, legs []domain.Leg) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := Validate(legs); err != nil {
		return err
	}
	hash := HashLegs(legs)

	m.mu.Lock()
	if stored, ok := m.applied[key]; ok {
		m.mu.Unlock()
		if stored != hash {
			return ErrIdempotencyMismatch
		}
		return ErrAlreadyApplied
	}

	keys, deltas := netDeltas(legs)
	for _, k := range keys {
		if err := m.limits.check(k, m.positions[k], deltas[k]); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	for _, k := range keys {
		p := m.positions[k]
		p.Balance += deltas[k]
		if k.Book == domain.BookFloat && deltas[k] > 0 {
			p.Activated = true
		}
		m.positions[k] = p
	}
	m.applied[key] = hash
	hook := m.AfterApply
	m.mu.Unlock()

	if hook != nil {
		return hook(key)
	}
	return nil
}

func (m *Memory) Balance(_ context.Context, account domain.AccountRef, book domain.Book) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[bookKey{account, book}].Balance, nil
}

// Applied reports whether a transfer under key has been committed.
func (m *Memory) Applied(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.applied[key]
	return ok, nil
}

// Transfers returns how many distinct keys have moved money.
func (m *Memory) Transfers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.applied)
}
