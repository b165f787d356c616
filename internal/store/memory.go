package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/agentcash/internal/domain"
)

type Memory struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*domain.Request
	byRef map[string]uuid.UUID
}

func NewMemory() *Memory {
	return &Memory{
		byID:  make(map[uuid.UUID]*domain.Request),
		byRef: make(map[string]uuid.UUID),
	}
}

func (m *Memory) Insert(_ context.Context, r *domain.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byRef[r.Reference]; taken {
		return ErrDuplicateReference
	}
	if r.OriginalRequestID != nil {
		if m.liveCancellationLocked(*r.OriginalRequestID) != nil {
			return ErrLiveCancellation
		}
	}
	c := clone(r)
	m.byID[c.ID] = c
	m.byRef[c.Reference] = c.ID
	return nil
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (*domain.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (m *Memory) GetByReference(_ context.Context, reference string) (*domain.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byRef[reference]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(m.byID[id]), nil
}

func (m *Memory) ListPendingFor(_ context.Context, counterparty domain.AccountRef, now time.Time) ([]*domain.Request, error) {
	out := m.filter(func(r *domain.Request) bool {
		return r.Counterparty == counterparty && r.Status == domain.StatusPending && now.Before(r.ExpiresAt)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListFor(_ context.Context, requester domain.AccountRef) ([]*domain.Request, error) {
	out := m.filter(func(r *domain.Request) bool { return r.Requester == requester })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListOverdue(_ context.Context, now time.Time, limit int) ([]*domain.Request, error) {
	out := m.filter(func(r *domain.Request) bool {
		return r.Status == domain.StatusPending && !now.Before(r.ExpiresAt)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) FindLiveCancellation(_ context.Context, original uuid.UUID) (*domain.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r := m.liveCancellationLocked(original); r != nil {
		return clone(r), nil
	}
	return nil, ErrNotFound
}

func (m *Memory) UpdateStatus(_ context.Context, id uuid.UUID, from, to domain.Status, t domain.Transition) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != from {
		return nil, ErrStatusMismatch
	}
	at := t.At
	r.Status = to
	r.RespondedAt = &at
	if t.ResponseNote != "" {
		r.ResponseNote = t.ResponseNote
	}
	if t.ConsumeCode {
		r.CodeConsumedAt = &at
	}
	r.SealedCode = ""
	return clone(r), nil
}

func (m *Memory) liveCancellationLocked(original uuid.UUID) *domain.Request {
	for _, r := range m.byID {
		if r.OriginalRequestID != nil && *r.OriginalRequestID == original &&
			(r.Status == domain.StatusPending || r.Status == domain.StatusApproved) {
			return r
		}
	}
	return nil
}

func (m *Memory) filter(keep func(*domain.Request) bool) []*domain.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Request
	for _, r := range m.byID {
		if keep(r) {
			out = append(out, clone(r))
		}
	}
	return out
}

func clone(r *domain.Request) *domain.Request {
	c := *r
	if r.CodeHash != nil {
		c.CodeHash = append([]byte(nil), r.CodeHash...)
	}
	if r.CodeConsumedAt != nil {
		t := *r.CodeConsumedAt
		c.CodeConsumedAt = &t
	}
	if r.RespondedAt != nil {
		t := *r.RespondedAt
		c.RespondedAt = &t
	}
	if r.OriginalRequestID != nil {
		id := *r.OriginalRequestID
		c.OriginalRequestID = &id
	}
	return &c
}
