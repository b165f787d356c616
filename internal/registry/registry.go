// Package registry creates and reads cash requests and performs the
// conditional status update every transition goes through.
package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/agentcash/internal/confirm"
	"github.com/punchamoorthee/agentcash/internal/domain"
	"github.com/punchamoorthee/agentcash/internal/store"
)

const (
	referenceLength   = 8
	maxReferenceTries = 5
)

var ErrReferenceExhausted = errors.New("registry: could not allocate a unique reference")

// Store is the persistence the registry needs.
type Store interface {
	Insert(ctx context.Context, r *domain.Request) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Request, error)
	GetByReference(ctx context.Context, reference string) (*domain.Request, error)
	ListPendingFor(ctx context.Context, counterparty domain.AccountRef, now time.Time) ([]*domain.Request, error)
	ListFor(ctx context.Context, requester domain.AccountRef) ([]*domain.Request, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.Request, error)
	FindLiveCancellation(ctx context.Context, original uuid.UUID) (*domain.Request, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.Status, t domain.Transition) (*domain.Request, error)
}

// NewRequest is everything the caller decides; the registry fills id,
// reference and status.
type NewRequest struct {
	Kind              domain.Kind
	SchemaVersion     int
	Requester         domain.AccountRef
	RequesterRole     domain.Role
	Counterparty      domain.AccountRef
	CounterpartyRole  domain.Role
	Amount            int64
	Fee               int64
	FeeSplit          domain.FeeSplit
	CodeHash          []byte
	SealedCode        string
	OriginalRequestID *uuid.UUID
	Message           string
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

type Registry struct {
	store  Store
	logger *zap.Logger
	rand   io.Reader
}

func New(s Store, logger *zap.Logger) *Registry {
	return &Registry{store: s, logger: logger, rand: rand.Reader}
}

// Create persists a PENDING request under a freshly drawn reference,
// retrying when the reference is already taken.
func (g *Registry) Create(ctx context.Context, n NewRequest) (*domain.Request, error) {
	if n.Amount <= 0 {
		return nil, domain.Invalid("amount", "must be positive")
	}
	if n.Requester == n.Counterparty {
		return nil, domain.Invalid("counterparty", "must differ from requester")
	}

	r := &domain.Request{
		ID:                uuid.New(),
		Kind:              n.Kind,
		SchemaVersion:     n.SchemaVersion,
		Requester:         n.Requester,
		RequesterRole:     n.RequesterRole,
		Counterparty:      n.Counterparty,
		CounterpartyRole:  n.CounterpartyRole,
		Amount:            n.Amount,
		Fee:               n.Fee,
		FeeSplit:          n.FeeSplit,
		Status:            domain.StatusPending,
		CodeHash:          n.CodeHash,
		SealedCode:        n.SealedCode,
		OriginalRequestID: n.OriginalRequestID,
		Message:           n.Message,
		CreatedAt:         n.CreatedAt,
		ExpiresAt:         n.ExpiresAt,
	}

	for attempt := 1; attempt <= maxReferenceTries; attempt++ {
		ref, err := g.reference(n.Kind)
		if err != nil {
			return nil, err
		}
		r.Reference = ref
		err = g.store.Insert(ctx, r)
		switch {
		case err == nil:
			return r, nil
		case errors.Is(err, store.ErrDuplicateReference):
			g.logger.Warn("reference collision, drawing again",
				zap.String("reference", ref), zap.Int("attempt", attempt))
			continue
		case errors.Is(err, store.ErrLiveCancellation):
			return nil, domain.Invalid("original_reference", "a cancellation is already pending or approved")
		default:
			return nil, err
		}
	}
	return nil, ErrReferenceExhausted
}

func (g *Registry) Get(ctx context.Context, id uuid.UUID) (*domain.Request, error) {
	r, err := g.store.Get(ctx, id)
	return r, mapNotFound(err)
}

func (g *Registry) GetByReference(ctx context.Context, reference string) (*domain.Request, error) {
	r, err := g.store.GetByReference(ctx, reference)
	return r, mapNotFound(err)
}

// ListPendingFor returns what the counterparty still has to act on.
func (g *Registry) ListPendingFor(ctx context.Context, counterparty domain.AccountRef, now time.Time) ([]*domain.Request, error) {
	return g.store.ListPendingFor(ctx, counterparty, now)
}

func (g *Registry) ListFor(ctx context.Context, requester domain.AccountRef) ([]*domain.Request, error) {
	return g.store.ListFor(ctx, requester)
}

func (g *Registry) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.Request, error) {
	return g.store.ListOverdue(ctx, now, limit)
}

// HasLiveCancellation reports whether original already has a PENDING or APPROVED cancellation.
func (g *Registry) HasLiveCancellation(ctx context.Context, original uuid.UUID) (bool, error) {
	_, err := g.store.FindLiveCancellation(ctx, original)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// UpdateStatus fails with domain.ErrConflict when the stored status is no longer from.
func (g *Registry) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.Status, t domain.Transition) (*domain.Request, error) {
	if from.Terminal() {
		return nil, fmt.Errorf("%w: cannot leave terminal status %s", domain.ErrConflict, from)
	}
	r, err := g.store.UpdateStatus(ctx, id, from, to, t)
	if errors.Is(err, store.ErrStatusMismatch) {
		return nil, domain.ErrConflict
	}
	return r, mapNotFound(err)
}

func (g *Registry) reference(kind domain.Kind) (string, error) {
	body, err := confirm.RandomString(g.rand, confirm.Alphabet, referenceLength)
	if err != nil {
		return "", fmt.Errorf("draw reference: %w", err)
	}
	return referencePrefix(kind) + "-" + body, nil
}

func referencePrefix(kind domain.Kind) string {
	switch kind {
	case domain.KindWithdrawal:
		return "WD"
	case domain.KindFloat:
		return "FL"
	case domain.KindCancellation:
		return "CX"
	}
	return "RQ"
}

func mapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.ErrNotFound
	}
	return err
}
