package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/agentcash/internal/domain"
	"github.com/punchamoorthee/agentcash/internal/ledger"
)

// Approve moves the money and finalizes the request. Only the counterparty
// may approve. A wrong code leaves the request PENDING; so does any ledger
// failure.
func (s *RequestService) Approve(ctx context.Context, reference string, actor domain.AccountRef, code string) (*domain.Request, error) {
	r, err := s.pending(ctx, reference)
	if err != nil {
		return nil, err
	}
	if actor != r.Counterparty {
		return nil, domain.ErrForbidden
	}
	now := s.now()
	if !now.Before(r.ExpiresAt) {
		approvalFailures.WithLabelValues("expired").Inc()
		return nil, s.expireLazily(ctx, r, now)
	}
	if r.RequiresCode() && !s.codes.Verify(r.CodeHash, strings.TrimSpace(code)) {
		approvalFailures.WithLabelValues("invalid_code").Inc()
		s.logger.Info("confirmation code mismatch", zap.String("reference", r.Reference))
		return nil, domain.ErrInvalidCode
	}

	legs := s.legs(r)
	if err := s.transfer(ctx, r.ID.String(), legs); err != nil {
		approvalFailures.WithLabelValues("ledger").Inc()
		s.logger.Error("ledger transfer failed, request left pending",
			zap.String("reference", r.Reference), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", domain.ErrLedgerFailure, err)
	}

	updated, err := s.registry.UpdateStatus(ctx, r.ID, domain.StatusPending, domain.StatusApproved, domain.Transition{
		At:          s.now(),
		ConsumeCode: r.RequiresCode(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, s.lostApproval(ctx, r, legs)
		}
		return nil, err
	}

	transitionsTotal.WithLabelValues(string(updated.Kind), string(updated.Status)).Inc()
	s.logger.Info("request approved",
		zap.String("reference", updated.Reference),
		zap.String("kind", string(updated.Kind)),
		zap.Int64("amount", updated.Amount),
		zap.Int64("fee", updated.Fee))
	s.publish(ctx, domain.NewEvent(domain.EventRequestApproved, updated, *updated.RespondedAt))
	return updated, nil
}

// transfer runs the ledger call under the configured timeout. A replay of
// the same key and legs means an earlier attempt already moved the money.
func (s *RequestService) transfer(ctx context.Context, key string, legs []domain.Leg) error {
	lctx, cancel := context.WithTimeout(ctx, s.opts.LedgerTimeout)
	defer cancel()

	start := time.Now()
	err := s.ledger.Transfer(lctx, key, legs)
	outcome := "ok"
	switch {
	case errors.Is(err, ledger.ErrAlreadyApplied):
		outcome = "replayed"
		err = nil
	case err != nil:
		outcome = "error"
	}
	ledgerDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return err
}

// lostApproval handles a request that left PENDING while its ledger call was
// in flight. A concurrent approval of the same request shares the movement;
// any other outcome gets the movement reversed.
func (s *RequestService) lostApproval(ctx context.Context, r *domain.Request, legs []domain.Leg) error {
	current, err := s.registry.Get(ctx, r.ID)
	if err != nil {
		return err
	}
	if current.Status != domain.StatusApproved {
		s.compensate(ctx, r, legs)
	}
	return &domain.StatusError{Reference: current.Reference, Status: current.Status}
}

// compensate reverses the movement keyed by the request id. The reversal has
// its own key, so the lost approval and the winning transition may both call it.
func (s *RequestService) compensate(ctx context.Context, r *domain.Request, legs []domain.Leg) {
	reversed := make([]domain.Leg, len(legs))
	for i, l := range legs {
		l.Direction = opposite(l.Direction)
		reversed[i] = l
	}
	if err := s.transfer(ctx, r.ID.String()+":reversal", reversed); err != nil {
		approvalFailures.WithLabelValues("reversal").Inc()
		s.logger.Error("reversal of unapproved movement failed, needs reconciliation",
			zap.String("reference", r.Reference), zap.Error(err))
		return
	}
	s.logger.Warn("request left PENDING without approval, movement reversed", zap.String("reference", r.Reference))
}

// reverseIfMoved undoes a movement an approval applied before its ledger
// call reported failure. Runs after any non-APPROVED terminal transition.
func (s *RequestService) reverseIfMoved(ctx context.Context, r *domain.Request) {
	lctx, cancel := context.WithTimeout(ctx, s.opts.LedgerTimeout)
	moved, err := s.ledger.Applied(lctx, r.ID.String())
	cancel()
	if err != nil {
		approvalFailures.WithLabelValues("reversal").Inc()
		s.logger.Error("ledger lookup after finalization failed, needs reconciliation",
			zap.String("reference", r.Reference), zap.Error(err))
		return
	}
	if moved {
		s.compensate(ctx, r, s.legs(r))
	}
}

func (s *RequestService) Reject(ctx context.Context, reference string, actor domain.AccountRef, note string) (*domain.Request, error) {
	note = strings.TrimSpace(note)
	if len(note) > maxNoteLength {
		return nil, domain.Invalid("note", "too long")
	}
	r, err := s.pending(ctx, reference)
	if err != nil {
		return nil, err
	}
	if actor != r.Counterparty {
		return nil, domain.ErrForbidden
	}
	return s.finish(ctx, r, domain.StatusRejected, note, domain.EventRequestRejected)
}

// Cancel withdraws a WITHDRAWAL or FLOAT request before it is answered.
func (s *RequestService) Cancel(ctx context.Context, reference string, actor domain.AccountRef) (*domain.Request, error) {
	r, err := s.pending(ctx, reference)
	if err != nil {
		return nil, err
	}
	if actor != r.Requester {
		return nil, domain.ErrForbidden
	}
	if r.Kind == domain.KindCancellation {
		return nil, domain.Invalid("kind", "cancellation requests cannot be cancelled")
	}
	return s.finish(ctx, r, domain.StatusCancelled, "", domain.EventRequestCancelled)
}

// Expire marks an overdue PENDING request EXPIRED. It reports false without
// error when the request is terminal or not yet due.
func (s *RequestService) Expire(ctx context.Context, id uuid.UUID) (bool, error) {
	r, err := s.registry.Get(ctx, id)
	if err != nil {
		return false, err
	}
	now := s.now()
	if r.Status.Terminal() || now.Before(r.ExpiresAt) {
		return false, nil
	}
	if _, err := s.transition(ctx, r, domain.StatusExpired, "", domain.EventRequestExpired, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// pending loads a request that is still open for a response.
func (s *RequestService) pending(ctx context.Context, reference string) (*domain.Request, error) {
	r, err := s.registry.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if r.Status != domain.StatusPending {
		return nil, &domain.StatusError{Reference: r.Reference, Status: r.Status}
	}
	return r, nil
}

func (s *RequestService) finish(ctx context.Context, r *domain.Request, to domain.Status, note string, evt domain.EventType) (*domain.Request, error) {
	now := s.now()
	if !now.Before(r.ExpiresAt) {
		return nil, s.expireLazily(ctx, r, now)
	}
	return s.transition(ctx, r, to, note, evt, now)
}

func (s *RequestService) transition(ctx context.Context, r *domain.Request, to domain.Status, note string, evt domain.EventType, now time.Time) (*domain.Request, error) {
	updated, err := s.registry.UpdateStatus(ctx, r.ID, domain.StatusPending, to, domain.Transition{At: now, ResponseNote: note})
	if err != nil {
		return nil, err
	}
	transitionsTotal.WithLabelValues(string(updated.Kind), string(updated.Status)).Inc()
	s.logger.Info("request finalized",
		zap.String("reference", updated.Reference),
		zap.String("status", string(updated.Status)))
	s.reverseIfMoved(ctx, updated)
	s.publish(ctx, domain.NewEvent(evt, updated, now))
	return updated, nil
}

// expireLazily records the expiry an approval or response ran into and
// returns the error for the caller.
func (s *RequestService) expireLazily(ctx context.Context, r *domain.Request, now time.Time) error {
	_, err := s.transition(ctx, r, domain.StatusExpired, "", domain.EventRequestExpired, now)
	if err == nil {
		return &domain.StatusError{Reference: r.Reference, Status: domain.StatusExpired}
	}
	if !errors.Is(err, domain.ErrConflict) {
		return err
	}
	current, gerr := s.registry.Get(ctx, r.ID)
	if gerr != nil {
		return gerr
	}
	return &domain.StatusError{Reference: current.Reference, Status: current.Status}
}

func (s *RequestService) legs(r *domain.Request) []domain.Leg {
	payer := domain.Leg{Account: r.Requester, Book: domain.BookFor(r.RequesterRole), Amount: r.Amount + r.Fee, Direction: domain.Debit}
	payee := domain.Leg{Account: r.Counterparty, Book: domain.BookFor(r.CounterpartyRole), Amount: r.Amount, Direction: domain.Credit}
	if r.Kind == domain.KindCancellation {
		payer = domain.Leg{Account: r.Counterparty, Book: domain.BookFor(r.CounterpartyRole), Amount: r.Amount, Direction: domain.Debit}
		payee = domain.Leg{Account: r.Requester, Book: domain.BookFor(r.RequesterRole), Amount: r.Amount - r.Fee, Direction: domain.Credit}
	}

	legs := []domain.Leg{payer, payee}
	if r.FeeSplit.PlatformShare > 0 {
		legs = append(legs, domain.Leg{Account: s.opts.PlatformAccount, Book: domain.BookCommission, Amount: r.FeeSplit.PlatformShare, Direction: domain.Credit})
	}
	if r.FeeSplit.CounterpartyShare > 0 {
		legs = append(legs, domain.Leg{Account: r.Counterparty, Book: domain.BookCommission, Amount: r.FeeSplit.CounterpartyShare, Direction: domain.Credit})
	}
	return legs
}

func opposite(d domain.Direction) domain.Direction {
	if d == domain.Debit {
		return domain.Credit
	}
	return domain.Debit
}
