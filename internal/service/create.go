package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/agentcash/internal/domain"
	"github.com/punchamoorthee/agentcash/internal/identity"
	"github.com/punchamoorthee/agentcash/internal/registry"
)

const maxMessageLength = 500

// CreateInput is a create call. Requester is the authenticated actor;
// Counterparty is any handle the directory resolves. For CANCELLATION the
// counterparty and amount default to those of the original.
type CreateInput struct {
	Kind              domain.Kind
	SchemaVersion     int
	Requester         domain.AccountRef
	Counterparty      string
	Amount            int64
	Message           string
	OriginalReference string
}

// Created carries the plaintext code, which is shown once to the requester.
type Created struct {
	Request *domain.Request
	Code    string
}

func (s *RequestService) Create(ctx context.Context, in CreateInput) (*Created, error) {
	now := s.now()

	if in.SchemaVersion != 0 && in.SchemaVersion != CurrentSchemaVersion {
		return nil, domain.Invalid("schema_version", fmt.Sprintf("unsupported version %d", in.SchemaVersion))
	}
	if !in.Kind.Valid() {
		return nil, domain.Invalid("kind", fmt.Sprintf("unknown kind %q", in.Kind))
	}
	if len(in.Message) > maxMessageLength {
		return nil, domain.Invalid("message", "too long")
	}

	requester, err := s.resolve(ctx, "requester", string(in.Requester))
	if err != nil {
		return nil, err
	}

	var (
		counterparty domain.Account
		original     *domain.Request
		amount       = in.Amount
	)
	if in.Kind == domain.KindCancellation {
		original, err = s.cancellable(ctx, in, requester, now)
		if err != nil {
			return nil, err
		}
		counterparty, err = s.resolve(ctx, "counterparty", string(original.Counterparty))
		if err != nil {
			return nil, err
		}
		amount = original.Amount
	} else {
		counterparty, err = s.resolve(ctx, "counterparty", in.Counterparty)
		if err != nil {
			return nil, err
		}
	}

	if counterparty.Ref == requester.Ref {
		return nil, domain.Invalid("counterparty", "must differ from requester")
	}
	if err := s.checkAmount(in.Kind, amount); err != nil {
		return nil, err
	}
	if err := eligible(in.Kind, requester, counterparty); err != nil {
		return nil, err
	}

	quote, err := s.fees.Compute(in.Kind, counterparty.Role, amount)
	if err != nil {
		return nil, err
	}
	if in.Kind == domain.KindCancellation && quote.Fee >= amount {
		return nil, domain.Invalid("amount", "refund would not cover the cancellation fee")
	}
	if in.Kind != domain.KindCancellation {
		if err := s.checkFunds(ctx, requester, amount+quote.Fee); err != nil {
			return nil, err
		}
	}

	n := registry.NewRequest{
		Kind:             in.Kind,
		SchemaVersion:    CurrentSchemaVersion,
		Requester:        requester.Ref,
		RequesterRole:    requester.Role,
		Counterparty:     counterparty.Ref,
		CounterpartyRole: counterparty.Role,
		Amount:           amount,
		Fee:              quote.Fee,
		FeeSplit:         quote.Split,
		Message:          strings.TrimSpace(in.Message),
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.opts.Kinds[in.Kind].TTL),
	}
	if original != nil {
		id := original.ID
		n.OriginalRequestID = &id
	}

	var plain string
	if quote.RequiresCode {
		code, err := s.codes.Issue()
		if err != nil {
			return nil, fmt.Errorf("issue confirmation code: %w", err)
		}
		plain = code.Plain
		n.CodeHash = code.Hash
		n.SealedCode = code.Sealed
	}

	r, err := s.registry.Create(ctx, n)
	if err != nil {
		return nil, err
	}

	transitionsTotal.WithLabelValues(string(r.Kind), string(r.Status)).Inc()
	s.logger.Info("request created",
		zap.String("reference", r.Reference),
		zap.String("kind", string(r.Kind)),
		zap.Int64("amount", r.Amount),
		zap.Int64("fee", r.Fee),
		zap.Time("expires_at", r.ExpiresAt))

	evt := domain.NewEvent(domain.EventRequestCreated, r, now)
	evt.Code = plain
	s.publish(ctx, evt)

	return &Created{Request: r, Code: plain}, nil
}

func (s *RequestService) resolve(ctx context.Context, field, handle string) (domain.Account, error) {
	if strings.TrimSpace(handle) == "" {
		return domain.Account{}, domain.Invalid(field, "required")
	}
	a, err := s.directory.Resolve(ctx, handle)
	if errors.Is(err, identity.ErrUnknownAccount) {
		return domain.Account{}, domain.Invalid(field, "unknown account")
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("resolve %s: %w", field, err)
	}
	return a, nil
}

// cancellable returns the withdrawal a cancellation may be filed against.
func (s *RequestService) cancellable(ctx context.Context, in CreateInput, requester domain.Account, now time.Time) (*domain.Request, error) {
	if in.OriginalReference == "" {
		return nil, domain.Invalid("original_reference", "required for cancellation")
	}
	original, err := s.registry.GetByReference(ctx, in.OriginalReference)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Invalid("original_reference", "unknown request")
	}
	if err != nil {
		return nil, err
	}
	switch {
	case original.Kind != domain.KindWithdrawal:
		return nil, domain.Invalid("original_reference", "only withdrawals can be cancelled")
	case original.Status != domain.StatusApproved || original.RespondedAt == nil:
		return nil, domain.Invalid("original_reference", "withdrawal is not approved")
	case original.Requester != requester.Ref:
		return nil, domain.Invalid("original_reference", "only the original payer may cancel")
	case now.Sub(*original.RespondedAt) >= s.opts.CancellationWindow:
		return nil, domain.Invalid("original_reference", "cancellation window closed")
	}
	if in.Counterparty != "" {
		if cp, err := s.directory.Resolve(ctx, in.Counterparty); err != nil || cp.Ref != original.Counterparty {
			return nil, domain.Invalid("counterparty", "must be the agent of the original withdrawal")
		}
	}
	if in.Amount != 0 && in.Amount != original.Amount {
		return nil, domain.Invalid("amount", "must equal the original amount")
	}
	live, err := s.registry.HasLiveCancellation(ctx, original.ID)
	if err != nil {
		return nil, err
	}
	if live {
		return nil, domain.Invalid("original_reference", "a cancellation is already pending or approved")
	}
	return original, nil
}

func (s *RequestService) checkAmount(kind domain.Kind, amount int64) error {
	if amount <= 0 {
		return domain.Invalid("amount", "must be positive")
	}
	rules := s.opts.Kinds[kind]
	if amount < rules.MinAmount {
		return domain.Invalid("amount", fmt.Sprintf("below minimum %d", rules.MinAmount))
	}
	if rules.MaxAmount > 0 && amount > rules.MaxAmount {
		return domain.Invalid("amount", fmt.Sprintf("above maximum %d", rules.MaxAmount))
	}
	return nil
}

func eligible(kind domain.Kind, requester, counterparty domain.Account) error {
	if !requester.Eligible() {
		return domain.Invalid("requester", "account is inactive or suspended")
	}
	if !counterparty.Eligible() {
		return domain.Invalid("counterparty", "account is inactive or suspended")
	}
	switch kind {
	case domain.KindWithdrawal:
		if requester.Role != domain.RoleClient {
			return domain.Invalid("requester", "withdrawals are requested by clients")
		}
		if counterparty.Role != domain.RoleAgent {
			return domain.Invalid("counterparty", "withdrawals are served by agents")
		}
	case domain.KindFloat:
		if requester.Role != domain.RoleAgent {
			return domain.Invalid("requester", "float is moved by agents")
		}
		if counterparty.Role != domain.RoleAgent && counterparty.Role != domain.RoleAdmin {
			return domain.Invalid("counterparty", "float goes to an agent or the platform")
		}
	case domain.KindCancellation:
		if counterparty.Role != domain.RoleAgent {
			return domain.Invalid("counterparty", "cancellations are served by agents")
		}
	}
	return nil
}

// checkFunds is an early refusal only; the ledger enforces the same rules
// again on approval.
func (s *RequestService) checkFunds(ctx context.Context, payer domain.Account, debit int64) error {
	book := domain.BookFor(payer.Role)
	balance, err := s.ledger.Balance(ctx, payer.Ref, book)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	if book == domain.BookFloat {
		if balance-debit < s.opts.FloatFloor {
			return domain.Invalid("amount", "float would fall below the minimum balance")
		}
		return nil
	}
	if balance < debit {
		return domain.Invalid("amount", "insufficient balance")
	}
	return nil
}
