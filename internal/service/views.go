package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/agentcash/internal/domain"
)

func (s *RequestService) Get(ctx context.Context, id uuid.UUID) (*domain.Request, error) {
	return s.registry.Get(ctx, id)
}

func (s *RequestService) GetByReference(ctx context.Context, reference string) (*domain.Request, error) {
	return s.registry.GetByReference(ctx, reference)
}

// View returns the read model of a request for one of its parties.
func (s *RequestService) View(ctx context.Context, reference string, actor domain.AccountRef) (domain.View, error) {
	r, err := s.registry.GetByReference(ctx, reference)
	if err != nil {
		return domain.View{}, err
	}
	if actor != r.Requester && actor != r.Counterparty {
		return domain.View{}, domain.ErrForbidden
	}
	return s.view(ctx, r, actor), nil
}

// ListPendingFor lists what actor still has to approve or reject.
func (s *RequestService) ListPendingFor(ctx context.Context, actor domain.AccountRef) ([]domain.View, error) {
	rs, err := s.registry.ListPendingFor(ctx, actor, s.now())
	if err != nil {
		return nil, err
	}
	return s.views(ctx, rs, actor), nil
}

// ListFor lists the requests actor has filed, newest first.
func (s *RequestService) ListFor(ctx context.Context, actor domain.AccountRef) ([]domain.View, error) {
	rs, err := s.registry.ListFor(ctx, actor)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, rs, actor), nil
}

func (s *RequestService) views(ctx context.Context, rs []*domain.Request, actor domain.AccountRef) []domain.View {
	out := make([]domain.View, 0, len(rs))
	for _, r := range rs {
		out = append(out, s.view(ctx, r, actor))
	}
	return out
}

// view reveals the confirmation code to the requester only, and only while
// the request can still be approved.
func (s *RequestService) view(ctx context.Context, r *domain.Request, actor domain.AccountRef) domain.View {
	v := r.View()
	if actor == r.Requester && r.Status == domain.StatusPending && r.SealedCode != "" {
		code, err := s.codes.Reveal(r.SealedCode)
		if err != nil {
			s.logger.Error("sealed code unreadable", zap.String("reference", r.Reference), zap.Error(err))
		} else {
			v.ConfirmationCode = code
		}
	}
	if r.OriginalRequestID != nil {
		if original, err := s.registry.Get(ctx, *r.OriginalRequestID); err == nil {
			v.OriginalReference = original.Reference
		}
	}
	return v
}
