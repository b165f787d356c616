// Package service drives cash requests through their lifecycle: creation,
// approval with the ledger movement, rejection, cancellation and expiry.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/agentcash/internal/confirm"
	"github.com/punchamoorthee/agentcash/internal/domain"
	"github.com/punchamoorthee/agentcash/internal/events"
	"github.com/punchamoorthee/agentcash/internal/fee"
	"github.com/punchamoorthee/agentcash/internal/registry"
)

// CurrentSchemaVersion is the only create payload version accepted.
const CurrentSchemaVersion = 1

const maxNoteLength = 500

type Ledger interface {
	Transfer(ctx context.Context, key string, legs []domain.Leg) error
	Balance(ctx context.Context, account domain.AccountRef, book domain.Book) (int64, error)
	Applied(ctx context.Context, key string) (bool, error)
}

type Directory interface {
	Resolve(ctx context.Context, handle string) (domain.Account, error)
}

type Codes interface {
	Issue() (confirm.Code, error)
	Verify(hash []byte, supplied string) bool
	Reveal(sealed string) (string, error)
}

// KindRules bounds the amount and sets the response window of one kind.
// A zero MaxAmount means unbounded.
type KindRules struct {
	MinAmount int64
	MaxAmount int64
	TTL       time.Duration
}

type Options struct {
	Kinds              map[domain.Kind]KindRules
	CancellationWindow time.Duration
	LedgerTimeout      time.Duration
	PlatformAccount    domain.AccountRef
	FloatFloor         int64
}

type Deps struct {
	Registry  *registry.Registry
	Fees      *fee.Policy
	Codes     Codes
	Ledger    Ledger
	Directory Directory
	Events    events.Publisher
	Logger    *zap.Logger
	Now       func() time.Time
}

type RequestService struct {
	registry  *registry.Registry
	fees      *fee.Policy
	codes     Codes
	ledger    Ledger
	directory Directory
	events    events.Publisher
	logger    *zap.Logger
	now       func() time.Time
	opts      Options
}

func New(d Deps, opts Options) *RequestService {
	s := &RequestService{
		registry:  d.Registry,
		fees:      d.Fees,
		codes:     d.Codes,
		ledger:    d.Ledger,
		directory: d.Directory,
		events:    d.Events,
		logger:    d.Logger,
		now:       d.Now,
		opts:      opts,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.opts.LedgerTimeout <= 0 {
		s.opts.LedgerTimeout = 5 * time.Second
	}
	return s
}

func (s *RequestService) publish(ctx context.Context, e domain.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("type", string(e.Type)),
			zap.String("reference", e.Reference),
			zap.Error(err))
	}
}
