// Package expiry moves overdue PENDING requests to EXPIRED in the background.
package expiry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/agentcash/internal/domain"
)

var (
	expiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentcash_sweeper_expired_total",
		Help: "Requests expired by the background sweeper",
	})
	sweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentcash_sweeper_errors_total",
		Help: "Failed sweep passes or per-request expiries",
	})
)

type Overdue interface {
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.Request, error)
}

type Expirer interface {
	Expire(ctx context.Context, id uuid.UUID) (bool, error)
}

// Lease keeps concurrent instances from sweeping at the same time. Sweeps
// stay correct without it since every expiry is a conditional update.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type Sweeper struct {
	overdue  Overdue
	expirer  Expirer
	lease    Lease
	logger   *zap.Logger
	interval time.Duration
	batch    int
	now      func() time.Time
}

func New(overdue Overdue, expirer Expirer, lease Lease, logger *zap.Logger, interval time.Duration, batch int) *Sweeper {
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		overdue:  overdue,
		expirer:  expirer,
		lease:    lease,
		logger:   logger,
		interval: interval,
		batch:    batch,
		now:      time.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				sweepErrors.Inc()
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce expires overdue requests in batches and returns how many it moved.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.lease != nil {
		held, err := s.lease.Acquire(ctx)
		if err != nil {
			return 0, err
		}
		if !held {
			return 0, nil
		}
		defer func() {
			if err := s.lease.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("sweep lease release failed", zap.Error(err))
			}
		}()
	}

	total := 0
	for {
		due, err := s.overdue.ListOverdue(ctx, s.now(), s.batch)
		if err != nil {
			return total, err
		}
		moved := 0
		for _, r := range due {
			ok, err := s.expirer.Expire(ctx, r.ID)
			if err != nil {
				sweepErrors.Inc()
				s.logger.Warn("expire failed", zap.String("reference", r.Reference), zap.Error(err))
				continue
			}
			if ok {
				moved++
			}
		}
		total += moved
		expiredTotal.Add(float64(moved))
		// A short page is the last one; a page with no progress would repeat.
		if len(due) < s.batch || moved == 0 {
			break
		}
	}
	if total > 0 {
		s.logger.Info("expired overdue requests", zap.Int("count", total))
	}
	return total, nil
}
