package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// actorLimiter hands every actor its own token bucket. Idle buckets are
// dropped once they have refilled.
type actorLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*actorBucket
	lastGC   time.Time
}

type actorBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdleTTL = 10 * time.Minute

func newActorLimiter(perSec float64, burst int) *actorLimiter {
	return &actorLimiter{
		limit:    rate.Limit(perSec),
		burst:    burst,
		limiters: make(map[string]*actorBucket),
		lastGC:   time.Now(),
	}
}

func (l *actorLimiter) Allow(actor string) bool {
	now := time.Now()
	l.mu.Lock()
	b, ok := l.limiters[actor]
	if !ok {
		b = &actorBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[actor] = b
	}
	b.lastSeen = now
	if now.Sub(l.lastGC) > limiterIdleTTL {
		for k, v := range l.limiters {
			if now.Sub(v.lastSeen) > limiterIdleTTL {
				delete(l.limiters, k)
			}
		}
		l.lastGC = now
	}
	l.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}
