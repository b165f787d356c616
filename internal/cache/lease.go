package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Lease is a best-effort mutual exclusion between service instances.
type Lease struct {
	client redis.Cmdable
	key    string
	token  string
	ttl    time.Duration
}

func NewLease(client redis.Cmdable, key, token string, ttl time.Duration) *Lease {
	return &Lease{client: client, key: key, token: token, ttl: ttl}
}

// Acquire reports whether this instance now holds the lease.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

func (l *Lease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
