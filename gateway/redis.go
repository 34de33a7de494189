package gateway

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "gatekeeper:decision:"
	redisOpTimeout = 500 * time.Millisecond
)

type redisDedup struct {
	r *redis.Client
}

// NewRedisDedup returns a dedup store backed by an existing redis client,
// for deployments where several gateway replicas must share the window.
func NewRedisDedup(client *redis.Client) DedupStore {
	return &redisDedup{r: client}
}

// NewDedupAuto picks redis when an address is configured and falls back
// to the in-process cache otherwise.
func NewDedupAuto(addr string) DedupStore {
	if addr != "" {
		return NewRedisDedup(redis.NewClient(&redis.Options{Addr: addr}))
	}
	return NewMemoryDedup()
}

func (r *redisDedup) Get(ctx context.Context, correlationID string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	v, err := r.r.Get(ctx, redisKeyPrefix+correlationID).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *redisDedup) Put(ctx context.Context, correlationID string, decision []byte, window time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	_ = r.r.Set(ctx, redisKeyPrefix+correlationID, decision, window).Err()
}
