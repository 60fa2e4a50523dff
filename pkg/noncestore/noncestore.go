// Package noncestore provides the abstract nonce-replay contract the chain
// store façade consults before accepting a commit carrying a nonce: a
// nonce may be consumed exactly once. Two concrete stores are provided —
// an in-process MemoryStore and a Redis-backed store for multi-process
// deployments.
package noncestore

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store checks and atomically marks a nonce as consumed.
type Store interface {
	// CheckAndSet reports whether nonce was fresh (true) or already
	// consumed (false). On true, the nonce is now marked consumed for ttl.
	CheckAndSet(ctx context.Context, nonce string, ttl time.Duration) (fresh bool, err error)
}

// MemoryStore is an in-process Store suitable for single-process
// deployments and tests.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]time.Time)}
}

func (m *MemoryStore) CheckAndSet(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if expiry, ok := m.seen[nonce]; ok && now.Before(expiry) {
		return false, nil
	}
	m.seen[nonce] = now.Add(ttl)
	return true, nil
}

// RedisStore is a Store backed by Redis, using SET NX with a TTL so
// multiple processes sharing one Redis instance agree on nonce freshness.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing go-redis client. Keys are namespaced
// under prefix (default "trustchain:nonce:") to avoid collisions with
// other uses of the same Redis instance.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "trustchain:nonce:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) CheckAndSet(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+nonce, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
