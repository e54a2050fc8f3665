package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore remembers the nonces of accepted tokens. Claim returns false
// when nonce was already used inside window.
type NonceStore interface {
	Claim(ctx context.Context, nonce string, window time.Duration) (bool, error)
}

// MemoryNonceStore keeps nonces in process memory. Replicas do not see each
// other's nonces, so it only fits a single API instance.
type MemoryNonceStore struct {
	mu   sync.Mutex
	used map[string]time.Time
	now  func() time.Time
}

// NewMemoryNonceStore creates an in-process nonce store
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		used: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Claim records nonce and prunes entries older than window
func (s *MemoryNonceStore) Claim(_ context.Context, nonce string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if lastUsed, exists := s.used[nonce]; exists && now.Sub(lastUsed) < window {
		return false, nil
	}
	s.used[nonce] = now
	for n, used := range s.used {
		if now.Sub(used) > window {
			delete(s.used, n)
		}
	}
	return true, nil
}

// RedisNonceStore shares nonces between replicas through Redis
type RedisNonceStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisNonceStore creates a Redis backed nonce store
func NewRedisNonceStore(client redis.UniversalClient) *RedisNonceStore {
	return &RedisNonceStore{client: client, prefix: "aetherstake:nonce:"}
}

// Claim sets the nonce key only if it is absent; the key expires with window
func (s *RedisNonceStore) Claim(ctx context.Context, nonce string, window time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+nonce, 1, window).Result()
}
