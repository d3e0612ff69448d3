// Package nonce tracks which payment authorization nonces have been
// consumed, keyed by payer and nonce. The settlement backend's own replay
// protection is the final arbiter; this store is the gateway-side guard that
// lets concurrent duplicates fail fast without a second settlement attempt,
// and it keeps the gateway itself stateless when backed by redis.
package nonce

import (
	"context"
	"sync"
	"time"
)

// Store is the replay-guard interface. Implementations must make MarkUsed
// an atomic first-use claim: exactly one of two concurrent callers with the
// same payer+nonce wins.
type Store interface {
	// Used reports whether the payer+nonce pair has already been claimed.
	Used(ctx context.Context, payer, nonce string) (bool, error)

	// MarkUsed claims the payer+nonce pair. Returns true if this call won
	// the claim, false if the pair was already claimed.
	MarkUsed(ctx context.Context, payer, nonce string) (bool, error)

	// Release gives back a claim after a retryable settlement failure so
	// the client may resubmit the same payload.
	Release(ctx context.Context, payer, nonce string) error
}

// MemoryStore is an in-memory Store for single-instance deployments. Claims
// expire after a TTL sized to outlive any authorization validity window.
type MemoryStore struct {
	mu     sync.Mutex
	used   map[string]time.Time
	ttl    time.Duration
	lastGC time.Time
}

// NewMemoryStore creates a MemoryStore with the given claim TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		used:   make(map[string]time.Time),
		ttl:    ttl,
		lastGC: time.Now(),
	}
}

func key(payer, nonce string) string {
	return payer + ":" + nonce
}

// Used reports whether the pair has an unexpired claim.
func (s *MemoryStore) Used(_ context.Context, payer, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, exists := s.used[key(payer, nonce)]
	if !exists {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(s.used, key(payer, nonce))
		return false, nil
	}
	return true, nil
}

// MarkUsed atomically claims the pair.
func (s *MemoryStore) MarkUsed(_ context.Context, payer, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	k := key(payer, nonce)
	if expiry, exists := s.used[k]; exists && now.Before(expiry) {
		return false, nil
	}
	s.used[k] = now.Add(s.ttl)

	// Lazy cleanup, at most once per TTL.
	if now.Sub(s.lastGC) > s.ttl {
		for k, expiry := range s.used {
			if now.After(expiry) {
				delete(s.used, k)
			}
		}
		s.lastGC = now
	}

	return true, nil
}

// Release removes a claim.
func (s *MemoryStore) Release(_ context.Context, payer, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.used, key(payer, nonce))
	return nil
}

var _ Store = (*MemoryStore)(nil)
