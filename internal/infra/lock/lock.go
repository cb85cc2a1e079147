// Package lock implements the named, expiring mutual-exclusion token on top
// of the entity store's set-if-absent / delete-if-equal primitives.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"villagecore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.Locker = (*TokenLock)(nil)

const keyPrefix = "lock:"

// TokenLock grants uuid-valued lock tokens stored under expiring keys.
// Acquire is a single non-blocking attempt; a holder that crashes is fenced
// out once the key's TTL lapses.
type TokenLock struct {
	kv domain.KVStore
}

// New constructs a token lock over the given store.
func New(kv domain.KVStore) *TokenLock {
	return &TokenLock{kv: kv}
}

// Acquire attempts to take the named lock for ttl. ok is false when the
// lock is held elsewhere; the token is only meaningful when ok is true.
func (l *TokenLock) Acquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.kv.SetIfAbsent(ctx, keyPrefix+name, token, ttl)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the named lock if token still owns it. A stale token (the
// lock expired and was re-acquired by someone else) releases nothing.
func (l *TokenLock) Release(ctx context.Context, name, token string) (bool, error) {
	return l.kv.DeleteKeyIfEqual(ctx, keyPrefix+name, token)
}
