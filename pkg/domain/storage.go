package domain

import (
	"context"
	"time"
)

// KVStore is the entity-store contract: typed accessors over a key-value
// backend exposing hash maps (id to JSON record), sets (membership
// indexes), schedules (time-ordered ledgers), counters, and sequences.
//
// Every method is atomic at the single-key level. Multi-key consistency
// ("add to set A and remove from set B") is the caller's responsibility and
// is NOT transactional; the integrity verifier exists to reconcile the
// divergence this can produce.
type KVStore interface {
	// Record maps: id -> JSON payload.
	GetRecord(ctx context.Context, name string, id int64) ([]byte, bool, error)
	SetRecord(ctx context.Context, name string, id int64, payload []byte) error
	DeleteRecord(ctx context.Context, name string, id int64) error
	AllRecords(ctx context.Context, name string) (map[int64][]byte, error)

	// Membership sets.
	AddToSet(ctx context.Context, name string, member int64) error
	RemoveFromSet(ctx context.Context, name string, member int64) error
	SetMembers(ctx context.Context, name string) ([]int64, error)
	SetCard(ctx context.Context, name string) (int64, error)
	// PopFromSet atomically removes and returns one member, so two
	// concurrent matchmaking passes can never claim the same candidate.
	PopFromSet(ctx context.Context, name string) (int64, bool, error)

	// Due-time ledgers (sorted by schedule time).
	ScheduleAt(ctx context.Context, ledger string, key int64, dueUnixMs int64) error
	DueBefore(ctx context.Context, ledger string, nowUnixMs int64) ([]int64, error)
	RemoveSchedule(ctx context.Context, ledger string, key int64) error

	// Attempt counters, independent from the ledgers so attempts survive
	// restarts on persistent backends.
	IncrCounter(ctx context.Context, counter string, key int64) (int64, error)
	GetCounter(ctx context.Context, counter string, key int64) (int64, error)
	DeleteCounter(ctx context.Context, counter string, key int64) error

	// Monotonic id sequences.
	NextID(ctx context.Context, sequence string) (int64, error)
	SetSequence(ctx context.Context, sequence string, value int64) error

	// Expiring string keys; the primitives the distributed lock is built on.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	GetKey(ctx context.Context, key string) (string, bool, error)
	DeleteKeyIfEqual(ctx context.Context, key, value string) (bool, error)

	// Ready probes the backend. Callers wait a bounded interval for
	// readiness and then degrade to skipping the pass.
	Ready(ctx context.Context) error
}

// Locker grants named, expiring mutual-exclusion tokens. Acquire is a
// single non-blocking attempt: it returns ok=false when the lock is held
// elsewhere. A lock held by one caller must not be releasable by another
// caller's stale token. The TTL bounds worst-case staleness when a holder
// crashes mid-operation.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, name, token string) (bool, error)
}
