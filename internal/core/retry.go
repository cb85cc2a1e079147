package core

import (
	"context"
	"fmt"
	"time"

	"villagecore/pkg/domain"
)

// RetryQueue is the contended-delivery ledger: a due-time schedule plus an
// independent attempt counter per key, with a dead-letter set for keys
// that exhaust their attempts. Counters live outside the schedule so
// attempts survive process restarts on persistent backends.
type RetryQueue struct {
	kv          domain.KVStore
	ledger      string
	counter     string
	dead        string
	maxAttempts int
}

// NewRetryQueue constructs the delivery retry queue over the given store.
func NewRetryQueue(kv domain.KVStore, maxAttempts int) *RetryQueue {
	return &RetryQueue{
		kv:          kv,
		ledger:      ledgerDeliveries,
		counter:     counterDeliveryAttempts,
		dead:        setDeliveryDead,
		maxAttempts: maxAttempts,
	}
}

// Schedule records key as due at now+delay and bumps its attempt counter,
// returning the new attempt count. Scheduling an already-scheduled key
// moves its due time.
func (q *RetryQueue) Schedule(ctx context.Context, key int64, delay time.Duration) (int64, error) {
	due := time.Now().Add(delay).UnixMilli()
	if err := q.kv.ScheduleAt(ctx, q.ledger, key, due); err != nil {
		return 0, fmt.Errorf("schedule retry for %d: %w", key, err)
	}
	attempts, err := q.kv.IncrCounter(ctx, q.counter, key)
	if err != nil {
		return 0, fmt.Errorf("count retry for %d: %w", key, err)
	}
	return attempts, nil
}

// Due returns the keys whose schedule has lapsed, ordered by due time.
func (q *RetryQueue) Due(ctx context.Context) ([]int64, error) {
	keys, err := q.kv.DueBefore(ctx, q.ledger, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("scan due retries: %w", err)
	}
	return keys, nil
}

// Attempts returns how many times key has been scheduled since its last
// acknowledgement.
func (q *RetryQueue) Attempts(ctx context.Context, key int64) (int64, error) {
	return q.kv.GetCounter(ctx, q.counter, key)
}

// Ack removes key from the schedule and clears its attempt counter, after
// the underlying work finally succeeded or became moot.
func (q *RetryQueue) Ack(ctx context.Context, key int64) error {
	if err := q.kv.RemoveSchedule(ctx, q.ledger, key); err != nil {
		return fmt.Errorf("unschedule %d: %w", key, err)
	}
	if err := q.kv.DeleteCounter(ctx, q.counter, key); err != nil {
		return fmt.Errorf("clear attempts for %d: %w", key, err)
	}
	return nil
}

// Exhausted reports whether the attempt count has reached the cap.
func (q *RetryQueue) Exhausted(attempts int64) bool {
	return q.maxAttempts > 0 && attempts >= int64(q.maxAttempts)
}

// DeadLetter moves key out of the live schedule into the dead-letter set.
// Dead-lettered keys are never retried automatically; Redeem puts them
// back in play.
func (q *RetryQueue) DeadLetter(ctx context.Context, key int64) error {
	if err := q.kv.AddToSet(ctx, q.dead, key); err != nil {
		return fmt.Errorf("dead-letter %d: %w", key, err)
	}
	return q.Ack(ctx, key)
}

// DeadLetters returns the dead-lettered keys.
func (q *RetryQueue) DeadLetters(ctx context.Context) ([]int64, error) {
	return q.kv.SetMembers(ctx, q.dead)
}

// Redeem removes key from the dead-letter set and schedules a fresh
// attempt after delay.
func (q *RetryQueue) Redeem(ctx context.Context, key int64, delay time.Duration) error {
	if err := q.kv.RemoveFromSet(ctx, q.dead, key); err != nil {
		return fmt.Errorf("redeem %d: %w", key, err)
	}
	_, err := q.Schedule(ctx, key, delay)
	return err
}
