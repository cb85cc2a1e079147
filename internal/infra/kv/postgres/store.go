// Package postgres provides a Postgres-backed entity store that mirrors the
// in-memory semantics while snapshotting state through the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"villagecore/internal/infra/kv/memory"
	"villagecore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.KVStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps local development working while allowing overrides.
	defaultDSN = "postgres://localhost/villagecore?sslmode=disable"
)

var sqlOpen = sql.Open

// OverrideSQLOpen swaps the database opener and returns a restore
// function. Tests use it to inject a stub connection.
func OverrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	prev := sqlOpen
	sqlOpen = fn
	return func() { sqlOpen = prev }
}

// Store persists state to Postgres while reusing the in-memory store for
// single-key atomicity within the process.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN), ensures the snapshot table exists, and hydrates the
// in-memory state from any existing snapshot.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sqlOpen(defaultDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS kv_state (
		bucket TEXT PRIMARY KEY,
		payload BYTEA NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM kv_state WHERE bucket = 'kv'`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	var snap memory.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	s.ImportState(snap)
	return nil
}

func (s *Store) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, err := json.Marshal(s.ExportState())
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO kv_state (bucket, payload) VALUES ('kv', $1)
		 ON CONFLICT (bucket) DO UPDATE SET payload = EXCLUDED.payload`,
		payload,
	); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// Close flushes state and releases the database handle.
func (s *Store) Close() error {
	if err := s.persist(); err != nil {
		_ = s.db.Close()
		return err
	}
	return s.db.Close()
}

// Ready reports whether the backing database answers pings.
func (s *Store) Ready(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return domain.ErrStoreUnavailable
	}
	return s.Store.Ready(ctx)
}

func (s *Store) SetRecord(ctx context.Context, name string, id int64, payload []byte) error {
	if err := s.Store.SetRecord(ctx, name, id, payload); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) DeleteRecord(ctx context.Context, name string, id int64) error {
	if err := s.Store.DeleteRecord(ctx, name, id); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) AddToSet(ctx context.Context, name string, member int64) error {
	if err := s.Store.AddToSet(ctx, name, member); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) RemoveFromSet(ctx context.Context, name string, member int64) error {
	if err := s.Store.RemoveFromSet(ctx, name, member); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) PopFromSet(ctx context.Context, name string) (int64, bool, error) {
	member, ok, err := s.Store.PopFromSet(ctx, name)
	if err != nil || !ok {
		return member, ok, err
	}
	return member, true, s.persist()
}

func (s *Store) ScheduleAt(ctx context.Context, ledger string, key int64, dueUnixMs int64) error {
	if err := s.Store.ScheduleAt(ctx, ledger, key, dueUnixMs); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) RemoveSchedule(ctx context.Context, ledger string, key int64) error {
	if err := s.Store.RemoveSchedule(ctx, ledger, key); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) IncrCounter(ctx context.Context, counter string, key int64) (int64, error) {
	n, err := s.Store.IncrCounter(ctx, counter, key)
	if err != nil {
		return 0, err
	}
	return n, s.persist()
}

func (s *Store) DeleteCounter(ctx context.Context, counter string, key int64) error {
	if err := s.Store.DeleteCounter(ctx, counter, key); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) NextID(ctx context.Context, sequence string) (int64, error) {
	id, err := s.Store.NextID(ctx, sequence)
	if err != nil {
		return 0, err
	}
	return id, s.persist()
}

func (s *Store) SetSequence(ctx context.Context, sequence string, value int64) error {
	if err := s.Store.SetSequence(ctx, sequence, value); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.Store.SetIfAbsent(ctx, key, value, ttl)
	if err != nil || !ok {
		return ok, err
	}
	return true, s.persist()
}

func (s *Store) DeleteKeyIfEqual(ctx context.Context, key, value string) (bool, error) {
	ok, err := s.Store.DeleteKeyIfEqual(ctx, key, value)
	if err != nil || !ok {
		return ok, err
	}
	return true, s.persist()
}
