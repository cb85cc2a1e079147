// Package sqlite provides a durable entity store that mirrors the in-memory
// semantics while snapshotting the full state to a single SQLite table as
// JSON blobs after every successful mutation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"villagecore/internal/infra/kv/memory"
	"villagecore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.KVStore = (*Store)(nil)

// Store persists state to SQLite while reusing the in-memory store for
// single-key atomicity within the process.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) a snapshotting SQLite-backed store.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "villagecore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM state WHERE bucket = 'kv'`).Scan(&payload)
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
		`INSERT INTO state (bucket, payload) VALUES ('kv', ?)
		 ON CONFLICT(bucket) DO UPDATE SET payload = excluded.payload`,
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

// Mutating operations delegate to the in-memory store and then snapshot.

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
