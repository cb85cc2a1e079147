package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"villagecore/internal/infra/kv/memory"
	"villagecore/pkg/domain"
)

// stubConn is a minimal driver.Conn that records statements and keeps the
// kv_state payload in memory, enough to exercise the store without a
// live server.
type stubConn struct {
	execs    []string
	payloads map[string][]byte
	pingErr  error
}

type stubDriver struct{ conn *stubConn }

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *stubConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}
func (c *stubConn) Close() error { return nil }
func (c *stubConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

func (c *stubConn) Ping(context.Context) error { return c.pingErr }

func (c *stubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.execs = append(c.execs, query)
	if strings.Contains(query, "INSERT INTO kv_state") && len(args) == 1 {
		payload, ok := args[0].Value.([]byte)
		if !ok {
			return nil, fmt.Errorf("unexpected payload type %T", args[0].Value)
		}
		c.payloads["kv"] = append([]byte(nil), payload...)
	}
	return driver.RowsAffected(1), nil
}

func (c *stubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if !strings.Contains(query, "SELECT payload FROM kv_state") {
		return nil, fmt.Errorf("unexpected query %q", query)
	}
	rows := &stubRows{cols: []string{"payload"}}
	if payload, ok := c.payloads["kv"]; ok {
		rows.vals = [][]driver.Value{{append([]byte(nil), payload...)}}
	}
	return rows, nil
}

type stubRows struct {
	cols []string
	vals [][]driver.Value
	next int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }
func (r *stubRows) Next(dest []driver.Value) error {
	if r.next >= len(r.vals) {
		return io.EOF
	}
	copy(dest, r.vals[r.next])
	r.next++
	return nil
}

func newStubDB(t *testing.T) (*sql.DB, *stubConn) {
	t.Helper()
	conn := &stubConn{payloads: make(map[string][]byte)}
	name := fmt.Sprintf("stubpg-%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		t.Fatalf("open stub db: %v", err)
	}
	return db, conn
}

func openStubStore(t *testing.T) (*Store, *stubConn) {
	t.Helper()
	db, conn := newStubDB(t)
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func TestNewStoreAppliesDDL(t *testing.T) {
	_, conn := openStubStore(t)

	var sawDDL bool
	for _, stmt := range conn.execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE") {
			sawDDL = true
			break
		}
	}
	if !sawDDL {
		t.Fatalf("expected kv_state DDL, got execs: %v", conn.execs)
	}
}

func TestMutationsSnapshotToDatabase(t *testing.T) {
	ctx := context.Background()
	store, conn := openStubStore(t)

	if err := store.SetRecord(ctx, "people", 7, []byte(`{"id":7}`)); err != nil {
		t.Fatalf("SetRecord: %v", err)
	}
	if err := store.AddToSet(ctx, "tiles:active", 3); err != nil {
		t.Fatalf("AddToSet: %v", err)
	}

	payload, ok := conn.payloads["kv"]
	if !ok {
		t.Fatalf("expected a persisted snapshot")
	}
	var snap memory.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if string(snap.Records["people"][7]) != `{"id":7}` {
		t.Fatalf("snapshot missing record, got %+v", snap.Records)
	}
	if len(snap.Sets["tiles:active"]) != 1 || snap.Sets["tiles:active"][0] != 3 {
		t.Fatalf("snapshot missing set member, got %+v", snap.Sets)
	}
}

func TestNewStoreHydratesExistingSnapshot(t *testing.T) {
	ctx := context.Background()
	seed := memory.NewStore()
	if err := seed.SetRecord(ctx, "families", 4, []byte(`{"id":4}`)); err != nil {
		t.Fatalf("seed SetRecord: %v", err)
	}
	if err := seed.SetSequence(ctx, "seq:family", 4); err != nil {
		t.Fatalf("seed SetSequence: %v", err)
	}
	payload, err := json.Marshal(seed.ExportState())
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}

	db, conn := newStubDB(t)
	conn.payloads["kv"] = payload
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	got, ok, err := store.GetRecord(ctx, "families", 4)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if !ok {
		t.Fatal("hydrated record missing")
	}
	if string(got) != `{"id":4}` {
		t.Fatalf("hydrated record = %s", got)
	}
	id, err := store.NextID(ctx, "seq:family")
	if err != nil {
		t.Fatalf("NextID: %v", err)
	}
	if id != 5 {
		t.Fatalf("NextID after hydration = %d, want 5", id)
	}
}

func TestReadySurfacesPingFailures(t *testing.T) {
	ctx := context.Background()
	store, conn := openStubStore(t)

	if err := store.Ready(ctx); err != nil {
		t.Fatalf("Ready on healthy stub: %v", err)
	}
	conn.pingErr = errors.New("connection refused")
	if err := store.Ready(ctx); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("Ready error = %v, want ErrStoreUnavailable", err)
	}
}
