package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"villagecore/pkg/domain"
)

func TestRecordLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.SetRecord(ctx, "people", 1, []byte(`{"id":1}`)); err != nil {
		t.Fatalf("SetRecord: %v", err)
	}
	payload, ok, err := s.GetRecord(ctx, "people", 1)
	if err != nil || !ok {
		t.Fatalf("GetRecord = %v, ok=%v", err, ok)
	}
	if string(payload) != `{"id":1}` {
		t.Fatalf("payload = %s", payload)
	}

	all, err := s.AllRecords(ctx, "people")
	if err != nil || len(all) != 1 {
		t.Fatalf("AllRecords = %v, %v", all, err)
	}

	if err := s.DeleteRecord(ctx, "people", 1); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if _, ok, _ := s.GetRecord(ctx, "people", 1); ok {
		t.Fatal("record survived delete")
	}
	// Deleting an absent record is a no-op.
	if err := s.DeleteRecord(ctx, "people", 99); err != nil {
		t.Fatalf("delete absent record: %v", err)
	}
}

func TestSetOperations(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for _, m := range []int64{5, 3, 9, 3} {
		if err := s.AddToSet(ctx, "pool", m); err != nil {
			t.Fatalf("AddToSet(%d): %v", m, err)
		}
	}
	members, err := s.SetMembers(ctx, "pool")
	if err != nil {
		t.Fatalf("SetMembers: %v", err)
	}
	if len(members) != 3 || members[0] != 3 || members[1] != 5 || members[2] != 9 {
		t.Fatalf("members = %v, want [3 5 9]", members)
	}
	if card, _ := s.SetCard(ctx, "pool"); card != 3 {
		t.Fatalf("SetCard = %d, want 3", card)
	}

	// Pops drain in ascending order and report exhaustion.
	var popped []int64
	for {
		m, ok, err := s.PopFromSet(ctx, "pool")
		if err != nil {
			t.Fatalf("PopFromSet: %v", err)
		}
		if !ok {
			break
		}
		popped = append(popped, m)
	}
	if len(popped) != 3 || popped[0] != 3 || popped[2] != 9 {
		t.Fatalf("popped = %v, want [3 5 9]", popped)
	}
}

func TestPopFromSetNeverDoubleClaims(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	const n = 200
	for i := int64(1); i <= n; i++ {
		if err := s.AddToSet(ctx, "pool", i); err != nil {
			t.Fatalf("AddToSet: %v", err)
		}
	}

	results := make(chan int64, n)
	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func() {
			for {
				m, ok, err := s.PopFromSet(ctx, "pool")
				if err != nil || !ok {
					done <- struct{}{}
					return
				}
				results <- m
			}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	close(results)

	seen := make(map[int64]bool)
	for m := range results {
		if seen[m] {
			t.Fatalf("member %d claimed twice", m)
		}
		seen[m] = true
	}
	if len(seen) != n {
		t.Fatalf("claimed %d members, want %d", len(seen), n)
	}
}

func TestScheduleOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.ScheduleAt(ctx, "retry", 1, 300); err != nil {
		t.Fatalf("ScheduleAt: %v", err)
	}
	if err := s.ScheduleAt(ctx, "retry", 2, 100); err != nil {
		t.Fatalf("ScheduleAt: %v", err)
	}
	if err := s.ScheduleAt(ctx, "retry", 3, 200); err != nil {
		t.Fatalf("ScheduleAt: %v", err)
	}

	due, err := s.DueBefore(ctx, "retry", 250)
	if err != nil {
		t.Fatalf("DueBefore: %v", err)
	}
	if len(due) != 2 || due[0] != 2 || due[1] != 3 {
		t.Fatalf("due = %v, want [2 3]", due)
	}

	// Rescheduling replaces the due time.
	if err := s.ScheduleAt(ctx, "retry", 2, 500); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	due, _ = s.DueBefore(ctx, "retry", 250)
	if len(due) != 1 || due[0] != 3 {
		t.Fatalf("due after reschedule = %v, want [3]", due)
	}

	if err := s.RemoveSchedule(ctx, "retry", 3); err != nil {
		t.Fatalf("RemoveSchedule: %v", err)
	}
	due, _ = s.DueBefore(ctx, "retry", 1000)
	if len(due) != 2 {
		t.Fatalf("due after removal = %v", due)
	}
}

func TestCountersAndSequences(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for want := int64(1); want <= 3; want++ {
		got, err := s.IncrCounter(ctx, "attempts", 7)
		if err != nil || got != want {
			t.Fatalf("IncrCounter = %d, %v, want %d", got, err, want)
		}
	}
	if v, _ := s.GetCounter(ctx, "attempts", 7); v != 3 {
		t.Fatalf("GetCounter = %d, want 3", v)
	}
	if v, _ := s.GetCounter(ctx, "attempts", 8); v != 0 {
		t.Fatalf("missing counter reads %d, want 0", v)
	}
	if err := s.DeleteCounter(ctx, "attempts", 7); err != nil {
		t.Fatalf("DeleteCounter: %v", err)
	}
	if v, _ := s.GetCounter(ctx, "attempts", 7); v != 0 {
		t.Fatalf("counter survived delete: %d", v)
	}

	if id, _ := s.NextID(ctx, "seq:person"); id != 1 {
		t.Fatalf("first NextID = %d, want 1", id)
	}
	if err := s.SetSequence(ctx, "seq:person", 40); err != nil {
		t.Fatalf("SetSequence: %v", err)
	}
	if id, _ := s.NextID(ctx, "seq:person"); id != 41 {
		t.Fatalf("NextID after SetSequence = %d, want 41", id)
	}
}

func TestExpiringKeys(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Unix(1000, 0)
	s.SetNowFunc(func() time.Time { return now })

	ok, err := s.SetIfAbsent(ctx, "lock:a", "tok1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("SetIfAbsent = %v, %v", ok, err)
	}
	if ok, _ := s.SetIfAbsent(ctx, "lock:a", "tok2", time.Minute); ok {
		t.Fatal("second SetIfAbsent succeeded while key held")
	}
	if v, ok, _ := s.GetKey(ctx, "lock:a"); !ok || v != "tok1" {
		t.Fatalf("GetKey = %q, %v", v, ok)
	}

	// A mismatched token releases nothing.
	if released, _ := s.DeleteKeyIfEqual(ctx, "lock:a", "tok2"); released {
		t.Fatal("stale token released the key")
	}

	// Expiry frees the key for the next taker.
	now = now.Add(2 * time.Minute)
	if _, ok, _ := s.GetKey(ctx, "lock:a"); ok {
		t.Fatal("expired key still visible")
	}
	if ok, _ := s.SetIfAbsent(ctx, "lock:a", "tok3", time.Minute); !ok {
		t.Fatal("SetIfAbsent failed after expiry")
	}
	if released, _ := s.DeleteKeyIfEqual(ctx, "lock:a", "tok3"); !released {
		t.Fatal("matching token failed to release")
	}
}

func TestUnavailabilitySurfacesTypedError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.SetUnavailable(true)

	if err := s.Ready(ctx); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("Ready = %v, want ErrStoreUnavailable", err)
	}
	if err := s.SetRecord(ctx, "people", 1, []byte("{}")); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("SetRecord during outage = %v", err)
	}

	s.SetUnavailable(false)
	if err := s.Ready(ctx); err != nil {
		t.Fatalf("Ready after recovery = %v", err)
	}
}

func TestExportImportState(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if err := s.SetRecord(ctx, "people", 1, []byte(`{"id":1}`)); err != nil {
		t.Fatalf("SetRecord: %v", err)
	}
	if err := s.AddToSet(ctx, "pool", 4); err != nil {
		t.Fatalf("AddToSet: %v", err)
	}
	if _, err := s.NextID(ctx, "seq"); err != nil {
		t.Fatalf("NextID: %v", err)
	}

	snap := s.ExportState()
	restored := NewStore()
	restored.ImportState(snap)

	if payload, ok, _ := restored.GetRecord(ctx, "people", 1); !ok || string(payload) != `{"id":1}` {
		t.Fatalf("restored record = %s, ok=%v", payload, ok)
	}
	if members, _ := restored.SetMembers(ctx, "pool"); len(members) != 1 || members[0] != 4 {
		t.Fatalf("restored set = %v", members)
	}
	if id, _ := restored.NextID(ctx, "seq"); id != 2 {
		t.Fatalf("restored sequence continued at %d, want 2", id)
	}
}
