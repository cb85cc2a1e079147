package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"villagecore/pkg/domain"
)

// duePregnancy sets up a married couple with a pregnancy due today and
// returns the family id.
func duePregnancy(t *testing.T, eng *Engine, clock *testClock, husbandID, wifeID int64) int64 {
	t.Helper()
	ctx := context.Background()
	addPerson(t, eng, husbandID, domain.SexMale, 25, 1)
	addPerson(t, eng, wifeID, domain.SexFemale, 24, 1)
	fam, err := eng.CreateFamily(ctx, husbandID, wifeID)
	if err != nil || fam == nil {
		t.Fatalf("CreateFamily: %v, %v", fam, err)
	}
	if _, err := eng.StartPregnancy(ctx, fam.ID); err != nil {
		t.Fatalf("StartPregnancy: %v", err)
	}
	clock.advanceDays(eng.cfg.GestationMonths * domain.DaysPerMonth)
	return fam.ID
}

func TestProcessDeliveriesDelivers(t *testing.T) {
	ctx := context.Background()
	eng, _, clock := testEngine(t, Config{})
	famID := duePregnancy(t, eng, clock, 1, 2)

	report, err := eng.ProcessDeliveries(ctx, 0)
	if err != nil {
		t.Fatalf("ProcessDeliveries: %v", err)
	}
	if report.Delivered != 1 || report.Retried != 0 || report.DeadLettered != 0 {
		t.Fatalf("report = %+v", report)
	}
	fam, _ := eng.Family(ctx, famID)
	if fam.Pregnancy || len(fam.ChildrenIDs) != 1 {
		t.Fatalf("family after sweep = %+v", fam)
	}

	// A second sweep finds nothing due.
	report, err = eng.ProcessDeliveries(ctx, 0)
	if err != nil || report.Delivered != 0 {
		t.Fatalf("idle sweep = %+v, %v", report, err)
	}
}

func TestContendedDeliveryGoesThroughRetryLedger(t *testing.T) {
	ctx := context.Background()
	cfg := Config{RetryDelay: 5 * time.Millisecond, MaxRetryAttempts: 3}
	eng, kv, clock := testEngine(t, cfg)
	famID := duePregnancy(t, eng, clock, 1, 2)

	token, ok, err := eng.locks.Acquire(ctx, familyLockName(famID), time.Hour)
	if err != nil || !ok {
		t.Fatalf("pre-acquire: %v, ok=%v", err, ok)
	}

	report, err := eng.ProcessDeliveries(ctx, 0)
	if err != nil {
		t.Fatalf("ProcessDeliveries: %v", err)
	}
	if report.Retried != 1 || report.Delivered != 0 {
		t.Fatalf("report = %+v, want one retry", report)
	}
	queue := NewRetryQueue(kv, cfg.MaxRetryAttempts)
	if attempts, _ := queue.Attempts(ctx, famID); attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}

	// The lock clears; the next sweep (after the retry delay) delivers
	// and clears the ledger.
	if _, err := eng.locks.Release(ctx, familyLockName(famID), token); err != nil {
		t.Fatalf("Release: %v", err)
	}
	time.Sleep(2 * cfg.RetryDelay)
	report, err = eng.ProcessDeliveries(ctx, 0)
	if err != nil || report.Delivered != 1 {
		t.Fatalf("post-release sweep = %+v, %v", report, err)
	}
	if attempts, _ := queue.Attempts(ctx, famID); attempts != 0 {
		t.Fatalf("attempts after success = %d, want 0", attempts)
	}
	if due, _ := queue.Due(ctx); len(due) != 0 {
		t.Fatalf("ledger still holds %v", due)
	}
}

func TestExhaustedDeliveryIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	cfg := Config{RetryDelay: time.Millisecond, MaxRetryAttempts: 3}
	eng, _, clock := testEngine(t, cfg)
	famID := duePregnancy(t, eng, clock, 1, 2)

	token, ok, err := eng.locks.Acquire(ctx, familyLockName(famID), time.Hour)
	if err != nil || !ok {
		t.Fatalf("pre-acquire: %v, ok=%v", err, ok)
	}
	defer eng.locks.Release(ctx, familyLockName(famID), token)

	deadLettered := false
	for i := 0; i < cfg.MaxRetryAttempts+1; i++ {
		report, err := eng.ProcessDeliveries(ctx, 0)
		if err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
		if report.DeadLettered > 0 {
			deadLettered = true
			break
		}
		time.Sleep(3 * time.Millisecond)
	}
	if !deadLettered {
		t.Fatal("delivery never dead-lettered after exhausting attempts")
	}

	dead, err := eng.DeadLetteredDeliveries(ctx)
	if err != nil || len(dead) != 1 || dead[0] != famID {
		t.Fatalf("dead letters = %v, %v", dead, err)
	}

	// Dead-lettered families are left alone by further sweeps.
	report, err := eng.ProcessDeliveries(ctx, 0)
	if err != nil || report.Retried != 0 || report.DeadLettered != 0 {
		t.Fatalf("sweep after dead-letter = %+v, %v", report, err)
	}

	// Redeeming puts the family back in play; with the lock released it
	// finally delivers.
	if err := eng.RedeemDelivery(ctx, famID); err != nil {
		t.Fatalf("RedeemDelivery: %v", err)
	}
	if _, err := eng.locks.Release(ctx, familyLockName(famID), token); err != nil {
		t.Fatalf("Release: %v", err)
	}
	time.Sleep(3 * time.Millisecond)
	report, err = eng.ProcessDeliveries(ctx, 0)
	if err != nil || report.Delivered != 1 {
		t.Fatalf("sweep after redeem = %+v, %v", report, err)
	}
}

func TestSweepSkipsWhenStoreDown(t *testing.T) {
	ctx := context.Background()
	eng, kv, _ := testEngine(t, Config{ReadyWait: 100 * time.Millisecond})
	kv.SetUnavailable(true)

	_, err := eng.ProcessDeliveries(ctx, 0)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("sweep against down store = %v, want ErrStoreUnavailable", err)
	}
}

func TestSweepHonorsLimit(t *testing.T) {
	ctx := context.Background()
	eng, _, clock := testEngine(t, Config{})
	duePregnancy(t, eng, clock, 1, 2)
	// Second couple set up at the already-advanced date; their delivery
	// comes due after another gestation.
	duePregnancy(t, eng, clock, 3, 4)

	report, err := eng.ProcessDeliveries(ctx, 1)
	if err != nil {
		t.Fatalf("ProcessDeliveries: %v", err)
	}
	if report.Delivered != 1 {
		t.Fatalf("limited sweep delivered %d, want 1", report.Delivered)
	}
}
