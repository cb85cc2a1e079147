package lock

import (
	"context"
	"testing"
	"time"

	"villagecore/internal/infra/kv/memory"
)

func TestAcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	l := New(memory.NewStore())

	token, ok, err := l.Acquire(ctx, "family:1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Acquire = %v, ok=%v", err, ok)
	}
	if token == "" {
		t.Fatal("empty token on successful acquire")
	}

	if _, ok, err := l.Acquire(ctx, "family:1", time.Minute); err != nil || ok {
		t.Fatalf("second Acquire = %v, ok=%v; want held", err, ok)
	}

	// A different name is independent.
	if _, ok, err := l.Acquire(ctx, "family:2", time.Minute); err != nil || !ok {
		t.Fatalf("Acquire other lock = %v, ok=%v", err, ok)
	}

	released, err := l.Release(ctx, "family:1", token)
	if err != nil || !released {
		t.Fatalf("Release = %v, %v", released, err)
	}
	if _, ok, _ := l.Acquire(ctx, "family:1", time.Minute); !ok {
		t.Fatal("Acquire failed after release")
	}
}

func TestStaleTokenCannotRelease(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewStore()
	l := New(kv)

	now := time.Unix(1000, 0)
	kv.SetNowFunc(func() time.Time { return now })

	stale, ok, err := l.Acquire(ctx, "family:1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Acquire = %v, ok=%v", err, ok)
	}

	// The holder crashes; its TTL lapses and someone else takes over.
	now = now.Add(2 * time.Minute)
	fresh, ok, err := l.Acquire(ctx, "family:1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Acquire after expiry = %v, ok=%v", err, ok)
	}

	if released, err := l.Release(ctx, "family:1", stale); err != nil || released {
		t.Fatalf("stale Release = %v, %v; must not release", released, err)
	}
	if released, err := l.Release(ctx, "family:1", fresh); err != nil || !released {
		t.Fatalf("fresh Release = %v, %v", released, err)
	}
}

func TestTokensAreUnique(t *testing.T) {
	ctx := context.Background()
	l := New(memory.NewStore())
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		token, ok, err := l.Acquire(ctx, "x", time.Minute)
		if err != nil || !ok {
			t.Fatalf("Acquire: %v, ok=%v", err, ok)
		}
		if seen[token] {
			t.Fatalf("token %s repeated", token)
		}
		seen[token] = true
		if _, err := l.Release(ctx, "x", token); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}
}
