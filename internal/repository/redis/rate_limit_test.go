package redis

import (
	"context"
	"testing"
	"time"
)

func TestRateLimitRepositoryHit(t *testing.T) {
	_, client := newTestRedis(t)
	repo := NewRateLimitRepository(client, "tranzio")
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		decision, err := repo.Hit(ctx, "signup:10.0.0.1", 3, time.Minute, start.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("Hit returned error: %v", err)
		}
		if !decision.Allowed || decision.Count != i {
			t.Fatalf("hit %d: unexpected decision %+v", i, decision)
		}
	}

	decision, err := repo.Hit(ctx, "signup:10.0.0.1", 3, time.Minute, start.Add(4*time.Second))
	if err != nil {
		t.Fatalf("Hit returned error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected fourth hit to be rejected")
	}
	wantReset := start.Add(time.Second).Add(time.Minute)
	if diff := decision.ResetAt.Sub(wantReset); diff > time.Millisecond || diff < -time.Millisecond {
		t.Fatalf("expected reset near %s, got %s", wantReset, decision.ResetAt)
	}

	// Once the first hit slides out of the window a new one fits.
	decision, err = repo.Hit(ctx, "signup:10.0.0.1", 3, time.Minute, start.Add(62*time.Second))
	if err != nil {
		t.Fatalf("Hit returned error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected hit after window slide to be allowed, got %+v", decision)
	}
}

func TestRateLimitRepositoryKeysAreIndependent(t *testing.T) {
	_, client := newTestRedis(t)
	repo := NewRateLimitRepository(client, "tranzio")
	now := time.Now()

	if d, _ := repo.Hit(context.Background(), "login:a", 1, time.Minute, now); !d.Allowed {
		t.Fatal("expected first key to be allowed")
	}
	if d, _ := repo.Hit(context.Background(), "login:b", 1, time.Minute, now); !d.Allowed {
		t.Fatal("expected second key to be allowed")
	}
}

func TestRateLimitRepositoryRejectsInvalidRule(t *testing.T) {
	_, client := newTestRedis(t)
	repo := NewRateLimitRepository(client, "tranzio")
	if _, err := repo.Hit(context.Background(), "k", 0, time.Minute, time.Now()); err == nil {
		t.Fatal("expected error for zero limit")
	}
}
