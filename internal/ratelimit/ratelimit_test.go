package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/safecircle-tech/authd/internal/config"
)

func TestMemoryLimiterFixedWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(context.Background(), "k", 3, now)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !result.Allowed {
			t.Fatalf("expected attempt %d to be allowed", i+1)
		}
	}
	result, err := limiter.Allow(context.Background(), "k", 3, now)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected the fourth attempt to be blocked")
	}

	// A later window resets the counter.
	later := now.Add(time.Duration(windowSeconds) * time.Second)
	result, err = limiter.Allow(context.Background(), "k", 3, later)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected the next window to allow again")
	}
}

func TestMemoryLimiterZeroLimitDisabled(t *testing.T) {
	limiter := NewMemoryLimiter()
	result, err := limiter.Allow(context.Background(), "k", 0, time.Now())
	if err != nil || !result.Allowed {
		t.Fatalf("expected a zero limit to disable throttling")
	}
}

func TestKeys(t *testing.T) {
	if LoginKey(" A@X.com ", "203.0.113.9") != "login:a@x.com:203.0.113.9" {
		t.Fatalf("unexpected login key %q", LoginKey(" A@X.com ", "203.0.113.9"))
	}
	if LoginKey("", "") != "" {
		t.Fatalf("expected an empty key for empty inputs")
	}
	if VerifyKey("ticket", "203.0.113.9") != "verify:ticket:203.0.113.9" {
		t.Fatalf("unexpected verify key")
	}
}

func TestManagerFallsBackToMemory(t *testing.T) {
	// No Redis address configured: the memory backend serves directly.
	manager := NewManager(config.RateLimitConfig{LoginPerMinute: 2}, nil, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := manager.AllowLogin(ctx, "a@x.com", "203.0.113.9")
		if err != nil || !result.Allowed {
			t.Fatalf("expected attempt %d allowed, got %v %v", i+1, result.Allowed, err)
		}
	}
	result, err := manager.AllowLogin(ctx, "a@x.com", "203.0.113.9")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected the third attempt to be blocked")
	}

	// A different origin keeps its own budget.
	other, err := manager.AllowLogin(ctx, "a@x.com", "198.51.100.7")
	if err != nil || !other.Allowed {
		t.Fatalf("expected an independent budget per origin")
	}
}

func TestManagerSeparatesLoginAndVerify(t *testing.T) {
	manager := NewManager(config.RateLimitConfig{LoginPerMinute: 1, VerifyPerMinute: 1}, nil, nil)
	ctx := context.Background()

	if result, _ := manager.AllowLogin(ctx, "a@x.com", "ip"); !result.Allowed {
		t.Fatalf("expected the login budget to be fresh")
	}
	if result, _ := manager.AllowVerify(ctx, "ticket", "ip"); !result.Allowed {
		t.Fatalf("expected the verify budget to be independent")
	}
}
