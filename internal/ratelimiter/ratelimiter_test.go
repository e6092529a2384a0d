package ratelimiter

import (
	"context"
	"testing"
	"time"
)

// TestNew verifies limiter creation with different parameters.
func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		perSecond uint
		burst     uint
		unlimited bool
	}{
		{name: "standard rate", perSecond: 100, burst: 200},
		{name: "zero burst raised", perSecond: 5, burst: 0},
		{name: "unlimited (zero rate)", perSecond: 0, burst: 0, unlimited: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.perSecond, tt.burst)
			if limiter == nil || limiter.limiter == nil {
				t.Fatal("New() returned an unusable limiter")
			}
			if limiter.Unlimited() != tt.unlimited {
				t.Fatalf("Unlimited() = %v, want %v", limiter.Unlimited(), tt.unlimited)
			}
			if !tt.unlimited && limiter.limiter.Burst() < 1 {
				t.Fatalf("burst = %d, want >= 1", limiter.limiter.Burst())
			}
		})
	}
}

// TestAllow verifies that Allow enforces the burst capacity.
func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		if !limiter.Allow() {
			t.Fatalf("session %d should be allowed (within burst)", i)
		}
	}

	if limiter.Allow() {
		t.Fatal("session should be throttled after burst exhausted")
	}

	time.Sleep(110 * time.Millisecond)

	if !limiter.Allow() {
		t.Fatal("session should be allowed after token replenishment")
	}
}

// TestWaitCancelled verifies that Wait honours context cancellation.
func TestWaitCancelled(t *testing.T) {
	limiter := New(1, 1)
	if !limiter.Allow() {
		t.Fatal("first token should be available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx); err == nil {
		t.Fatal("Wait should fail when the context expires before a token is available")
	}
}

// TestUnlimitedNeverBlocks verifies the zero-rate configuration.
func TestUnlimitedNeverBlocks(t *testing.T) {
	limiter := New(0, 0)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("Wait %d failed: %v", i, err)
		}
	}
}

// TestSetLimit verifies switching between limited and unlimited.
func TestSetLimit(t *testing.T) {
	limiter := New(0, 0)
	limiter.SetLimit(5)
	if limiter.Unlimited() {
		t.Fatal("limiter should be limited after SetLimit(5)")
	}
	limiter.SetLimit(0)
	if !limiter.Unlimited() {
		t.Fatal("limiter should be unlimited after SetLimit(0)")
	}
}
