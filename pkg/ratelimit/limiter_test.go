package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucket(t *testing.T) {
	now := time.Unix(0, 0)
	tb := NewTokenBucket(3, time.Second)
	tb.now = func() time.Time { return now }
	tb.last = now

	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Errorf("Expected token %d to be available", i+1)
		}
	}
	if tb.Allow() {
		t.Error("Expected no more tokens to be available")
	}

	now = now.Add(500 * time.Millisecond)
	if tb.Allow() {
		t.Error("Half an interval should not earn a token")
	}

	now = now.Add(500 * time.Millisecond)
	if !tb.Allow() {
		t.Error("Expected a token after one interval")
	}

	now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Errorf("Expected refill to capacity, token %d missing", i+1)
		}
	}
	if tb.Allow() {
		t.Error("Refill must not exceed capacity")
	}

	tb.Reset()
	if tb.tokens != tb.capacity {
		t.Error("Expected tokens to be reset to capacity")
	}
}

func TestTokenBucketWaitPaces(t *testing.T) {
	tb := NewTokenBucket(1, 50*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("Expected ~100ms of pacing for three requests, got %v", elapsed)
	}
}

func TestTokenBucketWaitCancelled(t *testing.T) {
	tb := PerMinute(1, 1)
	if !tb.Allow() {
		t.Fatal("first request should pass")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tb.Wait(ctx); err == nil {
		t.Error("Expected Wait to return the context error")
	}
}

func TestSlidingWindow(t *testing.T) {
	sw := NewSlidingWindow(3, 200*time.Millisecond)

	for i := 0; i < 3; i++ {
		if !sw.Allow() {
			t.Errorf("Expected request %d to be allowed", i+1)
		}
	}
	if sw.Allow() {
		t.Error("Expected request to be denied when limit is reached")
	}

	if err := sw.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	sw.Reset()
	if len(sw.requests) != 0 {
		t.Error("Expected requests to be cleared after reset")
	}
}

func TestSlidingWindowWaitCancelled(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour)
	sw.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sw.Wait(ctx); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
