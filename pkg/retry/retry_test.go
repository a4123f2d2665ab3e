package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	errs "civitscraper/pkg/errors"
	"civitscraper/pkg/logger"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.0,
	}

	tests := []struct {
		attempt     int
		expected    time.Duration
		description string
	}{
		{0, 0, "No attempt yet"},
		{1, 100 * time.Millisecond, "First attempt"},
		{2, 200 * time.Millisecond, "Second attempt"},
		{3, 400 * time.Millisecond, "Third attempt"},
		{4, 800 * time.Millisecond, "Fourth attempt"},
		{5, 1 * time.Second, "Fifth attempt (capped at max)"},
		{6, 1 * time.Second, "Sixth attempt (still capped)"},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			if delay := backoff.NextDelay(test.attempt); delay != test.expected {
				t.Errorf("Expected delay %v, got %v", test.expected, delay)
			}
		})
	}
}

func TestExponentialBackoffJitterBounds(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.5,
	}

	delays := make(map[time.Duration]bool)
	for i := 0; i < 50; i++ {
		delay := backoff.NextDelay(2)
		if delay < 100*time.Millisecond || delay > 300*time.Millisecond {
			t.Fatalf("delay %v outside [100ms, 300ms]", delay)
		}
		delays[delay] = true
	}
	if len(delays) < 2 {
		t.Error("Expected multiple different delays with jitter, but got consistent delays")
	}

	backoff.Rand = func() float64 { return 0 }
	if d := backoff.NextDelay(1); d != 50*time.Millisecond {
		t.Errorf("lowest jitter: expected 50ms, got %v", d)
	}
	backoff.Rand = func() float64 { return 0.999999 }
	if d := backoff.NextDelay(1); d < 149*time.Millisecond {
		t.Errorf("highest jitter: expected ~150ms, got %v", d)
	}
}

func TestExponentialBackoffCapAppliesAfterJitter(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    time.Second,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.5,
		Rand:         func() float64 { return 0.99 },
	}
	if d := backoff.NextDelay(1); d != time.Second {
		t.Errorf("expected cap of 1s, got %v", d)
	}
}

func TestPolicyShouldRetry(t *testing.T) {
	p := Policy{MaxAttempts: 3, Backoff: &ConstantBackoff{Delay: 10 * time.Millisecond}}
	transient := errs.Transient("download", "timeout", nil)
	permanent := errs.Permanent("download", "not found", nil)

	tests := []struct {
		name    string
		attempt int
		err     error
		retry   bool
		delay   time.Duration
	}{
		{"transient first attempt", 1, transient, true, 10 * time.Millisecond},
		{"transient second attempt", 2, transient, true, 10 * time.Millisecond},
		{"transient at max", 3, transient, false, 0},
		{"permanent", 1, permanent, false, 0},
		{"filesystem", 1, errs.Filesystem("write", errors.New("disk full")), false, 0},
		{"anomaly", 1, errs.Anomaly("pager", "repeat"), false, 0},
		{"cancelled", 1, errs.Cancelled("download", nil), false, 0},
		{"nil", 1, nil, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.ShouldRetry(tt.attempt, tt.err)
			if d.Retry != tt.retry || d.Delay != tt.delay {
				t.Errorf("got %+v, want retry=%v delay=%v", d, tt.retry, tt.delay)
			}
		})
	}
}

func TestPolicyRetryAfterOverridesBackoff(t *testing.T) {
	p := Policy{MaxAttempts: 3, Backoff: &ConstantBackoff{Delay: 10 * time.Millisecond}}
	resp := &http.Response{StatusCode: 429, Header: http.Header{"Retry-After": []string{"2"}}}
	err := errs.FromResponse("download", resp, time.Now())

	d := p.ShouldRetry(1, err)
	if !d.Retry {
		t.Fatal("expected 429 to be retried")
	}
	if d.Delay != 2*time.Second {
		t.Errorf("expected Retry-After delay of 2s, got %v", d.Delay)
	}
}

func TestPolicyClampsRetryAfter(t *testing.T) {
	resp := &http.Response{StatusCode: 429, Header: http.Header{"Retry-After": []string{"86400"}}}
	err := errs.FromResponse("download", resp, time.Now())

	d := Policy{MaxAttempts: 3}.ShouldRetry(1, err)
	if !d.Retry || d.Delay != DefaultMaxRetryAfter {
		t.Errorf("expected retry after %v, got %+v", DefaultMaxRetryAfter, d)
	}
	if !d.Clamped() || d.RetryAfter != 24*time.Hour {
		t.Errorf("expected the requested 24h to be reported, got %v", d.RetryAfter)
	}

	d = Policy{MaxAttempts: 3, MaxRetryAfter: time.Hour}.ShouldRetry(1, err)
	if d.Delay != time.Hour {
		t.Errorf("expected custom ceiling of 1h, got %v", d.Delay)
	}
}

func TestDoLogsClampedRetryAfter(t *testing.T) {
	log := logger.NewTestLogger()
	var delays []time.Duration
	cfg := &Config{
		Policy:  Policy{MaxAttempts: 2, MaxRetryAfter: time.Millisecond},
		Logger:  log,
		Op:      "page",
		OnRetry: func(attempt int, err error, delay time.Duration) { delays = append(delays, delay) },
	}
	resp := &http.Response{StatusCode: 429, Header: http.Header{"Retry-After": []string{"600"}}}

	attempts, err := Do(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		if attempt == 1 {
			return errs.FromResponse("page", resp, time.Now())
		}
		return nil
	})
	if err != nil || attempts != 2 {
		t.Fatalf("expected success on attempt 2, got %d attempts, %v", attempts, err)
	}
	if len(delays) != 1 || delays[0] != time.Millisecond {
		t.Errorf("expected one clamped 1ms wait, got %v", delays)
	}

	var clamped []logger.LogMessage
	for _, m := range log.GetMessagesByLevel("WARN") {
		if m.Message == "Retry-After exceeds ceiling, waiting less" {
			clamped = append(clamped, m)
		}
	}
	if len(clamped) != 1 {
		t.Fatalf("expected one clamp warning, got %d", len(clamped))
	}
	if clamped[0].Fields["retry_after_ms"] != int64(600000) {
		t.Errorf("unexpected retry_after_ms: %v", clamped[0].Fields["retry_after_ms"])
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	cfg := &Config{
		Policy: Policy{MaxAttempts: 5, Backoff: &ConstantBackoff{Delay: time.Millisecond}},
		Logger: logger.NewNopLogger(),
	}
	retries := 0
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) { retries++ }

	attempts, err := Do(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return errs.Transient("op", "timeout", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if retries != 2 {
		t.Errorf("Expected OnRetry twice, got %d", retries)
	}
}

func TestDoBoundedByMaxAttempts(t *testing.T) {
	cfg := &Config{
		Policy: Policy{MaxAttempts: 3, Backoff: &ConstantBackoff{Delay: time.Millisecond}},
		Logger: logger.NewNopLogger(),
	}
	calls := 0
	attempts, err := Do(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		calls++
		return errs.Transient("op", "timeout", nil)
	})
	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if calls != 3 || attempts != 3 {
		t.Errorf("Expected exactly 3 attempts, got calls=%d attempts=%d", calls, attempts)
	}
	if errs.KindOf(err) != errs.KindTransientNetwork {
		t.Errorf("Expected transient kind to survive wrapping, got %s", errs.KindOf(err))
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	cfg := &Config{
		Policy: Policy{MaxAttempts: 5, Backoff: &ConstantBackoff{Delay: time.Millisecond}},
		Logger: logger.NewNopLogger(),
	}
	perm := errs.Permanent("op", "gone", nil)
	attempts, err := Do(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		return perm
	})
	if !errors.Is(err, perm) {
		t.Errorf("Expected the permanent error back, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestDoCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{
		Policy: Policy{MaxAttempts: 5, Backoff: &ConstantBackoff{Delay: time.Hour}},
		Logger: logger.NewNopLogger(),
		OnRetry: func(attempt int, err error, delay time.Duration) {
			cancel()
		},
	}

	start := time.Now()
	_, err := Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		return errs.Transient("op", "timeout", nil)
	})
	if !errs.IsCancelled(err) {
		t.Errorf("Expected cancelled error, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Do did not return promptly after cancellation")
	}
}

func TestDoWithResult(t *testing.T) {
	cfg := &Config{
		Policy: Policy{MaxAttempts: 2, Backoff: &ConstantBackoff{Delay: time.Millisecond}},
		Logger: logger.NewNopLogger(),
	}
	result, attempts, err := DoWithResult(context.Background(), cfg, func(ctx context.Context, attempt int) (string, error) {
		if attempt == 1 {
			return "", errs.Transient("op", "reset", nil)
		}
		return "ok", nil
	})
	if err != nil || result != "ok" || attempts != 2 {
		t.Errorf("got result=%q attempts=%d err=%v", result, attempts, err)
	}
}
