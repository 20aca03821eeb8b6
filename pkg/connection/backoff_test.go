package connection

import (
	"fmt"
	"testing"
	"time"
)

func TestBackoffCalculator_NextDelay(t *testing.T) {
	bc := NewBackoffCalculator(1*time.Second, 1*time.Minute)

	tests := []struct {
		attempt  int
		minDelay time.Duration
		maxDelay time.Duration
	}{
		{0, 0, 2 * time.Second},
		{1, time.Second, 3 * time.Second},
		{2, 3 * time.Second, 5 * time.Second},
		{3, 7 * time.Second, 9 * time.Second},
		{10, 54 * time.Second, 66 * time.Second}, // capped at 1m
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			delay := bc.NextDelay(tt.attempt)
			if delay < tt.minDelay || delay > tt.maxDelay {
				t.Errorf("NextDelay(%d) = %v, want between %v and %v",
					tt.attempt, delay, tt.minDelay, tt.maxDelay)
			}
		})
	}
}

func TestBackoffCalculator_NextDelay_NegativeAttempt(t *testing.T) {
	bc := NewBackoffCalculator(1*time.Second, 1*time.Minute)

	delay := bc.NextDelay(-1)
	if delay < 0 || delay > 2*time.Second {
		t.Errorf("NextDelay(-1) = %v, should treat as attempt 0", delay)
	}
}

func TestBackoffCalculator_ScheduleNext(t *testing.T) {
	bc := NewBackoffCalculator(1*time.Second, 1*time.Minute)
	now := time.Unix(1_700_000_000, 0)

	var rs RetryState
	bc.ScheduleNext(&rs, now)

	if rs.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", rs.Attempts)
	}
	if rs.NextAttempt.Sub(now) != rs.CurrentDelay {
		t.Errorf("NextAttempt = %v, want now + %v", rs.NextAttempt, rs.CurrentDelay)
	}

	bc.ScheduleNext(&rs, now)
	if rs.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 after second schedule", rs.Attempts)
	}
}

func TestBackoffCalculator_MaxDelay(t *testing.T) {
	bc := NewBackoffCalculator(1*time.Second, 5*time.Second)

	for attempt := 10; attempt < 20; attempt++ {
		// ±10% jitter around 5s
		if delay := bc.NextDelay(attempt); delay > 6*time.Second {
			t.Errorf("NextDelay(%d) = %v, should be capped around 5s", attempt, delay)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		attempts    int
		maxAttempts int
		shouldRetry bool
	}{
		{0, 0, true}, // the first try always happens
		{1, 0, false},
		{1, 1, false},
		{0, 3, true},
		{2, 3, true},
		{3, 3, false},
		{100, 3, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_of_%d", tt.attempts, tt.maxAttempts), func(t *testing.T) {
			if got := ShouldRetry(tt.attempts, tt.maxAttempts); got != tt.shouldRetry {
				t.Errorf("ShouldRetry(%d, %d) = %v, want %v",
					tt.attempts, tt.maxAttempts, got, tt.shouldRetry)
			}
		})
	}
}
