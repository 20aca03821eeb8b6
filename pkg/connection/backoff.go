package connection

import (
	"math/rand"
	"time"
)

// RetryState tracks the retry attempts for a failed operation.
type RetryState struct {
	// Attempts is the number of retries scheduled so far.
	Attempts int

	// NextAttempt is the time of the next attempt.
	NextAttempt time.Time

	// CurrentDelay is the current backoff delay.
	CurrentDelay time.Duration
}

// BackoffCalculator calculates the next backoff delay with exponential backoff.
type BackoffCalculator struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// NewBackoffCalculator creates a new backoff calculator.
func NewBackoffCalculator(baseDelay, maxDelay time.Duration) *BackoffCalculator {
	return &BackoffCalculator{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
	}
}

// NextDelay calculates the next backoff delay for the given attempt number.
// It uses exponential backoff with ±10% jitter.
func (bc *BackoffCalculator) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := bc.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= bc.MaxDelay {
			delay = bc.MaxDelay
			break
		}
	}

	if delay > bc.MaxDelay {
		delay = bc.MaxDelay
	}

	jitter := time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
	delay += jitter

	if delay < 0 {
		delay = bc.BaseDelay
	}

	return delay
}

// ScheduleNext records the next attempt relative to now.
func (bc *BackoffCalculator) ScheduleNext(rs *RetryState, now time.Time) {
	rs.CurrentDelay = bc.NextDelay(rs.Attempts)
	rs.NextAttempt = now.Add(rs.CurrentDelay)
	rs.Attempts++
}

// ShouldRetry reports whether another attempt is allowed after attempts
// tries. maxAttempts counts every try including the first; values below 1
// mean a single try.
func ShouldRetry(attempts, maxAttempts int) bool {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return attempts < maxAttempts
}
