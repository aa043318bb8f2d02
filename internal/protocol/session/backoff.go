package session

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// DialRetry paces a client's reconnect attempts to a producer using the
// session's backoff block and attempt limit.
type DialRetry struct {
	Backoff     BackoffConfig
	MaxAttempts int
	// Rand drives jitter. Nil uses the unjittered delay.
	Rand *rand.Rand
}

// DialRetry returns the retry policy for dialing with this config. Jitter is
// seeded from the clock.
func (c Config) DialRetry() *DialRetry {
	seed := uint64(time.Now().UnixNano())
	return &DialRetry{
		Backoff:     c.Backoff,
		MaxAttempts: c.MaxConnectAttempts,
		Rand:        rand.New(rand.NewPCG(seed, seed>>1)),
	}
}

// Exhausted reports whether attempt (1-based) was the last one allowed.
// Zero MaxAttempts never exhausts; ctx bounds the dial instead.
func (r *DialRetry) Exhausted(attempt int) bool {
	return r.MaxAttempts > 0 && attempt >= r.MaxAttempts
}

// Delay is the wait after failed attempt N: InitialDelay grown by
// Multiplier per attempt and capped at MaxDelay. With jitter the result is
// scaled into [0.5, 1.5) of that.
func (r *DialRetry) Delay(attempt int) time.Duration {
	b := r.Backoff
	if b.InitialDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	mult := max(b.Multiplier, 1.0)
	delay := float64(b.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter && r.Rand != nil {
		delay *= 0.5 + r.Rand.Float64()
	}
	return time.Duration(delay)
}

// Sleep waits d or until ctx ends.
func (r *DialRetry) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
