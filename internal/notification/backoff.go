package notification

import (
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays: base * 2^attempt, capped at max,
// with +/- jitter.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	jitter  float64
	attempt int
}

// NewBackoff creates a backoff calculator. jitter is a fraction, 0.2 = +/-20%.
func NewBackoff(base, max time.Duration, jitter float64) *Backoff {
	return &Backoff{base: base, max: max, jitter: jitter}
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	delay := b.base * time.Duration(int64(1)<<b.attempt)
	if delay > b.max || delay <= 0 {
		delay = b.max
	}
	if b.jitter > 0 {
		delay = time.Duration(float64(delay) * (1.0 + (rand.Float64()*2-1)*b.jitter))
	}
	if b.attempt < 30 {
		b.attempt++
	}
	return delay
}

// Reset starts over after a success.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of delays handed out since the last reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}
