package websocket

import (
	"math/rand/v2"
	"time"
)

const (
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 10 * time.Second
	DefaultBackoffFactor  = 2.0
	DefaultBackoffJitter  = 0.2
)

// Backoff computes reconnect delays: Initial * Factor^attempt, capped at
// Max, then spread by ±Jitter.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	// Jitter is the relative spread applied to each delay, in [0, 1).
	Jitter float64
	// Rand returns a value in [0, 1). Nil means math/rand/v2.
	Rand func() float64
}

// DefaultBackoff returns the reconnect schedule used by the CLI.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: DefaultBackoffInitial,
		Max:     DefaultBackoffMax,
		Factor:  DefaultBackoffFactor,
		Jitter:  DefaultBackoffJitter,
	}
}

// Next returns the delay before reconnect attempt number attempt (zero
// based).
func (b Backoff) Next(attempt int) time.Duration {
	initial, max, factor := b.Initial, b.Max, b.Factor
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	if factor < 1 {
		factor = DefaultBackoffFactor
	}

	d := float64(initial)
	for i := 0; i < attempt && d < float64(max); i++ {
		d *= factor
	}
	if d > float64(max) {
		d = float64(max)
	}

	if b.Jitter > 0 {
		r := rand.Float64
		if b.Rand != nil {
			r = b.Rand
		}
		d *= 1 + b.Jitter*(2*r()-1)
	}
	return time.Duration(d)
}
