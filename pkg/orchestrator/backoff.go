package orchestrator

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"time"
)

// Backoff shapes the delay between transient-error retries.
type Backoff struct {
	// Initial is the delay before the first retry.
	Initial time.Duration

	// Factor multiplies the delay per retry. Values <= 0 mean 1.0.
	Factor float64

	// Max caps the computed delay. Zero means uncapped.
	Max time.Duration

	// Jitter spreads the capped delay over [0.5x, 1.5x], derived
	// deterministically from the seed so reruns are reproducible.
	Jitter bool
}

// DefaultBackoff returns the standard 1s, 2s, 4s... schedule capped at 30s.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: time.Second,
		Factor:  2.0,
		Max:     30 * time.Second,
	}
}

// Delay computes the wait before retry number retry (1-indexed). A non-nil
// hint (a parsed Retry-After) takes precedence over the computed schedule.
func (b Backoff) Delay(retry int, hint *time.Duration, seed string) time.Duration {
	if hint != nil && *hint >= 0 {
		return *hint
	}

	if retry < 1 {
		retry = 1
	}
	if b.Initial <= 0 {
		return 0
	}

	factor := b.Factor
	if factor <= 0 {
		factor = 1.0
	}

	delay := float64(b.Initial) * math.Pow(factor, float64(retry-1))
	if b.Max > 0 {
		delay = math.Min(delay, float64(b.Max))
	}

	// Jitter applies after capping.
	if b.Jitter {
		delay *= 0.5 + jitterUnit(seed)
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// jitterUnit maps a seed to [0, 1].
func jitterUnit(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	u := binary.BigEndian.Uint64(sum[:8])
	return float64(u) / float64(^uint64(0))
}
