package connmgr

import (
	"math"
	"time"

	"pkt.systems/formvox/schema"
)

// Backoff computes reconnect delays: base * growth^attempt, capped at max.
// The attempt counter resets to zero on a successful connect.
type Backoff struct {
	base   time.Duration
	growth float64
	max    time.Duration
}

// NewBackoff constructs a backoff from connection config, normalizing zero
// values to the defaults.
func NewBackoff(cfg schema.ConnConfig) Backoff {
	cfg = schema.NormalizeConnConfig(cfg)
	return Backoff{base: cfg.ReconnectBase, growth: cfg.ReconnectGrowth, max: cfg.ReconnectMax}
}

// Delay returns the wait before reconnect attempt n (zero-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := time.Duration(float64(b.base) * math.Pow(b.growth, float64(attempt)))
	if d > b.max || d <= 0 {
		return b.max
	}
	return d
}
