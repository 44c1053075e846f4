// Package backoff provides the deterministic retry-delay policy shared by the
// connection manager and the shipper.
package backoff

import "time"

// Policy maps a consecutive-failure count to a wait duration:
// delay = min(Base * 2^attempt, Cap). It is pure and safe for concurrent use.
type Policy struct {
	Base time.Duration
	Cap  time.Duration
}

// NextDelay returns the delay to apply after the given number of consecutive
// failures. Negative attempts are treated as zero. The result never exceeds
// Cap, including in the face of shift overflow.
func (p Policy) NextDelay(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Cap || d <= 0 {
			return p.Cap
		}
	}
	if p.Cap > 0 && d > p.Cap {
		return p.Cap
	}
	return d
}
