// Package retry holds the exponential backoff policy used for HTTP retries and push reconnects.
package retry

import (
	"context"
	"math"
	"time"
)

// Policy describes an exponential backoff schedule.
type Policy struct {
	// MaxRetries is the number of attempts allowed after the first one.
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// Multiplier grows the delay between attempts (default: 2)
	Multiplier float64
}

// WithDefaults returns a copy of p with zero fields replaced by the given defaults.
func (p Policy) WithDefaults(def Policy) Policy {
	if p.MaxRetries == 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.InitialDelay == 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Multiplier == 0 {
		p.Multiplier = def.Multiplier
	}
	if p.Multiplier == 0 {
		p.Multiplier = 2
	}
	return p
}

// Delay returns the wait before retry number attempt (1-based).
// Formula: min(initial * multiplier^(attempt-1), max)
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.InitialDelay <= 0 {
		return 0
	}

	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// Sleep waits for the delay of the given attempt or until ctx is done.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
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
