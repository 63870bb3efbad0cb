// Package clock abstracts time so the engine can run on wall time, a sped-up
// clock, or a fully virtual one in tests and simulations.
package clock

import (
	"time"
)

// Timer is a pending callback that can be cancelled.
type Timer interface {
	// Stop cancels the callback. It reports false if the callback already ran
	// or was already stopped.
	Stop() bool
}

// Clock supplies the current time and one-shot callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the wall clock.
type Real struct{}

// Now returns time.Now.
func (Real) Now() time.Time { return time.Now() }

// AfterFunc schedules f on its own goroutine after d.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Scaled runs factor times faster than the wall clock. Reported time starts at
// the instant the clock was created.
type Scaled struct {
	factor    float64
	origin    time.Time
	realStart time.Time
}

// NewScaled returns a clock accelerated by factor. Factors below 1 are treated
// as 1.
func NewScaled(factor float64) *Scaled {
	if factor < 1 {
		factor = 1
	}
	now := time.Now()
	return &Scaled{factor: factor, origin: now, realStart: now}
}

// Factor returns the acceleration.
func (s *Scaled) Factor() float64 { return s.factor }

// Now returns the accelerated time.
func (s *Scaled) Now() time.Time {
	elapsed := time.Since(s.realStart)
	return s.origin.Add(time.Duration(float64(elapsed) * s.factor))
}

// AfterFunc schedules f after d of accelerated time.
func (s *Scaled) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(time.Duration(float64(d)/s.factor), f)
}
