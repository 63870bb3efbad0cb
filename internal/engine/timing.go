package engine

import (
	"time"

	"github.com/clarke68/improv-score/internal/arc"
)

const (
	DefaultPreRoll   = 5 * time.Second
	DefaultCountdown = 5 * time.Second
	DefaultTick      = 200 * time.Millisecond
	DefaultJitter    = 0.15
)

// Timing holds the fixed lengths of the reveal protocol.
type Timing struct {
	PreRoll   time.Duration `yaml:"pre_roll" json:"pre_roll"`
	Countdown time.Duration `yaml:"countdown" json:"countdown"`
	Tick      time.Duration `yaml:"tick" json:"tick"`
	// Jitter is the fraction of the target interval added or removed at
	// random when scheduling the next prompt.
	Jitter float64 `yaml:"jitter" json:"jitter"`
}

// DefaultTiming returns the stock timing.
func DefaultTiming() Timing {
	return Timing{
		PreRoll:   DefaultPreRoll,
		Countdown: DefaultCountdown,
		Tick:      DefaultTick,
		Jitter:    DefaultJitter,
	}
}

func (t Timing) withDefaults() Timing {
	def := DefaultTiming()
	if t.PreRoll <= 0 {
		t.PreRoll = def.PreRoll
	}
	if t.Countdown <= 0 {
		t.Countdown = def.Countdown
	}
	if t.Tick <= 0 {
		t.Tick = def.Tick
	}
	if t.Jitter < 0 || t.Jitter >= 1 {
		t.Jitter = def.Jitter
	}
	return t
}

// PieceClock marks musical time zero and the end of the piece.
type PieceClock struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Elapsed is the musical time at now; negative during pre-roll.
func (p PieceClock) Elapsed(now time.Time) time.Duration {
	return now.Sub(p.Start)
}

// Remaining is the time left until the end, never negative.
func (p PieceClock) Remaining(now time.Time) time.Duration {
	if d := p.End.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Fraction is elapsed/duration clamped to [0,1].
func (p PieceClock) Fraction(now time.Time) float64 {
	return arc.Fraction(now, p.Start, p.End)
}
