// Package piece defines the composer-chosen settings that stay fixed for the
// whole of one piece.
package piece

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clarke68/improv-score/internal/arc"
	"github.com/clarke68/improv-score/internal/dynamics"
)

// ErrInvalidSettings wraps every settings validation failure.
var ErrInvalidSettings = errors.New("invalid piece settings")

// Interval is the range of seconds between prompts.
type Interval struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Average returns the midpoint of the interval in seconds.
func (i Interval) Average() float64 {
	return (i.Min + i.Max) / 2
}

// Settings is immutable once a piece starts.
type Settings struct {
	DurationMinutes float64        `json:"duration_minutes" yaml:"duration_minutes"`
	Interval        Interval       `json:"interval" yaml:"interval"`
	Dynamics        dynamics.Range `json:"dynamics" yaml:"dynamics"`
	Contrast        float64        `json:"contrast" yaml:"contrast"`
	Arc             arc.Shape      `json:"arc" yaml:"arc"`
	NumPlayers      int            `json:"num_players" yaml:"num_players"`
}

// Defaults mirrors the values a new session starts with.
func Defaults() Settings {
	return Settings{
		DurationMinutes: 8,
		Interval:        Interval{Min: 30, Max: 60},
		Dynamics:        dynamics.FullRange,
		Contrast:        0.6,
		Arc:             arc.ShapeTraditional,
		NumPlayers:      4,
	}
}

// Duration returns the musical length of the piece.
func (s Settings) Duration() time.Duration {
	return time.Duration(s.DurationMinutes * float64(time.Minute))
}

// Normalize trims and lower-cases the arc name.
func (s *Settings) Normalize() {
	if s == nil {
		return
	}
	s.Arc = arc.Shape(strings.ToLower(strings.TrimSpace(string(s.Arc))))
}

// Validate checks the preconditions the engine relies on.
func (s Settings) Validate() error {
	var problems []string
	if s.DurationMinutes <= 0 {
		problems = append(problems, "duration_minutes must be > 0")
	}
	if s.Interval.Min <= 0 || s.Interval.Max <= 0 {
		problems = append(problems, "interval bounds must be > 0")
	}
	if s.Interval.Min > s.Interval.Max {
		problems = append(problems, fmt.Sprintf("interval min %.0fs exceeds max %.0fs", s.Interval.Min, s.Interval.Max))
	}
	if !s.Dynamics.Valid() {
		problems = append(problems, fmt.Sprintf("dynamics range %d..%d must be ordered within 0..%d", s.Dynamics.Min, s.Dynamics.Max, dynamics.Count-1))
	}
	if s.Contrast < 0 || s.Contrast > 1 {
		problems = append(problems, "contrast must be within [0,1]")
	}
	if !s.Arc.Valid() {
		problems = append(problems, fmt.Sprintf("unknown arc %q", s.Arc))
	}
	if s.NumPlayers <= 0 {
		problems = append(problems, "num_players must be > 0")
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(problems, "; "))
}

// WithPlayers returns a copy of s with the roster size replaced.
func (s Settings) WithPlayers(n int) Settings {
	s.NumPlayers = n
	return s
}
