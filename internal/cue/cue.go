// Package cue models per-performer instructions and generates the cue-set
// for one decision round.
package cue

import (
	"fmt"
	"strings"

	"github.com/clarke68/improv-score/internal/dynamics"
	"github.com/clarke68/improv-score/internal/ensemble"
)

// State is whether a performer plays or rests.
type State string

const (
	StatePlay State = "play"
	StateRest State = "rest"
)

// Instruction is one performer's cue.
type Instruction struct {
	State    State   `json:"state"`
	Mark     string  `json:"mark,omitempty"`
	Loudness float64 `json:"loudness,omitempty"`
}

// Play builds a play instruction at the given dynamic level.
func Play(level dynamics.Level) Instruction {
	return Instruction{State: StatePlay, Mark: level.Mark, Loudness: level.Loudness}
}

// Rest builds a rest instruction.
func Rest() Instruction {
	return Instruction{State: StateRest}
}

// Playing reports whether the instruction is a play cue.
func (i Instruction) Playing() bool {
	return i.State == StatePlay
}

// Differs reports whether moving from i to next is a visible change: a new
// state, or a new mark while staying in play.
func (i Instruction) Differs(next Instruction) bool {
	if i.State != next.State {
		return true
	}
	return i.Playing() && i.Mark != next.Mark
}

// Label names the instruction for display, e.g. "Play (mf)" or "Rest".
func (i Instruction) Label() string {
	if !i.Playing() {
		return "Rest"
	}
	if i.Mark == "" {
		return "Play"
	}
	return fmt.Sprintf("Play (%s)", i.Mark)
}

// ChangeLabel describes the move from prev to next. A mark change within play
// is shown as just the new mark.
func ChangeLabel(prev, next Instruction) string {
	if prev.State != next.State {
		return next.Label()
	}
	if next.Playing() && prev.Mark != next.Mark {
		return fmt.Sprintf("(%s)", next.Mark)
	}
	return ""
}

// CueSet holds one instruction per performer index.
type CueSet []Instruction

// AllRest returns a cue-set of n rests.
func AllRest(n int) CueSet {
	out := make(CueSet, n)
	for i := range out {
		out[i] = Rest()
	}
	return out
}

// Clone returns an independent copy.
func (c CueSet) Clone() CueSet {
	if c == nil {
		return nil
	}
	out := make(CueSet, len(c))
	copy(out, c)
	return out
}

// Resize returns a copy with exactly n entries, padding with rests.
func (c CueSet) Resize(n int) CueSet {
	if n < 0 {
		n = 0
	}
	out := AllRest(n)
	copy(out, c)
	return out
}

// Playing returns the indices of performers told to play.
func (c CueSet) Playing() []int {
	var out []int
	for i, in := range c {
		if in.Playing() {
			out = append(out, i)
		}
	}
	return out
}

// AllResting reports whether nobody plays.
func (c CueSet) AllResting() bool {
	return len(c.Playing()) == 0
}

// String renders the cue-set compactly, e.g. "mf | — | ff".
func (c CueSet) String() string {
	parts := make([]string, len(c))
	for i, in := range c {
		if in.Playing() {
			parts[i] = in.Mark
		} else {
			parts[i] = "—"
		}
	}
	return strings.Join(parts, " | ")
}

// PerformerState is the committed history of one performer.
type PerformerState struct {
	ensemble.Standing
	Last Instruction `json:"last"`
}

// NewPerformers allocates state for a fresh piece: everyone resting and owed
// a cue.
func NewPerformers(n int) []PerformerState {
	out := make([]PerformerState, n)
	for i := range out {
		out[i] = PerformerState{
			Standing: ensemble.Standing{RestStreak: 1},
			Last:     Rest(),
		}
	}
	return out
}

// Commit records that the performer has switched to in.
func (p *PerformerState) Commit(in Instruction) {
	if in.Playing() {
		p.PlayCount++
		p.PlayStreak++
		p.RestStreak = 0
	} else {
		p.RestStreak++
		p.PlayStreak = 0
	}
	p.Last = in
}

// Standings projects the selector's view of the roster.
func Standings(performers []PerformerState) []ensemble.Standing {
	out := make([]ensemble.Standing, len(performers))
	for i, p := range performers {
		out[i] = p.Standing
	}
	return out
}

// Committed returns the last committed instruction of every performer.
func Committed(performers []PerformerState) CueSet {
	out := make(CueSet, len(performers))
	for i, p := range performers {
		out[i] = p.Last
	}
	return out
}
