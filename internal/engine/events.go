package engine

import (
	"time"

	"github.com/clarke68/improv-score/internal/cue"
	"github.com/clarke68/improv-score/internal/ensemble"
)

// Kind identifies what an Event reports.
type Kind string

const (
	// KindRenderTick is an in-progress countdown frame. Performers still
	// counting down are shown their previous committed instruction.
	KindRenderTick Kind = "render_tick"
	// KindRenderCommit carries a fully committed cue-set and no countdowns.
	KindRenderCommit Kind = "render_commit"
	// KindPieceEnded follows the commit of the final all-rest cue-set.
	KindPieceEnded Kind = "piece_ended"
)

// Countdown is the pending change shown to one performer.
type Countdown struct {
	Label  string    `json:"label"`
	Secs   int       `json:"secs"`
	EndsAt time.Time `json:"ends_at"`
}

// Event is emitted by the engine on every render and at piece end.
type Event struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	PieceID    string          `json:"piece_id"`
	Cues       cue.CueSet      `json:"cues"`
	Countdowns []*Countdown    `json:"countdowns"`
	At         time.Time       `json:"at"`
	Elapsed    time.Duration   `json:"elapsed"`
	Activity   float64         `json:"activity"`
	Regime     ensemble.Regime `json:"regime,omitempty"`
}

// Committed reports whether the event is an authoritative cue change.
func (e Event) Committed() bool {
	return e.Kind == KindRenderCommit
}

// Sink consumes engine events. Emit is called in event order, never
// concurrently. A sink may read engine snapshots but must not call Start or
// End.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Emit(Event) {}

func copyCountdowns(in []*Countdown) []*Countdown {
	if in == nil {
		return nil
	}
	out := make([]*Countdown, len(in))
	for i, cd := range in {
		if cd != nil {
			c := *cd
			out[i] = &c
		}
	}
	return out
}
