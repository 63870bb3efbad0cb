package cue

import (
	"math/rand"

	"github.com/clarke68/improv-score/internal/dynamics"
	"github.com/clarke68/improv-score/internal/ensemble"
	"github.com/clarke68/improv-score/internal/piece"
)

// tuttiContrast is the contrast at or below which every performer plays and
// the sizing and fairness steps are skipped.
const tuttiContrast = 0.0001

// Round is the outcome of one generation step.
type Round struct {
	Activity float64
	Decision ensemble.Decision
	Cues     CueSet
}

// Generator composes sizing, selection, and dynamics into one cue-set.
type Generator struct {
	settings piece.Settings
	sizer    *ensemble.Sizer
	selector *ensemble.Selector
	picker   *dynamics.Picker
}

// NewGenerator wires a generator for one piece. All randomness flows from rng.
func NewGenerator(settings piece.Settings, fairness ensemble.FairnessParams, rng *rand.Rand) *Generator {
	return &Generator{
		settings: settings,
		sizer:    ensemble.NewSizer(rng),
		selector: ensemble.NewSelector(fairness, rng),
		picker:   dynamics.NewPicker(rng),
	}
}

// Fairness returns the effective fairness parameters.
func (g *Generator) Fairness() ensemble.FairnessParams {
	return g.selector.Params()
}

// Next builds the cue-set for the current round at the given activity. The
// performers slice is only read.
func (g *Generator) Next(performers []PerformerState, activity float64) Round {
	n := len(performers)
	contrast := g.settings.Contrast
	if contrast <= tuttiContrast {
		cues := make(CueSet, n)
		for i := range cues {
			cues[i] = Play(g.pick(activity, n, i))
		}
		return Round{
			Activity: activity,
			Decision: ensemble.Decision{Size: n, Regime: ensemble.RegimeTutti},
			Cues:     cues,
		}
	}

	decision := g.sizer.Size(n, activity, contrast)
	selected := g.selector.Select(ensemble.SelectRequest{
		Standings: Standings(performers),
		Target:    decision.Size,
		Contrast:  contrast,
		Activity:  activity,
	})
	cues := AllRest(n)
	for _, i := range selected {
		cues[i] = Play(g.pick(activity, n, i))
	}
	return Round{Activity: activity, Decision: decision, Cues: cues}
}

func (g *Generator) pick(activity float64, n, idx int) dynamics.Level {
	return g.picker.Pick(dynamics.Request{
		Activity:       activity,
		Range:          g.settings.Dynamics,
		NumPlayers:     n,
		PerformerIndex: idx,
		MinInterval:    g.settings.Interval.Min,
		MaxInterval:    g.settings.Interval.Max,
	})
}
