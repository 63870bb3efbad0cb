package cue

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarke68/improv-score/internal/dynamics"
	"github.com/clarke68/improv-score/internal/ensemble"
	"github.com/clarke68/improv-score/internal/piece"
)

func TestDiffersAndLabels(t *testing.T) {
	mf := Play(dynamics.At(4))
	ff := Play(dynamics.At(6))
	rest := Rest()

	assert.True(t, rest.Differs(mf))
	assert.True(t, mf.Differs(ff))
	assert.False(t, mf.Differs(mf))
	assert.False(t, rest.Differs(Rest()))

	assert.Equal(t, "Play (mf)", ChangeLabel(rest, mf))
	assert.Equal(t, "(ff)", ChangeLabel(mf, ff))
	assert.Equal(t, "Rest", ChangeLabel(ff, rest))
	assert.Equal(t, "", ChangeLabel(rest, rest))
}

func TestCommitUpdatesStreaks(t *testing.T) {
	p := NewPerformers(1)[0]
	assert.Equal(t, 1, p.RestStreak)

	p.Commit(Play(dynamics.At(3)))
	p.Commit(Play(dynamics.At(3)))
	assert.Equal(t, 2, p.PlayCount)
	assert.Equal(t, 2, p.PlayStreak)
	assert.Equal(t, 0, p.RestStreak)

	p.Commit(Rest())
	assert.Equal(t, 2, p.PlayCount)
	assert.Equal(t, 0, p.PlayStreak)
	assert.Equal(t, 1, p.RestStreak)
	assert.Equal(t, StateRest, p.Last.State)
}

func TestResizePadsWithRest(t *testing.T) {
	cues := CueSet{Play(dynamics.At(2))}
	grown := cues.Resize(3)
	require.Len(t, grown, 3)
	assert.True(t, grown[0].Playing())
	assert.Equal(t, StateRest, grown[2].State)
	assert.Len(t, grown.Resize(0), 0)
}

func TestGeneratorTuttiShortcutAtZeroContrast(t *testing.T) {
	settings := piece.Defaults()
	settings.Contrast = 0
	gen := NewGenerator(settings, ensemble.DefaultFairnessParams(), rand.New(rand.NewSource(1)))
	round := gen.Next(NewPerformers(6), 0.7)
	assert.Len(t, round.Cues.Playing(), 6)
	assert.Equal(t, ensemble.RegimeTutti, round.Decision.Regime)
}

func TestGeneratorRespectsDynamicRange(t *testing.T) {
	settings := piece.Defaults()
	settings.Dynamics = dynamics.Range{Min: 2, Max: 4}
	settings.Contrast = 0.5
	gen := NewGenerator(settings, ensemble.DefaultFairnessParams(), rand.New(rand.NewSource(2)))
	performers := NewPerformers(8)
	for round := 0; round < 100; round++ {
		r := gen.Next(performers, float64(round%10)/10)
		require.NotEmpty(t, r.Cues.Playing())
		for i, in := range r.Cues {
			if in.Playing() {
				idx, err := dynamics.IndexOf(in.Mark)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, idx, 2)
				assert.LessOrEqual(t, idx, 4)
			}
			performers[i].Commit(in)
		}
	}
}

func TestGeneratorDoesNotMutatePerformers(t *testing.T) {
	gen := NewGenerator(piece.Defaults(), ensemble.DefaultFairnessParams(), rand.New(rand.NewSource(3)))
	performers := NewPerformers(4)
	before := append([]PerformerState(nil), performers...)
	gen.Next(performers, 0.5)
	assert.Equal(t, before, performers)
}
