// Package dynamics holds the fixed dynamics table and picks a mark for a
// performer from the current activity.
package dynamics

import (
	"fmt"
	"math"
	"math/rand"
)

// Level is one entry of the dynamics table.
type Level struct {
	Mark     string  `json:"mark" yaml:"mark"`
	Loudness float64 `json:"loudness" yaml:"loudness"`
}

// table spans ppp..fff with monotonically increasing loudness.
var table = [...]Level{
	{Mark: "ppp", Loudness: 0.0},
	{Mark: "pp", Loudness: 0.14},
	{Mark: "p", Loudness: 0.28},
	{Mark: "mp", Loudness: 0.42},
	{Mark: "mf", Loudness: 0.57},
	{Mark: "f", Loudness: 0.71},
	{Mark: "ff", Loudness: 0.85},
	{Mark: "fff", Loudness: 1.0},
}

// Count is the number of entries in the dynamics table.
const Count = len(table)

// Table returns a copy of the dynamics table.
func Table() []Level {
	out := make([]Level, Count)
	copy(out, table[:])
	return out
}

// At returns the table entry at idx, clamped into the table.
func At(idx int) Level {
	return table[clampIndex(idx)]
}

// IndexOf returns the table index of mark.
func IndexOf(mark string) (int, error) {
	for i, lvl := range table {
		if lvl.Mark == mark {
			return i, nil
		}
	}
	return 0, fmt.Errorf("dynamics: unknown mark %q", mark)
}

// Range is an inclusive pair of table indices.
type Range struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// FullRange covers ppp..fff.
var FullRange = Range{Min: 0, Max: Count - 1}

// Valid reports whether the range lies inside the table and is ordered.
func (r Range) Valid() bool {
	return r.Min >= 0 && r.Max < Count && r.Min <= r.Max
}

// Normalized clamps both ends into the table and orders them.
func (r Range) Normalized() Range {
	lo, hi := clampIndex(r.Min), clampIndex(r.Max)
	if lo > hi {
		lo, hi = hi, lo
	}
	return Range{Min: lo, Max: hi}
}

// Request carries the inputs to Pick.
type Request struct {
	Activity       float64
	Range          Range
	NumPlayers     int
	PerformerIndex int
	// MinInterval and MaxInterval are the piece's prompt spacing in seconds.
	// Shorter spacing tightens the dynamic spread.
	MinInterval float64
	MaxInterval float64
}

// Picker samples dynamics from an injected random source.
type Picker struct {
	rng *rand.Rand
}

// NewPicker returns a Picker drawing from rng.
func NewPicker(rng *rand.Rand) *Picker {
	return &Picker{rng: rng}
}

// Pick samples a loudness around the activity and snaps it to the nearest
// table entry inside the configured range.
func (p *Picker) Pick(req Request) Level {
	r := req.Range.Normalized()
	lo, hi := table[r.Min].Loudness, table[r.Max].Loudness
	sigma := Spread(req.Activity, req.NumPlayers, req.MinInterval, req.MaxInterval)
	mu := req.Activity + PersonalOffset(req.PerformerIndex, req.Activity)
	raw := clamp01(mu + sigma*p.rng.NormFloat64())
	return nearest(lo+(hi-lo)*raw, r)
}

// Spread is the standard deviation of the loudness sample. It narrows for
// larger ensembles and for faster pieces.
func Spread(activity float64, numPlayers int, minInterval, maxInterval float64) float64 {
	base := 0.18 + 0.1*activity
	avg := (minInterval + maxInterval) / 2
	intervalFactor := clamp01(1.2 - avg/180)
	var sizeFactor float64
	switch {
	case numPlayers <= 3:
		sizeFactor = 1.0
	case numPlayers <= 6:
		sizeFactor = 0.7
	default:
		sizeFactor = 0.4
	}
	return base * sizeFactor * intervalFactor
}

// PersonalOffset is a small deterministic per-performer perturbation in
// [-0.05, 0.05) derived from a hash of the performer index and activity.
func PersonalOffset(performerIndex int, activity float64) float64 {
	h := math.Sin(float64(performerIndex)*12.9898+activity*78.233) * 43758.5453
	return (h - math.Floor(h) - 0.5) * 0.1
}

func nearest(loudness float64, r Range) Level {
	best := r.Min
	bestDist := math.Inf(1)
	for i := r.Min; i <= r.Max; i++ {
		d := math.Abs(table[i].Loudness - loudness)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return table[best]
}

func clampIndex(idx int) int {
	if idx < 0 {
		return 0
	}
	if idx >= Count {
		return Count - 1
	}
	return idx
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
