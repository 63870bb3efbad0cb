package arc

import (
	"math"
	"strings"
)

// PreviewRequest describes the sparkline a conductor sees before starting.
type PreviewRequest struct {
	// Points is the number of samples across the piece (inclusive of both ends).
	Points int
	// Contrast stretches deterministic shapes around the midline and adds
	// micro-variation.
	Contrast float64
	// LoudnessMin and LoudnessMax bound the configured dynamic sub-range.
	LoudnessMin float64
	LoudnessMax float64
}

// Preview samples the curve into loudness space for display. Values may
// overshoot the range slightly when contrast adds micro-variation; callers
// clamp when drawing.
func (c *Curve) Preview(req PreviewRequest) []float64 {
	points := req.Points
	if points < 2 {
		points = 2
	}
	contrast := clamp01(req.Contrast)
	stretch := 1.0
	if c.shape != ShapeRandom {
		stretch = 0.5 + 0.7*contrast
	}
	phase := c.rng.Float64() * 2 * math.Pi
	microFreq := 5 + 30*contrast
	microAmp := 0.03*contrast + 0.12*contrast*contrast
	wanderFreq := 0.5 + 2.0*contrast
	chaosFreq := 2 + 10*contrast
	chaosStrength := 0.2 * contrast

	out := make([]float64, points)
	for i := range out {
		x := float64(i) / float64(points-1)
		y := c.Value(x)
		if c.shape != ShapeRandom {
			y = 0.5 + (y-0.5)*stretch
		}
		wander := 0.5 + 0.5*math.Sin(x*math.Pi*2*wanderFreq+phase)
		irregular := chaosStrength * math.Sin(x*math.Pi*2*chaosFreq+phase*0.7)
		localAmp := microAmp * (0.6 + 0.8*wander + irregular)
		y += math.Sin(x*math.Pi*microFreq) * localAmp
		out[i] = req.LoudnessMin + (req.LoudnessMax-req.LoudnessMin)*y
	}
	return out
}

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders values in [0,1] as a single line of block glyphs.
func Sparkline(values []float64) string {
	var b strings.Builder
	top := len(sparkBlocks) - 1
	for _, v := range values {
		idx := int(math.Round(clamp01(v) * float64(top)))
		b.WriteRune(sparkBlocks[idx])
	}
	return b.String()
}
