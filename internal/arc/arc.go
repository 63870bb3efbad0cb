// Package arc evaluates the macro activity curve of a piece. The curve maps
// elapsed piece time onto an activity value in [0,1] that drives ensemble
// size, dynamics, and the spacing between cues.
package arc

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Shape selects the activity curve for a piece.
type Shape string

const (
	ShapeTraditional Shape = "traditional"
	ShapeArch        Shape = "arch"
	ShapeSwell       Shape = "swell"
	ShapeWave        Shape = "wave"
	ShapePlateau     Shape = "plateau"
	ShapeRandom      Shape = "random"
)

// Shapes lists every supported shape in display order.
var Shapes = []Shape{
	ShapeTraditional,
	ShapeArch,
	ShapeSwell,
	ShapeWave,
	ShapePlateau,
	ShapeRandom,
}

// defaultActivity is returned for shapes the evaluator does not recognise.
const defaultActivity = 0.5

// minRandomSteps is the smallest step table generated for the random shape.
const minRandomSteps = 4

// ParseShape normalizes and validates a shape name.
func ParseShape(value string) (Shape, error) {
	candidate := Shape(strings.ToLower(strings.TrimSpace(value)))
	if candidate.Valid() {
		return candidate, nil
	}
	return "", fmt.Errorf("arc: unknown shape %q", value)
}

// Valid reports whether s is one of the supported shapes.
func (s Shape) Valid() bool {
	for _, known := range Shapes {
		if s == known {
			return true
		}
	}
	return false
}

// Evaluate returns the activity of a deterministic shape at elapsed fraction x.
// The random shape needs a step table and therefore a Curve; passing it here
// yields the neutral default.
func Evaluate(x float64, shape Shape, durationMinutes float64) float64 {
	x = clamp01(x)
	switch shape {
	case ShapeTraditional:
		return traditional(x)
	case ShapeArch:
		return math.Sin(math.Pi * x)
	case ShapeSwell:
		return math.Pow(x, 0.9)
	case ShapeWave:
		cycles := float64(waveCycles(durationMinutes))
		w := 0.5 + 0.5*math.Sin(2*math.Pi*cycles*x)
		return 0.2 + 0.8*w
	case ShapePlateau:
		switch {
		case x < 0.3:
			return easeInOutSine(x / 0.3)
		case x < 0.7:
			return 1
		default:
			return easeInOutSine((1 - x) / 0.3)
		}
	default:
		return defaultActivity
	}
}

// traditional rises, dips, surges, then falls away over five eased segments.
func traditional(x float64) float64 {
	switch {
	case x < 0.1:
		return 0.2 + 0.2*easeInOutSine(x/0.1)
	case x < 0.3:
		return 0.4 + 0.3*easeInOutSine((x-0.1)/0.2)
	case x < 0.5:
		return 0.7 - 0.4*easeInOutSine((x-0.3)/0.2)
	case x < 0.7:
		return 0.3 + 0.7*easeInOutSine((x-0.5)/0.2)
	case x < 0.9:
		return 1.0 - 0.5*easeInOutSine((x-0.7)/0.2)
	default:
		return 0.5 - 0.2*easeInOutSine((x-0.9)/0.1)
	}
}

func waveCycles(durationMinutes float64) int {
	switch {
	case durationMinutes <= 5:
		return 2
	case durationMinutes <= 10:
		return 3
	case durationMinutes <= 20:
		return 4
	case durationMinutes <= 40:
		return 6
	default:
		return 8
	}
}

// Curve is the activity curve of one piece. It owns the step table used by
// the random shape so that concurrent pieces never share random state.
type Curve struct {
	shape           Shape
	durationMinutes float64
	minInterval     float64
	maxInterval     float64
	rng             *rand.Rand
	steps           []float64
}

// Option customizes a Curve.
type Option func(*Curve)

// WithRand injects the random source used for the random shape's step table.
func WithRand(rng *rand.Rand) Option {
	return func(c *Curve) {
		if rng != nil {
			c.rng = rng
		}
	}
}

// NewCurve builds the curve for a piece. The interval range (seconds) only
// sizes the random shape's step table.
func NewCurve(shape Shape, durationMinutes, minInterval, maxInterval float64, opts ...Option) *Curve {
	c := &Curve{
		shape:           shape,
		durationMinutes: durationMinutes,
		minInterval:     minInterval,
		maxInterval:     maxInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return c
}

// Shape reports the curve's shape.
func (c *Curve) Shape() Shape {
	return c.shape
}

// Reset discards the random step table. The next evaluation draws a fresh
// one. The engine calls this at the start of every piece.
func (c *Curve) Reset() {
	c.steps = nil
}

// Value returns the activity at elapsed fraction x.
func (c *Curve) Value(x float64) float64 {
	if c.shape != ShapeRandom {
		return Evaluate(x, c.shape, c.durationMinutes)
	}
	x = clamp01(x)
	steps := c.table()
	segment := 1 / float64(len(steps))
	idx := int(math.Floor(x / segment))
	if idx >= len(steps) {
		idx = len(steps) - 1
	}
	return steps[idx]
}

// At returns the activity at wall time now for a piece running from start to
// end. Times outside the piece clamp to its edges.
func (c *Curve) At(now, start, end time.Time) float64 {
	return c.Value(Fraction(now, start, end))
}

// StepCount reports how many buckets the random shape's table holds.
func (c *Curve) StepCount() int {
	avg := (c.minInterval + c.maxInterval) / 2
	if avg <= 0 {
		return minRandomSteps
	}
	n := int(math.Round(c.durationMinutes * 60 / avg))
	if n < minRandomSteps {
		return minRandomSteps
	}
	return n
}

func (c *Curve) table() []float64 {
	if c.steps != nil {
		return c.steps
	}
	n := c.StepCount()
	steps := make([]float64, n)
	for i := range steps {
		steps[i] = c.rng.Float64()
	}
	c.steps = steps
	return steps
}

// Fraction converts wall time into elapsed fraction of the piece.
func Fraction(now, start, end time.Time) float64 {
	total := end.Sub(start)
	if total <= 0 {
		return 0
	}
	return clamp01(float64(now.Sub(start)) / float64(total))
}

func easeInOutSine(x float64) float64 {
	return -(math.Cos(math.Pi*x) - 1) / 2
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
