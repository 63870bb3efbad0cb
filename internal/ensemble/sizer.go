package ensemble

import (
	"math"
	"math/rand"
)

// Regime tags the branch of the sizing tree that produced a decision.
type Regime string

const (
	RegimeTutti      Regime = "tutti"
	RegimeSmallGroup Regime = "small-group"
	RegimeDuo        Regime = "duo"
	RegimeBell       Regime = "bell"
	RegimeBlend      Regime = "blend"
	RegimeActivity   Regime = "activity"
)

const (
	// HighContrast is where bell-curve sizing takes over and small groups may
	// go solo.
	HighContrast = 0.7
	// BlendContrast is where the bell curve starts blending into
	// activity-driven sizing.
	BlendContrast = 0.4
	// SmallGroupMax is the largest roster treated as a small group.
	SmallGroupMax = 5

	smallGroupTuttiFloor = 0.10
	smallGroupTuttiBand  = 0.05
	smallGroupSoloMax    = 0.3
	smallGroupSoloPower  = 1.2
	duoSoloMax           = 0.3
	duoSoloPower         = 1.5
)

// Decision is the outcome of one sizing roll.
type Decision struct {
	Size   int
	Regime Regime
}

// Sizer rolls ensemble sizes from an injected random source.
type Sizer struct {
	rng *rand.Rand
}

// NewSizer returns a Sizer drawing from rng.
func NewSizer(rng *rand.Rand) *Sizer {
	return &Sizer{rng: rng}
}

// Size picks how many of numPlayers play at the given activity and contrast.
// The result always lies in [1, numPlayers].
func (s *Sizer) Size(numPlayers int, activity, contrast float64) Decision {
	d := s.decide(numPlayers, clamp01(activity), clamp01(contrast))
	d.Size = clampInt(d.Size, 1, max(1, numPlayers))
	return d
}

func (s *Sizer) decide(n int, activity, contrast float64) Decision {
	if n <= 1 {
		return Decision{Size: 1, Regime: RegimeTutti}
	}
	if n <= SmallGroupMax && contrast >= HighContrast {
		if size, ok := s.smallGroup(n, contrast); ok {
			return Decision{Size: size, Regime: RegimeSmallGroup}
		}
	}
	if s.rng.Float64() < 1-contrast {
		return Decision{Size: n, Regime: RegimeTutti}
	}
	if n == 2 {
		return Decision{Size: s.duo(contrast), Regime: RegimeDuo}
	}
	switch {
	case contrast >= HighContrast:
		return Decision{Size: s.highBell(n, contrast), Regime: RegimeBell}
	case contrast >= BlendContrast:
		return Decision{Size: s.blend(n, activity, contrast), Regime: RegimeBlend}
	default:
		return Decision{Size: clampInt(ActivitySize(n, activity, contrast), 2, n-1), Regime: RegimeActivity}
	}
}

// smallGroup keeps occasional tutti moments and allows solos for rosters of
// up to five at high contrast. A duo that rolls neither falls through to the
// general tutti roll and the duo curve, so ok is false.
func (s *Sizer) smallGroup(n int, contrast float64) (size int, ok bool) {
	tutti := smallGroupTuttiFloor + (1-contrast)/(1-HighContrast)*smallGroupTuttiBand
	if s.rng.Float64() < tutti {
		return n, true
	}
	if s.rng.Float64() < soloProbability(contrast, smallGroupSoloPower, smallGroupSoloMax) {
		return 1, true
	}
	r := s.rng.Float64()
	switch n {
	case 2:
		return 0, false
	case 3:
		return 2, true
	case 4:
		if r < 0.6 {
			return 2, true
		}
		return 3, true
	default:
		switch {
		case r < 0.5:
			return 2, true
		case r < 0.8:
			return 3, true
		default:
			return 4, true
		}
	}
}

func (s *Sizer) duo(contrast float64) int {
	if contrast < HighContrast {
		return 2
	}
	if s.rng.Float64() < soloProbability(contrast, duoSoloPower, duoSoloMax) {
		return 1
	}
	return 2
}

func (s *Sizer) highBell(n int, contrast float64) int {
	peak := 0.25 + (1-contrast)/(1-HighContrast)*0.15
	spread := 0.15 + (1-contrast)*0.05
	return s.bell(n, peak, spread, contrast*0.5)
}

func (s *Sizer) blend(n int, activity, contrast float64) int {
	peak := 0.4 + (HighContrast-contrast)/(HighContrast-BlendContrast)*0.25
	bellSize := s.bell(n, peak, 0.12, contrast*0.3)
	weight := (contrast - BlendContrast) / (HighContrast - BlendContrast)
	blended := math.Round(weight*float64(bellSize) + (1-weight)*float64(ActivitySize(n, activity, contrast)))
	return clampInt(int(blended), 2, n-1)
}

// bell samples a size in [2, n-1] from a discretized Gaussian peaking at
// peakPos of the size range, skewed toward smaller sizes by exp(-skew*x).
func (s *Sizer) bell(n int, peakPos, spread, skew float64) int {
	weights := BellWeights(n, peakPos, spread, skew)
	if len(weights) == 0 {
		return 2
	}
	var sum float64
	cumulative := make([]float64, len(weights))
	for i, w := range weights {
		sum += w
		cumulative[i] = sum
	}
	r := s.rng.Float64() * sum
	for i, c := range cumulative {
		if r <= c {
			return i + 2
		}
	}
	return n - 1
}

// BellWeights returns the relative weights for sizes 2..n-1. The weights are
// normalized so the largest equals one.
func BellWeights(n int, peakPos, spread, skew float64) []float64 {
	maxSize := n - 1
	sizeRange := float64(maxSize - 1)
	if sizeRange <= 0 {
		return nil
	}
	peak := 2 + math.Round(peakPos*sizeRange)
	stdDev := spread * sizeRange
	xPeak := (peak - 2) / sizeRange
	weights := make([]float64, 0, maxSize-1)
	var top float64
	for size := 2; size <= maxSize; size++ {
		x := float64(size-2) / sizeRange
		dist := (x - xPeak) / stdDev
		w := math.Exp(-0.5*dist*dist) * math.Exp(-skew*x)
		weights = append(weights, w)
		top = math.Max(top, w)
	}
	if top > 0 {
		for i := range weights {
			weights[i] /= top
		}
	}
	return weights
}

// ActivitySize interpolates between a contrast-scaled minimum and maximum
// ensemble size by activity^0.85. It is not clamped to the roster.
func ActivitySize(n int, activity, contrast float64) int {
	minFrac := math.Max(0.25, 0.33+0.17*contrast)
	maxFrac := math.Max(0.4, 0.5+0.25*contrast)
	minSize := max(2, int(math.Round(float64(n)*minFrac)))
	maxSize := max(minSize, int(math.Round(float64(n)*maxFrac)))
	factor := math.Pow(clamp01(activity), 0.85)
	return int(math.Round(float64(minSize) + float64(maxSize-minSize)*factor))
}

func soloProbability(contrast, power, ceiling float64) float64 {
	if contrast <= HighContrast {
		return 0
	}
	return math.Pow((contrast-HighContrast)/(1-HighContrast), power) * ceiling
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
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

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
