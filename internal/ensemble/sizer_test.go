package ensemble

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSizer(seed int64) *Sizer {
	return NewSizer(rand.New(rand.NewSource(seed)))
}

func TestSizeAlwaysWithinRoster(t *testing.T) {
	sizer := newTestSizer(1)
	for n := 1; n <= 12; n++ {
		for _, contrast := range []float64{0, 0.1, 0.39, 0.4, 0.55, 0.69, 0.7, 0.85, 1} {
			for _, activity := range []float64{0, 0.3, 0.7, 1} {
				for i := 0; i < 50; i++ {
					d := sizer.Size(n, activity, contrast)
					require.GreaterOrEqual(t, d.Size, 1, "n=%d c=%v a=%v", n, contrast, activity)
					require.LessOrEqual(t, d.Size, n, "n=%d c=%v a=%v", n, contrast, activity)
				}
			}
		}
	}
}

func TestZeroContrastIsAlwaysTutti(t *testing.T) {
	sizer := newTestSizer(2)
	for i := 0; i < 200; i++ {
		d := sizer.Size(8, 0.5, 0)
		assert.Equal(t, 8, d.Size)
		assert.Equal(t, RegimeTutti, d.Regime)
	}
}

func TestSmallGroupRegimeAtHighContrast(t *testing.T) {
	sizer := newTestSizer(3)
	sizes := map[int]int{}
	for i := 0; i < 4000; i++ {
		d := sizer.Size(4, 0.5, 1)
		require.Equal(t, RegimeSmallGroup, d.Regime)
		sizes[d.Size]++
	}
	assert.Greater(t, sizes[1], 0, "solos should occur at contrast 1")
	assert.Greater(t, sizes[4], 0, "tutti should still occur at contrast 1")
	assert.Greater(t, sizes[2], sizes[3], "smaller groups should be favoured")
	tuttiShare := float64(sizes[4]) / 4000
	assert.InDelta(t, 0.10, tuttiShare, 0.03)
}

func TestSmallGroupHasNoSolosAtThreshold(t *testing.T) {
	sizer := newTestSizer(4)
	for i := 0; i < 1000; i++ {
		d := sizer.Size(5, 0.5, HighContrast)
		assert.NotEqual(t, 1, d.Size)
	}
}

func TestDuoAtFullContrastTakesSmallGroupRolls(t *testing.T) {
	sizer := newTestSizer(5)
	const draws = 20000
	solos, tutti := 0, 0
	regimes := map[Regime]int{}
	for i := 0; i < draws; i++ {
		d := sizer.Size(2, 0.5, 1)
		require.Contains(t, []int{1, 2}, d.Size)
		regimes[d.Regime]++
		if d.Size == 1 {
			solos++
		}
		if d.Regime == RegimeTutti {
			tutti++
		}
	}
	// 0.9 * (0.3 + 0.7*0.3) solos, the rest split between the small-group
	// tutti band and the duo curve.
	assert.InDelta(t, 0.459, float64(solos)/draws, 0.03)
	assert.Greater(t, regimes[RegimeSmallGroup], 0)
	assert.Greater(t, regimes[RegimeDuo], 0)
	assert.Zero(t, tutti, "general tutti roll never fires at contrast 1")
}

func TestDuoSolosAreRareNearThreshold(t *testing.T) {
	sizer := newTestSizer(8)
	solos := 0
	for i := 0; i < 4000; i++ {
		d := sizer.Size(2, 0.5, HighContrast)
		require.Contains(t, []int{1, 2}, d.Size)
		if d.Size == 1 {
			solos++
		}
	}
	assert.Zero(t, solos)
}

func TestMidContrastDuoNeverReturnsZero(t *testing.T) {
	sizer := newTestSizer(6)
	for i := 0; i < 500; i++ {
		d := sizer.Size(2, 1.0, 0.6)
		assert.Contains(t, []int{1, 2}, d.Size)
	}
}

func TestBellRegimeExcludesTuttiAndSolo(t *testing.T) {
	sizer := newTestSizer(7)
	for i := 0; i < 2000; i++ {
		d := sizer.Size(10, 0.5, 1)
		if d.Regime == RegimeBell {
			assert.GreaterOrEqual(t, d.Size, 2)
			assert.LessOrEqual(t, d.Size, 9)
		}
	}
}

func TestBellWeightsPeakAndSkew(t *testing.T) {
	weights := BellWeights(10, 0.25, 0.15, 0.5)
	require.Len(t, weights, 8)
	peakIdx := 0
	for i, w := range weights {
		if w > weights[peakIdx] {
			peakIdx = i
		}
	}
	assert.Equal(t, 1.0, weights[peakIdx])
	assert.Less(t, peakIdx, 4, "weight should concentrate on the smaller sizes")
	assert.Greater(t, weights[0], weights[len(weights)-1])

	narrow := BellWeights(10, 0.65, 0.12, 0)
	assert.Equal(t, 1.0, narrow[5], "unskewed narrow bell peaks at its configured position")
	assert.Nil(t, BellWeights(2, 0.25, 0.15, 0.5))
}

func TestActivitySizeGrowsWithActivity(t *testing.T) {
	low := ActivitySize(10, 0, 0.2)
	high := ActivitySize(10, 1, 0.2)
	assert.Equal(t, 4, low)
	assert.Equal(t, 6, high)
	assert.LessOrEqual(t, ActivitySize(10, 0.5, 0.2), high)
}

func TestActivityRegimeClampsBelowTutti(t *testing.T) {
	sizer := newTestSizer(8)
	for i := 0; i < 500; i++ {
		d := sizer.Size(3, 1, 0.3)
		if d.Regime == RegimeActivity {
			assert.Equal(t, 2, d.Size)
		}
	}
}
