package arc

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

func TestArchIsPureSine(t *testing.T) {
	for _, x := range []float64{0, 0.1, 0.25, 0.5, 0.77, 1} {
		if got, want := Evaluate(x, ShapeArch, 8), math.Sin(math.Pi*x); got != want {
			t.Fatalf("arch(%v) = %v, want %v", x, got, want)
		}
	}
}

func TestShapesStayInUnitRange(t *testing.T) {
	for _, shape := range Shapes {
		curve := NewCurve(shape, 12, 20, 40, WithRand(rand.New(rand.NewSource(1))))
		for i := 0; i <= 200; i++ {
			x := float64(i) / 200
			v := curve.Value(x)
			if v < 0 || v > 1 {
				t.Fatalf("%s(%v) = %v outside [0,1]", shape, x, v)
			}
		}
	}
}

func TestTraditionalBreakpoints(t *testing.T) {
	cases := []struct {
		x    float64
		want float64
	}{
		{0, 0.2},
		{0.1, 0.4},
		{0.3, 0.7},
		{0.5, 0.3},
		{0.7, 1.0},
		{0.9, 0.5},
		{1, 0.3},
	}
	for _, tc := range cases {
		if got := Evaluate(tc.x, ShapeTraditional, 8); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("traditional(%v) = %v, want %v", tc.x, got, tc.want)
		}
	}
}

func TestWaveCyclesFollowDuration(t *testing.T) {
	cases := map[float64]int{3: 2, 5: 2, 8: 3, 15: 4, 30: 6, 60: 8}
	for minutes, want := range cases {
		if got := waveCycles(minutes); got != want {
			t.Fatalf("waveCycles(%v) = %d, want %d", minutes, got, want)
		}
	}
}

func TestPlateauIsFlatInTheMiddle(t *testing.T) {
	for _, x := range []float64{0.3, 0.45, 0.69} {
		if got := Evaluate(x, ShapePlateau, 8); got != 1 {
			t.Fatalf("plateau(%v) = %v, want 1", x, got)
		}
	}
	if got := Evaluate(0, ShapePlateau, 8); got != 0 {
		t.Fatalf("plateau(0) = %v, want 0", got)
	}
}

func TestUnknownShapeDefaultsToHalf(t *testing.T) {
	if got := Evaluate(0.4, Shape("zigzag"), 8); got != defaultActivity {
		t.Fatalf("unknown shape = %v, want %v", got, defaultActivity)
	}
}

func TestRandomTableIsStableUntilReset(t *testing.T) {
	curve := NewCurve(ShapeRandom, 8, 30, 60, WithRand(rand.New(rand.NewSource(42))))
	first := make([]float64, 0, 11)
	for i := 0; i <= 10; i++ {
		first = append(first, curve.Value(float64(i)/10))
	}
	for i := 0; i <= 10; i++ {
		if got := curve.Value(float64(i) / 10); got != first[i] {
			t.Fatalf("value at %d changed within one piece: %v != %v", i, got, first[i])
		}
	}
	curve.Reset()
	differs := false
	for i := 0; i <= 10; i++ {
		if curve.Value(float64(i)/10) != first[i] {
			differs = true
			break
		}
	}
	if !differs {
		t.Fatalf("expected reset to draw a fresh table")
	}
}

func TestRandomStepCount(t *testing.T) {
	cases := []struct {
		minutes  float64
		min, max float64
		want     int
	}{
		{8, 30, 60, 11},
		{1, 30, 60, 4},
		{10, 10, 10, 60},
		{5, 0, 0, 4},
	}
	for _, tc := range cases {
		curve := NewCurve(ShapeRandom, tc.minutes, tc.min, tc.max)
		if got := curve.StepCount(); got != tc.want {
			t.Fatalf("StepCount(%v, %v-%v) = %d, want %d", tc.minutes, tc.min, tc.max, got, tc.want)
		}
	}
}

func TestAtClampsOutsideThePiece(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)
	curve := NewCurve(ShapeSwell, 10, 30, 60)
	if got := curve.At(start.Add(-time.Minute), start, end); got != 0 {
		t.Fatalf("before start = %v, want 0", got)
	}
	if got := curve.At(end.Add(time.Minute), start, end); got != 1 {
		t.Fatalf("after end = %v, want 1", got)
	}
}

func TestParseShape(t *testing.T) {
	if got, err := ParseShape("  Arch "); err != nil || got != ShapeArch {
		t.Fatalf("ParseShape = %q, %v", got, err)
	}
	if _, err := ParseShape("zigzag"); err == nil {
		t.Fatalf("expected error for unknown shape")
	}
}

func TestPreviewMapsIntoLoudnessRange(t *testing.T) {
	curve := NewCurve(ShapeArch, 8, 30, 60, WithRand(rand.New(rand.NewSource(3))))
	points := curve.Preview(PreviewRequest{Points: 50, Contrast: 0, LoudnessMin: 0.28, LoudnessMax: 0.71})
	if len(points) != 50 {
		t.Fatalf("len(points) = %d, want 50", len(points))
	}
	for i, v := range points {
		if v < 0.28-1e-9 || v > 0.71+1e-9 {
			t.Fatalf("point %d = %v outside loudness range", i, v)
		}
	}
	if line := Sparkline([]float64{0, 0.5, 1}); len([]rune(line)) != 3 {
		t.Fatalf("sparkline = %q", line)
	}
}
