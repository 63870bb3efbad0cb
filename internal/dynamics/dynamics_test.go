package dynamics

import (
	"math/rand"
	"testing"
)

func TestTableIsMonotonic(t *testing.T) {
	levels := Table()
	if len(levels) != 8 {
		t.Fatalf("len(table) = %d, want 8", len(levels))
	}
	for i := 1; i < len(levels); i++ {
		if levels[i].Loudness <= levels[i-1].Loudness {
			t.Fatalf("loudness not increasing at %d: %v <= %v", i, levels[i].Loudness, levels[i-1].Loudness)
		}
	}
	if levels[0].Mark != "ppp" || levels[7].Mark != "fff" {
		t.Fatalf("unexpected table ends: %s..%s", levels[0].Mark, levels[7].Mark)
	}
}

func TestTableCopyDoesNotLeak(t *testing.T) {
	levels := Table()
	levels[0].Mark = "changed"
	if At(0).Mark != "ppp" {
		t.Fatalf("mutating the copy changed the shared table")
	}
}

func TestPickStaysInsideConfiguredRange(t *testing.T) {
	picker := NewPicker(rand.New(rand.NewSource(7)))
	ranges := []Range{{2, 5}, {0, 0}, {6, 7}, FullRange}
	for _, r := range ranges {
		for i := 0; i < 500; i++ {
			lvl := picker.Pick(Request{
				Activity:       float64(i%11) / 10,
				Range:          r,
				NumPlayers:     4,
				PerformerIndex: i % 4,
				MinInterval:    30,
				MaxInterval:    60,
			})
			idx, err := IndexOf(lvl.Mark)
			if err != nil {
				t.Fatalf("IndexOf: %v", err)
			}
			if idx < r.Min || idx > r.Max {
				t.Fatalf("picked %s (index %d) outside %d..%d", lvl.Mark, idx, r.Min, r.Max)
			}
		}
	}
}

func TestPickFollowsActivityWhenSpreadIsZero(t *testing.T) {
	picker := NewPicker(rand.New(rand.NewSource(1)))
	// An average interval of 216s or more collapses the spread to zero.
	lvl := picker.Pick(Request{Activity: 1, Range: FullRange, NumPlayers: 8, MinInterval: 216, MaxInterval: 216})
	if lvl.Mark != "fff" {
		t.Fatalf("expected fff at full activity, got %s", lvl.Mark)
	}
	lvl = picker.Pick(Request{Activity: 0, Range: FullRange, NumPlayers: 8, MinInterval: 216, MaxInterval: 216})
	if lvl.Mark != "ppp" && lvl.Mark != "pp" {
		t.Fatalf("expected a soft mark at zero activity, got %s", lvl.Mark)
	}
}

func TestSpreadNarrowsWithEnsembleSizeAndTempo(t *testing.T) {
	small := Spread(0.5, 3, 30, 60)
	medium := Spread(0.5, 5, 30, 60)
	large := Spread(0.5, 10, 30, 60)
	if !(small > medium && medium > large) {
		t.Fatalf("spread should shrink with size: %v %v %v", small, medium, large)
	}
	if Spread(0.5, 3, 10, 20) <= Spread(0.5, 3, 100, 120) {
		t.Fatalf("spread should be wider for short intervals than for long ones")
	}
}

func TestPersonalOffsetIsDeterministicAndSmall(t *testing.T) {
	for i := 0; i < 12; i++ {
		a := PersonalOffset(i, 0.37)
		if a != PersonalOffset(i, 0.37) {
			t.Fatalf("offset for %d not deterministic", i)
		}
		if a < -0.05 || a >= 0.05 {
			t.Fatalf("offset %v outside [-0.05, 0.05)", a)
		}
	}
}

func TestRangeNormalized(t *testing.T) {
	got := Range{Min: 9, Max: -2}.Normalized()
	if got != (Range{Min: 0, Max: 7}) {
		t.Fatalf("Normalized = %+v", got)
	}
	if (Range{Min: 5, Max: 2}).Valid() {
		t.Fatalf("reversed range must be invalid")
	}
}
