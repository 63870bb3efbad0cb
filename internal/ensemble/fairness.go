package ensemble

import (
	"math/rand"
	"sort"
)

// Standing is the play/rest history the selector reads for one performer.
type Standing struct {
	PlayCount  int `json:"play_count"`
	PlayStreak int `json:"play_streak"`
	RestStreak int `json:"rest_streak"`
}

// FairnessParams bounds how long a performer may keep playing or resting.
type FairnessParams struct {
	// PlayStreakCap skips performers who have played this many rounds in a
	// row. Only enforced when contrast > PlayStreakAbove.
	PlayStreakCap   int     `yaml:"play_streak_cap"`
	PlayStreakAbove float64 `yaml:"play_streak_above"`
	// RestStreakCap forces in performers who have rested this many rounds in
	// a row. Only enforced when contrast < RestStreakBelow.
	RestStreakCap   int     `yaml:"rest_streak_cap"`
	RestStreakBelow float64 `yaml:"rest_streak_below"`
}

// DefaultFairnessParams leaves a 0.4-0.6 contrast band where neither cap
// applies and the target size alone drives selection.
func DefaultFairnessParams() FairnessParams {
	return FairnessParams{
		PlayStreakCap:   3,
		PlayStreakAbove: 0.6,
		RestStreakCap:   3,
		RestStreakBelow: 0.4,
	}
}

func (p FairnessParams) withDefaults() FairnessParams {
	def := DefaultFairnessParams()
	if p.PlayStreakCap <= 0 {
		p.PlayStreakCap = def.PlayStreakCap
	}
	if p.RestStreakCap <= 0 {
		p.RestStreakCap = def.RestStreakCap
	}
	if p.PlayStreakAbove <= 0 {
		p.PlayStreakAbove = def.PlayStreakAbove
	}
	if p.RestStreakBelow <= 0 {
		p.RestStreakBelow = def.RestStreakBelow
	}
	return p
}

// SelectRequest carries the inputs to Select.
type SelectRequest struct {
	Standings []Standing
	Target    int
	Contrast  float64
	Activity  float64
}

// Selector picks which performers play a round.
type Selector struct {
	params FairnessParams
	rng    *rand.Rand
}

// NewSelector returns a Selector with params, filling unset fields with defaults.
func NewSelector(params FairnessParams, rng *rand.Rand) *Selector {
	return &Selector{params: params.withDefaults(), rng: rng}
}

// Params returns the effective fairness parameters.
func (s *Selector) Params() FairnessParams {
	return s.params
}

// Select returns the ascending indices of performers chosen to play. It never
// mutates the standings.
func (s *Selector) Select(req SelectRequest) []int {
	n := len(req.Standings)
	if n == 0 {
		return nil
	}
	st := req.Standings
	playCap := req.Contrast > s.params.PlayStreakAbove
	restCap := req.Contrast < s.params.RestStreakBelow

	order := s.priorityOrder(st)
	selected := make(map[int]bool, n)

	for _, i := range order {
		if len(selected) >= req.Target {
			break
		}
		if playCap && st[i].PlayStreak >= s.params.PlayStreakCap {
			continue
		}
		selected[i] = true
	}

	if restCap {
		for i := range st {
			if st[i].RestStreak >= s.params.RestStreakCap {
				selected[i] = true
			}
		}
	}

	floor := 2
	if n <= SmallGroupMax && req.Target == 1 {
		floor = 1
	}
	for _, i := range order {
		if len(selected) >= floor || len(selected) >= n {
			break
		}
		selected[i] = true
	}

	if len(selected) > req.Target {
		s.trim(selected, st, req.Target, n, restCap)
	}

	if len(selected) == 0 && req.Activity > 0 {
		selected[order[0]] = true
	}

	out := make([]int, 0, len(selected))
	for i := range selected {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// priorityOrder sorts performers who have played least, then waited longest,
// to the front. Ties are broken randomly.
func (s *Selector) priorityOrder(st []Standing) []int {
	order := s.rng.Perm(len(st))
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if st[i].PlayCount != st[j].PlayCount {
			return st[i].PlayCount < st[j].PlayCount
		}
		return st[i].RestStreak > st[j].RestStreak
	})
	return order
}

// trim drops the busiest performers until the target is reached, keeping
// rest-capped performers while that cap is in force.
func (s *Selector) trim(selected map[int]bool, st []Standing, target, n int, restCap bool) {
	candidates := make([]int, 0, len(selected))
	for i := range selected {
		if restCap && st[i].RestStreak >= s.params.RestStreakCap {
			continue
		}
		candidates = append(candidates, i)
	}
	sort.Ints(candidates)
	s.rng.Shuffle(len(candidates), func(a, b int) {
		candidates[a], candidates[b] = candidates[b], candidates[a]
	})
	sort.SliceStable(candidates, func(a, b int) bool {
		i, j := candidates[a], candidates[b]
		if st[i].PlayCount != st[j].PlayCount {
			return st[i].PlayCount > st[j].PlayCount
		}
		return st[i].PlayStreak > st[j].PlayStreak
	})
	floor := 2
	if n == 2 && target == 1 {
		floor = 1
	}
	for _, i := range candidates {
		if len(selected) <= target || len(selected) <= floor {
			return
		}
		delete(selected, i)
	}
}
