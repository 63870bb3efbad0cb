package simulator

import (
	"sync"
	"time"

	"github.com/clarke68/improv-score/internal/engine"
)

// prompt is one committed cue-set seen during a run.
type prompt struct {
	elapsed time.Duration
	gap     time.Duration
	playing int
	marks   []string
}

type tally struct {
	plays       int
	rests       int
	playRun     int
	restRun     int
	longestPlay int
	longestRest int
	dynamics    map[string]int
}

// collector is the engine sink of a simulation. It keeps only fully
// committed renders at or after musical time zero.
type collector struct {
	mu      sync.Mutex
	prompts []prompt
	players []tally
	ended   bool
	done    chan struct{}
}

func newCollector(numPlayers int) *collector {
	c := &collector{done: make(chan struct{})}
	c.grow(numPlayers)
	return c
}

func (c *collector) Emit(ev engine.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Kind == engine.KindPieceEnded {
		if !c.ended {
			c.ended = true
			close(c.done)
		}
		return
	}
	if !ev.Committed() || len(ev.Countdowns) > 0 || ev.Elapsed < 0 {
		return
	}
	c.grow(len(ev.Cues))

	p := prompt{elapsed: ev.Elapsed}
	if n := len(c.prompts); n > 0 {
		p.gap = ev.Elapsed - c.prompts[n-1].elapsed
	}
	for i, in := range ev.Cues {
		t := &c.players[i]
		if in.Playing() {
			p.playing++
			p.marks = append(p.marks, in.Mark)
			t.plays++
			t.dynamics[in.Mark]++
			t.playRun++
			t.restRun = 0
			if t.playRun > t.longestPlay {
				t.longestPlay = t.playRun
			}
		} else {
			t.rests++
			t.restRun++
			t.playRun = 0
			if t.restRun > t.longestRest {
				t.longestRest = t.restRun
			}
		}
	}
	c.prompts = append(c.prompts, p)
}

func (c *collector) grow(n int) {
	for len(c.players) < n {
		c.players = append(c.players, tally{dynamics: map[string]int{}})
	}
}

func (c *collector) finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}
