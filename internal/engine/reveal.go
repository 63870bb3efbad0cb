package engine

import (
	"time"

	"github.com/clarke68/improv-score/internal/cue"
)

// reveal is one countdown→commit cycle in progress.
type reveal struct {
	next       cue.CueSet
	countdowns []*Countdown
	final      bool
	// held rounds change nothing; they wait out the countdown length
	// without rendering and then commit.
	held bool
}

// beginReveal starts the countdown for every performer whose instruction
// changes, or for everyone when forceAll is set. With nothing pending no
// countdown is shown and the cue-set is held until the moment a countdown
// would have ended, so commits keep their spacing. Caller holds e.mu.
func (e *Engine) beginReveal(next cue.CueSet, forceAll, final bool) {
	e.growPerformers(len(next))
	committed := cue.Committed(e.performers)
	now := e.clock.Now()
	endsAt := now.Add(e.timing.Countdown)

	countdowns := make([]*Countdown, len(next))
	pending := false
	for i, in := range next {
		prev := committed[i]
		if !forceAll && !prev.Differs(in) {
			continue
		}
		label := cue.ChangeLabel(prev, in)
		if label == "" || final {
			label = in.Label()
		}
		countdowns[i] = &Countdown{
			Label:  label,
			Secs:   secsLeft(e.timing.Countdown),
			EndsAt: endsAt,
		}
		pending = true
	}
	if !pending {
		if final {
			e.commit(next, final)
			return
		}
		e.reveal = &reveal{next: next, countdowns: countdowns, final: final, held: true}
		epoch := e.epoch
		e.tickTimer = e.clock.AfterFunc(e.timing.Countdown, func() { e.onTick(epoch) })
		return
	}
	e.reveal = &reveal{next: next, countdowns: countdowns, final: final}
	e.frame()
}

// frame renders the reveal in progress and commits once every countdown has
// run out. Caller holds e.mu.
func (e *Engine) frame() {
	r := e.reveal
	now := e.clock.Now()
	active := false
	for _, cd := range r.countdowns {
		if cd == nil {
			continue
		}
		cd.Secs = secsLeft(cd.EndsAt.Sub(now))
		if cd.Secs > 0 {
			active = true
		}
	}

	display := make(cue.CueSet, len(r.next))
	for i := range r.next {
		if cd := r.countdowns[i]; cd != nil && cd.Secs > 0 {
			display[i] = e.performers[i].Last
		} else {
			display[i] = r.next[i]
		}
	}
	e.emit(KindRenderTick, display, copyCountdowns(r.countdowns))

	if !active {
		e.tickTimer = nil
		e.reveal = nil
		e.commit(r.next, r.final)
		return
	}
	epoch := e.epoch
	e.tickTimer = e.clock.AfterFunc(e.timing.Tick, func() { e.onTick(epoch) })
}

func (e *Engine) onTick(epoch uint64) {
	e.mu.Lock()
	if epoch != e.epoch || e.reveal == nil {
		e.mu.Unlock()
		return
	}
	if r := e.reveal; r.held {
		e.tickTimer = nil
		e.reveal = nil
		e.commit(r.next, r.final)
	} else {
		e.frame()
	}
	e.flush()
}

// commit applies the cue-set to every performer and emits the authoritative
// render. Caller holds e.mu.
func (e *Engine) commit(next cue.CueSet, final bool) {
	e.growPerformers(len(next))
	for i, in := range next {
		e.performers[i].Commit(in)
	}
	e.commits++
	if e.state == StatePreRoll {
		e.state = StatePerforming
	}
	e.emit(KindRenderCommit, next.Clone(), []*Countdown{})

	if final {
		e.cancelTimers()
		e.state = StateFinished
		e.emit(KindPieceEnded, next.Clone(), []*Countdown{})
		e.logger.Printf("engine: piece %s finished after %d commits", e.id, e.commits)
		return
	}
	e.schedule()
}

func (e *Engine) growPerformers(n int) {
	if n <= len(e.performers) {
		return
	}
	e.performers = append(e.performers, cue.NewPerformers(n-len(e.performers))...)
}

// secsLeft rounds up to whole seconds and shows at least 1 while time
// remains.
func secsLeft(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
