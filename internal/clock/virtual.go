package clock

import (
	"container/heap"
	"sync"
	"time"
)

// Virtual only moves when told to. Callbacks run synchronously on the
// goroutine that advances the clock, without the clock lock held, so they may
// schedule further timers.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers timerHeap
}

// NewVirtual returns a virtual clock reading start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now returns the virtual time.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// AfterFunc queues f to run once the clock reaches now+d.
func (v *Virtual) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	t := &virtualTimer{clock: v, when: v.now.Add(d), seq: v.seq, fn: f}
	heap.Push(&v.timers, t)
	return t
}

// Pending returns the number of queued callbacks.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.timers)
}

// Next returns when the earliest queued callback fires.
func (v *Virtual) Next() (time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.timers) == 0 {
		return time.Time{}, false
	}
	return v.timers[0].when, true
}

// Step jumps to the earliest queued callback and runs it. It reports false
// when nothing is queued.
func (v *Virtual) Step() bool {
	v.mu.Lock()
	if len(v.timers) == 0 {
		v.mu.Unlock()
		return false
	}
	t := heap.Pop(&v.timers).(*virtualTimer)
	if t.when.After(v.now) {
		v.now = t.when
	}
	v.mu.Unlock()
	t.fn()
	return true
}

// Advance moves the clock forward by d, running every callback due on the way
// in time order.
func (v *Virtual) Advance(d time.Duration) {
	v.RunUntil(v.Now().Add(d))
}

// RunUntil runs due callbacks up to deadline and leaves the clock there. A
// deadline in the past only flushes callbacks that are already due.
func (v *Virtual) RunUntil(deadline time.Time) {
	for {
		v.mu.Lock()
		if len(v.timers) == 0 || v.timers[0].when.After(deadline) {
			if deadline.After(v.now) {
				v.now = deadline
			}
			v.mu.Unlock()
			return
		}
		t := heap.Pop(&v.timers).(*virtualTimer)
		if t.when.After(v.now) {
			v.now = t.when
		}
		v.mu.Unlock()
		t.fn()
	}
}

// RunUntilIdle runs callbacks until none remain or limit callbacks have run.
// It returns the number of callbacks run.
func (v *Virtual) RunUntilIdle(limit int) int {
	ran := 0
	for ran < limit && v.Step() {
		ran++
	}
	return ran
}

type virtualTimer struct {
	clock *Virtual
	when  time.Time
	seq   uint64
	fn    func()
	index int
}

func (t *virtualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.index < 0 {
		return false
	}
	heap.Remove(&t.clock.timers, t.index)
	return true
}

type timerHeap []*virtualTimer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*virtualTimer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
