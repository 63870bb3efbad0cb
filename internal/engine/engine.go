// Package engine schedules cue-sets over the life of one piece and reveals
// each one through a countdown before committing it.
package engine

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clarke68/improv-score/internal/arc"
	"github.com/clarke68/improv-score/internal/clock"
	"github.com/clarke68/improv-score/internal/cue"
	"github.com/clarke68/improv-score/internal/ensemble"
	"github.com/clarke68/improv-score/internal/piece"
)

var (
	// ErrAlreadyStarted is returned by Start on an engine that has run.
	ErrAlreadyStarted = errors.New("engine: piece already started")
	// ErrNotRunning is returned by End when no piece is in progress.
	ErrNotRunning = errors.New("engine: no piece in progress")
)

// State is the lifecycle position of an engine.
type State string

const (
	StateIdle       State = "idle"
	StatePreRoll    State = "pre-roll"
	StatePerforming State = "performing"
	StateEnding     State = "ending"
	StateFinished   State = "finished"
)

// Running reports whether the piece has started and not yet finished.
func (s State) Running() bool {
	return s == StatePreRoll || s == StatePerforming || s == StateEnding
}

// Logger is the minimal logging surface used by the engine.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock sets the time source. Defaults to the wall clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithRand sets the random source for every probabilistic step.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) {
		if rng != nil {
			e.rng = rng
		}
	}
}

// WithTiming overrides the reveal timing.
func WithTiming(t Timing) Option {
	return func(e *Engine) {
		e.timing = t.withDefaults()
	}
}

// WithFairness overrides the streak caps.
func WithFairness(p ensemble.FairnessParams) Option {
	return func(e *Engine) {
		e.fairness = p
	}
}

// WithSink sets the event consumer.
func WithSink(s Sink) Option {
	return func(e *Engine) {
		if s != nil {
			e.sink = s
		}
	}
}

// WithLogger injects a diagnostic logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPieceID fixes the piece identifier instead of generating one.
func WithPieceID(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.id = id
		}
	}
}

// Engine runs one piece. It is not reusable: create a new Engine per piece.
type Engine struct {
	mu     sync.Mutex
	emitMu sync.Mutex

	clock    clock.Clock
	rng      *rand.Rand
	timing   Timing
	fairness ensemble.FairnessParams
	sink     Sink
	logger   Logger
	id       string

	state      State
	settings   piece.Settings
	pieceClock PieceClock
	curve      *arc.Curve
	generator  *cue.Generator
	performers []cue.PerformerState
	round      cue.Round

	reveal      *reveal
	promptTimer clock.Timer
	tickTimer   clock.Timer
	epoch       uint64
	commits     int

	outbox []Event
}

// New builds an idle engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:    clock.Real{},
		timing:   DefaultTiming(),
		fairness: ensemble.DefaultFairnessParams(),
		sink:     nopSink{},
		logger:   nopLogger{},
		state:    StateIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if e.id == "" {
		e.id = uuid.NewString()
	}
	return e
}

// ID returns the piece identifier carried on every event.
func (e *Engine) ID() string { return e.id }

// Timing returns the effective reveal timing.
func (e *Engine) Timing() Timing { return e.timing }

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Settings returns the settings the piece was started with.
func (e *Engine) Settings() piece.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// PieceClock returns the start and end of musical time.
func (e *Engine) PieceClock() PieceClock {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pieceClock
}

// Commits returns how many cue-sets have been committed.
func (e *Engine) Commits() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commits
}

// Performers returns a copy of the committed performer history.
func (e *Engine) Performers() []cue.PerformerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]cue.PerformerState, len(e.performers))
	copy(out, e.performers)
	return out
}

// Start begins the piece: it fixes the piece clock after the pre-roll,
// generates the first cue-set and reveals it to everyone.
func (e *Engine) Start(settings piece.Settings) error {
	settings.Normalize()
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("engine: start: %w", err)
	}
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	now := e.clock.Now()
	start := now.Add(e.timing.PreRoll)
	e.settings = settings
	e.pieceClock = PieceClock{Start: start, End: start.Add(settings.Duration())}
	e.curve = arc.NewCurve(settings.Arc, settings.DurationMinutes, settings.Interval.Min, settings.Interval.Max, arc.WithRand(e.rng))
	e.curve.Reset()
	e.generator = cue.NewGenerator(settings, e.fairness, e.rng)
	e.performers = cue.NewPerformers(settings.NumPlayers)
	e.state = StatePreRoll
	e.logger.Printf("engine: piece %s start players=%d duration=%s arc=%s contrast=%.2f",
		e.id, settings.NumPlayers, settings.Duration(), settings.Arc, settings.Contrast)

	e.round = e.generator.Next(e.performers, e.curve.At(start, start, e.pieceClock.End))
	e.beginReveal(e.round.Cues, true, false)
	e.flush()
	return nil
}

// End cuts the piece short: pending prompts and any in-flight countdown are
// cancelled and every performer is counted down to rest. numPlayers <= 0 uses
// the roster size; a larger value covers performers who joined late.
func (e *Engine) End(numPlayers int) error {
	e.mu.Lock()
	switch e.state {
	case StatePreRoll, StatePerforming:
	case StateEnding:
		e.mu.Unlock()
		return nil
	default:
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.cancelTimers()
	if e.reveal != nil {
		e.logger.Printf("engine: piece %s end abandons in-flight countdown", e.id)
		e.reveal = nil
	}
	e.logger.Printf("engine: piece %s ended early", e.id)
	e.beginEnding(numPlayers)
	e.flush()
	return nil
}

// CurrentCues returns the committed cue-set sized for numPlayers, padding
// late joiners with rest.
func (e *Engine) CurrentCues(numPlayers int) cue.CueSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	if numPlayers <= 0 {
		numPlayers = len(e.performers)
	}
	return cue.Committed(e.performers).Resize(numPlayers)
}

// CurrentCountdowns returns the in-flight countdowns sized for numPlayers with
// freshly computed seconds, or nil when no change is pending.
func (e *Engine) CurrentCountdowns(numPlayers int) []*Countdown {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reveal == nil || e.reveal.held {
		return nil
	}
	if numPlayers <= 0 {
		numPlayers = len(e.reveal.countdowns)
	}
	now := e.clock.Now()
	out := make([]*Countdown, numPlayers)
	for i := 0; i < numPlayers && i < len(e.reveal.countdowns); i++ {
		cd := e.reveal.countdowns[i]
		if cd == nil {
			continue
		}
		c := *cd
		c.Secs = secsLeft(c.EndsAt.Sub(now))
		out[i] = &c
	}
	return out
}

// Snapshot is what a late joiner needs to render the current moment.
type Snapshot struct {
	PieceID    string        `json:"piece_id"`
	State      State         `json:"state"`
	Cues       cue.CueSet    `json:"cues"`
	Countdowns []*Countdown  `json:"countdowns"`
	Elapsed    time.Duration `json:"elapsed"`
	Remaining  time.Duration `json:"remaining"`
	Activity   float64       `json:"activity"`
}

// Snapshot captures cues, countdowns and piece position for numPlayers.
func (e *Engine) Snapshot(numPlayers int) Snapshot {
	cues := e.CurrentCues(numPlayers)
	countdowns := e.CurrentCountdowns(numPlayers)
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		PieceID:    e.id,
		State:      e.state,
		Cues:       cues,
		Countdowns: countdowns,
	}
	if e.state != StateIdle {
		now := e.clock.Now()
		snap.Elapsed = e.pieceClock.Elapsed(now)
		snap.Remaining = e.pieceClock.Remaining(now)
		snap.Activity = e.round.Activity
	}
	return snap
}

// schedule arms the next prompt, or starts the ending when the next commit
// would land past the end of the piece. Every round commits one countdown
// after it is generated, so the round is generated that much ahead of its
// commit and commits stay wait apart. Caller holds e.mu.
func (e *Engine) schedule() {
	now := e.clock.Now()
	wait := e.nextWait(e.activity(now))
	if wait < e.timing.Countdown {
		wait = e.timing.Countdown
	}
	if !now.Add(wait).Before(e.pieceClock.End) {
		e.beginEnding(0)
		return
	}
	epoch := e.epoch
	e.promptTimer = e.clock.AfterFunc(wait-e.timing.Countdown, func() { e.onPrompt(epoch) })
}

// nextWait maps activity onto the interval range with jitter, rounded to
// whole seconds.
func (e *Engine) nextWait(activity float64) time.Duration {
	lo, hi := e.settings.Interval.Min, e.settings.Interval.Max
	target := (1-activity)*hi + activity*lo
	target += e.timing.Jitter * target * (e.rng.Float64()*2 - 1)
	target = math.Max(lo, math.Min(hi, math.Round(target)))
	return time.Duration(target * float64(time.Second))
}

func (e *Engine) onPrompt(epoch uint64) {
	e.mu.Lock()
	if epoch != e.epoch || (e.state != StatePreRoll && e.state != StatePerforming) {
		e.mu.Unlock()
		return
	}
	e.promptTimer = nil
	e.round = e.generator.Next(e.performers, e.activity(e.clock.Now()))
	e.beginReveal(e.round.Cues, false, false)
	e.flush()
}

// beginEnding counts everyone down to rest. Caller holds e.mu.
func (e *Engine) beginEnding(numPlayers int) {
	if numPlayers < len(e.performers) {
		numPlayers = len(e.performers)
	}
	e.state = StateEnding
	e.round = cue.Round{Activity: e.round.Activity, Cues: cue.AllRest(numPlayers)}
	e.beginReveal(e.round.Cues, true, true)
}

func (e *Engine) activity(now time.Time) float64 {
	return e.curve.At(now, e.pieceClock.Start, e.pieceClock.End)
}

// cancelTimers stops both timers and invalidates any callback already in
// flight. Caller holds e.mu.
func (e *Engine) cancelTimers() {
	e.epoch++
	if e.promptTimer != nil {
		e.promptTimer.Stop()
		e.promptTimer = nil
	}
	if e.tickTimer != nil {
		e.tickTimer.Stop()
		e.tickTimer = nil
	}
}

func (e *Engine) emit(kind Kind, cues cue.CueSet, countdowns []*Countdown) {
	now := e.clock.Now()
	e.outbox = append(e.outbox, Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		PieceID:    e.id,
		Cues:       cues,
		Countdowns: countdowns,
		At:         now,
		Elapsed:    e.pieceClock.Elapsed(now),
		Activity:   e.round.Activity,
		Regime:     e.round.Decision.Regime,
	})
}

// flush releases e.mu and delivers queued events. emitMu is taken before
// e.mu is released so deliveries keep the order they were queued in.
func (e *Engine) flush() {
	events := e.outbox
	e.outbox = nil
	if len(events) == 0 {
		e.mu.Unlock()
		return
	}
	e.emitMu.Lock()
	e.mu.Unlock()
	defer e.emitMu.Unlock()
	for _, ev := range events {
		e.sink.Emit(ev)
	}
}
