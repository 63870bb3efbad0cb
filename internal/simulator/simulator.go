// Package simulator runs whole pieces without performers, on a virtual or
// accelerated clock, and reports fairness, interval and dynamics statistics.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/clarke68/improv-score/internal/clock"
	"github.com/clarke68/improv-score/internal/engine"
	"github.com/clarke68/improv-score/internal/ensemble"
	"github.com/clarke68/improv-score/internal/piece"
)

// Mode selects the clock a simulation runs on.
type Mode string

const (
	// ModeVirtual jumps straight from timer to timer.
	ModeVirtual Mode = "virtual"
	// ModeAccelerated runs real timers sped up by the acceleration factor.
	ModeAccelerated Mode = "accelerated"
)

const (
	DefaultAcceleration = 60
	DefaultSafetyBuffer = 5 * time.Second

	virtualCallbackLimit = 1_000_000
)

// ParseMode validates a mode name.
func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case ModeVirtual, ModeAccelerated:
		return Mode(value), nil
	case "":
		return ModeVirtual, nil
	}
	return "", fmt.Errorf("simulator: unknown mode %q", value)
}

// Logger is the minimal logging surface used by the simulator.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Options configures one simulation run.
type Options struct {
	Settings piece.Settings
	Timing   engine.Timing
	Fairness ensemble.FairnessParams
	Mode     Mode
	// Acceleration is the speed-up of ModeAccelerated.
	Acceleration float64
	// SafetyBuffer is added to the expected run length before the run is
	// forced to finish. It is measured on the clock of the chosen mode.
	SafetyBuffer time.Duration
	// Seed fixes the random source; zero picks one from the wall clock.
	Seed   int64
	Logger Logger
}

func (o Options) withDefaults() Options {
	if o.Timing == (engine.Timing{}) {
		o.Timing = engine.DefaultTiming()
	}
	if o.Fairness == (ensemble.FairnessParams{}) {
		o.Fairness = ensemble.DefaultFairnessParams()
	}
	if o.Mode == "" {
		o.Mode = ModeVirtual
	}
	if o.Acceleration <= 0 {
		o.Acceleration = DefaultAcceleration
	}
	if o.SafetyBuffer <= 0 {
		o.SafetyBuffer = DefaultSafetyBuffer
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	if o.Logger == nil {
		o.Logger = nopLogger{}
	}
	return o
}

// expected is how long a piece takes on its own clock from Start to the final
// commit, before any safety buffer. The last prompt lands before the end and
// is followed by two reveals at most.
func (o Options) expected() time.Duration {
	return o.Timing.PreRoll + o.Settings.Duration() + 2*o.Timing.Countdown
}

// Run simulates one piece and builds its report. A run that does not end on
// its own within the safety window is cut short with End and reported with
// TimedOut set.
func Run(ctx context.Context, opts Options) (*Report, error) {
	opts = opts.withDefaults()
	opts.Settings.Normalize()
	if err := opts.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("simulator: %w", err)
	}
	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return nil, err
	}

	col := newCollector(opts.Settings.NumPlayers)
	var (
		clk      clock.Clock
		virtual  *clock.Virtual
		timedOut bool
		err      error
	)
	if opts.Mode == ModeVirtual {
		virtual = clock.NewVirtual(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC))
		clk = virtual
	} else {
		clk = clock.NewScaled(opts.Acceleration)
	}
	eng := engine.New(
		engine.WithClock(clk),
		engine.WithRand(rand.New(rand.NewSource(opts.Seed))),
		engine.WithTiming(opts.Timing),
		engine.WithFairness(opts.Fairness),
		engine.WithSink(col),
		engine.WithLogger(opts.Logger),
	)
	if err := eng.Start(opts.Settings); err != nil {
		return nil, fmt.Errorf("simulator: %w", err)
	}
	opts.Logger.Printf("simulator: %s run of piece %s seed=%d", opts.Mode, eng.ID(), opts.Seed)

	if virtual != nil {
		timedOut, err = runVirtual(ctx, virtual, eng, col, opts)
	} else {
		timedOut, err = runAccelerated(ctx, eng, col, opts)
	}
	if err != nil {
		return nil, err
	}
	if timedOut {
		opts.Logger.Printf("simulator: piece %s forced to finish after safety timeout", eng.ID())
	}
	return buildReport(col, opts, eng.ID(), timedOut), nil
}

func runVirtual(ctx context.Context, v *clock.Virtual, eng *engine.Engine, col *collector, opts Options) (bool, error) {
	horizon := v.Now().Add(opts.expected() + opts.SafetyBuffer)
	steps := 0
	for !col.finished() {
		if err := ctx.Err(); err != nil {
			_ = eng.End(0)
			return false, fmt.Errorf("simulator: %w", err)
		}
		next, ok := v.Next()
		if !ok || next.After(horizon) || steps >= virtualCallbackLimit {
			return true, forceEnd(eng, func() { v.RunUntilIdle(virtualCallbackLimit) })
		}
		v.Step()
		steps++
	}
	return false, nil
}

func runAccelerated(ctx context.Context, eng *engine.Engine, col *collector, opts Options) (bool, error) {
	budget := time.Duration(float64(opts.expected())/opts.Acceleration) + opts.SafetyBuffer
	safety := time.NewTimer(budget)
	defer safety.Stop()

	select {
	case <-col.done:
		return false, nil
	case <-ctx.Done():
		_ = eng.End(0)
		return false, fmt.Errorf("simulator: %w", ctx.Err())
	case <-safety.C:
	}
	drain := time.Duration(float64(2*opts.Timing.Countdown)/opts.Acceleration) + time.Second
	return true, forceEnd(eng, func() {
		select {
		case <-col.done:
		case <-time.After(drain):
		}
	})
}

// forceEnd ends the piece and waits for the final commit via wait.
func forceEnd(eng *engine.Engine, wait func()) error {
	if err := eng.End(0); err != nil && !errors.Is(err, engine.ErrNotRunning) {
		return fmt.Errorf("simulator: force end: %w", err)
	}
	wait()
	return nil
}
