package tui

import (
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/clarke68/improv-score/internal/clock"
	"github.com/clarke68/improv-score/internal/cue"
	"github.com/clarke68/improv-score/internal/engine"
	"github.com/clarke68/improv-score/internal/logbook"
	"github.com/clarke68/improv-score/internal/piece"
)

func newTestApp(t *testing.T, settings piece.Settings) (*App, *clock.Virtual, *logbook.Logbook) {
	t.Helper()
	v := clock.NewVirtual(time.Date(2025, 5, 1, 20, 0, 0, 0, time.UTC))
	lb, err := logbook.New(filepath.Join(t.TempDir(), "logs", "journal.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	app, err := NewApp(settings,
		WithLogbook(lb),
		WithRand(rand.New(rand.NewSource(1))),
		WithEngineOptions(engine.WithClock(v), engine.WithRand(rand.New(rand.NewSource(2)))),
	)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return app, v, lb
}

func shortPiece() piece.Settings {
	s := piece.Defaults()
	s.DurationMinutes = 1
	s.Interval = piece.Interval{Min: 10, Max: 20}
	return s
}

func press(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

// drain feeds every queued engine event to the model without running the
// blocking mailbox command.
func drain(app *App) {
	app.Update(engineEventsMsg{events: app.mailbox.take()})
}

func TestNewAppRejectsInvalidSettings(t *testing.T) {
	bad := piece.Defaults()
	bad.NumPlayers = 0
	if _, err := NewApp(bad); err == nil {
		t.Fatalf("expected invalid settings to be rejected")
	}
}

func TestReadyViewShowsSettingsAndArc(t *testing.T) {
	app, _, _ := newTestApp(t, piece.Defaults())
	view := app.View()
	for _, want := range []string{"READY", "8 min", "contrast 0.60", "ARC · traditional", "Player 4", "start piece"} {
		if !strings.Contains(view, want) {
			t.Fatalf("ready view missing %q:\n%s", want, view)
		}
	}
	if len(app.preview) != previewPoints {
		t.Fatalf("expected %d preview points, got %d", previewPoints, len(app.preview))
	}
}

func TestStartShowsPreRollCountdowns(t *testing.T) {
	app, _, _ := newTestApp(t, piece.Defaults())
	_, cmd := app.Update(press('s'))
	if cmd == nil {
		t.Fatalf("expected start to listen for engine events")
	}
	if app.state != statePerforming || app.engine.State() != engine.StatePreRoll {
		t.Fatalf("expected pre-roll, got app=%d engine=%s", app.state, app.engine.State())
	}
	drain(app)
	if len(app.countdowns) != 4 {
		t.Fatalf("expected a countdown per performer, got %d", len(app.countdowns))
	}
	for i, cd := range app.countdowns {
		if cd == nil || cd.Secs != 5 {
			t.Fatalf("performer %d: expected a 5s countdown, got %+v", i, cd)
		}
	}
	view := app.View()
	for _, want := range []string{"PRE-ROLL", "-0:05 / 8:00", "in 5"} {
		if !strings.Contains(view, want) {
			t.Fatalf("pre-roll view missing %q:\n%s", want, view)
		}
	}
}

func TestPieceRunsToFinish(t *testing.T) {
	app, v, lb := newTestApp(t, shortPiece())
	app.Update(press('s'))
	v.RunUntilIdle(100000)
	drain(app)

	if app.state != stateFinished {
		t.Fatalf("expected finished state, got %d", app.state)
	}
	if app.prompts < 2 {
		t.Fatalf("expected several prompts, got %d", app.prompts)
	}
	if !app.cues.AllResting() {
		t.Fatalf("expected everyone resting at the end, got %s", app.cues)
	}
	if !strings.Contains(app.View(), "FINISHED") {
		t.Fatalf("finished view missing status")
	}
	entries, total := lb.Tail(100)
	if total < app.prompts+2 {
		t.Fatalf("expected journal start, commits and end; got %d entries", total)
	}
	if entries[0].Kind != logbook.KindStart || entries[0].Piece != app.engine.ID() {
		t.Fatalf("expected journal to open with the piece start, got %+v", entries[0])
	}
	if last := entries[len(entries)-1]; last.Kind != logbook.KindEnd {
		t.Fatalf("expected journal to end with the piece end, got %+v", last)
	}
}

func TestEndKeyCountsDownToRest(t *testing.T) {
	app, v, lb := newTestApp(t, piece.Defaults())
	app.Update(press('s'))
	v.Advance(6 * time.Second)
	drain(app)
	if app.engine.State() != engine.StatePerforming {
		t.Fatalf("expected performing after pre-roll, got %s", app.engine.State())
	}

	app.Update(press('e'))
	if app.engine.State() != engine.StateEnding {
		t.Fatalf("expected ending, got %s", app.engine.State())
	}
	v.RunUntilIdle(100000)
	drain(app)
	if app.state != stateFinished || !app.cues.AllResting() {
		t.Fatalf("expected finished all-rest, got state=%d cues=%s", app.state, app.cues)
	}
	notes := 0
	for _, e := range lb.Piece(app.engine.ID()) {
		if e.Kind == logbook.KindNote && strings.HasPrefix(e.Message, "ending called at") {
			notes++
		}
	}
	if notes != 1 {
		t.Fatalf("expected one ending note in the journal, got %d", notes)
	}

	// A second piece starts from a fresh engine.
	first := app.engine.ID()
	app.Update(press('s'))
	if app.engine.ID() == first || app.state != statePerforming {
		t.Fatalf("expected a new piece to start")
	}
}

func TestStaleEventsAreIgnored(t *testing.T) {
	app, _, _ := newTestApp(t, piece.Defaults())
	app.Update(press('s'))
	drain(app)
	before := app.prompts
	app.Update(engineEventsMsg{events: []engine.Event{{
		Kind:    engine.KindRenderCommit,
		PieceID: "some-other-piece",
		Cues:    cue.CueSet{cue.Rest()},
	}}})
	if app.prompts != before || len(app.cues) != 4 {
		t.Fatalf("stale event was applied")
	}
}

func TestQuitEndsRunningPiece(t *testing.T) {
	app, _, _ := newTestApp(t, piece.Defaults())
	app.Update(press('s'))
	_, cmd := app.Update(press('q'))
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
	if app.engine.State() != engine.StateEnding {
		t.Fatalf("expected quitting to end the piece, got %s", app.engine.State())
	}
}

func TestWindowSizeResizesProgress(t *testing.T) {
	app, _, _ := newTestApp(t, piece.Defaults())
	app.Update(tea.WindowSizeMsg{Width: 60, Height: 30})
	if app.progress.Width != 52 {
		t.Fatalf("expected progress width 52, got %d", app.progress.Width)
	}
	// 60 columns fit two cards per row.
	if got := strings.Count(app.renderEnsemble(60), "Player"); got != 4 {
		t.Fatalf("expected four performer cards, got %d", got)
	}
}
