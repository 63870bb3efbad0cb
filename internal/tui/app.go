// internal/tui/app.go
//
// This is the conductor's terminal view of a piece. It uses bubbletea, which
// follows The Elm Architecture:
//
// 1. Model: the cues, countdowns and piece position last reported
// 2. Update: engine events and key presses become state changes
// 3. View: the ensemble grid, arc preview and journal rendered to a string
//
// The engine runs on its own timers and reports through a mailbox sink; the
// view never drives timing.

package tui

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/clarke68/improv-score/internal/arc"
	"github.com/clarke68/improv-score/internal/cue"
	"github.com/clarke68/improv-score/internal/dynamics"
	"github.com/clarke68/improv-score/internal/engine"
	"github.com/clarke68/improv-score/internal/ensemble"
	"github.com/clarke68/improv-score/internal/logbook"
	"github.com/clarke68/improv-score/internal/piece"
)

// appState represents which stage of a performance we're on
type appState int

const (
	stateReady      appState = iota // Settings and arc preview, waiting to start
	statePerforming                 // Pre-roll through the final commit
	stateFinished                   // Piece ended; may start another
)

const previewPoints = 60

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithLogbook journals every committed cue-set and shows the tail.
func WithLogbook(lb *logbook.Logbook) AppOption {
	return func(a *App) {
		a.logbook = lb
	}
}

// WithEngineOptions are applied to every engine the view starts.
func WithEngineOptions(opts ...engine.Option) AppOption {
	return func(a *App) {
		a.engineOpts = append(a.engineOpts, opts...)
	}
}

// WithRand fixes the source used for the arc preview.
func WithRand(rng *rand.Rand) AppOption {
	return func(a *App) {
		if rng != nil {
			a.rng = rng
		}
	}
}

// WithAutoStart starts the piece as soon as the program runs.
func WithAutoStart() AppOption {
	return func(a *App) {
		a.autoStart = true
	}
}

type keyMap struct {
	Start key.Binding
	End   key.Binding
	Help  key.Binding
	Quit  key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Start, k.End, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Start, k.End}, {k.Help, k.Quit}}
}

func defaultKeyMap() keyMap {
	return keyMap{
		Start: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start piece")),
		End:   key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "end piece")),
		Help:  key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
		Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	state      appState
	settings   piece.Settings
	engine     *engine.Engine
	engineOpts []engine.Option
	mailbox    *mailbox
	waiting    bool
	logbook    *logbook.Logbook
	journal    *logbook.Journal
	rng        *rand.Rand
	autoStart  bool

	// Last reported moment of the piece
	cues       cue.CueSet
	countdowns []*engine.Countdown
	elapsed    time.Duration
	activity   float64
	regime     ensemble.Regime
	prompts    int

	preview   []float64
	statusMsg string
	err       error

	// UI components
	progress progress.Model
	help     help.Model
	keys     keyMap

	// Window size (we get this from bubbletea)
	width  int
	height int
}

// NewApp validates settings and prepares the conductor view.
func NewApp(settings piece.Settings, opts ...AppOption) (*App, error) {
	settings.Normalize()
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("tui: %w", err)
	}
	app := &App{
		state:    stateReady,
		settings: settings,
		mailbox:  newMailbox(),
		cues:     cue.AllRest(settings.NumPlayers),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		help:     help.New(),
		keys:     defaultKeyMap(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	if app.rng == nil {
		app.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	app.preview = previewCurve(settings, app.rng)
	app.statusMsg = "Press s to start the piece."
	return app, nil
}

func previewCurve(s piece.Settings, rng *rand.Rand) []float64 {
	curve := arc.NewCurve(s.Arc, s.DurationMinutes, s.Interval.Min, s.Interval.Max, arc.WithRand(rng))
	return curve.Preview(arc.PreviewRequest{
		Points:      previewPoints,
		Contrast:    s.Contrast,
		LoudnessMin: dynamics.At(s.Dynamics.Min).Loudness,
		LoudnessMax: dynamics.At(s.Dynamics.Max).Loudness,
	})
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	if a.autoStart {
		return a.startPiece()
	}
	return nil
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.progress.Width = max(10, msg.Width-8)
		a.help.Width = msg.Width
		return a, nil

	case engineEventsMsg:
		a.waiting = false
		for _, ev := range msg.events {
			a.apply(ev)
		}
		return a, a.listen()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Quit):
			a.endPiece()
			return a, tea.Quit
		case key.Matches(msg, a.keys.Start):
			if a.state != statePerforming {
				return a, a.startPiece()
			}
		case key.Matches(msg, a.keys.End):
			if a.state == statePerforming {
				a.endPiece()
			}
		case key.Matches(msg, a.keys.Help):
			a.help.ShowAll = !a.help.ShowAll
		}
	}
	return a, nil
}

// listen keeps exactly one mailbox wait outstanding.
func (a *App) listen() tea.Cmd {
	if a.waiting {
		return nil
	}
	a.waiting = true
	return a.mailbox.wait()
}

func (a *App) startPiece() tea.Cmd {
	opts := append([]engine.Option(nil), a.engineOpts...)
	sinks := fanout{a.mailbox}
	if a.logbook != nil {
		a.journal = logbook.NewJournal(a.logbook)
		sinks = append(sinks, a.journal)
	}
	opts = append(opts, engine.WithSink(sinks))
	eng := engine.New(opts...)
	if err := eng.Start(a.settings); err != nil {
		a.err = err
		a.statusMsg = fmt.Sprintf("Could not start: %v", err)
		return nil
	}
	a.engine = eng
	a.state = statePerforming
	a.err = nil
	a.prompts = 0
	a.regime = ""
	a.cues = cue.AllRest(a.settings.NumPlayers)
	a.countdowns = nil
	a.elapsed = -eng.Timing().PreRoll
	a.statusMsg = "Pre-roll: watch for your first cue."
	a.journal.Start(eng.ID(), settingsSummary(a.settings))
	return a.listen()
}

func (a *App) endPiece() {
	if a.engine == nil || a.state != statePerforming {
		return
	}
	err := a.engine.End(a.settings.NumPlayers)
	switch {
	case err == nil:
		a.statusMsg = "Ending: counting everyone down to rest."
		a.journal.Note(a.engine.ID(), "ending called at %s", clockLabel(a.elapsed))
	case errors.Is(err, engine.ErrNotRunning):
	default:
		a.err = err
	}
}

func (a *App) apply(ev engine.Event) {
	if a.engine == nil || ev.PieceID != a.engine.ID() {
		return
	}
	a.elapsed = ev.Elapsed
	a.activity = ev.Activity
	switch ev.Kind {
	case engine.KindRenderTick:
		a.cues = ev.Cues.Clone()
		a.countdowns = ev.Countdowns
	case engine.KindRenderCommit:
		a.cues = ev.Cues.Clone()
		a.countdowns = nil
		a.prompts++
		if ev.Regime != "" {
			a.regime = ev.Regime
		}
		if a.statusMsg != "" && a.engine.State() == engine.StatePerforming {
			a.statusMsg = ""
		}
	case engine.KindPieceEnded:
		a.state = stateFinished
		a.countdowns = nil
		a.statusMsg = fmt.Sprintf("Piece ended after %d prompts. Press s to play again.", a.prompts)
	}
}

// fanout forwards each event to every sink in order.
type fanout []engine.Sink

func (f fanout) Emit(ev engine.Event) {
	for _, s := range f {
		s.Emit(ev)
	}
}
