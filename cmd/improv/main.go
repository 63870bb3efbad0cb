// cmd/improv/main.go
//
// This is the entry point for the improv CLI.
//
// Subcommands:
//   perform   conduct a piece in the terminal
//   simulate  run a piece against a fast clock and print the report
//   serve     host lobbies and cue streams over HTTP
//   preview   print the arc sparkline for the configured piece
//   init      create .improv/ in the project directory

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/clarke68/improv-score/internal/arc"
	"github.com/clarke68/improv-score/internal/config"
	"github.com/clarke68/improv-score/internal/dynamics"
	"github.com/clarke68/improv-score/internal/engine"
	"github.com/clarke68/improv-score/internal/eventbridge"
	"github.com/clarke68/improv-score/internal/logbook"
	"github.com/clarke68/improv-score/internal/logging"
	"github.com/clarke68/improv-score/internal/piece"
	"github.com/clarke68/improv-score/internal/session"
	"github.com/clarke68/improv-score/internal/simulator"
	"github.com/clarke68/improv-score/internal/tui"
)

const usage = `usage: improv <command> [flags]

commands:
  perform   conduct a piece in the terminal
  simulate  run a piece against a fast clock and print the report
  serve     host lobbies and cue streams over HTTP
  preview   print the arc sparkline for the configured piece
  init      create .improv/ in the project directory

Run "improv <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "perform":
		err = runPerform(args)
	case "simulate":
		err = runSimulate(args)
	case "serve":
		err = runServe(args)
	case "preview":
		err = runPreview(args)
	case "init":
		err = runInit(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		die("%s: %v", cmd, err)
	}
}

// projectFlags are shared by every command that reads the project config.
type projectFlags struct {
	dir          string
	settingsFile string
	players      int
	sets         keyValueFlag
}

func (p *projectFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&p.dir, "project", "", "path to the project directory (defaults to cwd)")
	fs.StringVar(&p.settingsFile, "settings", "", "YAML or JSON file with piece settings")
	fs.IntVar(&p.players, "players", 0, "number of performers (overrides the settings)")
	fs.Var(&p.sets, "set", "piece setting override (key=value, dotted keys for nested fields, repeatable)")
}

// load resolves the project directory, reads its config and applies the piece
// overrides on top of the configured defaults.
func (p *projectFlags) load() (*config.Config, piece.Settings, error) {
	project := p.dir
	if project == "" {
		var err error
		project, err = os.Getwd()
		if err != nil {
			return nil, piece.Settings{}, fmt.Errorf("determine working directory: %w", err)
		}
	}
	absoluteProject, err := filepath.Abs(project)
	if err != nil {
		return nil, piece.Settings{}, fmt.Errorf("resolve project dir: %w", err)
	}
	cfg, err := config.NewConfig(absoluteProject)
	if err != nil {
		return nil, piece.Settings{}, err
	}
	settings := cfg.Piece()
	if path := strings.TrimSpace(p.settingsFile); path != "" {
		settings, err = piece.LoadFile(path, settings)
		if err != nil {
			return nil, piece.Settings{}, err
		}
	}
	settings, err = applyOverrides(settings, p.sets)
	if err != nil {
		return nil, piece.Settings{}, err
	}
	if p.players != 0 {
		settings = settings.WithPlayers(p.players)
		if err := settings.Validate(); err != nil {
			return nil, piece.Settings{}, err
		}
	}
	return cfg, settings, nil
}

func runPerform(args []string) error {
	fs := flag.NewFlagSet("perform", flag.ContinueOnError)
	var pf projectFlags
	pf.register(fs)
	autoStart := fs.Bool("start", false, "start the piece immediately")
	save := fs.Bool("save", false, "store the resulting piece settings as the project default")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, settings, err := pf.load()
	if err != nil {
		return err
	}
	if err := config.InitProjectDir(cfg.ProjectDir); err != nil {
		return fmt.Errorf("init .improv: %w", err)
	}
	if *save {
		if err := cfg.SetPiece(settings); err != nil {
			return err
		}
	}

	logger, err := logging.Open(cfg.LogPath())
	if err != nil {
		return err
	}
	defer logger.Close()
	journal, err := logbook.New(cfg.JournalPath())
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	opts := []tui.AppOption{
		tui.WithLogbook(journal),
		tui.WithEngineOptions(
			engine.WithTiming(cfg.Project.Engine.Timing),
			engine.WithFairness(cfg.Project.Engine.Fairness),
			engine.WithLogger(logger),
		),
	}
	if *autoStart {
		opts = append(opts, tui.WithAutoStart())
	}
	app, err := tui.NewApp(settings, opts...)
	if err != nil {
		return err
	}

	// tea.WithAltScreen uses the alternate screen buffer (like vim does)
	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run TUI: %w", err)
	}
	return nil
}

func runSimulate(args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	var pf projectFlags
	pf.register(fs)
	mode := fs.String("mode", "", "virtual or accelerated (defaults to the project config)")
	seed := fs.Int64("seed", 0, "random seed (0 picks one)")
	acceleration := fs.Float64("acceleration", 0, "speed-up for accelerated mode")
	format := fs.String("format", "text", "report format: text or json")
	rows := fs.Int("rows", 40, "timeline rows to print (0 prints all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	switch *format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
	cfg, settings, err := pf.load()
	if err != nil {
		return err
	}

	opts := cfg.SimulatorOptions()
	opts.Settings = settings
	if *mode != "" {
		m, err := simulator.ParseMode(strings.ToLower(*mode))
		if err != nil {
			return err
		}
		opts.Mode = m
	}
	if *seed != 0 {
		opts.Seed = *seed
	}
	if *acceleration > 0 {
		opts.Acceleration = *acceleration
	}
	logger, err := logging.Open(cfg.LogPath())
	if err == nil {
		defer logger.Close()
		opts.Logger = logger
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	report, err := simulator.Run(ctx, opts)
	if err != nil {
		return err
	}
	if *format == "json" {
		return report.WriteJSON(os.Stdout)
	}
	fmt.Println(report.Text(*rows))
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var pf projectFlags
	pf.register(fs)
	host := fs.String("host", "", "listen host (overrides config and IMPROV_BRIDGE_HOST)")
	port := fs.Int("port", 0, "listen port (overrides config and IMPROV_BRIDGE_PORT)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, settings, err := pf.load()
	if err != nil {
		return err
	}
	if err := config.InitProjectDir(cfg.ProjectDir); err != nil {
		return fmt.Errorf("init .improv: %w", err)
	}
	logger, err := logging.Open(cfg.LogPath())
	if err != nil {
		return err
	}
	defer logger.Close()

	bridge := eventbridge.SettingsFromConfig(cfg)
	if *host != "" {
		bridge.Host = *host
	}
	if *port > 0 {
		bridge.Port = *port
	}
	bridge.Enabled = true

	router := eventbridge.NewRouter(eventbridge.RouterWithLogger(logger))
	registryOpts := append(bridge.RegistryOptions(),
		session.WithSinkFactory(router.Sink),
		session.WithLogger(logger),
		session.WithEngineOptions(
			engine.WithTiming(cfg.Project.Engine.Timing),
			engine.WithFairness(cfg.Project.Engine.Fairness),
			engine.WithLogger(logger),
		),
	)
	registry := session.NewRegistry(registryOpts...)
	server := eventbridge.NewServer(bridge,
		eventbridge.WithRouter(router),
		eventbridge.WithRegistry(registry),
		eventbridge.WithDefaultSettings(settings),
		eventbridge.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := server.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("Serving sessions on %s (Ctrl+C to stop)\n", server.BaseURL())
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	fmt.Println("Stopped.")
	return nil
}

func runPreview(args []string) error {
	fs := flag.NewFlagSet("preview", flag.ContinueOnError)
	var pf projectFlags
	pf.register(fs)
	points := fs.Int("points", 60, "number of samples across the piece")
	seed := fs.Int64("seed", 0, "random seed for the random arc (0 picks one)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, settings, err := pf.load()
	if err != nil {
		return err
	}
	if *points < 2 {
		return fmt.Errorf("points must be at least 2")
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	fmt.Println(previewLine(settings, *points, rand.New(rand.NewSource(*seed))))
	return nil
}

// previewLine renders the arc of settings as a one-line sparkline followed by
// a short description of the piece.
func previewLine(s piece.Settings, points int, rng *rand.Rand) string {
	curve := arc.NewCurve(s.Arc, s.DurationMinutes, s.Interval.Min, s.Interval.Max, arc.WithRand(rng))
	values := curve.Preview(arc.PreviewRequest{
		Points:      points,
		Contrast:    s.Contrast,
		LoudnessMin: 0,
		LoudnessMax: 1,
	})
	lo, hi := dynamics.At(s.Dynamics.Min).Mark, dynamics.At(s.Dynamics.Max).Mark
	return fmt.Sprintf("%s\n%s  %g min  %s-%s  contrast %.2f", arc.Sparkline(values), s.Arc, s.DurationMinutes, lo, hi, s.Contrast)
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	dir := fs.String("project", "", "path to the project directory (defaults to cwd)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	project := *dir
	if project == "" {
		var err error
		if project, err = os.Getwd(); err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
	}
	if err := config.InitProjectDir(project); err != nil {
		return fmt.Errorf("init .improv: %w", err)
	}
	fmt.Printf("Initialized %s\n", filepath.Join(project, config.ImprovDir))
	return nil
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
