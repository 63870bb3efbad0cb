// internal/config/config.go
//
// This package handles configuration and the .improv directory structure.
// Every project that performs or simulates pieces gets a .improv/ folder
// created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/clarke68/improv-score/internal/engine"
	"github.com/clarke68/improv-score/internal/ensemble"
	"github.com/clarke68/improv-score/internal/piece"
	"github.com/clarke68/improv-score/internal/simulator"
)

const (
	// ImprovDir is the name of the directory we create in each project
	ImprovDir = ".improv"

	configFileName  = "config.yaml"
	logFileName     = "improv.log"
	journalFileName = "journal.log"
)

const defaultProjectConfigYAML = `# improv project configuration
version: 1

# Settings every new piece starts from. The CLI flags and the lobby can
# override any of them.
piece:
  duration_minutes: 8
  interval:
    min: 30
    max: 60
  # 0 = ppp ... 7 = fff
  dynamics:
    min: 0
    max: 7
  contrast: 0.6
  # traditional, arch, swell, wave, plateau or random
  arc: traditional
  num_players: 4

# Reveal protocol timings. Leave as default unless rehearsing.
engine:
  pre_roll: 5s
  countdown: 5s
  tick: 200ms
  jitter: 0.15

simulator:
  mode: virtual
  acceleration: 60
  safety_buffer: 5s

bridge:
  host: 127.0.0.1
  port: 8765
  heartbeat: 15s
  session_expiry: 2h
  cleanup_interval: 5m
`

// EngineConfig carries the reveal timings and fairness tuning.
type EngineConfig struct {
	engine.Timing `yaml:",inline"`
	Fairness      ensemble.FairnessParams `yaml:"fairness"`
}

// SimulatorConfig captures simulation preferences.
type SimulatorConfig struct {
	Mode         string        `yaml:"mode"`
	Acceleration float64       `yaml:"acceleration"`
	SafetyBuffer time.Duration `yaml:"safety_buffer"`
	Seed         int64         `yaml:"seed,omitempty"`
}

// BridgeConfig configures the HTTP session bridge.
type BridgeConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
	// Heartbeat is the keep-alive interval of cue streams.
	Heartbeat time.Duration `yaml:"heartbeat,omitempty"`
	// SessionExpiry is how long an idle lobby or finished piece is kept.
	SessionExpiry   time.Duration `yaml:"session_expiry,omitempty"`
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty"`
}

// ProjectConfig models .improv/config.yaml.
type ProjectConfig struct {
	Version   int             `yaml:"version"`
	Piece     piece.Settings  `yaml:"piece"`
	Engine    EngineConfig    `yaml:"engine"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Bridge    BridgeConfig    `yaml:"bridge"`
}

// Config holds the runtime configuration for a project.
type Config struct {
	// ProjectDir is the directory the CLI was run from
	ProjectDir string

	// ImprovProjectDir is ProjectDir/.improv
	ImprovProjectDir string

	Project ProjectConfig
}

// InitProjectDir creates the .improv directory structure in the given
// project directory and writes a commented config if none exists.
//
// Structure created:
// .improv/
// ├── config.yaml
// └── logs/        <- improv.log and the performance journal
func InitProjectDir(projectDir string) error {
	improvDir := filepath.Join(projectDir, ImprovDir)
	if err := os.MkdirAll(filepath.Join(improvDir, "logs"), 0o755); err != nil {
		return err
	}
	return ensureProjectConfig(filepath.Join(improvDir, configFileName))
}

// NewConfig creates a new Config instance populated with project settings.
// A missing config file yields the defaults.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:       projectDir,
		ImprovProjectDir: filepath.Join(projectDir, ImprovDir),
		Project:          DefaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.ImprovProjectDir, "logs")
}

// LogPath returns the diagnostic log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.LogsDir(), logFileName)
}

// JournalPath returns the performance journal read by the conductor view.
func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), journalFileName)
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.ImprovProjectDir, configFileName)
}

// Piece returns the configured default piece settings.
func (c *Config) Piece() piece.Settings {
	return c.Project.Piece
}

// SimulatorOptions converts the simulator section into run options for the
// configured piece.
func (c *Config) SimulatorOptions() simulator.Options {
	mode, _ := simulator.ParseMode(c.Project.Simulator.Mode)
	return simulator.Options{
		Settings:     c.Project.Piece,
		Timing:       c.Project.Engine.Timing,
		Fairness:     c.Project.Engine.Fairness,
		Mode:         mode,
		Acceleration: c.Project.Simulator.Acceleration,
		SafetyBuffer: c.Project.Simulator.SafetyBuffer,
		Seed:         c.Project.Simulator.Seed,
	}
}

// SetPiece replaces the default piece settings and persists them back to
// .improv/config.yaml.
func (c *Config) SetPiece(settings piece.Settings) error {
	settings.Normalize()
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Project.Piece = settings
	return c.saveProjectConfig()
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := DefaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

// DefaultProjectConfig is the configuration used when no file exists.
func DefaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Piece:   piece.Defaults(),
		Engine: EngineConfig{
			Timing:   engine.DefaultTiming(),
			Fairness: ensemble.DefaultFairnessParams(),
		},
		Simulator: SimulatorConfig{
			Mode:         string(simulator.ModeVirtual),
			Acceleration: simulator.DefaultAcceleration,
			SafetyBuffer: simulator.DefaultSafetyBuffer,
		},
	}
}

func (pc *ProjectConfig) normalize() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	pc.Piece.Normalize()
	pc.Simulator.Mode = strings.ToLower(strings.TrimSpace(pc.Simulator.Mode))
	if pc.Simulator.Mode == "" {
		pc.Simulator.Mode = string(simulator.ModeVirtual)
	}
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if err := pc.Piece.Validate(); err != nil {
		return fmt.Errorf("piece: %w", err)
	}
	t := pc.Engine.Timing
	if t.PreRoll < 0 || t.Countdown < 0 || t.Tick < 0 {
		return fmt.Errorf("engine: timings must not be negative")
	}
	if t.Jitter < 0 || t.Jitter >= 1 {
		return fmt.Errorf("engine: jitter must be in [0, 1)")
	}
	if _, err := simulator.ParseMode(pc.Simulator.Mode); err != nil {
		return err
	}
	if pc.Simulator.Acceleration < 0 {
		return fmt.Errorf("simulator: acceleration must not be negative")
	}
	if pc.Bridge.Port < 0 || pc.Bridge.Port > 65535 {
		return fmt.Errorf("bridge: port %d out of range", pc.Bridge.Port)
	}
	b := pc.Bridge
	if b.Heartbeat < 0 || b.SessionExpiry < 0 || b.CleanupInterval < 0 {
		return fmt.Errorf("bridge: durations must not be negative")
	}
	return nil
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644)
}

func (c *Config) saveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.ImprovProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure improv dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
