package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clarke68/improv-score/internal/arc"
	"github.com/clarke68/improv-score/internal/piece"
	"github.com/clarke68/improv-score/internal/simulator"
)

func TestLoadProjectConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if c.Piece() != piece.Defaults() {
		t.Fatalf("expected default piece settings, got %+v", c.Piece())
	}
	if c.Project.Engine.Countdown != 5*time.Second {
		t.Fatalf("expected default countdown, got %s", c.Project.Engine.Countdown)
	}
}

func TestInitProjectDirWritesLoadableConfig(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitProjectDir(projectDir); err != nil {
		t.Fatalf("InitProjectDir returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(projectDir, ImprovDir, "logs")); err != nil {
		t.Fatalf("expected logs dir: %v", err)
	}
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("default config does not load: %v", err)
	}
	if c.Piece() != piece.Defaults() {
		t.Fatalf("commented defaults drifted from piece.Defaults: %+v", c.Piece())
	}
	if c.Project.Bridge.Port != 8765 {
		t.Fatalf("expected bridge port 8765, got %d", c.Project.Bridge.Port)
	}
	if c.Project.Engine.Tick != 200*time.Millisecond {
		t.Fatalf("expected 200ms tick, got %s", c.Project.Engine.Tick)
	}
}

func TestLoadProjectConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	improvDir := filepath.Join(projectDir, ImprovDir)
	if err := os.MkdirAll(improvDir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
piece:
  duration_minutes: 12
  contrast: 0.2
  arc: Wave
engine:
  countdown: 3s
  fairness:
    rest_streak_cap: 4
simulator:
  mode: accelerated
  acceleration: 120
bridge:
  enabled: false
  port: 9000
  session_expiry: 30m
`)
	if err := os.WriteFile(filepath.Join(improvDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	c := &Config{ProjectDir: projectDir, ImprovProjectDir: improvDir, Project: DefaultProjectConfig()}
	if err := c.loadProjectConfig(); err != nil {
		t.Fatalf("loadProjectConfig returned error: %v", err)
	}
	got := c.Piece()
	if got.DurationMinutes != 12 || got.Contrast != 0.2 || got.Arc != arc.ShapeWave {
		t.Fatalf("piece overrides not applied: %+v", got)
	}
	if got.Interval != piece.Defaults().Interval {
		t.Fatalf("expected unspecified interval to keep its default, got %+v", got.Interval)
	}
	if c.Project.Engine.Countdown != 3*time.Second || c.Project.Engine.PreRoll != 5*time.Second {
		t.Fatalf("unexpected timing %+v", c.Project.Engine.Timing)
	}
	if c.Project.Engine.Fairness.RestStreakCap != 4 {
		t.Fatalf("expected rest streak cap 4, got %d", c.Project.Engine.Fairness.RestStreakCap)
	}
	if c.Project.Bridge.Enabled == nil || *c.Project.Bridge.Enabled {
		t.Fatalf("expected bridge disabled")
	}
	if c.Project.Bridge.SessionExpiry != 30*time.Minute {
		t.Fatalf("expected 30m session expiry, got %s", c.Project.Bridge.SessionExpiry)
	}
	opts := c.SimulatorOptions()
	if opts.Mode != simulator.ModeAccelerated || opts.Acceleration != 120 {
		t.Fatalf("unexpected simulator options %+v", opts)
	}
}

func TestLoadProjectConfigValidation(t *testing.T) {
	for name, configYAML := range map[string]string{
		"contrast": "piece:\n  contrast: 2\n",
		"mode":     "simulator:\n  mode: realtime\n",
		"jitter":   "engine:\n  jitter: 1.5\n",
		"expiry":   "bridge:\n  session_expiry: -1m\n",
	} {
		t.Run(name, func(t *testing.T) {
			projectDir := t.TempDir()
			improvDir := filepath.Join(projectDir, ImprovDir)
			if err := os.MkdirAll(improvDir, 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(improvDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
				t.Fatal(err)
			}
			c := &Config{ProjectDir: projectDir, ImprovProjectDir: improvDir, Project: DefaultProjectConfig()}
			if err := c.loadProjectConfig(); err == nil {
				t.Fatalf("expected validation error but got none")
			}
		})
	}
}

func TestSetPiecePersists(t *testing.T) {
	projectDir := t.TempDir()
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatal(err)
	}
	settings := piece.Defaults()
	settings.NumPlayers = 7
	settings.Arc = arc.ShapeArch
	if err := c.SetPiece(settings); err != nil {
		t.Fatalf("SetPiece returned error: %v", err)
	}
	reloaded, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Piece() != settings {
		t.Fatalf("expected %+v, got %+v", settings, reloaded.Piece())
	}
	if reloaded.Project.Engine.Countdown != 5*time.Second {
		t.Fatalf("timing lost on save: %+v", reloaded.Project.Engine.Timing)
	}

	bad := settings
	bad.Interval = piece.Interval{Min: 50, Max: 10}
	if err := c.SetPiece(bad); err == nil {
		t.Fatalf("expected invalid settings to be rejected")
	}
}
