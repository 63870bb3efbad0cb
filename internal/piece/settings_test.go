package piece

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clarke68/improv-score/internal/arc"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if got := Defaults().Duration(); got != 8*time.Minute {
		t.Fatalf("Duration = %v, want 8m", got)
	}
}

func TestValidateRejectsDegenerateInput(t *testing.T) {
	cases := map[string]func(*Settings){
		"players":  func(s *Settings) { s.NumPlayers = 0 },
		"interval": func(s *Settings) { s.Interval = Interval{Min: 60, Max: 30} },
		"zero":     func(s *Settings) { s.Interval = Interval{Min: 0, Max: 30} },
		"dynamics": func(s *Settings) { s.Dynamics.Min, s.Dynamics.Max = 6, 2 },
		"contrast": func(s *Settings) { s.Contrast = 1.5 },
		"arc":      func(s *Settings) { s.Arc = "zigzag" },
		"duration": func(s *Settings) { s.DurationMinutes = 0 },
	}
	for name, mutate := range cases {
		s := Defaults()
		mutate(&s)
		err := s.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
		if !errors.Is(err, ErrInvalidSettings) {
			t.Fatalf("%s: error %v does not wrap ErrInvalidSettings", name, err)
		}
	}
}

func TestDecodeJSONAppliesOverBase(t *testing.T) {
	got, err := DecodeJSON([]byte(`{"arc":"wave","contrast":0.2,"interval":{"min":10,"max":20}}`), Defaults())
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if got.Arc != arc.ShapeWave {
		t.Fatalf("arc = %q, want wave", got.Arc)
	}
	if got.Contrast != 0.2 || got.Interval.Min != 10 || got.Interval.Max != 20 {
		t.Fatalf("unexpected settings: %+v", got)
	}
	if got.DurationMinutes != 8 {
		t.Fatalf("duration should keep the base value, got %v", got.DurationMinutes)
	}
}

func TestDecodeJSONRejectsSchemaViolations(t *testing.T) {
	for _, doc := range []string{
		`{"contrast": 2}`,
		`{"tempo": 120}`,
		`{"dynamics": {"min": 0, "max": 9}}`,
		`{"arc": "zigzag"}`,
	} {
		if _, err := DecodeJSON([]byte(doc), Defaults()); !errors.Is(err, ErrInvalidSettings) {
			t.Fatalf("%s: expected ErrInvalidSettings, got %v", doc, err)
		}
	}
}

func TestLoadFileReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "piece.yaml")
	doc := strings.TrimSpace(`
duration_minutes: 3
arc: arch
num_players: 6
dynamics:
  min: 2
  max: 5
`)
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadFile(path, Defaults())
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got.DurationMinutes != 3 || got.Arc != arc.ShapeArch || got.NumPlayers != 6 {
		t.Fatalf("unexpected settings: %+v", got)
	}
	if got.Dynamics.Min != 2 || got.Dynamics.Max != 5 {
		t.Fatalf("dynamics = %+v", got.Dynamics)
	}
}

func TestLoadFileRejectsReversedInterval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "piece.json")
	if err := os.WriteFile(path, []byte(`{"interval":{"min":90,"max":30}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path, Defaults()); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("expected ErrInvalidSettings, got %v", err)
	}
}
