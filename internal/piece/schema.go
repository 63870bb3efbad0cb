package piece

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const schemaURL = "improv://piece-settings.schema.json"

// SettingsSchema is the JSON schema for settings documents. Every field is
// optional; missing fields keep the base settings they are applied over.
const SettingsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Piece settings",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "duration_minutes": {"type": "number", "exclusiveMinimum": 0, "maximum": 240},
    "interval": {
      "type": "object",
      "additionalProperties": false,
      "required": ["min", "max"],
      "properties": {
        "min": {"type": "number", "exclusiveMinimum": 0},
        "max": {"type": "number", "exclusiveMinimum": 0}
      }
    },
    "dynamics": {
      "type": "object",
      "additionalProperties": false,
      "required": ["min", "max"],
      "properties": {
        "min": {"type": "integer", "minimum": 0, "maximum": 7},
        "max": {"type": "integer", "minimum": 0, "maximum": 7}
      }
    },
    "contrast": {"type": "number", "minimum": 0, "maximum": 1},
    "arc": {"enum": ["traditional", "arch", "swell", "wave", "plateau", "random"]},
    "num_players": {"type": "integer", "minimum": 1}
  }
}`

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString(schemaURL, SettingsSchema)
	})
	return schema, schemaErr
}

// DecodeJSON validates a JSON settings document against the schema and
// applies it over base.
func DecodeJSON(data []byte, base Settings) (Settings, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Settings{}, fmt.Errorf("piece: parse settings: %w", err)
	}
	return decodeDocument(doc, data, base)
}

// DecodeYAML converts a YAML settings document to its JSON form, validates it,
// and applies it over base.
func DecodeYAML(data []byte, base Settings) (Settings, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Settings{}, fmt.Errorf("piece: parse settings: %w", err)
	}
	if doc == nil {
		return base, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return Settings{}, fmt.Errorf("piece: convert settings: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return Settings{}, fmt.Errorf("piece: convert settings: %w", err)
	}
	return decodeDocument(normalized, raw, base)
}

// LoadFile reads a settings document, choosing the decoder by extension.
func LoadFile(path string, base Settings) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("piece: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return DecodeJSON(data, base)
	default:
		return DecodeYAML(data, base)
	}
}

func decodeDocument(doc any, raw []byte, base Settings) (Settings, error) {
	sch, err := compiledSchema()
	if err != nil {
		return Settings{}, fmt.Errorf("piece: compile schema: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	settings := base
	if err := json.Unmarshal(raw, &settings); err != nil {
		return Settings{}, fmt.Errorf("piece: decode settings: %w", err)
	}
	settings.Normalize()
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}
