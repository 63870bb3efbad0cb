package main

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/clarke68/improv-score/internal/piece"
)

type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	var pairs []string
	for key, value := range *kv {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, value))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ", ")
}

func (kv *keyValueFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	key := strings.TrimSpace(parts[0])
	if key == "" {
		return fmt.Errorf("override key is empty in %q", value)
	}
	if *kv == nil {
		*kv = keyValueFlag{}
	}
	(*kv)[key] = parts[1]
	return nil
}

// applyOverrides lays key=value pairs over base and decodes the result, so
// overrides pass the same schema as settings files. Dotted keys address
// nested fields (interval.min=20) and values are parsed as YAML scalars.
func applyOverrides(base piece.Settings, overrides keyValueFlag) (piece.Settings, error) {
	if len(overrides) == 0 {
		return base, nil
	}
	seed, err := yaml.Marshal(base)
	if err != nil {
		return piece.Settings{}, fmt.Errorf("encode settings: %w", err)
	}
	doc := map[string]any{}
	if err := yaml.Unmarshal(seed, &doc); err != nil {
		return piece.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	for key, raw := range overrides {
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return piece.Settings{}, fmt.Errorf("override %s: %w", key, err)
		}
		if err := setPath(doc, strings.Split(key, "."), value); err != nil {
			return piece.Settings{}, fmt.Errorf("override %s: %w", key, err)
		}
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return piece.Settings{}, fmt.Errorf("encode overrides: %w", err)
	}
	return piece.DecodeYAML(data, base)
}

func setPath(doc map[string]any, path []string, value any) error {
	head := strings.TrimSpace(path[0])
	if head == "" {
		return fmt.Errorf("empty key segment")
	}
	if len(path) == 1 {
		if _, isMap := doc[head].(map[string]any); isMap {
			return fmt.Errorf("%s is a group of settings", head)
		}
		doc[head] = value
		return nil
	}
	child, ok := doc[head].(map[string]any)
	if !ok {
		if _, exists := doc[head]; exists {
			return fmt.Errorf("%s is not a group of settings", head)
		}
		child = map[string]any{}
		doc[head] = child
	}
	return setPath(child, path[1:], value)
}
