package main

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarke68/improv-score/internal/arc"
	"github.com/clarke68/improv-score/internal/piece"
)

func TestKeyValueFlagSet(t *testing.T) {
	var kv keyValueFlag
	require.NoError(t, kv.Set("num_players=6"))
	require.NoError(t, kv.Set("arc = wave"))
	assert.Equal(t, "6", kv["num_players"])
	assert.Equal(t, " wave", kv["arc"])
	assert.Equal(t, "arc= wave, num_players=6", kv.String())

	assert.Error(t, kv.Set("contrast"))
	assert.Error(t, kv.Set("=1"))
}

func TestApplyOverridesNestedAndScalar(t *testing.T) {
	overrides := keyValueFlag{
		"num_players":  "6",
		"arc":          "wave",
		"interval.min": "20",
		"contrast":     "0.25",
	}
	got, err := applyOverrides(piece.Defaults(), overrides)
	require.NoError(t, err)

	assert.Equal(t, 6, got.NumPlayers)
	assert.Equal(t, arc.ShapeWave, got.Arc)
	assert.Equal(t, piece.Interval{Min: 20, Max: 60}, got.Interval)
	assert.InDelta(t, 0.25, got.Contrast, 1e-9)
	assert.Equal(t, piece.Defaults().Dynamics, got.Dynamics)
}

func TestApplyOverridesWithoutPairsKeepsBase(t *testing.T) {
	base := piece.Defaults()
	got, err := applyOverrides(base, nil)
	require.NoError(t, err)
	assert.Equal(t, base, got)
}

func TestApplyOverridesRejectsInvalidSettings(t *testing.T) {
	cases := map[string]keyValueFlag{
		"unknown field":     {"tempo": "120"},
		"out of range":      {"contrast": "2"},
		"inverted interval": {"interval.min": "90"},
		"unknown arc":       {"arc": "zigzag"},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := applyOverrides(piece.Defaults(), overrides)
			require.Error(t, err)
			assert.True(t, errors.Is(err, piece.ErrInvalidSettings), "got %v", err)
		})
	}
}

func TestApplyOverridesRejectsBadPaths(t *testing.T) {
	_, err := applyOverrides(piece.Defaults(), keyValueFlag{"interval": "5"})
	assert.Error(t, err)

	_, err = applyOverrides(piece.Defaults(), keyValueFlag{"contrast.min": "5"})
	assert.Error(t, err)
}

func TestPreviewLineDescribesPiece(t *testing.T) {
	s := piece.Defaults()
	line := previewLine(s, 30, rand.New(rand.NewSource(3)))
	parts := strings.SplitN(line, "\n", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, 30, len([]rune(parts[0])))
	assert.Equal(t, "traditional  8 min  ppp-fff  contrast 0.60", parts[1])
}
