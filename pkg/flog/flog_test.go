package flog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewJSONOutputRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	log.Info().Msg("should be filtered out")
	require.Empty(t, buf.String())

	log.Warn().Msg("should appear")
	require.Contains(t, buf.String(), "should appear")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "warn", decoded["level"])
}

func TestNewDefaultsToInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{JSONOutput: true, Output: &buf})

	log.Debug().Msg("filtered")
	require.Empty(t, buf.String())

	log.Info().Msg("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestWithComponentTagsOutput(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	log := WithComponent(base, "executor")

	log.Info().Msg("cycle started")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "executor", decoded["component"])
}

func TestWithOperationTagsOutput(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	log := WithOperation(base, "deadbeef")

	log.Info().Msg("transition committed")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "deadbeef", decoded["operation_id"])
}

func TestNewConsoleOutputIsHumanReadable(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: InfoLevel, JSONOutput: false, Output: &buf})

	log.Info().Msg("hello")

	require.True(t, strings.Contains(buf.String(), "hello"))
	require.False(t, json.Valid(buf.Bytes()), "console writer output should not be raw JSON")
}
