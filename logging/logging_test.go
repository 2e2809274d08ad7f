package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigureJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Configure(JSONFormat, slog.LevelInfo, &buf))

	slog.Info("hello", "answer", 42)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "hello", entry["msg"])
	require.Equal(t, float64(42), entry["answer"])
}

func TestConfigureLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Configure(TextFormat, slog.LevelWarn, &buf))

	slog.Info("dropped")
	require.Zero(t, buf.Len())

	slog.Warn("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestConfigureRejectsUnknownFormat(t *testing.T) {
	require.Error(t, Configure(Format("xml"), slog.LevelInfo, nil))
}
