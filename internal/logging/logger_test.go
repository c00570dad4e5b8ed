package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json", "debug").WithBinaryPair(1, 2)

	l.LogNeighBSim(context.Background(), 10, 20, 0.5, nil)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "neighbsim completed", rec["msg"])
	assert.EqualValues(t, 1, rec["query_binary"])
	assert.EqualValues(t, 2, rec["target_binary"])
	assert.EqualValues(t, 0.5, rec["score"])
}

func TestLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "text", "info")

	l.LogFirmUP(context.Background(), 1, "matched", 3, 2, nil)
	assert.Empty(t, buf.String(), "debug lines are filtered at info")

	l.LogFirmUP(context.Background(), 1, "", 0, 0, errors.New("boom"))
	assert.Contains(t, buf.String(), "firmup failed")
	assert.Contains(t, buf.String(), "boom")
}
