package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "json", "debug")

	ctx := WithAttrs(context.Background(), slog.String("execution", "abc"))
	ctx = WithAttrs(ctx, slog.Int("schedule", 3))
	log.With("component", "runner").InfoContext(ctx, "started")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "abc", rec["execution"])
	require.Equal(t, float64(3), rec["schedule"])
	require.Equal(t, "runner", rec["component"])
}

func TestWithAttrsDoesNotShareBacking(t *testing.T) {
	base := WithAttrs(context.Background(), slog.String("a", "1"))
	one := WithAttrs(base, slog.String("b", "1"))
	two := WithAttrs(base, slog.String("c", "1"))

	require.Len(t, one.Value(ctxKey{}).([]slog.Attr), 2)
	require.Equal(t, "c", two.Value(ctxKey{}).([]slog.Attr)[1].Key)
	require.Equal(t, "b", one.Value(ctxKey{}).([]slog.Attr)[1].Key)
}

func TestLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "text", "warn")
	log.Info("hidden")
	require.Empty(t, buf.String())
	log.Warn("shown")
	require.Contains(t, buf.String(), "shown")

	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
}
