package logctx

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerAddsContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := WrapLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	ctx := WithField(context.Background(), "execution_id", "abc")
	ctx = WithAttrs(ctx, slog.Int("statement_index", 2))
	logger.InfoContext(ctx, "statement finished")

	out := buf.String()
	assert.Contains(t, out, "execution_id=abc")
	assert.Contains(t, out, "statement_index=2")
}

func TestWithAttrsDoesNotMutateParent(t *testing.T) {
	parent := WithField(context.Background(), "a", 1)
	_ = WithField(parent, "b", 2)
	assert.Len(t, Attrs(parent), 1)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug", slog.LevelInfo))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN", slog.LevelInfo))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud", slog.LevelInfo))
}
