package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"premium-reconciler/internal/config"
)

func TestWith_AddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := newLogger(&buf, config.LogConfig{Level: "debug", Format: "json"}, false)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithPaymentID(ctx, "pay_R6yeWtx4jUG6dS")
	With(ctx, Component(base, "webhook")).Info().Msg("received")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "trace-1", line["trace_id"])
	assert.Equal(t, "pay_R6yeWtx4jUG6dS", line["payment_id"])
	assert.Equal(t, "webhook", line["component"])
	assert.NotContains(t, line, "user_id")
	assert.Equal(t, "trace-1", TraceID(ctx))
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"}, false)
	l.Info().Msg("hidden")
	assert.Zero(t, buf.Len())
	l.Warn().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "void...om", Redact("void@gateway.com", false))
	assert.Equal(t, "***", Redact("+9189", false))
	assert.Equal(t, "void@gateway.com", Redact("void@gateway.com", true))
	assert.Empty(t, Redact("", false))
}
