package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCtx_FallsBackToGlobal(t *testing.T) {
	assert.Same(t, &globalLogger, Ctx(context.Background()))
	//nolint:staticcheck // nil context is accepted on purpose
	assert.Same(t, &globalLogger, Ctx(nil))
}

func TestWithLogger_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).With().Str("request_id", "req-1").Logger()

	ctx := WithLogger(context.Background(), &l)
	Ctx(ctx).Info().Msg("hello")

	require.NotZero(t, buf.Len())
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
}

func TestSetLevelString(t *testing.T) {
	original := globalLogger.GetLevel()
	t.Cleanup(func() { SetLevel(original) })

	SetLevelString("debug")
	assert.Equal(t, zerolog.DebugLevel, globalLogger.GetLevel())

	SetLevelString("not-a-level")
	assert.Equal(t, zerolog.DebugLevel, globalLogger.GetLevel())

	SetLevelString("")
	assert.Equal(t, zerolog.DebugLevel, globalLogger.GetLevel())
}
