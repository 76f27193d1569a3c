package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, Init(ctx, Settings{}))
	assert.False(t, Enabled())

	_, span := Tracer("").Start(ctx, "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestInitStdoutFallback(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	require.NoError(t, Init(ctx, Settings{Enabled: true, ServiceName: "roadmap-test", Output: &buf}))
	assert.True(t, Enabled())

	_, span := Tracer("").Start(ctx, "sync.test")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, Shutdown(ctx))
	assert.False(t, Enabled())
	assert.True(t, strings.Contains(buf.String(), "sync.test"), "span not exported: %s", buf.String())
}

func TestShutdownIdempotent(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, Shutdown(ctx))
	assert.NoError(t, Shutdown(ctx))
}
