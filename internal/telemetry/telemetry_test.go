package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
)

func TestServiceName(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	assert.Equal(t, "sandboxctl", ServiceName())

	t.Setenv("OTEL_SERVICE_NAME", "sandbox-daemon")
	assert.Equal(t, "sandbox-daemon", ServiceName())
}

func TestStdoutExporterWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	exp, err := newExporter(&buf)
	require.NoError(t, err)

	tp := trace.NewTracerProvider(trace.WithSyncer(exp), trace.WithResource(newResource()))
	_, span := tp.Tracer("test").Start(context.Background(), "sandbox.create")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "sandbox.create")
}
