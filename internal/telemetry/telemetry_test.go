package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "deckwatch", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestSampleRatioClamped(t *testing.T) {
	assert.Equal(t, 0.0, Config{SampleRate: -2}.sampleRatio())
	assert.Equal(t, 1.0, Config{SampleRate: 3}.sampleRatio())
	assert.Equal(t, 0.25, Config{SampleRate: 0.25}.sampleRatio())
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()

	shutdown, err := Init(ctx, DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())
}

func TestSpansWithoutExporter(t *testing.T) {
	_, err := Init(context.Background(), DefaultConfig())
	require.NoError(t, err)

	ctx, span := StartResolveSpan(context.Background(), "artwork", 2, "usb", 42, false)
	defer span.End()

	// noop spans carry no ids
	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SpanID(ctx))
	assert.NotPanics(t, func() { RecordError(ctx, errors.New("boom")) })
	assert.NotPanics(t, func() { RecordError(ctx, nil) })
}

// recordSpans routes spans to an in-memory recorder for the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	mu.Lock()
	prev := tracer
	tracer = provider.Tracer(instrumentationName)
	mu.Unlock()

	t.Cleanup(func() {
		mu.Lock()
		tracer = prev
		mu.Unlock()
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func TestDomainSpans(t *testing.T) {
	recorder := recordSpans(t)
	ctx := context.Background()

	_, resolve := StartResolveSpan(ctx, "metadata", 3, "usb", 42, true)
	resolve.SetAttributes(Source("archive"))
	resolve.End()
	_, fetch := StartFetchSpan(ctx, "artwork", 2, "sd", 7)
	fetch.End()
	cctx, connect := StartConnectSpan(ctx, 2)
	RecordError(cctx, errors.New("refused"))
	connect.End()

	ended := recorder.Ended()
	require.Len(t, ended, 3)

	attrs := func(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
		out := make(map[attribute.Key]attribute.Value)
		for _, kv := range s.Attributes() {
			out[kv.Key] = kv.Value
		}
		return out
	}

	assert.Equal(t, SpanResolve, ended[0].Name())
	assert.Equal(t, "archive", attrs(ended[0])[AttrSource].AsString())
	assert.True(t, attrs(ended[0])[AttrPassive].AsBool())

	assert.Equal(t, SpanFetch, ended[1].Name())
	assert.Equal(t, int64(7), attrs(ended[1])[AttrContentID].AsInt64())
	assert.Equal(t, "artwork", attrs(ended[1])[AttrKind].AsString())

	assert.Equal(t, SpanConnect, ended[2].Name())
	assert.Equal(t, int64(2), attrs(ended[2])[AttrPlayer].AsInt64())
	assert.Equal(t, "refused", ended[2].Status().Description)
}

func TestInitProfilingDisabled(t *testing.T) {
	stop, err := InitProfiling(ProfilingConfig{})
	require.NoError(t, err)
	assert.NoError(t, stop())
}

func TestInitProfilingRejectsUnknownType(t *testing.T) {
	_, err := InitProfiling(ProfilingConfig{Enabled: true, ProfileTypes: []string{"cpu", "heat"}})
	assert.Error(t, err)
}

func TestProfileTypeNames(t *testing.T) {
	names := ProfileTypeNames()
	assert.Contains(t, names, "cpu")
	assert.Contains(t, names, "goroutines")
	assert.IsIncreasing(t, names)
}
