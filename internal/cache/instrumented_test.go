package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInstrumented_PassesThrough(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemory[cachedTicket](0, 100)
	require.NoError(t, err)

	i := NewInstrumented[cachedTicket](m, "memory")

	_, err = i.Put(ctx, "weixin:token", "wx123", cachedTicket{Value: "tok"})
	require.NoError(t, err)

	value, found, err := i.Get(ctx, "weixin:token", "wx123")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "tok", value.Value)

	keys, err := i.Keys(ctx, "weixin:token")
	require.NoError(t, err)
	assert.Equal(t, []string{"wx123"}, keys)

	require.NoError(t, i.Clear(ctx, "weixin:token"))
	size, err := i.Size(ctx, "weixin:token")
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestInstrumented_PropagatesErrors(t *testing.T) {
	ctx := context.Background()
	outage := errors.New("down")
	backend := newFailingBackend[cachedTicket](outage)
	i := NewInstrumented[cachedTicket](backend, "distributed")

	_, _, err := i.Get(ctx, "ns", "k")
	assert.ErrorIs(t, err, outage)

	_, err = i.Put(ctx, "ns", "k", cachedTicket{})
	assert.ErrorIs(t, err, outage)

	_, _, err = i.Remove(ctx, "ns", "k")
	assert.ErrorIs(t, err, outage)

	assert.ErrorIs(t, i.Clear(ctx, "ns"), outage)
	assert.ErrorIs(t, i.Close(), outage)

	assert.Equal(t, 1, backend.calls["get"])
	assert.Equal(t, 1, backend.calls["close"])
}

func TestInstrumented_SpanAttributes(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	ctx, span := provider.Tracer("test").Start(context.Background(), "lookup")

	m, err := NewMemory[cachedTicket](0, 100)
	require.NoError(t, err)
	i := NewInstrumented[cachedTicket](m, "memory")

	_, _, err = i.Get(ctx, "weixin:token", "absent")
	require.NoError(t, err)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	attrs := map[string]string{}
	for _, a := range spans[0].Attributes {
		attrs[string(a.Key)] = a.Value.Emit()
	}
	assert.Equal(t, "memory", attrs["cache.type"])
	assert.Equal(t, "miss", attrs["cache.get.status"])
}

func TestInstrumented_ReportsMemoryEvictions(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	previous := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(previous) })

	ctx := context.Background()
	m, err := NewMemory[cachedTicket](0, 1)
	require.NoError(t, err)
	i := NewInstrumented[cachedTicket](m, "memory")
	t.Cleanup(func() { _ = i.Close() })

	for _, key := range []string{"wx1", "wx2", "wx3"} {
		_, err := i.Put(ctx, "weixin:token", key, cachedTicket{Value: key})
		require.NoError(t, err)
	}

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		m.cache.CleanUp()

		var rm metricdata.ResourceMetrics
		require.NoError(c, reader.Collect(ctx, &rm))
		assert.Positive(c, evictionCount(rm))
	}, time.Second, 10*time.Millisecond)
}

func evictionCount(rm metricdata.ResourceMetrics) int64 {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "cache.evictions" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				return 0
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}
