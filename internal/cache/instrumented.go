package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter/v2/stats"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const meterName = "github.com/chinmina/weixin-bridge/internal/cache"

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	cacheDuration   metric.Float64Histogram
	softFailures    metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter(meterName)

		var err error
		cacheOperations, err = meter.Int64Counter(
			"cache.operations",
			metric.WithDescription("Total cache operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"cache.operation.duration",
			metric.WithDescription("Cache operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}

		softFailures, err = meter.Int64Counter(
			"cache.soft_failures",
			metric.WithDescription("Cache backend failures absorbed and reported to callers as misses"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a Backend with metrics instrumentation.
type Instrumented[T any] struct {
	wrapped   Backend[T]
	cacheType string
	evictions metric.Registration
}

// statsReporter is implemented by backends that keep their own counters.
type statsReporter interface {
	Stats() stats.Stats
}

// NewInstrumented creates an instrumented backend wrapper. Size-bound
// evictions of a backend that reports stats are published as cache.evictions.
func NewInstrumented[T any](backend Backend[T], cacheType string) *Instrumented[T] {
	initMetrics()
	i := &Instrumented[T]{
		wrapped:   backend,
		cacheType: cacheType,
	}
	if reporter, ok := backend.(statsReporter); ok {
		var zero T
		i.evictions = observeEvictions(reporter,
			attribute.String("cache.type", cacheType),
			attribute.String("cache.value_type", fmt.Sprintf("%T", zero)),
		)
	}
	return i
}

func observeEvictions(reporter statsReporter, attrs ...attribute.KeyValue) metric.Registration {
	meter := otel.Meter(meterName)

	evictions, err := meter.Int64ObservableCounter(
		"cache.evictions",
		metric.WithDescription("Entries evicted to respect the cache size bound"),
	)
	if err != nil {
		otel.Handle(err)
		return nil
	}

	opt := metric.WithAttributes(attrs...)
	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(evictions, int64(reporter.Stats().Evictions), opt)
		return nil
	}, evictions)
	if err != nil {
		otel.Handle(err)
		return nil
	}
	return registration
}

func (i *Instrumented[T]) Keys(ctx context.Context, namespace string) ([]string, error) {
	start := time.Now()
	keys, err := i.wrapped.Keys(ctx, namespace)
	i.record(ctx, "keys", successStatus(err), time.Since(start))
	return keys, err
}

func (i *Instrumented[T]) Size(ctx context.Context, namespace string) (int, error) {
	start := time.Now()
	size, err := i.wrapped.Size(ctx, namespace)
	i.record(ctx, "size", successStatus(err), time.Since(start))
	return size, err
}

func (i *Instrumented[T]) Get(ctx context.Context, namespace, key string) (T, bool, error) {
	start := time.Now()

	value, found, err := i.wrapped.Get(ctx, namespace, key)

	status := "miss"
	if err != nil {
		status = "error"
	} else if found {
		status = "hit"
	}
	i.record(ctx, "get", status, time.Since(start))

	return value, found, err
}

func (i *Instrumented[T]) Put(ctx context.Context, namespace, key string, value T) (T, error) {
	start := time.Now()
	stored, err := i.wrapped.Put(ctx, namespace, key, value)
	i.record(ctx, "put", successStatus(err), time.Since(start))
	return stored, err
}

func (i *Instrumented[T]) Remove(ctx context.Context, namespace, key string) (T, bool, error) {
	start := time.Now()

	value, found, err := i.wrapped.Remove(ctx, namespace, key)

	status := "miss"
	if err != nil {
		status = "error"
	} else if found {
		status = "hit"
	}
	i.record(ctx, "remove", status, time.Since(start))

	return value, found, err
}

func (i *Instrumented[T]) Clear(ctx context.Context, namespace string) error {
	start := time.Now()
	err := i.wrapped.Clear(ctx, namespace)
	i.record(ctx, "clear", successStatus(err), time.Since(start))
	return err
}

// Close releases any resources held by the wrapped backend.
func (i *Instrumented[T]) Close() error {
	if i.evictions != nil {
		if err := i.evictions.Unregister(); err != nil {
			otel.Handle(err)
		}
	}
	return i.wrapped.Close()
}

func successStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (i *Instrumented[T]) record(ctx context.Context, operation, status string, duration time.Duration) {
	if cacheOperations != nil {
		cacheOperations.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("cache.type", i.cacheType),
				attribute.String("cache.operation", operation),
				attribute.String("cache.status", status),
			),
		)
	}

	if cacheDuration != nil {
		cacheDuration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(
				attribute.String("cache.type", i.cacheType),
				attribute.String("cache.operation", operation),
			),
		)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("cache.type", i.cacheType),
		attribute.String("cache."+operation+".status", status),
		attribute.Float64("cache."+operation+".duration", duration.Seconds()),
	)
}

func recordSoftFailure(ctx context.Context, module, operation string) {
	initMetrics()
	if softFailures == nil {
		return
	}
	softFailures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cache.module", module),
			attribute.String("cache.operation", operation),
		),
	)
}
