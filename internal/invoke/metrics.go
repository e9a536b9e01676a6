package invoke

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce sync.Once
	attemptsCtr metric.Int64Counter
	refreshCtr  metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter(instrumentationName)

		var err error
		attemptsCtr, err = meter.Int64Counter(
			"invoke.attempts",
			metric.WithDescription("Platform calls sent, including retries"),
		)
		if err != nil {
			otel.Handle(err)
		}

		refreshCtr, err = meter.Int64Counter(
			"invoke.refreshes",
			metric.WithDescription("Credential refreshes triggered by rejected calls"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

func recordAttempt(ctx context.Context, key string) {
	if attemptsCtr != nil {
		attemptsCtr.Add(ctx, 1, metric.WithAttributes(attribute.String("weixin.account", key)))
	}
}

func recordRefresh(ctx context.Context, key string) {
	if refreshCtr != nil {
		refreshCtr.Add(ctx, 1, metric.WithAttributes(attribute.String("weixin.account", key)))
	}
}
