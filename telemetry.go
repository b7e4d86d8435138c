package cachemgr

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	instrumentationName = "github.com/unkn0wn-root/cachemgr"
	durationMetric      = "cache.operation.duration"
)

// seconds
var durationBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

type telemetry struct {
	hist    metric.Float64Histogram
	adapter attribute.KeyValue
	slow    time.Duration
}

func newTelemetry(m metric.Meter, adapterName string, slow time.Duration) (telemetry, error) {
	if m == nil {
		m = noop.NewMeterProvider().Meter(instrumentationName)
	}
	h, err := m.Float64Histogram(durationMetric,
		metric.WithDescription("Duration of cache manager operations, including retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return telemetry{}, err
	}
	return telemetry{
		hist:    h,
		adapter: attribute.String("adapter", adapterName),
		slow:    slow,
	}, nil
}

func (t telemetry) observe(ctx context.Context, op string, d time.Duration) {
	if t.slow > 0 && d < t.slow {
		return
	}
	t.hist.Record(context.WithoutCancel(ctx), d.Seconds(),
		metric.WithAttributes(attribute.String("operation", op), t.adapter))
}
