// Package analytics records click-to-dial usage. Every dial is logged and
// counted on an OpenTelemetry counter tagged with its source.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const (
	meterName = "clicktodial/analytics"
	// DialsMetric counts dials started through click-to-dial.
	DialsMetric = "clicktodial.dials"
	// SourceKey is the attribute naming where a dial started.
	SourceKey = "source"
)

// Tracker counts click-to-dial usage per source.
type Tracker struct {
	enabled bool
	log     *slog.Logger
	dials   metric.Int64Counter
}

// New builds a tracker recording on provider. A nil provider uses the global
// one, which drops measurements until an SDK is installed.
func New(enabled bool, provider metric.MeterProvider, log *slog.Logger) (*Tracker, error) {
	if log == nil {
		log = slog.Default()
	}
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	dials, err := provider.Meter(meterName).Int64Counter(
		DialsMetric,
		metric.WithDescription("Dials started through click-to-dial"),
		metric.WithUnit("{dial}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s counter: %w", DialsMetric, err)
	}

	return &Tracker{
		enabled: enabled,
		log:     log.With("component", "analytics"),
		dials:   dials,
	}, nil
}

// TrackClickToDial records one dial started from source, e.g. "Webpage".
func (t *Tracker) TrackClickToDial(source string) {
	source = strings.TrimSpace(source)
	if !t.enabled || source == "" {
		return
	}

	t.dials.Add(context.Background(), 1, metric.WithAttributes(attribute.String(SourceKey, source)))
	t.log.Info("Click-to-dial", "category", "Calling", "action", "Initiate ConnectAB", "label", source)
}

// Usage collects the dial counter from reader and sums it per source.
func Usage(ctx context.Context, reader sdkmetric.Reader) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}

	usage := make(map[string]int64)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if m.Name != DialsMetric || !ok {
				continue
			}
			for _, point := range sum.DataPoints {
				source, _ := point.Attributes.Value(SourceKey)
				usage[source.AsString()] += point.Value
			}
		}
	}
	return usage, nil
}
