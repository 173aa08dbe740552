package telemetry

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestHolder(t *testing.T) (*MetricsHolder, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	holder := &MetricsHolder{trackedByVenue: make(map[string]int64)}
	if err := holder.InitMetrics(provider.Meter("bridge-test")); err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	return holder, reader
}

func collectedNames(t *testing.T, reader *sdkmetric.ManualReader) map[string]bool {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	return names
}

func TestRecordHelpersEmitDataPoints(t *testing.T) {
	holder, reader := newTestHolder(t)
	ctx := context.Background()

	holder.RecordOrderSubmitted(ctx)
	holder.RecordOrderFailed(ctx)
	holder.RecordCancel(ctx)
	holder.RecordFillDelta(ctx)
	holder.RecordExchangeLatency(ctx, 12*time.Millisecond)
	holder.SetOrdersTracked("bitz", 3)

	names := collectedNames(t, reader)
	for _, want := range []string{
		MetricOrdersSubmittedTotal,
		MetricOrdersFailedTotal,
		MetricCancelsTotal,
		MetricFillsRecordedTotal,
		MetricLatencyExchange,
		MetricOrdersTracked,
	} {
		if !names[want] {
			t.Errorf("no data points collected for %s", want)
		}
	}
}

func TestRecordHelpersSafeBeforeInit(t *testing.T) {
	holder := &MetricsHolder{trackedByVenue: make(map[string]int64)}
	ctx := context.Background()

	holder.RecordOrderSubmitted(ctx)
	holder.RecordOrderFailed(ctx)
	holder.RecordCancel(ctx)
	holder.RecordFillDelta(ctx)
	holder.RecordExchangeLatency(ctx, time.Millisecond)
	holder.SetOrdersTracked("bitz", 1)
}
