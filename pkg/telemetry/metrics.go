package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOrdersSubmittedTotal = "bridge_orders_submitted_total"
	MetricOrdersFailedTotal    = "bridge_orders_failed_total"
	MetricCancelsTotal         = "bridge_cancels_total"
	MetricFillsRecordedTotal   = "bridge_fills_recorded_total"
	MetricOrdersTracked        = "bridge_orders_tracked"
	MetricLatencyExchange      = "bridge_latency_exchange_ms"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	OrdersSubmittedTotal metric.Int64Counter
	OrdersFailedTotal    metric.Int64Counter
	CancelsTotal         metric.Int64Counter
	FillsRecordedTotal   metric.Int64Counter
	OrdersTracked        metric.Int64ObservableGauge
	LatencyExchange      metric.Float64Histogram

	// State for observable gauges
	mu             sync.RWMutex
	trackedByVenue map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			trackedByVenue: make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.OrdersSubmittedTotal, err = meter.Int64Counter(MetricOrdersSubmittedTotal, metric.WithDescription("Total orders submitted to the destination venue"))
	if err != nil {
		return err
	}

	m.OrdersFailedTotal, err = meter.Int64Counter(MetricOrdersFailedTotal, metric.WithDescription("Total order placements that failed terminally"))
	if err != nil {
		return err
	}

	m.CancelsTotal, err = meter.Int64Counter(MetricCancelsTotal, metric.WithDescription("Total cancel requests issued"))
	if err != nil {
		return err
	}

	m.FillsRecordedTotal, err = meter.Int64Counter(MetricFillsRecordedTotal, metric.WithDescription("Total fill deltas recorded by the reconciler"))
	if err != nil {
		return err
	}

	m.LatencyExchange, err = meter.Float64Histogram(MetricLatencyExchange, metric.WithDescription("Latency of exchange API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.OrdersTracked, err = meter.Int64ObservableGauge(MetricOrdersTracked, metric.WithDescription("Orders currently tracked in the correlation table"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for venue, n := range m.trackedByVenue {
				obs.Observe(n, metric.WithAttributes(attribute.String("venue", venue)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// SetOrdersTracked records the current tracked-order count for a venue.
func (m *MetricsHolder) SetOrdersTracked(venue string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackedByVenue[venue] = n
}

// The Record helpers are no-ops before InitMetrics runs, so instrumented code
// works unchanged in tests that never set up telemetry.

func (m *MetricsHolder) RecordOrderSubmitted(ctx context.Context) {
	if m.OrdersSubmittedTotal != nil {
		m.OrdersSubmittedTotal.Add(ctx, 1)
	}
}

func (m *MetricsHolder) RecordOrderFailed(ctx context.Context) {
	if m.OrdersFailedTotal != nil {
		m.OrdersFailedTotal.Add(ctx, 1)
	}
}

func (m *MetricsHolder) RecordCancel(ctx context.Context) {
	if m.CancelsTotal != nil {
		m.CancelsTotal.Add(ctx, 1)
	}
}

func (m *MetricsHolder) RecordFillDelta(ctx context.Context) {
	if m.FillsRecordedTotal != nil {
		m.FillsRecordedTotal.Add(ctx, 1)
	}
}

func (m *MetricsHolder) RecordExchangeLatency(ctx context.Context, d time.Duration) {
	if m.LatencyExchange != nil {
		m.LatencyExchange.Record(ctx, float64(d.Milliseconds()))
	}
}
