package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestTelemetrySetup(t *testing.T) {
	tel, err := Setup("bridge-test")
	if err != nil {
		t.Fatalf("Failed to setup telemetry: %v", err)
	}

	if otel.GetTracerProvider() == nil {
		t.Error("Tracer provider not set")
	}
	if otel.GetMeterProvider() == nil {
		t.Error("Meter provider not set")
	}

	if GetTracer("test-tracer") == nil {
		t.Error("Failed to get tracer")
	}
	if GetMeter("test-meter") == nil {
		t.Error("Failed to get meter")
	}

	holder := GetGlobalMetrics()
	if holder.OrdersSubmittedTotal == nil {
		t.Error("Instruments not initialized")
	}
	holder.SetOrdersTracked("bitz", 3)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := tel.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
