package service

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "digital-goods-marketplace/internal/service"

var tracer = otel.Tracer(instrumentationName)

type engineMetrics struct {
	fulfilled     metric.Int64Counter
	held          metric.Int64Counter
	duplicates    metric.Int64Counter
	sweepFailures metric.Int64Counter
	walletOps     metric.Int64Counter
}

func newEngineMetrics() *engineMetrics {
	meter := otel.Meter(instrumentationName)
	return &engineMetrics{
		fulfilled:     counter(meter, "orders.fulfilled", "Orders delivered by the fulfillment engine"),
		held:          counter(meter, "orders.held", "Fulfillment triggers that ended in a hold"),
		duplicates:    counter(meter, "orders.duplicate_triggers", "Fulfillment triggers that found the order already fulfilled"),
		sweepFailures: counter(meter, "sweep.failures", "Delayed orders the sweep failed to fulfill"),
		walletOps:     counter(meter, "wallet.mutations", "Wallet credits and debits"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		slog.Warn("create counter", "name", name, "error", err)
		return noop.Int64Counter{}
	}
	return c
}
