package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/jensholdgaard/bluepenguin"

// Metrics holds the marketplace counters.
type Metrics struct {
	bidsPlaced    metric.Int64Counter
	bidsRejected  metric.Int64Counter
	sweeps        metric.Int64Counter
	itemsExpired  metric.Int64Counter
	sweepFailures metric.Int64Counter
	settlements   metric.Int64Counter
	suspensions   metric.Int64Counter
}

// NewMetrics registers the counters on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.bidsPlaced, "bluepenguin.bids.placed", "Bids accepted by the bid ledger."},
		{&m.bidsRejected, "bluepenguin.bids.rejected", "Bids refused, by reason."},
		{&m.sweeps, "bluepenguin.sweeps", "Completed deadline sweeps."},
		{&m.itemsExpired, "bluepenguin.items.expired", "Items closed with no bids."},
		{&m.sweepFailures, "bluepenguin.sweep.failures", "Per-item sweep failures."},
		{&m.settlements, "bluepenguin.settlements", "Winner confirmations, by outcome."},
		{&m.suspensions, "bluepenguin.suspensions", "Strikes applied, by action."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("creating counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

// NewNopMetrics returns Metrics that record nothing.
func NewNopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func (m *Metrics) BidPlaced(ctx context.Context) {
	m.bidsPlaced.Add(ctx, 1)
}

func (m *Metrics) BidRejected(ctx context.Context, reason string) {
	m.bidsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) Swept(ctx context.Context, expired, failures int) {
	m.sweeps.Add(ctx, 1)
	if expired > 0 {
		m.itemsExpired.Add(ctx, int64(expired))
	}
	if failures > 0 {
		m.sweepFailures.Add(ctx, int64(failures))
	}
}

func (m *Metrics) Settled(ctx context.Context, outcome string) {
	m.settlements.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) Struck(ctx context.Context, action string) {
	m.suspensions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}
