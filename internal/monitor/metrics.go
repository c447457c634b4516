package monitor

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/fentz26/recontrole/internal/monitor"

// Metrics holds the monitor's instruments.
type Metrics struct {
	cycles      metric.Int64Counter
	transitions metric.Int64Counter
	notified    metric.Int64Counter
	suppressed  metric.Int64Counter
	pruned      metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}

	var err error
	if m.cycles, err = meter.Int64Counter("recontrole.monitor.cycles",
		metric.WithDescription("Monitor cycles by outcome"),
		metric.WithUnit("{cycle}"),
	); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("recontrole.monitor.transitions",
		metric.WithDescription("Status transitions detected"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, err
	}
	if m.notified, err = meter.Int64Counter("recontrole.monitor.notifications",
		metric.WithDescription("Notifications dispatched"),
		metric.WithUnit("{notification}"),
	); err != nil {
		return nil, err
	}
	if m.suppressed, err = meter.Int64Counter("recontrole.monitor.suppressed",
		metric.WithDescription("Transitions suppressed by the ledger"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, err
	}
	if m.pruned, err = meter.Int64Counter("recontrole.ledger.pruned",
		metric.WithDescription("Ledger entries removed by retention"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("recontrole.monitor.duration",
		metric.WithDescription("Monitor cycle duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) observe(ctx context.Context, rep Report) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", rep.Outcome.String()),
		attribute.String("reason", rep.Reason),
	)
	m.cycles.Add(ctx, 1, attrs)
	m.transitions.Add(ctx, int64(rep.Transitions))
	m.notified.Add(ctx, int64(rep.Notified))
	m.suppressed.Add(ctx, int64(rep.Suppressed))
	m.pruned.Add(ctx, rep.Pruned)
	m.duration.Record(ctx, rep.EndedAt.Sub(rep.StartedAt).Seconds(), attrs)
}
