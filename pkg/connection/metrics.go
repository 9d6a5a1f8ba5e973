package connection

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/hublink-io/hublink-go/pkg/connection"

type metrics struct {
	transitions metric.Int64Counter
	retries     metric.Int64Counter
	messages    metric.Int64Counter
	sendTime    metric.Float64Histogram
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(meterName)

	m := new(metrics)
	var err error

	if m.transitions, err = meter.Int64Counter(
		"hublink.connection.transitions",
		metric.WithDescription("Connection state transitions by new state and reason"),
	); err != nil {
		return nil, err
	}

	if m.retries, err = meter.Int64Counter(
		"hublink.connection.retries",
		metric.WithDescription("Retry policy decisions by failure category"),
	); err != nil {
		return nil, err
	}

	if m.messages, err = meter.Int64Counter(
		"hublink.connection.messages",
		metric.WithDescription("Messages exchanged with the hub by direction and outcome"),
	); err != nil {
		return nil, err
	}

	if m.sendTime, err = meter.Float64Histogram(
		"hublink.connection.send.duration",
		metric.WithDescription("Time to deliver a message, including waits for reconnection"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metrics) transition(c StatusChange) {
	m.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("state", c.New.String()),
		attribute.String("reason", c.Reason.String()),
	))
}

func (m *metrics) retry(category string, retrying bool) {
	m.retries.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.Bool("retry", retrying),
	))
}

func (m *metrics) message(ctx context.Context, direction, outcome string) {
	m.messages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("outcome", outcome),
	))
}
