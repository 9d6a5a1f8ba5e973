// Package telemetry sets up the OpenTelemetry meter provider used by the
// connection and provisioning machines.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// DefaultExportInterval is the OTLP push interval.
const DefaultExportInterval = 30 * time.Second

// Config configures the meter provider.
type Config struct {
	ServiceName string

	// DeviceID is attached to the resource as service.instance.id.
	DeviceID string

	// OTLPEndpoint is the OTLP gRPC collector address. Empty disables export.
	OTLPEndpoint string

	// Insecure disables TLS towards the collector.
	Insecure bool

	// ExportInterval defaults to DefaultExportInterval.
	ExportInterval time.Duration
}

// Provider is a meter provider with an in-process reader for snapshots.
type Provider struct {
	*sdkmetric.MeterProvider
	reader *sdkmetric.ManualReader
}

// New creates the meter provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	reader := sdkmetric.NewManualReader()
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(NewResource(cfg.ServiceName, cfg.DeviceID)),
		sdkmetric.WithReader(reader),
	}

	if cfg.OTLPEndpoint != "" {
		exporterOpts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		interval := cfg.ExportInterval
		if interval <= 0 {
			interval = DefaultExportInterval
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)),
		))
	}

	return &Provider{
		MeterProvider: sdkmetric.NewMeterProvider(opts...),
		reader:        reader,
	}, nil
}

// NewResource creates the resource describing this device.
func NewResource(serviceName, deviceID string) *resource.Resource {
	if deviceID == "" {
		return resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)
	}
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceInstanceIDKey.String(deviceID),
	)
}

// Counter is one summed data point.
type Counter struct {
	Name       string
	Attributes string
	Value      int64
}

// Snapshot collects the current integer counters.
func (p *Provider) Snapshot(ctx context.Context) ([]Counter, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}

	enc := attribute.DefaultEncoder()
	var out []Counter
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out = append(out, Counter{
					Name:       m.Name,
					Attributes: dp.Attributes.Encoded(enc),
					Value:      dp.Value,
				})
			}
		}
	}
	return out, nil
}

// Shutdown flushes and stops all readers.
func (p *Provider) Shutdown(ctx context.Context) error {
	err := p.MeterProvider.Shutdown(ctx)
	if errors.Is(err, sdkmetric.ErrReaderShutdown) {
		return nil
	}
	return err
}
