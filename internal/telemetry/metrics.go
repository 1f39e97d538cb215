// Package telemetry exposes the OpenTelemetry counters recorded by the agent
// and the collector.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Exporter names accepted in configuration.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Metric names.
const (
	IngestRecords    = "usage.ingest.records"
	AgentDeliveries  = "usage.agent.deliveries"
	defaultInterval  = time.Minute
	outcomeAccepted  = "accepted"
	outcomeRejected  = "rejected"
	outcomeDelivered = "delivered"
	outcomeFailed    = "failed"
)

// Config selects the exporter.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Exporter       string
	OTLPEndpoint   string
	Interval       time.Duration
}

// Metrics holds the instruments. A nil *Metrics or one built by Noop records
// nothing.
type Metrics struct {
	provider   *sdkmetric.MeterProvider
	ingest     metric.Int64Counter
	deliveries metric.Int64Counter
}

// Noop returns a Metrics that discards every measurement.
func Noop() *Metrics { return &Metrics{} }

// New builds the meter provider for cfg.Exporter.
func New(ctx context.Context, cfg Config) (*Metrics, error) {
	if cfg.Exporter == "" || cfg.Exporter == ExporterNone {
		return Noop(), nil
	}

	var (
		exp sdkmetric.Exporter
		err error
	)
	switch cfg.Exporter {
	case ExporterStdout:
		exp, err = stdoutmetric.New()
	case ExporterOTLP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint), otlpmetrichttp.WithInsecure())
		}
		exp, err = otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown metrics exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s metrics exporter: %w", cfg.Exporter, err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return NewWithReader(cfg, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval)))
}

// NewWithReader builds Metrics over an explicit reader; tests pass a
// ManualReader.
func NewWithReader(cfg Config, reader sdkmetric.Reader) (*Metrics, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes("", attrs...))
	if err != nil {
		return nil, fmt.Errorf("creating metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	meter := mp.Meter("github.com/neomars/usage-agent-windows")

	m := &Metrics{provider: mp}
	if m.ingest, err = meter.Int64Counter(IngestRecords,
		metric.WithDescription("Records received by the collector, by log_type and outcome")); err != nil {
		return nil, fmt.Errorf("creating ingest counter: %w", err)
	}
	if m.deliveries, err = meter.Int64Counter(AgentDeliveries,
		metric.WithDescription("Records sent by the agent, by log_type and outcome")); err != nil {
		return nil, fmt.Errorf("creating delivery counter: %w", err)
	}
	return m, nil
}

// RecordIngest counts one ingestion result. reason is empty when accepted.
func (m *Metrics) RecordIngest(ctx context.Context, logType string, accepted bool, reason string) {
	if m == nil || m.ingest == nil {
		return
	}
	outcome := outcomeRejected
	if accepted {
		outcome = outcomeAccepted
	}
	m.ingest.Add(ctx, 1, metric.WithAttributes(
		attribute.String("log_type", logType),
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	))
}

// RecordDelivery counts one agent send attempt.
func (m *Metrics) RecordDelivery(ctx context.Context, logType string, delivered bool, reason string) {
	if m == nil || m.deliveries == nil {
		return
	}
	outcome := outcomeFailed
	if delivered {
		outcome = outcomeDelivered
	}
	m.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("log_type", logType),
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	))
}

// Shutdown flushes pending measurements.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
