package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, r *sdkmetric.ManualReader) map[string]metricdata.Sum[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, r.Collect(context.Background(), &rm))

	out := map[string]metricdata.Sum[int64]{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				out[m.Name] = sum
			}
		}
	}
	return out
}

func valueFor(sum metricdata.Sum[int64], kv ...attribute.KeyValue) int64 {
	want := attribute.NewSet(kv...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestRecordIngestAndDelivery(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := NewWithReader(Config{ServiceName: "usage-test"}, reader)
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordIngest(ctx, "machine", true, "")
	m.RecordIngest(ctx, "machine", true, "")
	m.RecordIngest(ctx, "application", false, "not_found")
	m.RecordDelivery(ctx, "ping", false, "timeout")

	sums := collect(t, reader)
	require.Contains(t, sums, IngestRecords)
	require.Contains(t, sums, AgentDeliveries)

	assert.Equal(t, int64(2), valueFor(sums[IngestRecords],
		attribute.String("log_type", "machine"),
		attribute.String("outcome", "accepted"),
		attribute.String("reason", "")))
	assert.Equal(t, int64(1), valueFor(sums[IngestRecords],
		attribute.String("log_type", "application"),
		attribute.String("outcome", "rejected"),
		attribute.String("reason", "not_found")))
	assert.Equal(t, int64(1), valueFor(sums[AgentDeliveries],
		attribute.String("log_type", "ping"),
		attribute.String("outcome", "failed"),
		attribute.String("reason", "timeout")))

	assert.NoError(t, m.Shutdown(ctx))
}

func TestNoopAndNil(t *testing.T) {
	ctx := context.Background()
	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.RecordIngest(ctx, "machine", true, "")
		Noop().RecordDelivery(ctx, "ping", true, "")
	})
	assert.NoError(t, nilMetrics.Shutdown(ctx))
	assert.NoError(t, Noop().Shutdown(ctx))
}

func TestNewExporters(t *testing.T) {
	ctx := context.Background()

	m, err := New(ctx, Config{Exporter: ExporterNone})
	require.NoError(t, err)
	assert.Nil(t, m.provider)

	m, err = New(ctx, Config{ServiceName: "usage-test", Exporter: ExporterStdout})
	require.NoError(t, err)
	assert.NotNil(t, m.provider)
	require.NoError(t, m.Shutdown(ctx))

	_, err = New(ctx, Config{Exporter: "prometheus"})
	assert.Error(t, err)
}
