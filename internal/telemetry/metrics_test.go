package internaltelemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestProtocolMetrics_Recorded(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewProtocolMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.CommitsCounter.Add(ctx, 3)
	m.ResetsCounter.Add(ctx, 1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	got := map[string]int64{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		sum, ok := m.Data.(metricdata.Sum[int64])
		require.True(t, ok, m.Name)
		for _, dp := range sum.DataPoints {
			got[m.Name] += dp.Value
		}
	}
	require.Equal(t, int64(3), got["detdb.protocol.commits_total"])
	require.Equal(t, int64(1), got["detdb.protocol.resets_total"])
}

func TestServiceMetrics_Noop(t *testing.T) {
	m, err := NewServiceMetrics(NoopMeter())
	require.NoError(t, err)
	m.InFlightUpDownCounter.Add(context.Background(), 1)
}
