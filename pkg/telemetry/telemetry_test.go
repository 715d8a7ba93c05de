package telemetry

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	tel, shutdown, err := New(Config{})
	require.NoError(t, err)
	require.Nil(t, tel.MeterProvider)
	require.Empty(t, tel.MetricsAddr)

	c, err := tel.Meter.Int64Counter("ignored")
	require.NoError(t, err)
	c.Add(context.Background(), 1)
	require.NoError(t, shutdown(context.Background()))
}

func TestNew_ServesMetrics(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: true, ServiceName: "detdb-test"})
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown(context.Background())) }()

	c, err := tel.Meter.Int64Counter("detdb.test.hits")
	require.NoError(t, err)
	c.Add(context.Background(), 3)

	_, span := tel.Tracer.Start(context.Background(), "probe")
	require.True(t, span.SpanContext().IsValid())
	span.End()

	resp, err := http.Get("http://" + tel.MetricsAddr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "detdb_test_hits")
}
