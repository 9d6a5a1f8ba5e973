package connection

import (
	"context"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				sums[m.Name] += dp.Value
			}
		}
	}
	return sums
}

func TestMachine_Metrics(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Open", mock.Anything).Return(syscall.ECONNREFUSED).Once()
	tr.On("Open", mock.Anything).Return(nil).Once()
	tr.On("Send", mock.Anything, mock.Anything).Return(nil).Twice()
	tr.On("Close").Return(nil).Once()

	reader := sdkmetric.NewManualReader()
	cfg := fastConfig()
	cfg.MeterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newTestMachine(t, tr, cfg)

	require.NoError(t, m.Open(context.Background()))
	require.NoError(t, m.Send(context.Background(), []byte("a")))
	require.NoError(t, m.Send(context.Background(), []byte("b")))
	require.NoError(t, m.Close())

	sums := collectSums(t, reader)
	assert.Equal(t, int64(3), sums["hublink.connection.transitions"], "retrying, connected, closed")
	assert.Equal(t, int64(1), sums["hublink.connection.retries"])
	assert.Equal(t, int64(2), sums["hublink.connection.messages"])
}

func TestNewMachine_NoMeterProvider(t *testing.T) {
	m, err := NewMachine(&mockTransport{}, fastConfig())
	require.NoError(t, err)
	assert.NotNil(t, m.metrics)
}
