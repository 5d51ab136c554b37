package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestPrometheusRecordsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := New(reg)

	p.UpdateStarted()
	p.UpdateStarted()
	p.DeltaSucceeded()
	p.SnapshotFallback()
	p.Broken()

	assert.Equal(t, float64(2), counterValue(t, p.updatesStarted))
	assert.Equal(t, float64(1), counterValue(t, p.deltaSuccesses))
	assert.Equal(t, float64(1), counterValue(t, p.snapshotFallbacks))
	assert.Equal(t, float64(1), counterValue(t, p.brokenServers))
}

func TestNoopDoesNotPanic(t *testing.T) {
	Noop.UpdateStarted()
	Noop.DeltaSucceeded()
	Noop.SnapshotFallback()
	Noop.Broken()
}
