package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		CommandsTotal,
		IPCDecodeErrorsTotal,
		IPCRejectedTotal,
		LeasesActive,
		LeaseStartsTotal,
		LeaseStartDuration,
		LeaseTeardownDuration,
		RouterQueueDepth,
		StaleAcquisitionsTotal,
		FailedAcquisitionsTotal,
		RenderCommandsTotal,
		TopologyUpdatesTotal,
		BridgeClients,
	}

	for _, c := range collectors {
		desc := make(chan *prometheus.Desc, 8)
		c.Describe(desc)
		close(desc)
		require.NotNil(t, <-desc, "collector should have a descriptor")
	}
}

func TestCounterVecLabels(t *testing.T) {
	tests := []struct {
		name   string
		vec    *prometheus.CounterVec
		labels []string
	}{
		{"commands by kind", CommandsTotal, []string{"set_path"}},
		{"lease starts by result", LeaseStartsTotal, []string{"error"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.vec.WithLabelValues(tt.labels...)
			before := testutil.ToFloat64(c)
			c.Inc()
			assert.Equal(t, before+1, testutil.ToFloat64(c))
		})
	}
}

func TestGaugeRoundTrip(t *testing.T) {
	before := testutil.ToFloat64(LeasesActive)
	LeasesActive.Inc()
	LeasesActive.Inc()
	LeasesActive.Dec()
	assert.Equal(t, before+1, testutil.ToFloat64(LeasesActive))
	LeasesActive.Dec()
}
