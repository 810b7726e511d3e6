package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestProgressRateAndETA(t *testing.T) {
	p := NewProgress(100, 1000)
	require.Equal(t, float64(0), p.Rate())

	p.AddCompleted(50)
	require.Equal(t, 0.5, p.Rate())

	eta := p.ETASeconds(1100) // 100s elapsed at 50% => 100s remaining
	require.InDelta(t, 100, eta, 0.001)

	p.AddCompleted(50)
	require.Equal(t, float64(1), p.Rate())
	require.Equal(t, float64(0), p.ETASeconds(1200))
}

func TestProgressZeroTotalIsImmediatelyComplete(t *testing.T) {
	p := NewProgress(0, 1000)
	require.Equal(t, float64(1), p.Rate())
	require.Equal(t, float64(0), p.ETASeconds(1000))
}

func TestMetricsTrackProgressExposesGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	p := NewProgress(100, 0)
	p.AddCompleted(25)
	m.TrackProgress("ethereum", "s1", p)

	families, err := reg.Gather()
	require.NoError(t, err)

	var rateFamily *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "hsync_completion_rate" {
			rateFamily = f
		}
	}
	require.NotNil(t, rateFamily, "hsync_completion_rate must be registered")
	require.Len(t, rateFamily.Metric, 1)
	require.InDelta(t, 0.25, rateFamily.Metric[0].GetGauge().GetValue(), 0.001)
}
