package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryRegistersWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	assert.NotPanics(t, func() { NewRegistry(reg) })
}

func TestSessionsOnlineReflectsSetValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.SessionsOnline.Set(3)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range metricFamilies {
		if mf.GetName() == "profileserver_session_online" {
			found = true
			require.Len(t, mf.Metric, 1)
			assert.Equal(t, 3.0, mf.Metric[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found, "expected profileserver_session_online to be registered")
}

func TestActionsProcessedLabelsByType(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.ActionsProcessed.WithLabelValues("ChangeProfile").Inc()

	var m dto.Metric
	require.NoError(t, r.ActionsProcessed.WithLabelValues("ChangeProfile").Write(&m))
	assert.Equal(t, 1.0, m.GetCounter().GetValue())
}
