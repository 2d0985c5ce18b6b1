package metrics

import (
	"errors"
	"testing"
	"time"

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

func TestObserveNetworkRequestLabels(t *testing.T) {
	before := counterValue(t, NetworkRequestTotal.WithLabelValues("postgres", "unknown", "operations", "error"))
	ObserveNetworkRequest("postgres", "", "operations", time.Now(), errors.New("timeout"))
	after := counterValue(t, NetworkRequestTotal.WithLabelValues("postgres", "unknown", "operations", "error"))
	assert.Equal(t, before+1, after)
}

func TestObserveCollectedChannel(t *testing.T) {
	errorsBefore := counterValue(t, CollectorErrors)
	okBefore := counterValue(t, CollectorChannels.WithLabelValues("success"))

	ObserveCollectedChannel(nil)
	ObserveCollectedChannel(errors.New("flood wait"))

	assert.Equal(t, okBefore+1, counterValue(t, CollectorChannels.WithLabelValues("success")))
	assert.Equal(t, errorsBefore+1, counterValue(t, CollectorErrors))
}

func TestMustRegisterOnFreshRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	assert.NotPanics(t, func() { MustRegister(registry) })
	assert.Panics(t, func() { MustRegister(registry) }, "повторная регистрация должна паниковать")
}
