package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTwice(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func counterValue(t *testing.T, entity, result string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, SyncPasses.WithLabelValues(entity, result).Write(&m))
	return m.GetCounter().GetValue()
}

func TestSyncPassesCounter(t *testing.T) {
	before := counterValue(t, "account", "ok")
	SyncPasses.WithLabelValues("account", "ok").Inc()
	assert.Equal(t, before+1, counterValue(t, "account", "ok"))
}
