package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-ensync/pkg/types"
)

func TestMetrics_Publish(t *testing.T) {
	m := New(nil)

	m.PublishStarted()
	m.PublishStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.publishInFlight))

	m.PublishDone(ResultOK)
	m.PublishDone(ResultRejected)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.publishInFlight))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.publishTotal.WithLabelValues(ResultOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.publishTotal.WithLabelValues(ResultRejected)))
}

func TestMetrics_AcksAndState(t *testing.T) {
	m := New(nil)

	m.Acked(types.OutcomeAck)
	m.Acked(types.OutcomeAck)
	m.Acked(types.OutcomeDiscard)
	m.SetState(types.StateReady)
	m.ReconnectAttempt()
	m.Delivery(true)
	m.Frame(DirectionOut, "publish")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.acksTotal.WithLabelValues("ack")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.acksTotal.WithLabelValues("discard")))
	assert.Equal(t, float64(types.StateReady), testutil.ToFloat64(m.connectionState))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.reconnectAttempts))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.deliveriesTotal.WithLabelValues("true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.framesTotal.WithLabelValues(DirectionOut, "publish")))
}

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.PublishDone(ResultOK)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "ensync_publish_total")
	assert.Contains(t, names, "ensync_publish_inflight")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.PublishStarted()
		m.PublishDone(ResultOK)
		m.Delivery(false)
		m.Acked(types.OutcomeAck)
		m.ReconnectAttempt()
		m.SetState(types.StateClosed)
		m.Frame(DirectionIn, "event")
	})
}
