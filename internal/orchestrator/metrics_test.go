package orchestrator

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordTaskLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	rt := newFakeRuntime()
	s := newTestSession(t, rt, func(o *SessionOptions) {
		o.Metrics = m
		o.Listeners = []BusyListener{m}
	})
	attach(s, "c1")

	_, err := s.HandleChat(context.Background(), "c1", ChatRequest{Input: "hello"})
	require.NoError(t, err)
	_, err = s.HandleSurfaceError(context.Background(), "c1", chartReport(5))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksStarted.WithLabelValues("chat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksSettled.WithLabelValues("chat", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fixAttempts.WithLabelValues("exhausted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.foregroundBusy))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clients))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestMetrics_NilIsNoOp(t *testing.T) {
	var m *Metrics
	m.SetForegroundBusy(true)
	m.taskStarted(KindChat)
	m.chimeIn("queued")
	m.fixAttempt(FixApplied)
	m.setClients(3)
}
