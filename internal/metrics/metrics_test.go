package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_AllVariablesNonNil(t *testing.T) {
	t.Parallel()

	vars := []struct {
		name string
		val  any
	}{
		{"TasksDispatched", TasksDispatched},
		{"GamesSubmitted", GamesSubmitted},
		{"MatchResults", MatchResults},
		{"NetworksUploaded", NetworksUploaded},
		{"NetworkUploadLatency", NetworkUploadLatency},
		{"QueueDepth", QueueDepth},
		{"OutstandingRequests", OutstandingRequests},
		{"ExpiredRequests", ExpiredRequests},
		{"FastClients", FastClients},
		{"QueueRebuildDuration", QueueRebuildDuration},
		{"QueueRebuildErrors", QueueRebuildErrors},
		{"Promotions", Promotions},
		{"StoreBreakerState", StoreBreakerState},
		{"StoreRetries", StoreRetries},
		{"HTTPRequests", HTTPRequests},
		{"HTTPRequestDuration", HTTPRequestDuration},
		{"RateLimited", RateLimited},
		{"DBPoolOpen", DBPoolOpen},
		{"DBPoolInUse", DBPoolInUse},
		{"DBPoolIdle", DBPoolIdle},
		{"DBPoolWaitCount", DBPoolWaitCount},
		{"DBPoolWaitDurationSeconds", DBPoolWaitDurationSeconds},
		{"AlertsSentTotal", AlertsSentTotal},
		{"AlertsCooldownSkipped", AlertsCooldownSkipped},
		{"CacheLookups", CacheLookups},
		{"AdminActions", AdminActions},
	}

	for _, v := range vars {
		assert.NotNilf(t, v.val, "%s should not be nil", v.name)
	}
}

func TestMetrics_CounterIncrementNoPanic(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { TasksDispatched.WithLabelValues("selfplay").Inc() })
	assert.NotPanics(t, func() { GamesSubmitted.WithLabelValues("accepted").Inc() })
	assert.NotPanics(t, func() { MatchResults.WithLabelValues("undecided").Inc() })
	assert.NotPanics(t, func() { NetworksUploaded.WithLabelValues("created").Inc() })
	assert.NotPanics(t, func() { ExpiredRequests.Inc() })
	assert.NotPanics(t, func() { QueueRebuildErrors.Inc() })
	assert.NotPanics(t, func() { Promotions.WithLabelValues("promoted").Inc() })
	assert.NotPanics(t, func() { StoreRetries.WithLabelValues("record_game").Inc() })
	assert.NotPanics(t, func() { HTTPRequests.WithLabelValues("worker", "/submit", "200").Inc() })
	assert.NotPanics(t, func() { RateLimited.WithLabelValues("admin").Inc() })
	assert.NotPanics(t, func() { AlertsSentTotal.WithLabelValues("slack", "PROMOTION").Inc() })
	assert.NotPanics(t, func() { AlertsCooldownSkipped.WithLabelValues("slack", "PROMOTION").Inc() })
	assert.NotPanics(t, func() { CacheLookups.WithLabelValues("networks", "hit").Inc() })
}

func TestMetrics_HistogramObserveNoPanic(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { NetworkUploadLatency.Observe(1.5) })
	assert.NotPanics(t, func() { QueueRebuildDuration.Observe(0.2) })
	assert.NotPanics(t, func() { HTTPRequestDuration.WithLabelValues("worker", "/get-task/{version}").Observe(0.01) })
}

func TestMetrics_GaugeSet(t *testing.T) {
	t.Parallel()

	QueueDepth.WithLabelValues("test-tier").Set(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(QueueDepth.WithLabelValues("test-tier")))

	StoreBreakerState.WithLabelValues("test-breaker").Set(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(StoreBreakerState.WithLabelValues("test-breaker")))

	assert.NotPanics(t, func() { OutstandingRequests.Set(3) })
	assert.NotPanics(t, func() { FastClients.Set(4) })
	assert.NotPanics(t, func() { DBPoolOpen.Set(42.0) })
	assert.NotPanics(t, func() { DBPoolInUse.Set(42.0) })
	assert.NotPanics(t, func() { DBPoolIdle.Set(42.0) })
	assert.NotPanics(t, func() { DBPoolWaitCount.Set(42.0) })
	assert.NotPanics(t, func() { DBPoolWaitDurationSeconds.Set(42.0) })
}
