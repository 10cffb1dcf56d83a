package metrics

import (
	"context"
	"sync"
	"testing"

	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	collector := NewCollector(prometheus.NewRegistry())

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.instances, "instances counter should be initialized")
	assert.NotNil(t, collector.oracleCalls, "oracleCalls counter should be initialized")
	assert.NotNil(t, collector.solveSeconds, "solveSeconds histogram should be initialized")
	assert.NotNil(t, collector.pending, "pending gauge should be initialized")
	assert.NotNil(t, collector.inFlight, "inFlight gauge should be initialized")
}

func TestNewCollectorDefaultRegisterer(t *testing.T) {
	// Reset Prometheus registry to avoid duplicate registration
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	assert.NotPanics(t, func() {
		NewCollector(nil)
	})
}

func TestRecordInstance(t *testing.T) {
	collector := NewCollector(prometheus.NewRegistry())

	collector.RecordInstance(types.Row{FileName: "a.data", Status: types.StatusOptimal, SolveSeconds: 1.5})
	collector.RecordInstance(types.Row{FileName: "b.data", Status: types.StatusOptimal, SolveSeconds: 2})
	collector.RecordInstance(types.ErrorRow("c.data"))

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.instances.WithLabelValues("optimal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.instances.WithLabelValues("error")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.instances))
}

func TestRecordOracleCall(t *testing.T) {
	collector := NewCollector(prometheus.NewRegistry())

	for i := 0; i < 3; i++ {
		collector.RecordOracleCall(types.VerdictFeasible)
	}
	collector.RecordOracleCall(types.VerdictTimedOut)

	assert.Equal(t, 3.0, testutil.ToFloat64(collector.oracleCalls.WithLabelValues("feasible")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.oracleCalls.WithLabelValues("timed_out")))
}

func TestProgressGauges(t *testing.T) {
	collector := NewCollector(prometheus.NewRegistry())

	collector.SetPending(3)
	collector.Started()
	collector.Started()
	collector.Finished()

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.pending))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.inFlight))
}

func TestSkippedAndPublishFailures(t *testing.T) {
	collector := NewCollector(prometheus.NewRegistry())

	collector.RecordSkipped(4)
	collector.RecordPublishFailure()

	assert.Equal(t, 4.0, testutil.ToFloat64(collector.skipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.publishFailure))
}

func TestConcurrentMetricUpdates(t *testing.T) {
	collector := NewCollector(prometheus.NewRegistry())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.Started()
			collector.RecordOracleCall(types.VerdictInfeasible)
			collector.RecordInstance(types.Row{Status: types.StatusInfeasible, SolveSeconds: 0.1})
			collector.Finished()
		}()
	}
	wg.Wait()

	assert.Equal(t, 100.0, testutil.ToFloat64(collector.instances.WithLabelValues("infeasible")))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.inFlight))
}

func TestCollectorIsolation(t *testing.T) {
	reg := prometheus.NewRegistry()

	collector1 := NewCollector(reg)
	require.NotNil(t, collector1)

	// Second collector on the same registry panics on duplicate registration
	assert.Panics(t, func() {
		NewCollector(reg)
	}, "Creating a second collector should panic due to duplicate registration")

	// A separate registry is fine
	assert.NotPanics(t, func() {
		NewCollector(prometheus.NewRegistry())
	})
}

func TestServeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Port 0 picks a free port; a cancelled context shuts it down at once.
	err := Serve(ctx, 0, prometheus.NewRegistry())
	assert.NoError(t, err)
}
