package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsConcurrentRecording(t *testing.T) {
	const (
		workers   = 8
		perWorker = 250
	)
	m := NewMetrics()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				elapsed := time.Duration(10+(w+i)%41) * time.Millisecond
				if i%5 == 0 {
					m.RecordFailure(ExecutionError, elapsed)
					continue
				}
				confidence := 0.5 + float64((w+i)%5)/10
				m.RecordSuccess("aggregation", confidence, elapsed)
				if i%50 == 0 {
					_ = m.Snapshot()
				}
			}
		}(w)
	}
	wg.Wait()

	snapshot := m.Snapshot()
	failures := workers * perWorker / 5
	assert.Equal(t, workers*perWorker, snapshot.TotalQueries)
	assert.Equal(t, failures, snapshot.FailedQueries)
	assert.Equal(t, workers*perWorker-failures, snapshot.SuccessfulQueries)
	assert.Equal(t, snapshot.SuccessfulQueries, snapshot.MostCommonIntents["aggregation"])
	assert.Equal(t, failures, snapshot.ErrorTypes[string(ExecutionError)])

	assert.GreaterOrEqual(t, snapshot.AverageConfidence, 0.5)
	assert.LessOrEqual(t, snapshot.AverageConfidence, 0.9)
	assert.GreaterOrEqual(t, snapshot.AverageExecutionTime, 0.010)
	assert.LessOrEqual(t, snapshot.AverageExecutionTime, 0.050)
}

func TestMetricsSnapshotIsDetached(t *testing.T) {
	m := NewMetrics()
	m.RecordSuccess("selection", 0.8, time.Second)
	m.RecordFailure(ValidationError, 3*time.Second)

	snapshot := m.Snapshot()
	require.Equal(t, 2, snapshot.TotalQueries)
	assert.InDelta(t, 0.8, snapshot.AverageConfidence, 1e-9)
	assert.InDelta(t, 2.0, snapshot.AverageExecutionTime, 1e-9)

	snapshot.MostCommonIntents["selection"] = 99
	snapshot.ErrorTypes[string(ValidationError)] = 99
	again := m.Snapshot()
	assert.Equal(t, 1, again.MostCommonIntents["selection"])
	assert.Equal(t, 1, again.ErrorTypes[string(ValidationError)])
}
