package pipeline

import (
	"maps"
	"sync"
	"time"
)

// Metrics accumulates process-wide query statistics. It is safe for
// concurrent use.
type Metrics struct {
	mu                sync.Mutex
	total             int
	successful        int
	failed            int
	averageConfidence float64
	averageTime       float64
	intents           map[string]int
	errorKinds        map[string]int
	now               func() time.Time
}

type MetricsSnapshot struct {
	TotalQueries         int            `json:"total_queries"`
	SuccessfulQueries    int            `json:"successful_queries"`
	FailedQueries        int            `json:"failed_queries"`
	AverageConfidence    float64        `json:"average_confidence"`
	AverageExecutionTime float64        `json:"average_execution_time"`
	MostCommonIntents    map[string]int `json:"most_common_intents"`
	ErrorTypes           map[string]int `json:"error_types"`
	LastUpdated          time.Time      `json:"last_updated"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		intents:    map[string]int{},
		errorKinds: map[string]int{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (m *Metrics) RecordSuccess(intent string, confidence float64, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.successful++
	m.averageConfidence += (confidence - m.averageConfidence) / float64(m.successful)
	m.averageTime += (elapsed.Seconds() - m.averageTime) / float64(m.total)
	m.intents[intent]++
}

func (m *Metrics) RecordFailure(kind ErrorKind, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.failed++
	m.averageTime += (elapsed.Seconds() - m.averageTime) / float64(m.total)
	m.errorKinds[string(kind)]++
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		TotalQueries:         m.total,
		SuccessfulQueries:    m.successful,
		FailedQueries:        m.failed,
		AverageConfidence:    m.averageConfidence,
		AverageExecutionTime: m.averageTime,
		MostCommonIntents:    maps.Clone(m.intents),
		ErrorTypes:           maps.Clone(m.errorKinds),
		LastUpdated:          m.now(),
	}
}
