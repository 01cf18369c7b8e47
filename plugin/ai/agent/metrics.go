package agent

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxCycleSamples = 100
	maxToolSamples  = 50
)

// AgentMetrics tracks dispatcher cycles and tool calls.
// All operations are thread-safe for concurrent access.
type AgentMetrics struct {
	mu sync.RWMutex

	cycleDuration  []time.Duration
	iterationCount []int

	totalCycles      atomic.Int64
	successfulCycles atomic.Int64
	failedCycles     atomic.Int64
	loginPrompts     atomic.Int64

	toolCalls    map[string]int64
	toolFailures map[string]int64
	toolLatency  map[string][]time.Duration

	errorClasses map[ErrorClass]int64
}

// NewAgentMetrics creates a new metrics collector.
func NewAgentMetrics() *AgentMetrics {
	return &AgentMetrics{
		cycleDuration:  make([]time.Duration, 0, maxCycleSamples),
		iterationCount: make([]int, 0, maxCycleSamples),
		toolCalls:      make(map[string]int64),
		toolFailures:   make(map[string]int64),
		toolLatency:    make(map[string][]time.Duration),
		errorClasses:   make(map[ErrorClass]int64),
	}
}

// RecordCycle records a finished cycle. A cycle that stopped at NEED_LOGIN
// counts as successful.
func (m *AgentMetrics) RecordCycle(duration time.Duration, iterations int, state State, success bool) {
	m.totalCycles.Add(1)
	if success {
		m.successfulCycles.Add(1)
	} else {
		m.failedCycles.Add(1)
	}
	if state == StateNeedLogin {
		m.loginPrompts.Add(1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.cycleDuration) >= maxCycleSamples {
		m.cycleDuration = m.cycleDuration[1:]
		m.iterationCount = m.iterationCount[1:]
	}
	m.cycleDuration = append(m.cycleDuration, duration)
	m.iterationCount = append(m.iterationCount, iterations)
}

// RecordToolCall records a tool execution attempt.
func (m *AgentMetrics) RecordToolCall(tool string, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.toolCalls[tool]++
	if !success {
		m.toolFailures[tool]++
	}

	latencies := m.toolLatency[tool]
	if len(latencies) >= maxToolSamples {
		latencies = latencies[1:]
	}
	m.toolLatency[tool] = append(latencies, duration)
}

// RecordErrorClass records an error by its class.
func (m *AgentMetrics) RecordErrorClass(class ErrorClass) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorClasses[class]++
}

// GetSuccessRate returns the success rate as a percentage (0-100).
func (m *AgentMetrics) GetSuccessRate() float64 {
	total := m.totalCycles.Load()
	if total == 0 {
		return 0
	}
	return float64(m.successfulCycles.Load()) / float64(total) * 100
}

// GetAverageDuration returns the average cycle duration.
func (m *AgentMetrics) GetAverageDuration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.averageDurationLocked()
}

func (m *AgentMetrics) averageDurationLocked() time.Duration {
	if len(m.cycleDuration) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range m.cycleDuration {
		sum += d
	}
	return sum / time.Duration(len(m.cycleDuration))
}

// GetAverageIterations returns the average number of model calls per cycle.
func (m *AgentMetrics) GetAverageIterations() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.averageIterationsLocked()
}

func (m *AgentMetrics) averageIterationsLocked() float64 {
	if len(m.iterationCount) == 0 {
		return 0
	}
	var sum int
	for _, i := range m.iterationCount {
		sum += i
	}
	return float64(sum) / float64(len(m.iterationCount))
}

// GetP95Duration returns the 95th percentile cycle duration.
func (m *AgentMetrics) GetP95Duration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.p95DurationLocked()
}

func (m *AgentMetrics) p95DurationLocked() time.Duration {
	if len(m.cycleDuration) == 0 {
		return 0
	}
	sorted := slices.Clone(m.cycleDuration)
	slices.Sort(sorted)

	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// GetToolStats returns statistics for a specific tool.
func (m *AgentMetrics) GetToolStats(tool string) ToolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.toolStatsLocked(tool)
}

func (m *AgentMetrics) toolStatsLocked(tool string) ToolStats {
	stats := ToolStats{
		Name:       tool,
		TotalCalls: m.toolCalls[tool],
		Failures:   m.toolFailures[tool],
	}
	if stats.TotalCalls > 0 {
		stats.SuccessRate = 100 - (float64(stats.Failures) / float64(stats.TotalCalls) * 100)
	}
	if latencies := m.toolLatency[tool]; len(latencies) > 0 {
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		stats.AverageLatency = sum / time.Duration(len(latencies))
	}
	return stats
}

// GetAllToolStats returns statistics for all called tools, sorted by name.
func (m *AgentMetrics) GetAllToolStats() []ToolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allToolStatsLocked()
}

func (m *AgentMetrics) allToolStatsLocked() []ToolStats {
	names := make([]string, 0, len(m.toolCalls))
	for tool := range m.toolCalls {
		names = append(names, tool)
	}
	slices.Sort(names)

	stats := make([]ToolStats, 0, len(names))
	for _, tool := range names {
		stats = append(stats, m.toolStatsLocked(tool))
	}
	return stats
}

// GetSummary returns a summary of all metrics.
func (m *AgentMetrics) GetSummary() MetricsSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MetricsSummary{
		TotalCycles:       m.totalCycles.Load(),
		SuccessfulCycles:  m.successfulCycles.Load(),
		FailedCycles:      m.failedCycles.Load(),
		LoginPrompts:      m.loginPrompts.Load(),
		SuccessRate:       m.GetSuccessRate(),
		AverageDuration:   m.averageDurationLocked(),
		P95Duration:       m.p95DurationLocked(),
		AverageIterations: m.averageIterationsLocked(),
		TransientErrors:   m.errorClasses[ErrorClassTransient],
		PermanentErrors:   m.errorClasses[ErrorClassPermanent],
		AuthErrors:        m.errorClasses[ErrorClassAuth],
		Tools:             m.allToolStatsLocked(),
	}
}

// LogSummary logs the current metrics summary.
func (m *AgentMetrics) LogSummary() {
	summary := m.GetSummary()
	slog.Info("agent_metrics_summary",
		"total_cycles", summary.TotalCycles,
		"success_rate", fmtFloat(summary.SuccessRate),
		"avg_duration_ms", summary.AverageDuration.Milliseconds(),
		"p95_duration_ms", summary.P95Duration.Milliseconds(),
		"avg_iterations", fmtFloat(summary.AverageIterations),
		"login_prompts", summary.LoginPrompts,
		"transient_errors", summary.TransientErrors,
		"permanent_errors", summary.PermanentErrors,
		"auth_errors", summary.AuthErrors,
	)
}

// ToolStats represents statistics for a single tool.
type ToolStats struct {
	Name           string        `json:"name"`
	TotalCalls     int64         `json:"total_calls"`
	Failures       int64         `json:"failures"`
	SuccessRate    float64       `json:"success_rate"`
	AverageLatency time.Duration `json:"average_latency_ns"`
}

// MetricsSummary represents a summary of all metrics.
type MetricsSummary struct {
	TotalCycles       int64         `json:"total_cycles"`
	SuccessfulCycles  int64         `json:"successful_cycles"`
	FailedCycles      int64         `json:"failed_cycles"`
	LoginPrompts      int64         `json:"login_prompts"`
	SuccessRate       float64       `json:"success_rate"`
	AverageDuration   time.Duration `json:"average_duration_ns"`
	P95Duration       time.Duration `json:"p95_duration_ns"`
	AverageIterations float64       `json:"average_iterations"`
	TransientErrors   int64         `json:"transient_errors"`
	PermanentErrors   int64         `json:"permanent_errors"`
	AuthErrors        int64         `json:"auth_errors"`
	Tools             []ToolStats   `json:"tools"`
}

// fmtFloat formats a float value with 2 decimal places.
func fmtFloat(f float64) string {
	return fmt.Sprintf("%.2f", f)
}
