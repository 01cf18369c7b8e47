package observability

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects and aggregates metrics for API operations.
type Metrics struct {
	mu sync.Mutex

	// Counters
	requestTotal  atomic.Int64
	requestFailed atomic.Int64

	routeMetrics map[string]*RouteMetrics
	// cycleStates counts finished dispatcher cycles by final state.
	cycleStates map[string]int64

	// Duration window of the most recent requests
	durations    []time.Duration
	maxDurations int
}

// RouteMetrics represents metrics for a specific route.
type RouteMetrics struct {
	requestCount  atomic.Int64
	totalDuration atomic.Int64 // milliseconds
	errorCount    atomic.Int64
}

// NewMetrics creates a new metrics collector.
func NewMetrics(maxDurations int) *Metrics {
	if maxDurations <= 0 {
		maxDurations = 1000 // Default to keeping last 1000 durations
	}
	return &Metrics{
		routeMetrics: make(map[string]*RouteMetrics),
		cycleStates:  make(map[string]int64),
		durations:    make([]time.Duration, 0, maxDurations),
		maxDurations: maxDurations,
	}
}

// RecordRequest records a request.
func (m *Metrics) RecordRequest(route string) {
	m.requestTotal.Add(1)
	m.GetRouteMetrics(route).requestCount.Add(1)
}

// RecordFailure records a failed request.
func (m *Metrics) RecordFailure(route string) {
	m.requestFailed.Add(1)
	m.GetRouteMetrics(route).errorCount.Add(1)
}

// RecordDuration records a request duration.
func (m *Metrics) RecordDuration(route string, duration time.Duration) {
	rm := m.GetRouteMetrics(route)
	rm.totalDuration.Add(duration.Milliseconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.durations) >= m.maxDurations {
		// Remove oldest duration (FIFO)
		m.durations = m.durations[1:]
	}
	m.durations = append(m.durations, duration)
}

// RecordCycle records the final state of a dispatcher cycle.
func (m *Metrics) RecordCycle(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycleStates[state]++
}

// GetRequestTotal returns the total number of requests.
func (m *Metrics) GetRequestTotal() int64 {
	return m.requestTotal.Load()
}

// GetRequestFailed returns the total number of failed requests.
func (m *Metrics) GetRequestFailed() int64 {
	return m.requestFailed.Load()
}

// GetRouteMetrics returns metrics for a route, creating them on first use.
func (m *Metrics) GetRouteMetrics(route string) *RouteMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	rm, ok := m.routeMetrics[route]
	if !ok {
		rm = &RouteMetrics{}
		m.routeMetrics[route] = rm
	}
	return rm
}

// GetAverageDuration returns the average duration in milliseconds for a route.
func (m *Metrics) GetAverageDuration(route string) int64 {
	return m.GetRouteMetrics(route).averageDuration()
}

// GetAllRoutes returns all routes that have been recorded, sorted.
func (m *Metrics) GetAllRoutes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	routes := make([]string, 0, len(m.routeMetrics))
	for route := range m.routeMetrics {
		routes = append(routes, route)
	}
	sort.Strings(routes)
	return routes
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.requestTotal.Store(0)
	m.requestFailed.Store(0)

	m.mu.Lock()
	m.routeMetrics = make(map[string]*RouteMetrics)
	m.cycleStates = make(map[string]int64)
	m.durations = make([]time.Duration, 0, m.maxDurations)
	m.mu.Unlock()
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() *MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	routes := make(map[string]*RouteMetricsSnapshot, len(m.routeMetrics))
	for route, rm := range m.routeMetrics {
		routes[route] = &RouteMetricsSnapshot{
			RequestCount:    rm.requestCount.Load(),
			TotalDuration:   rm.totalDuration.Load(),
			ErrorCount:      rm.errorCount.Load(),
			AverageDuration: rm.averageDuration(),
		}
	}
	states := make(map[string]int64, len(m.cycleStates))
	for state, n := range m.cycleStates {
		states[state] = n
	}

	return &MetricsSnapshot{
		RequestTotal:  m.requestTotal.Load(),
		RequestFailed: m.requestFailed.Load(),
		Routes:        routes,
		CycleStates:   states,
		DurationCount: len(m.durations),
	}
}

func (rm *RouteMetrics) averageDuration() int64 {
	count := rm.requestCount.Load()
	if count == 0 {
		return 0
	}
	return rm.totalDuration.Load() / count
}

// MetricsSnapshot represents a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	RequestTotal  int64                            `json:"request_total"`
	RequestFailed int64                            `json:"request_failed"`
	Routes        map[string]*RouteMetricsSnapshot `json:"routes"`
	CycleStates   map[string]int64                 `json:"cycle_states"`
	DurationCount int                              `json:"duration_count"`
}

// RouteMetricsSnapshot represents metrics for a specific route.
type RouteMetricsSnapshot struct {
	RequestCount    int64 `json:"request_count"`
	TotalDuration   int64 `json:"total_duration_ms"`
	ErrorCount      int64 `json:"error_count"`
	AverageDuration int64 `json:"average_duration_ms"`
}

// SuccessRate returns the success rate as a percentage (0-100).
func (s *MetricsSnapshot) SuccessRate() float64 {
	if s.RequestTotal == 0 {
		return 100.0
	}
	return float64(s.RequestTotal-s.RequestFailed) / float64(s.RequestTotal) * 100.0
}
