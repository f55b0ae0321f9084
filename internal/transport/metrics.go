// Copyright 2025 Joseph Cumines
//
// Metrics for the windowkit serving surface, exported in Prometheus text
// format. Rather than a generic name-indexed registry, this is a typed
// collector for the handful of series the daemon actually has: tool calls
// and their latency, streamed change events, stream connections, and the
// size of the window cache.

package transport

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// toolLatencyBuckets are the histogram bounds for tool-call latency, in
// seconds. The top bounds track the engine's own deadlines: a scan is
// bounded at 10s and an on-demand capture at 15s, so anything in the last
// bucket is a timeout case.
var toolLatencyBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 10, 15}

// toolStatus keys the tool-call counter.
type toolStatus struct {
	tool   string
	status string
}

// latencyHistogram accumulates one tool's call durations.
type latencyHistogram struct {
	counts []uint64 // per bucket, non-cumulative; +Inf is implicit via total
	sum    float64
	total  uint64
}

func (h *latencyHistogram) observe(seconds float64) {
	for i, bound := range toolLatencyBuckets {
		if seconds <= bound {
			h.counts[i]++
			break
		}
	}
	h.sum += seconds
	h.total++
}

// MetricsRegistry collects the daemon's serving metrics. Safe for
// concurrent use.
type MetricsRegistry struct {
	mu             sync.Mutex
	toolCalls      map[toolStatus]uint64
	toolDurations  map[string]*latencyHistogram
	eventsStreamed uint64
	streamConns    map[string]int
	cacheApps      int
	cacheWindows   int
}

// NewMetricsRegistry creates an empty collector.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		toolCalls:     make(map[toolStatus]uint64),
		toolDurations: make(map[string]*latencyHistogram),
		streamConns:   make(map[string]int),
	}
}

// RecordToolCall counts one tool invocation and observes its latency.
func (m *MetricsRegistry) RecordToolCall(tool, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolCalls[toolStatus{tool: tool, status: status}]++
	h, ok := m.toolDurations[tool]
	if !ok {
		h = &latencyHistogram{counts: make([]uint64, len(toolLatencyBuckets))}
		m.toolDurations[tool] = h
	}
	h.observe(duration.Seconds())
}

// RecordEventStreamed counts one change event pushed to streaming
// subscribers (SSE or websocket).
func (m *MetricsRegistry) RecordEventStreamed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsStreamed++
}

// SetStreamConnections records the current connection count for one
// streaming transport ("sse" or "ws").
func (m *MetricsRegistry) SetStreamConnections(transport string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamConns[transport] = count
}

// SetCacheSize records the tracker's current cache dimensions.
func (m *MetricsRegistry) SetCacheSize(applications, windows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheApps = applications
	m.cacheWindows = windows
}

// ToolCalls returns the recorded count for one (tool, status) pair.
// Exposed for tests and the health endpoint.
func (m *MetricsRegistry) ToolCalls(tool, status string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.toolCalls[toolStatus{tool: tool, status: status}]
}

// EventsStreamed returns the total events pushed to streaming subscribers.
func (m *MetricsRegistry) EventsStreamed() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eventsStreamed
}

// WritePrometheus writes every series in Prometheus text format, sorted for
// deterministic output.
func (m *MetricsRegistry) WritePrometheus(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := fmt.Fprintf(w, "# TYPE windowkit_tool_calls_total counter\n"); err != nil {
		return err
	}
	callKeys := make([]toolStatus, 0, len(m.toolCalls))
	for key := range m.toolCalls {
		callKeys = append(callKeys, key)
	}
	sort.Slice(callKeys, func(i, j int) bool {
		if callKeys[i].tool != callKeys[j].tool {
			return callKeys[i].tool < callKeys[j].tool
		}
		return callKeys[i].status < callKeys[j].status
	})
	for _, key := range callKeys {
		if _, err := fmt.Fprintf(w, "windowkit_tool_calls_total{tool=%q,status=%q} %d\n",
			key.tool, key.status, m.toolCalls[key]); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "# TYPE windowkit_tool_duration_seconds histogram\n"); err != nil {
		return err
	}
	tools := make([]string, 0, len(m.toolDurations))
	for tool := range m.toolDurations {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	for _, tool := range tools {
		h := m.toolDurations[tool]
		var cumulative uint64
		for i, bound := range toolLatencyBuckets {
			cumulative += h.counts[i]
			if _, err := fmt.Fprintf(w, "windowkit_tool_duration_seconds_bucket{tool=%q,le=\"%g\"} %d\n",
				tool, bound, cumulative); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "windowkit_tool_duration_seconds_bucket{tool=%q,le=\"+Inf\"} %d\n",
			tool, h.total); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "windowkit_tool_duration_seconds_sum{tool=%q} %g\n", tool, h.sum); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "windowkit_tool_duration_seconds_count{tool=%q} %d\n", tool, h.total); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "# TYPE windowkit_events_streamed_total counter\nwindowkit_events_streamed_total %d\n",
		m.eventsStreamed); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "# TYPE windowkit_stream_connections gauge\n"); err != nil {
		return err
	}
	transports := make([]string, 0, len(m.streamConns))
	for tr := range m.streamConns {
		transports = append(transports, tr)
	}
	sort.Strings(transports)
	for _, tr := range transports {
		if _, err := fmt.Fprintf(w, "windowkit_stream_connections{transport=%q} %d\n",
			tr, m.streamConns[tr]); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "# TYPE windowkit_cache_applications gauge\nwindowkit_cache_applications %d\n",
		m.cacheApps); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE windowkit_cache_windows gauge\nwindowkit_cache_windows %d\n",
		m.cacheWindows); err != nil {
		return err
	}
	return nil
}
