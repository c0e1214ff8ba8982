// Copyright 2025 ControlCenter
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"controlcenter/gateway/routing"
)

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests processed by the gateway",
		},
		[]string{"capability", "status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_milliseconds",
			Help:    "Request duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
		[]string{"capability"},
	)
	promAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_provider_attempts_total",
			Help: "Total number of remote provider attempts",
		},
		[]string{"capability", "provider", "outcome"},
	)
	promFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_builtin_fallbacks_total",
			Help: "Total number of requests served by the builtin fallback",
		},
		[]string{"capability"},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promAttemptsTotal)
	prometheus.MustRegister(promFallbacksTotal)
}

// capabilityMetrics tracks counters and latencies for one capability.
type capabilityMetrics struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	Fallbacks       int64
	Latencies       []int64
}

// Metrics is the in-process JSON metrics view, separate from the
// Prometheus registry so /metrics stays cheap to serve.
type Metrics struct {
	mu           sync.RWMutex
	startTime    time.Time
	totalReqs    int64
	successReqs  int64
	failedReqs   int64
	byCapability map[routing.Capability]*capabilityMetrics
}

// NewMetrics creates an empty metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime:    time.Now(),
		byCapability: make(map[routing.Capability]*capabilityMetrics),
	}
}

// RecordRequest records one finished request.
func (m *Metrics) RecordRequest(capability routing.Capability, success, fallback bool, latency time.Duration) {
	latencyMs := latency.Milliseconds()

	status := "success"
	if !success {
		status = "error"
	}
	promRequestsTotal.WithLabelValues(string(capability), status).Inc()
	promRequestDuration.WithLabelValues(string(capability)).Observe(float64(latencyMs))
	if fallback {
		promFallbacksTotal.WithLabelValues(string(capability)).Inc()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalReqs++
	if success {
		m.successReqs++
	} else {
		m.failedReqs++
	}

	cm, ok := m.byCapability[capability]
	if !ok {
		cm = &capabilityMetrics{Latencies: make([]int64, 0, 1000)}
		m.byCapability[capability] = cm
	}
	cm.TotalRequests++
	if success {
		cm.SuccessRequests++
	} else {
		cm.FailedRequests++
	}
	if fallback {
		cm.Fallbacks++
	}
	cm.Latencies = append(cm.Latencies, latencyMs)
	if len(cm.Latencies) > 1000 {
		cm.Latencies = cm.Latencies[1:]
	}
}

// ObserveAttempt records one remote provider attempt. Safe for concurrent
// use; wired into the executor as its AttemptObserver.
func (m *Metrics) ObserveAttempt(capability routing.Capability, record routing.AttemptRecord) {
	promAttemptsTotal.WithLabelValues(string(capability), record.ProviderID, string(record.Outcome)).Inc()
}

func calculatePercentile(timings []int64, percentile float64) float64 {
	if len(timings) == 0 {
		return 0
	}

	sorted := make([]int64, len(timings))
	copy(sorted, timings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := int(float64(len(sorted)) * percentile)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return float64(sorted[index])
}

// Handler serves the JSON metrics view.
func (m *Metrics) Handler(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()

	uptime := time.Since(m.startTime).Seconds()
	successRate := 100.0
	if m.totalReqs > 0 {
		successRate = float64(m.successReqs) * 100.0 / float64(m.totalReqs)
	}

	capabilities := make(map[string]interface{}, len(m.byCapability))
	for capability, cm := range m.byCapability {
		capabilities[string(capability)] = map[string]interface{}{
			"total_requests":    cm.TotalRequests,
			"success_requests":  cm.SuccessRequests,
			"failed_requests":   cm.FailedRequests,
			"builtin_fallbacks": cm.Fallbacks,
			"p50_ms":            calculatePercentile(cm.Latencies, 0.50),
			"p95_ms":            calculatePercentile(cm.Latencies, 0.95),
			"p99_ms":            calculatePercentile(cm.Latencies, 0.99),
		}
	}

	body := map[string]interface{}{
		"gateway_metrics": map[string]interface{}{
			"uptime_seconds":   uptime,
			"total_requests":   m.totalReqs,
			"success_requests": m.successReqs,
			"failed_requests":  m.failedReqs,
			"success_rate":     successRate,
			"rps":              float64(m.totalReqs) / uptime,
		},
		"capabilities": capabilities,
		"timestamp":    time.Now().UTC(),
	}
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
