/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package provision

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/carverauto/loraprov/pkg/logger"
	"github.com/carverauto/loraprov/pkg/transport"
)

// Metrics collects provisioning service metrics. It also satisfies
// transport.Recorder so one collector observes the HTTP transports.
type Metrics interface {
	transport.Recorder

	RecordInventoryFetch(source string, records int, duration time.Duration, err error)
	RecordStep(backend string, kind OperationKind, status StepStatus, duration time.Duration)
	RecordRun(report *Report, duration time.Duration)
}

// NoOpMetrics discards everything.
type NoOpMetrics struct{}

func (NoOpMetrics) RecordAPICall(string, string, int, time.Duration)                          {}
func (NoOpMetrics) RecordCircuitBreakerStateChange(string, transport.State, transport.State) {}
func (NoOpMetrics) RecordInventoryFetch(string, int, time.Duration, error)                    {}
func (NoOpMetrics) RecordStep(string, OperationKind, StepStatus, time.Duration)               {}
func (NoOpMetrics) RecordRun(*Report, time.Duration)                                          {}

// InMemoryMetrics keeps counters in maps, for tests and the status API.
type InMemoryMetrics struct {
	mu     sync.RWMutex
	logger logger.Logger

	fetchSuccess  map[string]int
	fetchFailures map[string]int
	fetchRecords  map[string]int

	steps    map[string]int
	outcomes map[Outcome]int
	runs     int
	aborted  int

	apiCalls    map[string]int
	apiFailures map[string]int

	breakerStates map[string]string
	lastRun       time.Time
}

// NewInMemoryMetrics creates an empty in-memory collector.
func NewInMemoryMetrics(log logger.Logger) *InMemoryMetrics {
	return &InMemoryMetrics{
		logger:        log,
		fetchSuccess:  make(map[string]int),
		fetchFailures: make(map[string]int),
		fetchRecords:  make(map[string]int),
		steps:         make(map[string]int),
		outcomes:      make(map[Outcome]int),
		apiCalls:      make(map[string]int),
		apiFailures:   make(map[string]int),
		breakerStates: make(map[string]string),
	}
}

func stepKey(backend string, kind OperationKind, status StepStatus) string {
	return backend + ":" + kind.String() + ":" + status.String()
}

func (m *InMemoryMetrics) RecordAPICall(client, endpoint string, statusCode int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := client + ":" + endpoint
	m.apiCalls[key]++

	if statusCode == 0 || statusCode >= 400 {
		m.apiFailures[key]++

		m.logger.Debug().
			Str("client", client).
			Str("endpoint", endpoint).
			Int("status_code", statusCode).
			Dur("duration", duration).
			Msg("API call failed")
	}
}

func (m *InMemoryMetrics) RecordCircuitBreakerStateChange(name string, _, to transport.State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.breakerStates[name] = to.String()
}

func (m *InMemoryMetrics) RecordInventoryFetch(source string, records int, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.fetchFailures[source]++
		return
	}

	m.fetchSuccess[source]++
	m.fetchRecords[source] = records
}

func (m *InMemoryMetrics) RecordStep(backend string, kind OperationKind, status StepStatus, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.steps[stepKey(backend, kind, status)]++
}

func (m *InMemoryMetrics) RecordRun(report *Report, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs++
	if report.Aborted {
		m.aborted++
	}

	for i := range report.Entries {
		m.outcomes[report.Entries[i].Outcome]++
	}

	m.lastRun = report.FinishedAt
}

// StepCount returns how many times kind finished with status on backend.
func (m *InMemoryMetrics) StepCount(backend string, kind OperationKind, status StepStatus) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.steps[stepKey(backend, kind, status)]
}

// OutcomeCount returns the cumulative number of entries with outcome.
func (m *InMemoryMetrics) OutcomeCount(outcome Outcome) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.outcomes[outcome]
}

// GetMetrics returns a snapshot suitable for JSON encoding.
func (m *InMemoryMetrics) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"inventory": map[string]interface{}{
			"successes": copyMap(m.fetchSuccess),
			"failures":  copyMap(m.fetchFailures),
			"records":   copyMap(m.fetchRecords),
		},
		"steps":    copyMap(m.steps),
		"outcomes": copyMap(m.outcomes),
		"api": map[string]interface{}{
			"calls":    copyMap(m.apiCalls),
			"failures": copyMap(m.apiFailures),
		},
		"circuit_breakers": copyMap(m.breakerStates),
		"runs": map[string]interface{}{
			"total":    m.runs,
			"aborted":  m.aborted,
			"last_run": m.lastRun,
		},
	}
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}

// PrometheusMetrics exports the same observations on a dedicated registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	fetches          *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	inventoryRecords *prometheus.GaugeVec
	steps            *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	outcomes         *prometheus.CounterVec
	runs             *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	lastRun          *prometheus.GaugeVec
	apiCalls         *prometheus.CounterVec
	apiDuration      *prometheus.HistogramVec
	breakerState     *prometheus.GaugeVec
}

// NewPrometheusMetrics creates the collectors on a new registry that also
// carries the Go runtime and process collectors.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		registry: reg,
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loraprov_inventory_fetches_total",
			Help: "Inventory fetches by source and result",
		}, []string{"source", "result"}),
		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loraprov_inventory_fetch_duration_seconds",
			Help:    "Duration of inventory fetches by source",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		inventoryRecords: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loraprov_inventory_records",
			Help: "Records returned by the last successful fetch",
		}, []string{"source"}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loraprov_registry_steps_total",
			Help: "Registry operations by backend, operation and status",
		}, []string{"backend", "operation", "status"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loraprov_registry_step_duration_seconds",
			Help:    "Duration of registry operations including retries",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"backend", "operation"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loraprov_provision_outcomes_total",
			Help: "Inventory record outcomes by backend",
		}, []string{"backend", "outcome"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loraprov_runs_total",
			Help: "Reconciliation runs by backend and result",
		}, []string{"backend", "result"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loraprov_run_duration_seconds",
			Help:    "Duration of complete reconciliation runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"backend"}),
		lastRun: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loraprov_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}, []string{"backend"}),
		apiCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loraprov_http_requests_total",
			Help: "Outbound HTTP requests by client and status code",
		}, []string{"client", "endpoint", "code"}),
		apiDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loraprov_http_request_duration_seconds",
			Help:    "Duration of outbound HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"client"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loraprov_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"name"}),
	}
}

// Registry returns the registry to expose over HTTP.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PrometheusMetrics) RecordAPICall(client, endpoint string, statusCode int, duration time.Duration) {
	m.apiCalls.WithLabelValues(client, endpoint, strconv.Itoa(statusCode)).Inc()
	m.apiDuration.WithLabelValues(client).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordCircuitBreakerStateChange(name string, _, to transport.State) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
}

func (m *PrometheusMetrics) RecordInventoryFetch(source string, records int, duration time.Duration, err error) {
	m.fetchDuration.WithLabelValues(source).Observe(duration.Seconds())

	if err != nil {
		m.fetches.WithLabelValues(source, "error").Inc()
		return
	}

	m.fetches.WithLabelValues(source, "success").Inc()
	m.inventoryRecords.WithLabelValues(source).Set(float64(records))
}

func (m *PrometheusMetrics) RecordStep(backend string, kind OperationKind, status StepStatus, duration time.Duration) {
	m.steps.WithLabelValues(backend, kind.String(), status.String()).Inc()

	if status != StepSkipped {
		m.stepDuration.WithLabelValues(backend, kind.String()).Observe(duration.Seconds())
	}
}

func (m *PrometheusMetrics) RecordRun(report *Report, duration time.Duration) {
	result := "success"

	switch {
	case report.Aborted:
		result = "aborted"
	case report.Error != "":
		result = "error"
	}

	m.runs.WithLabelValues(report.Backend, result).Inc()
	m.runDuration.WithLabelValues(report.Backend).Observe(duration.Seconds())
	m.lastRun.WithLabelValues(report.Backend).Set(float64(report.FinishedAt.Unix()))

	for i := range report.Entries {
		m.outcomes.WithLabelValues(report.Backend, string(report.Entries[i].Outcome)).Inc()
	}
}
