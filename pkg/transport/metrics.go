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

package transport

import (
	"net/http"
	"time"

	"github.com/carverauto/loraprov/pkg/logger"
)

// MetricsHTTPClient wraps an HTTP client to record one observation per call.
type MetricsHTTPClient struct {
	client   HTTPClient
	recorder APIRecorder
	name     string
}

// NewMetricsHTTPClient creates an HTTP client wrapper that reports to recorder.
func NewMetricsHTTPClient(client HTTPClient, name string, recorder APIRecorder) *MetricsHTTPClient {
	return &MetricsHTTPClient{
		client:   client,
		recorder: recorder,
		name:     name,
	}
}

// Do executes an HTTP request and records its status and latency.
func (m *MetricsHTTPClient) Do(req *http.Request) (*http.Response, error) {
	endpoint := req.URL.Path
	if endpoint == "" {
		endpoint = req.URL.String()
	}

	start := time.Now()
	resp, err := m.client.Do(req)

	status := 0
	if err == nil && resp != nil {
		status = resp.StatusCode
	}

	m.recorder.RecordAPICall(m.name, endpoint, status, time.Since(start))

	return resp, err
}

// NewClient builds the standard client stack: a timeout-bound
// *http.Client, wrapped with metrics, wrapped with a circuit breaker.
func NewClient(name string, timeout time.Duration, recorder Recorder, log logger.Logger) *CircuitBreakerHTTPClient {
	return newClient(name, timeout, DefaultBreakerConfig(), recorder, log)
}

// NewRegistryClient is NewClient for registry backends. Only transport
// failures trip its breaker; a 5xx is a rejection of one request.
func NewRegistryClient(name string, timeout time.Duration, recorder Recorder, log logger.Logger) *CircuitBreakerHTTPClient {
	config := DefaultBreakerConfig()
	config.IgnoreServerErrors = true

	return newClient(name, timeout, config, recorder, log)
}

func newClient(name string, timeout time.Duration, config BreakerConfig, recorder Recorder, log logger.Logger) *CircuitBreakerHTTPClient {
	base := &http.Client{Timeout: timeout}

	return NewCircuitBreakerHTTPClient(
		NewMetricsHTTPClient(base, name, recorder),
		name,
		config,
		recorder,
		log,
	)
}
