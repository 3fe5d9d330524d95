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

// Package transport provides the HTTP client contract shared by the C2
// inventory source and the simulator registry, plus wrappers adding a
// circuit breaker and call metrics.
package transport

import (
	"net/http"
	"time"
)

// HTTPClient is the subset of *http.Client used by callers.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIRecorder receives one observation per outbound HTTP call. A zero
// status code means the request never produced a response.
type APIRecorder interface {
	RecordAPICall(client, endpoint string, statusCode int, duration time.Duration)
}

// StateRecorder receives circuit breaker state transitions.
type StateRecorder interface {
	RecordCircuitBreakerStateChange(name string, from, to State)
}

// Recorder combines both observation hooks.
type Recorder interface {
	APIRecorder
	StateRecorder
}
