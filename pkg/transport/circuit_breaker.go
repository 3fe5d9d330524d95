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
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/carverauto/loraprov/pkg/logger"
)

// ErrCircuitOpen is returned without contacting the remote side while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// IgnoreServerErrors leaves 5xx responses out of the failure count, for
	// services that report per-request rejections with a 5xx status.
	IgnoreServerErrors bool
}

// DefaultBreakerConfig returns the thresholds used by the HTTP transports.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker tracks consecutive failures of a remote dependency.
type CircuitBreaker struct {
	name     string
	config   BreakerConfig
	logger   logger.Logger
	recorder StateRecorder
	now      func() time.Time

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	openedAt     time.Time
}

// NewCircuitBreaker creates a closed circuit breaker. recorder may be nil.
func NewCircuitBreaker(name string, config BreakerConfig, recorder StateRecorder, log logger.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}

	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultBreakerConfig().SuccessThreshold
	}

	return &CircuitBreaker{
		name:     name,
		config:   config,
		logger:   log,
		recorder: recorder,
		now:      time.Now,
		state:    StateClosed,
	}
}

// Execute runs fn unless the circuit is open and records its result.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}

	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Timeout {
			return false
		}

		cb.successCount = 0
		cb.transition(StateHalfOpen)

		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failureCount++

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.openedAt = cb.now()
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.openedAt = cb.now()
		cb.transition(StateOpen)
	case StateOpen:
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.failureCount = 0
			cb.transition(StateClosed)
		}
	case StateClosed:
		cb.failureCount = 0
	case StateOpen:
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to

	cb.logger.Info().
		Str("circuit_breaker", cb.name).
		Str("old_state", from.String()).
		Str("new_state", to.String()).
		Int("failure_count", cb.failureCount).
		Msg("Circuit breaker state changed")

	if cb.recorder != nil {
		cb.recorder.RecordCircuitBreakerStateChange(cb.name, from, to)
	}
}

// CircuitBreakerHTTPClient wraps an HTTPClient with a CircuitBreaker.
// Transport errors count as failures, 5xx responses too unless
// BreakerConfig.IgnoreServerErrors is set.
type CircuitBreakerHTTPClient struct {
	client       HTTPClient
	breaker      *CircuitBreaker
	serverErrors bool
}

// NewCircuitBreakerHTTPClient creates an HTTP client guarded by a new breaker.
func NewCircuitBreakerHTTPClient(
	client HTTPClient, name string, config BreakerConfig, recorder StateRecorder, log logger.Logger,
) *CircuitBreakerHTTPClient {
	return &CircuitBreakerHTTPClient{
		client:       client,
		breaker:      NewCircuitBreaker(name, config, recorder, log),
		serverErrors: !config.IgnoreServerErrors,
	}
}

var errServerStatus = errors.New("server error")

// Do executes req through the breaker. A 5xx response is still returned to
// the caller so it can read the body.
func (c *CircuitBreakerHTTPClient) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response

	err := c.breaker.Execute(func() error {
		var doErr error

		resp, doErr = c.client.Do(req)
		if doErr != nil {
			return doErr
		}

		if c.serverErrors && resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %d", errServerStatus, resp.StatusCode)
		}

		return nil
	})

	if err != nil && !errors.Is(err, errServerStatus) {
		return nil, err
	}

	return resp, nil
}

// Breaker returns the underlying circuit breaker.
func (c *CircuitBreakerHTTPClient) Breaker() *CircuitBreaker {
	return c.breaker
}
