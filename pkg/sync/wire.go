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

package sync

import (
	"context"
	"fmt"
	"time"

	lpgrpc "github.com/carverauto/loraprov/pkg/grpc"
	"github.com/carverauto/loraprov/pkg/inventory"
	"github.com/carverauto/loraprov/pkg/logger"
	"github.com/carverauto/loraprov/pkg/natsutil"
	"github.com/carverauto/loraprov/pkg/provision"
	"github.com/carverauto/loraprov/pkg/registry/chirpstack"
	"github.com/carverauto/loraprov/pkg/registry/simulator"
	"github.com/carverauto/loraprov/pkg/transport"
)

// NewDefault builds a service from cfg with production collaborators:
// Prometheus metrics, circuit-breaking HTTP clients, the configured
// registry backend, and a JetStream report publisher when NATS is set.
func NewDefault(ctx context.Context, cfg *Config, log logger.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	metrics := provision.NewPrometheusMetrics()

	deps := &Deps{
		Metrics:  metrics,
		Gatherer: metrics.Registry(),
		Logger:   log,
	}

	source, err := inventory.New(&cfg.Inventory,
		transport.NewClient("c2", cfg.Inventory.TimeoutOrDefault(), metrics, log), log)
	if err != nil {
		return nil, err
	}

	deps.Source = source

	adapter, closer, err := newAdapter(ctx, cfg, metrics, log)
	if err != nil {
		return nil, err
	}

	deps.Adapter = adapter

	if closer != nil {
		deps.Closers = append(deps.Closers, closer)
	}

	if cfg.NATS != nil && cfg.NATS.URL != "" {
		publisher, nc, err := natsutil.Connect(ctx, cfg.NATS, log)
		if err != nil {
			closeAll(deps.Closers)
			return nil, err
		}

		deps.Sinks = append(deps.Sinks, publisher)
		deps.Closers = append(deps.Closers, func() error {
			return nc.Drain()
		})
	}

	svc, err := NewService(cfg, deps)
	if err != nil {
		closeAll(deps.Closers)
		return nil, err
	}

	return svc, nil
}

func newAdapter(ctx context.Context, cfg *Config, metrics *provision.PrometheusMetrics, log logger.Logger) (provision.Adapter, func() error, error) {
	switch cfg.Backend {
	case BackendChirpStack:
		client, err := lpgrpc.NewClient(ctx, lpgrpc.ClientConfig{
			Address:  cfg.ChirpStack.Address,
			Security: cfg.ChirpStack.Security,
			Logger:   log,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to ChirpStack: %w", err)
		}

		adapter := chirpstack.New(client.GetConnection(), cfg.ChirpStack.APIToken,
			time.Duration(cfg.ChirpStack.CallTimeout), log)

		return adapter, client.Close, nil
	case BackendSimulator:
		payloads, err := simulator.LoadPayloadSamples(cfg.Simulator.PayloadDirs)
		if err != nil {
			return nil, nil, err
		}

		client := transport.NewRegistryClient("simulator", time.Duration(cfg.Simulator.Timeout), metrics, log)

		return simulator.New(cfg.Simulator.BaseURL, cfg.Simulator.APIToken, client,
			cfg.Simulator.Config, payloads, log), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", errUnknownBackend, cfg.Backend)
	}
}

func closeAll(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i]()
	}
}
