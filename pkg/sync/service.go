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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/carverauto/loraprov/pkg/logger"
	"github.com/carverauto/loraprov/pkg/provision"
)

var errMissingDependency = errors.New("inventory source and registry adapter are required")

// ReportStore keeps the most recent report for the status server.
type ReportStore struct {
	mu     sync.RWMutex
	report *provision.Report
}

// Latest returns the last stored report.
func (s *ReportStore) Latest() (*provision.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.report, s.report != nil
}

func (s *ReportStore) store(r *provision.Report) {
	s.mu.Lock()
	s.report = r
	s.mu.Unlock()
}

// Deps are the collaborators a Service drives.
type Deps struct {
	Source   provision.InventorySource
	Adapter  provision.Adapter
	Sinks    []provision.ReportSink
	Metrics  provision.Metrics
	Gatherer prometheus.Gatherer
	Clock    Clock
	Logger   logger.Logger
	// Closers run, in reverse order, when the service is closed.
	Closers []func() error
}

// Service reconciles the inventory with the registry once or on an
// interval.
type Service struct {
	source       provision.InventorySource
	adapter      provision.Adapter
	orchestrator *provision.Orchestrator
	sinks        []provision.ReportSink
	metrics      provision.Metrics
	gatherer     prometheus.Gatherer
	clock        Clock
	reports      *ReportStore
	interval     time.Duration
	startAfter   bool
	closers      []func() error
	logger       logger.Logger
}

// NewService validates cfg and builds a service around deps.
func NewService(cfg *Config, deps *Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if deps.Source == nil || deps.Adapter == nil {
		return nil, errMissingDependency
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = provision.NoOpMetrics{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = realClock{}
	}

	orchestrator := provision.NewOrchestrator(deps.Adapter, cfg.Application.Context(), deps.Logger,
		provision.WithRetry(cfg.RetryPolicy()),
		provision.WithMetrics(metrics),
		provision.WithGatewayTypeID(cfg.Application.GatewayTypeID),
	)

	return &Service{
		source:       deps.Source,
		adapter:      deps.Adapter,
		orchestrator: orchestrator,
		sinks:        deps.Sinks,
		metrics:      metrics,
		gatherer:     deps.Gatherer,
		clock:        clock,
		reports:      &ReportStore{},
		interval:     time.Duration(cfg.RunInterval),
		startAfter:   cfg.Simulator != nil && cfg.Simulator.StartAfterProvision,
		closers:      deps.Closers,
		logger:       deps.Logger,
	}, nil
}

// Reports exposes the latest-report store.
func (s *Service) Reports() *ReportStore {
	return s.reports
}

// Gatherer returns the metrics registry, or nil when none was wired.
func (s *Service) Gatherer() prometheus.Gatherer {
	return s.gatherer
}

// Interval returns the reconcile interval; zero means run once.
func (s *Service) Interval() time.Duration {
	return s.interval
}

// RunOnce fetches the inventory and provisions it. An inventory failure
// yields an empty aborted report alongside the error. A run-level
// provisioning failure returns both the partial report and the error.
func (s *Service) RunOnce(ctx context.Context) (*provision.Report, error) {
	fetchStart := s.clock.Now()
	records, err := s.source.Fetch(ctx)
	s.metrics.RecordInventoryFetch(s.source.Name(), len(records), s.clock.Now().Sub(fetchStart), err)

	if err != nil {
		err = fmt.Errorf("fetch inventory from %s: %w", s.source.Name(), err)

		report := provision.NewReport(s.adapter.Name(), fetchStart)
		report.Source = s.source.Name()
		report.Aborted = true
		report.Finish(s.clock.Now(), err)

		s.metrics.RecordRun(report, report.FinishedAt.Sub(fetchStart))
		s.reports.store(report)
		s.publish(ctx, report)

		return report, err
	}

	s.logger.Info().
		Str("source", s.source.Name()).
		Int("records", len(records)).
		Msg("Fetched inventory")

	report, runErr := s.orchestrator.Run(ctx, records)
	report.Source = s.source.Name()

	s.reports.store(report)
	s.publish(ctx, report)

	if runErr != nil {
		return report, runErr
	}

	if s.startAfter {
		if starter, ok := s.adapter.(provision.Starter); ok {
			if err := starter.Start(ctx); err != nil {
				return report, fmt.Errorf("start %s: %w", s.adapter.Name(), err)
			}
		}
	}

	return report, nil
}

func (s *Service) publish(ctx context.Context, report *provision.Report) {
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, report); err != nil {
			s.logger.Warn().Err(err).Str("run_id", report.RunID).Msg("Failed to publish provisioning report")
		}
	}
}

// Start runs one reconcile and returns its error when no interval is
// configured. Otherwise it reconciles on every tick until ctx ends, logging
// failed runs.
func (s *Service) Start(ctx context.Context) error {
	if s.interval <= 0 {
		_, err := s.RunOnce(ctx)
		return err
	}

	s.logger.Info().Dur("interval", s.interval).Msg("Starting reconcile loop")

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("Reconcile run failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}

// Close releases the backend connections.
func (s *Service) Close() error {
	var errs []error

	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
