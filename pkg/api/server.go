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

// Package api serves the provisioner's HTTP status surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carverauto/loraprov/pkg/logger"
	"github.com/carverauto/loraprov/pkg/provision"
	"github.com/carverauto/loraprov/pkg/version"
)

const (
	gracefulShutdownTimeout = 10 * time.Second
	readHeaderTimeout       = 5 * time.Second
)

// ReportStore exposes the most recent provisioning report.
type ReportStore interface {
	Latest() (*provision.Report, bool)
}

// Server is the HTTP status server.
type Server struct {
	addr     string
	reports  ReportStore
	gatherer prometheus.Gatherer
	logger   logger.Logger
	server   *http.Server
}

// NewServer creates a server listening on addr. A nil gatherer disables
// the /metrics route.
func NewServer(addr string, reports ReportStore, gatherer prometheus.Gatherer, log logger.Logger) *Server {
	return &Server{
		addr:     addr,
		reports:  reports,
		gatherer: gatherer,
		logger:   log,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.handleHealth)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/reports/latest", s.handleLatestReport)
	})

	return r
}

// Start listens in the background until ctx is canceled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info().Str("address", ln.Addr().String()).Msg("Status server listening")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Status server error")
		}
	}()

	context.AfterFunc(ctx, func() { _ = s.Close() })

	return nil
}

// Close gracefully shuts the server down.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status     string     `json:"status"`
	Version    string     `json:"version"`
	LastRunID  string     `json:"last_run_id,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastAbort  bool       `json:"last_run_aborted"`
	LastCounts any        `json:"last_run_counts,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Version: version.GetVersion()}

	if report, ok := s.reports.Latest(); ok {
		finished := report.FinishedAt
		resp.LastRunID = report.RunID
		resp.LastRunAt = &finished
		resp.LastAbort = report.Aborted
		resp.LastCounts = report.Counts
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLatestReport(w http.ResponseWriter, _ *http.Request) {
	report, ok := s.reports.Latest()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no provisioning run has completed"})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	//nolint:errcheck // connection may already be gone
	json.NewEncoder(w).Encode(v)
}
