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

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/loraprov/pkg/logger"
	"github.com/carverauto/loraprov/pkg/provision"
)

type staticStore struct {
	report *provision.Report
}

func (s staticStore) Latest() (*provision.Report, bool) {
	return s.report, s.report != nil
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	return rr
}

func TestServer_NoReportYet(t *testing.T) {
	h := NewServer(":0", staticStore{}, nil, logger.NewTestLogger()).Handler()

	rr := doGet(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","version":"dev","last_run_aborted":false}`, rr.Body.String())

	rr = doGet(t, h, "/api/v1/reports/latest")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doGet(t, h, "/metrics")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_LatestReport(t *testing.T) {
	report := provision.NewReport("chirpstack", time.Now())
	report.Add(&provision.Entry{Identifier: "70b3d57ed0000001", Outcome: provision.OutcomeCreated})
	report.Add(&provision.Entry{Identifier: "70b3d57ed0000002", Outcome: provision.OutcomeSkippedIncomplete})
	report.Finish(time.Now(), nil)

	h := NewServer(":0", staticStore{report: report}, nil, logger.NewTestLogger()).Handler()

	rr := doGet(t, h, "/api/v1/reports/latest")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var got struct {
		RunID   string           `json:"run_id"`
		Backend string           `json:"backend"`
		Counts  provision.Counts `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, report.RunID, got.RunID)
	assert.Equal(t, "chirpstack", got.Backend)
	assert.Equal(t, 2, got.Counts.Total)
	assert.Equal(t, 1, got.Counts.SkippedIncomplete)

	rr = doGet(t, h, "/healthz")
	assert.Contains(t, rr.Body.String(), report.RunID)
}

func TestServer_Metrics(t *testing.T) {
	metrics := provision.NewPrometheusMetrics()
	metrics.RecordStep("simulator", provision.OpCreateDevice, provision.StepCreated, time.Millisecond)

	h := NewServer(":0", staticStore{}, metrics.Registry(), logger.NewTestLogger()).Handler()

	rr := doGet(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "loraprov_registry_steps_total")
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestServer_StartAndClose(t *testing.T) {
	s := NewServer("127.0.0.1:0", staticStore{}, nil, logger.NewTestLogger())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Close())
}

func TestServer_ListenError(t *testing.T) {
	busy := httptest.NewServer(http.NotFoundHandler())
	defer busy.Close()

	s := NewServer(busy.Listener.Addr().String(), staticStore{}, nil, logger.NewTestLogger())
	require.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Close())
}
