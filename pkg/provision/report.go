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
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal state of one inventory record.
type Outcome string

const (
	OutcomeCreated           Outcome = "created"
	OutcomeSkippedIncomplete Outcome = "skipped_incomplete"
	OutcomeSkippedDuplicate  Outcome = "skipped_duplicate"
	OutcomeFailed            Outcome = "failed"
)

// ReasonNotAttempted is recorded for records left after a run-level abort.
const ReasonNotAttempted = "not attempted: registry unavailable"

// StepResult is the recorded result of one executed or skipped operation.
type StepResult struct {
	Operation OperationKind `json:"operation"`
	Status    StepStatus    `json:"status"`
	Attempts  int           `json:"attempts,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Entry is the fate of one inventory record.
type Entry struct {
	Index      int          `json:"index"`
	Identifier string       `json:"identifier"`
	Name       string       `json:"name,omitempty"`
	Gateway    bool         `json:"gateway,omitempty"`
	Outcome    Outcome      `json:"outcome"`
	Reason     string       `json:"reason,omitempty"`
	Steps      []StepResult `json:"steps,omitempty"`
}

// PartiallyFailed reports whether some step failed while the record as a
// whole did not, e.g. a gateway registration failure next to a created device.
func (e *Entry) PartiallyFailed() bool {
	if e.Outcome == OutcomeFailed {
		return false
	}

	for _, s := range e.Steps {
		if s.Status == StepFailed {
			return true
		}
	}

	return false
}

// Counts aggregates report entries by outcome.
type Counts struct {
	Total             int `json:"total"`
	Created           int `json:"created"`
	SkippedIncomplete int `json:"skipped_incomplete"`
	SkippedDuplicate  int `json:"skipped_duplicate"`
	Failed            int `json:"failed"`
	PartiallyFailed   int `json:"partially_failed"`
}

// Report is the ordered result of one reconciliation run. Entries follow
// inventory order and there is exactly one per inventory record.
type Report struct {
	RunID      string    `json:"run_id"`
	Backend    string    `json:"backend"`
	Source     string    `json:"source,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Entries    []Entry   `json:"entries"`
	Counts     Counts    `json:"counts"`
	Aborted    bool      `json:"aborted"`
	Error      string    `json:"error,omitempty"`
}

// NewReport starts an empty report for backend.
func NewReport(backend string, startedAt time.Time) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		Backend:   backend,
		StartedAt: startedAt,
		Entries:   []Entry{},
	}
}

// Add appends entry and updates the counts.
func (r *Report) Add(entry *Entry) {
	r.Entries = append(r.Entries, *entry)
	r.Counts.Total++

	switch entry.Outcome {
	case OutcomeCreated:
		r.Counts.Created++
	case OutcomeSkippedIncomplete:
		r.Counts.SkippedIncomplete++
	case OutcomeSkippedDuplicate:
		r.Counts.SkippedDuplicate++
	case OutcomeFailed:
		r.Counts.Failed++
	}

	if entry.PartiallyFailed() {
		r.Counts.PartiallyFailed++
	}
}

// Finish stamps the end of the run. A non-nil err marks a run-level failure.
func (r *Report) Finish(finishedAt time.Time, err error) {
	r.FinishedAt = finishedAt

	if err != nil {
		r.Error = err.Error()
	}
}

// Outcomes returns the (identifier, outcome) pairs in inventory order.
func (r *Report) Outcomes() [][2]string {
	out := make([][2]string, 0, len(r.Entries))

	for i := range r.Entries {
		out = append(out, [2]string{r.Entries[i].Identifier, string(r.Entries[i].Outcome)})
	}

	return out
}
