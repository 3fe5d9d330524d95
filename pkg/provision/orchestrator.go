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
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/carverauto/loraprov/pkg/logger"
)

const tracerName = "github.com/carverauto/loraprov/pkg/provision"

// RetryPolicy bounds retries of steps the registry rejected. Duplicates and
// unavailability are never retried.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}

	return p.MaxAttempts
}

// Orchestrator drives every inventory record through classification,
// request building and step execution, strictly one unit at a time.
type Orchestrator struct {
	adapter    Adapter
	app        ApplicationContext
	classifier *Classifier
	retry      RetryPolicy
	metrics    Metrics
	logger     logger.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRetry sets the retry policy.
func WithRetry(p RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithGatewayTypeID overrides the deviceType.id that marks gateways.
func WithGatewayTypeID(id int) Option {
	return func(o *Orchestrator) { o.classifier = NewClassifier(id) }
}

// WithTracer overrides the tracer, which defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// NewOrchestrator creates an orchestrator executing against adapter.
func NewOrchestrator(adapter Adapter, app ApplicationContext, log logger.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapter:    adapter,
		app:        app,
		classifier: NewClassifier(DefaultGatewayTypeID),
		metrics:    NoOpMetrics{},
		logger:     log,
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Run provisions records in order and returns a report with one entry per
// record. Per-unit failures only show up in the report. The returned error
// is non-nil only when the registry became unavailable or ctx ended, in
// which case the remaining records are marked not attempted.
func (o *Orchestrator) Run(ctx context.Context, records []RawDeviceRecord) (*Report, error) {
	started := o.now()
	report := NewReport(o.adapter.Name(), started)

	ctx, span := o.tracer.Start(ctx, "provision.run", trace.WithAttributes(
		attribute.String("backend", report.Backend),
		attribute.String("run_id", report.RunID),
		attribute.Int("records", len(records)),
	))
	defer span.End()

	var runErr error

	for i := range records {
		if runErr == nil {
			if err := ctx.Err(); err != nil {
				runErr = err
			}
		}

		if runErr != nil {
			report.Add(&Entry{
				Index:      i,
				Identifier: records[i].DeviceCode.String(),
				Name:       records[i].DeviceName,
				Outcome:    OutcomeFailed,
				Reason:     notAttemptedReason(runErr),
			})

			continue
		}

		entry, err := o.provision(ctx, i, &records[i])
		report.Add(&entry)

		if err != nil {
			runErr = err

			o.logger.Error().
				Err(err).
				Str("backend", report.Backend).
				Int("remaining", len(records)-i-1).
				Msg("Aborting run")
		}
	}

	report.Aborted = runErr != nil
	report.Finish(o.now(), runErr)
	o.metrics.RecordRun(report, report.FinishedAt.Sub(started))

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(otelcodes.Error, runErr.Error())
	}

	o.logger.Info().
		Str("backend", report.Backend).
		Str("run_id", report.RunID).
		Int("total", report.Counts.Total).
		Int("created", report.Counts.Created).
		Int("skipped_incomplete", report.Counts.SkippedIncomplete).
		Int("skipped_duplicate", report.Counts.SkippedDuplicate).
		Int("failed", report.Counts.Failed).
		Bool("aborted", report.Aborted).
		Msg("Provisioning run finished")

	return report, runErr
}

func notAttemptedReason(err error) string {
	if errors.Is(err, ErrUnavailable) {
		return ReasonNotAttempted
	}

	return "not attempted: " + err.Error()
}

// provision handles one record. The returned error is set only for
// run-level failures.
func (o *Orchestrator) provision(ctx context.Context, index int, raw *RawDeviceRecord) (Entry, error) {
	entry := Entry{
		Index:      index,
		Identifier: raw.DeviceCode.String(),
		Name:       raw.DeviceName,
	}

	unit, err := o.classifier.Classify(raw)
	if errors.Is(err, ErrIncomplete) {
		entry.Outcome = OutcomeSkippedIncomplete

		o.logger.Debug().
			Str("dev_eui", entry.Identifier).
			Str("device_name", entry.Name).
			Msg("Skipping record without join keys")

		return entry, nil
	}

	if err != nil {
		entry.Outcome = OutcomeFailed
		entry.Reason = err.Error()

		o.logger.Warn().
			Err(err).
			Int("index", index).
			Str("dev_eui", entry.Identifier).
			Msg("Rejecting invalid inventory record")

		return entry, nil
	}

	entry.Identifier = unit.Identifier
	entry.Gateway = unit.IsGateway

	ctx, span := o.tracer.Start(ctx, "provision.unit", trace.WithAttributes(
		attribute.String("dev_eui", unit.Identifier),
		attribute.Bool("gateway", unit.IsGateway),
	))
	defer span.End()

	runErr := o.executeSteps(ctx, &entry, Build(&unit, o.app))

	entry.Outcome, entry.Reason = resolveOutcome(entry.Steps)
	if runErr != nil {
		entry.Outcome, entry.Reason = OutcomeFailed, runErr.Error()
	}

	if entry.Outcome == OutcomeFailed {
		span.SetStatus(otelcodes.Error, entry.Reason)

		o.logger.Warn().
			Str("dev_eui", entry.Identifier).
			Str("device_name", entry.Name).
			Str("reason", entry.Reason).
			Msg("Unit provisioning failed")

		return entry, runErr
	}

	o.logger.Info().
		Str("dev_eui", entry.Identifier).
		Str("device_name", entry.Name).
		Str("outcome", string(entry.Outcome)).
		Bool("partial", entry.PartiallyFailed()).
		Msg("Unit provisioned")

	return entry, nil
}

// executeSteps runs ops in order. A step whose Requires step did not
// succeed is recorded as skipped.
func (o *Orchestrator) executeSteps(ctx context.Context, entry *Entry, ops []Operation) error {
	done := make(map[OperationKind]StepStatus, len(ops))

	for _, op := range ops {
		if op.Requires != 0 && !done[op.Requires].succeeded() {
			entry.Steps = append(entry.Steps, StepResult{Operation: op.Kind, Status: StepSkipped})
			o.metrics.RecordStep(o.adapter.Name(), op.Kind, StepSkipped, 0)

			continue
		}

		result, err := o.execute(ctx, op)
		entry.Steps = append(entry.Steps, result)
		done[op.Kind] = result.Status

		if errors.Is(err, ErrUnavailable) {
			return err
		}

		if err != nil && op.Kind == OpCreateGateway {
			o.logger.Warn().
				Err(err).
				Str("gateway_id", op.Identifier()).
				Msg("Gateway registration failed, continuing with device")
		}
	}

	return nil
}

// execute runs a single operation, retrying registry rejections.
func (o *Orchestrator) execute(ctx context.Context, op Operation) (StepResult, error) {
	ctx, span := o.tracer.Start(ctx, "provision."+op.Kind.String(), trace.WithAttributes(
		attribute.String("identifier", op.Identifier()),
	))
	defer span.End()

	start := o.now()
	result := StepResult{Operation: op.Kind}

	var err error

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt
		result.Status, err = o.adapter.Execute(ctx, op, o.app)

		if err == nil || !o.retryable(err, attempt) {
			break
		}

		o.logger.Debug().
			Err(err).
			Str("operation", op.Kind.String()).
			Str("identifier", op.Identifier()).
			Int("attempt", attempt).
			Msg("Retrying registry operation")

		if waitErr := sleepCtx(ctx, o.retry.Backoff); waitErr != nil {
			break
		}
	}

	if err != nil {
		result.Status = StepFailed
		result.Error = err.Error()

		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}

	span.SetAttributes(attribute.String("status", result.Status.String()))
	o.metrics.RecordStep(o.adapter.Name(), op.Kind, result.Status, o.now().Sub(start))

	return result, err
}

func (o *Orchestrator) retryable(err error, attempt int) bool {
	if attempt >= o.retry.attempts() {
		return false
	}

	return errors.Is(err, ErrRegistry) && !errors.Is(err, ErrUnavailable)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// resolveOutcome derives the record outcome from its device and keys
// steps. Gateway results never decide the outcome.
func resolveOutcome(steps []StepResult) (Outcome, string) {
	var device, keys *StepResult

	for i := range steps {
		switch steps[i].Operation {
		case OpCreateDevice:
			device = &steps[i]
		case OpCreateDeviceKeys:
			keys = &steps[i]
		case OpCreateGateway:
		}
	}

	switch {
	case device == nil:
		return OutcomeFailed, "create_device: not executed"
	case device.Status == StepFailed:
		return OutcomeFailed, fmt.Sprintf("%s: %s", OpCreateDevice, device.Error)
	case keys != nil && keys.Status == StepFailed:
		return OutcomeFailed, fmt.Sprintf("%s: %s", OpCreateDeviceKeys, keys.Error)
	case device.Status == StepDuplicate:
		return OutcomeSkippedDuplicate, ""
	default:
		return OutcomeCreated, ""
	}
}
