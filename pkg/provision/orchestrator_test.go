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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/loraprov/pkg/logger"
)

type kindMatcher OperationKind

func (m kindMatcher) Matches(x any) bool {
	op, ok := x.(Operation)
	return ok && op.Kind == OperationKind(m)
}

func (m kindMatcher) String() string {
	return "is operation " + OperationKind(m).String()
}

func opOf(kind OperationKind, id string) gomock.Matcher {
	return gomock.Cond(func(x any) bool {
		op, ok := x.(Operation)
		return ok && op.Kind == kind && op.Identifier() == id
	})
}

var testApp = ApplicationContext{
	ApplicationID:   "6e4e3e2c-9a3b-4e8e-8b6f-0d1c2b3a4f5e",
	DeviceProfileID: "0b1c2d3e-4f50-6172-8394-a5b6c7d8e9f0",
	TenantID:        "52f14cd4-c6f1-4fbd-8f87-4025e1d49242",
}

func newTestOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, *MockAdapter) {
	t.Helper()

	ctrl := gomock.NewController(t)
	adapter := NewMockAdapter(ctrl)
	adapter.EXPECT().Name().Return("fake").AnyTimes()

	return NewOrchestrator(adapter, testApp, logger.NewTestLogger(), opts...), adapter
}

func registryErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrRegistry, msg)
}

func TestRun_ScenarioA_EndDeviceCreated(t *testing.T) {
	o, adapter := newTestOrchestrator(t)

	gomock.InOrder(
		adapter.EXPECT().Execute(gomock.Any(), kindMatcher(OpCreateDevice), testApp).Return(StepCreated, nil),
		adapter.EXPECT().Execute(gomock.Any(), kindMatcher(OpCreateDeviceKeys), testApp).Return(StepCreated, nil),
	)

	report, err := o.Run(context.Background(), []RawDeviceRecord{testRecord("AABBCC", 1)})
	require.NoError(t, err)

	assert.Equal(t, [][2]string{{"AABBCC", "created"}}, report.Outcomes())
	assert.Equal(t, 1, report.Counts.Created)
	assert.False(t, report.Aborted)
	assert.Equal(t, "fake", report.Backend)
	assert.NotEmpty(t, report.RunID)
}

func TestRun_ScenarioB_GatewayOrder(t *testing.T) {
	o, adapter := newTestOrchestrator(t)

	gomock.InOrder(
		adapter.EXPECT().Execute(gomock.Any(), opOf(OpCreateGateway, "AABBCC"), testApp).Return(StepCreated, nil),
		adapter.EXPECT().Execute(gomock.Any(), opOf(OpCreateDevice, "AABBCC"), testApp).Return(StepCreated, nil),
		adapter.EXPECT().Execute(gomock.Any(), opOf(OpCreateDeviceKeys, "AABBCC"), testApp).Return(StepCreated, nil),
	)

	report, err := o.Run(context.Background(), []RawDeviceRecord{testRecord("AABBCC", DefaultGatewayTypeID)})
	require.NoError(t, err)

	require.Len(t, report.Entries, 1)
	assert.True(t, report.Entries[0].Gateway)
	assert.Equal(t, OutcomeCreated, report.Entries[0].Outcome)
	assert.Len(t, report.Entries[0].Steps, 3)
}

func TestRun_ScenarioC_IncompleteSkipped(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	rec := testRecord("AABBCC", 1)
	rec.NetworkKey = nil

	report, err := o.Run(context.Background(), []RawDeviceRecord{rec})
	require.NoError(t, err)

	assert.Equal(t, [][2]string{{"AABBCC", "skipped_incomplete"}}, report.Outcomes())
	assert.Empty(t, report.Entries[0].Steps)
}

func TestRun_ScenarioD_DuplicateStillAttemptsKeys(t *testing.T) {
	o, adapter := newTestOrchestrator(t)

	gomock.InOrder(
		adapter.EXPECT().Execute(gomock.Any(), kindMatcher(OpCreateDevice), testApp).Return(StepDuplicate, nil),
		adapter.EXPECT().Execute(gomock.Any(), kindMatcher(OpCreateDeviceKeys), testApp).Return(StepCreated, nil),
	)

	report, err := o.Run(context.Background(), []RawDeviceRecord{testRecord("AABBCC", 1)})
	require.NoError(t, err)

	assert.Equal(t, [][2]string{{"AABBCC", "skipped_duplicate"}}, report.Outcomes())
	assert.Equal(t, 1, report.Counts.SkippedDuplicate)
}

func TestRun_ScenarioE_UnavailableAborts(t *testing.T) {
	o, adapter := newTestOrchestrator(t)

	adapter.EXPECT().
		Execute(gomock.Any(), kindMatcher(OpCreateDevice), testApp).
		Return(StepFailed, fmt.Errorf("%w: connection refused", ErrUnavailable)).
		Times(1)

	records := []RawDeviceRecord{
		testRecord("AABBCC", 1),
		testRecord("BBCCDD", 1),
		testRecord("CCDDEE", DefaultGatewayTypeID),
	}

	report, err := o.Run(context.Background(), records)
	require.ErrorIs(t, err, ErrUnavailable)

	require.Len(t, report.Entries, len(records))
	assert.True(t, report.Aborted)
	assert.NotEmpty(t, report.Error)
	assert.Zero(t, report.Counts.Created)
	assert.Equal(t, 3, report.Counts.Failed)

	assert.Equal(t, []StepResult{
		{Operation: OpCreateDevice, Status: StepFailed, Attempts: 1, Error: "registry unavailable: connection refused"},
	}, report.Entries[0].Steps)

	for _, e := range report.Entries[1:] {
		assert.Equal(t, ReasonNotAttempted, e.Reason)
		assert.Empty(t, e.Steps)
	}
}

func TestRun_UnavailableOnGatewayAborts(t *testing.T) {
	o, adapter := newTestOrchestrator(t)

	adapter.EXPECT().
		Execute(gomock.Any(), kindMatcher(OpCreateGateway), testApp).
		Return(StepFailed, ErrUnavailable)

	report, err := o.Run(context.Background(), []RawDeviceRecord{testRecord("AABBCC", DefaultGatewayTypeID)})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, OutcomeFailed, report.Entries[0].Outcome)
	assert.Equal(t, ErrUnavailable.Error(), report.Entries[0].Reason)
}

func TestRun_GatewayFailureDoesNotBlockDevice(t *testing.T) {
	o, adapter := newTestOrchestrator(t)

	gomock.InOrder(
		adapter.EXPECT().Execute(gomock.Any(), kindMatcher(OpCreateGateway), testApp).Return(StepFailed, registryErr("bad gateway")),
		adapter.EXPECT().Execute(gomock.Any(), kindMatcher(OpCreateDevice), testApp).Return(StepCreated, nil),
		adapter.EXPECT().Execute(gomock.Any(), kindMatcher(OpCreateDeviceKeys), testApp).Return(StepCreated, nil),
	)

	report, err := o.Run(context.Background(), []RawDeviceRecord{testRecord("AABBCC", DefaultGatewayTypeID)})
	require.NoError(t, err)

	entry := report.Entries[0]
	assert.Equal(t, OutcomeCreated, entry.Outcome)
	assert.True(t, entry.PartiallyFailed())
	assert.Equal(t, 1, report.Counts.PartiallyFailed)
}

func TestRun_DeviceFailureSkipsKeysAndIsolatesUnits(t *testing.T) {
	o, adapter := newTestOrchestrator(t)

	gomock.InOrder(
		adapter.EXPECT().Execute(gomock.Any(), opOf(OpCreateDevice, "AABBCC"), testApp).Return(StepFailed, registryErr("profile not found")),
		adapter.EXPECT().Execute(gomock.Any(), opOf(OpCreateDevice, "BBCCDD"), testApp).Return(StepCreated, nil),
		adapter.EXPECT().Execute(gomock.Any(), opOf(OpCreateDeviceKeys, "BBCCDD"), testApp).Return(StepCreated, nil),
	)

	report, err := o.Run(context.Background(), []RawDeviceRecord{testRecord("AABBCC", 1), testRecord("BBCCDD", 1)})
	require.NoError(t, err)

	assert.Equal(t, [][2]string{{"AABBCC", "failed"}, {"BBCCDD", "created"}}, report.Outcomes())
	assert.Equal(t, "create_device: registry rejected operation: profile not found", report.Entries[0].Reason)
	assert.Equal(t, StepSkipped, report.Entries[0].Steps[1].Status)
}

func TestRun_KeysFailure(t *testing.T) {
	o, adapter := newTestOrchestrator(t)

	gomock.InOrder(
		adapter.EXPECT().Execute(gomock.Any(), kindMatcher(OpCreateDevice), testApp).Return(StepDuplicate, nil),
		adapter.EXPECT().Execute(gomock.Any(), kindMatcher(OpCreateDeviceKeys), testApp).Return(StepFailed, registryErr("bad key")),
	)

	report, err := o.Run(context.Background(), []RawDeviceRecord{testRecord("AABBCC", 1)})
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, report.Entries[0].Outcome)
	assert.Contains(t, report.Entries[0].Reason, "create_device_keys")
}

func TestRun_ValidationFailureMakesNoCalls(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	rec := testRecord("AABBCC", 1)
	rec.ApplicationKey = strPtr("nothex")

	report, err := o.Run(context.Background(), []RawDeviceRecord{rec})
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, report.Entries[0].Outcome)
	assert.Contains(t, report.Entries[0].Reason, "applicationKey")
}

func TestRun_UndecodableRecordFailsAlone(t *testing.T) {
	o, adapter := newTestOrchestrator(t)

	gomock.InOrder(
		adapter.EXPECT().Execute(gomock.Any(), kindMatcher(OpCreateDevice), testApp).Return(StepCreated, nil),
		adapter.EXPECT().Execute(gomock.Any(), kindMatcher(OpCreateDeviceKeys), testApp).Return(StepCreated, nil),
	)

	records := []RawDeviceRecord{
		DecodeRecord([]byte(`{"deviceCode":"BAD1","deviceName":"V0","deviceType":{"id":1},"applicationKey":12345}`)),
		testRecord("AABBCC", 1),
	}

	report, err := o.Run(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, report.Entries, 2)

	assert.Equal(t, "BAD1", report.Entries[0].Identifier)
	assert.Equal(t, OutcomeFailed, report.Entries[0].Outcome)
	assert.Contains(t, report.Entries[0].Reason, "applicationKey")
	assert.Empty(t, report.Entries[0].Steps)

	assert.Equal(t, OutcomeCreated, report.Entries[1].Outcome)
	assert.False(t, report.Aborted)
}

func TestRun_RetriesRegistryErrors(t *testing.T) {
	o, adapter := newTestOrchestrator(t, WithRetry(RetryPolicy{MaxAttempts: 3}))

	gomock.InOrder(
		adapter.EXPECT().Execute(gomock.Any(), kindMatcher(OpCreateDevice), testApp).Return(StepFailed, registryErr("busy")),
		adapter.EXPECT().Execute(gomock.Any(), kindMatcher(OpCreateDevice), testApp).Return(StepCreated, nil),
		adapter.EXPECT().Execute(gomock.Any(), kindMatcher(OpCreateDeviceKeys), testApp).Return(StepDuplicate, nil),
	)

	report, err := o.Run(context.Background(), []RawDeviceRecord{testRecord("AABBCC", 1)})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, report.Entries[0].Outcome)
	assert.Equal(t, 2, report.Entries[0].Steps[0].Attempts)
}

func TestRun_DoesNotRetryUnavailable(t *testing.T) {
	o, adapter := newTestOrchestrator(t, WithRetry(RetryPolicy{MaxAttempts: 5, Backoff: time.Hour}))

	adapter.EXPECT().
		Execute(gomock.Any(), kindMatcher(OpCreateDevice), testApp).
		Return(StepFailed, ErrUnavailable).
		Times(1)

	_, err := o.Run(context.Background(), []RawDeviceRecord{testRecord("AABBCC", 1)})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestRun_CanceledContext(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := o.Run(ctx, []RawDeviceRecord{testRecord("AABBCC", 1), testRecord("BBCCDD", 1)})
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, report.Entries, 2)
	assert.Equal(t, 2, report.Counts.Failed)
}

// registryFake is an in-memory registry that reports existing entities as duplicates.
type registryFake struct {
	devices  map[string]bool
	keys     map[string]bool
	gateways map[string]bool
}

func (*registryFake) Name() string { return "memory" }

func (r *registryFake) Execute(_ context.Context, op Operation, _ ApplicationContext) (StepStatus, error) {
	var set map[string]bool

	switch op.Kind {
	case OpCreateGateway:
		set = r.gateways
	case OpCreateDevice:
		set = r.devices
	case OpCreateDeviceKeys:
		if !r.devices[op.Identifier()] {
			return StepFailed, registryErr("device does not exist")
		}

		set = r.keys
	}

	if set[op.Identifier()] {
		return StepDuplicate, nil
	}

	set[op.Identifier()] = true

	return StepCreated, nil
}

func TestRun_IdempotentRerun(t *testing.T) {
	reg := &registryFake{devices: map[string]bool{}, keys: map[string]bool{}, gateways: map[string]bool{}}
	metrics := NewInMemoryMetrics(logger.NewTestLogger())
	o := NewOrchestrator(reg, testApp, logger.NewTestLogger(), WithMetrics(metrics))

	records := []RawDeviceRecord{
		testRecord("AABBCC", 1),
		testRecord("0102030405060708", DefaultGatewayTypeID),
	}

	first, err := o.Run(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Counts.Created)

	second, err := o.Run(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Counts.SkippedDuplicate)
	assert.Zero(t, second.Counts.Failed)

	assert.Equal(t, 2, metrics.StepCount("memory", OpCreateDevice, StepCreated))
	assert.Equal(t, 2, metrics.StepCount("memory", OpCreateDevice, StepDuplicate))
	assert.Equal(t, 1, metrics.StepCount("memory", OpCreateGateway, StepDuplicate))
	assert.Equal(t, 2, metrics.OutcomeCount(OutcomeSkippedDuplicate))
}

func TestRun_ReportCoversEveryRecord(t *testing.T) {
	reg := &registryFake{devices: map[string]bool{}, keys: map[string]bool{}, gateways: map[string]bool{}}
	o := NewOrchestrator(reg, testApp, logger.NewTestLogger())

	incomplete := testRecord("DDEEFF", 1)
	incomplete.ApplicationKey = nil

	invalid := testRecord("", 1)

	records := []RawDeviceRecord{testRecord("AABBCC", 1), incomplete, invalid, testRecord("AABBCC", 1)}

	report, err := o.Run(context.Background(), records)
	require.NoError(t, err)

	require.Len(t, report.Entries, len(records))

	for i, e := range report.Entries {
		assert.Equal(t, i, e.Index)
	}

	assert.Equal(t, Counts{Total: 4, Created: 1, SkippedIncomplete: 1, SkippedDuplicate: 1, Failed: 1}, report.Counts)
}
