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

//go:generate mockgen -destination=mock_provision.go -package=provision github.com/carverauto/loraprov/pkg/provision Adapter,InventorySource,ReportSink

import (
	"context"
)

// Adapter executes single registry operations against one backend.
// Implementations never retry. A nil error comes with StepCreated or
// StepDuplicate; failures return StepFailed and an error wrapping
// ErrRegistry or ErrUnavailable.
type Adapter interface {
	Name() string
	Execute(ctx context.Context, op Operation, app ApplicationContext) (StepStatus, error)
}

// Starter is implemented by adapters whose backend must be told to begin
// work once provisioning is finished.
type Starter interface {
	Start(ctx context.Context) error
}

// InventorySource fetches the C2 inventory. Failures wrap ErrTransport.
type InventorySource interface {
	Name() string
	Fetch(ctx context.Context) ([]RawDeviceRecord, error)
}

// ReportSink receives finished reports.
type ReportSink interface {
	Publish(ctx context.Context, report *Report) error
}
