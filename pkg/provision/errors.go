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
	"errors"
	"fmt"
)

var (
	// ErrIncomplete marks a record that is not provisionable yet because it
	// has no join keys. It is a skip, never a failure.
	ErrIncomplete = errors.New("record has no join keys")
	// ErrValidation marks a record with missing required fields or malformed values.
	ErrValidation = errors.New("invalid inventory record")
	// ErrRegistry marks an operation the registry rejected.
	ErrRegistry = errors.New("registry rejected operation")
	// ErrUnavailable marks a registry backend that cannot be reached. It
	// aborts the remaining batch.
	ErrUnavailable = errors.New("registry unavailable")
	// ErrTransport marks an inventory fetch failure.
	ErrTransport = errors.New("inventory transport error")

	errUnknownName = errors.New("unknown name")
)

// ValidationError describes why a record failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (*ValidationError) Unwrap() error {
	return ErrValidation
}
