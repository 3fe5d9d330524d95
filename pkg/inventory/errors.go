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

// Package inventory fetches the device inventory from the C2 service.
package inventory

import "errors"

var (
	errUnexpectedStatusCode = errors.New("unexpected status code")
	errDeviceFieldMissing   = errors.New("response has no Device field")
	// ErrBatchLost is returned when the C2 WebSocket skips a batch sequence number.
	ErrBatchLost = errors.New("bonded device batch lost")
	// ErrUnexpectedMessage is returned for WebSocket messages that are not device batches.
	ErrUnexpectedMessage = errors.New("unexpected C2 message type")
	// ErrUnsupportedMode is returned by New for unknown inventory modes.
	ErrUnsupportedMode = errors.New("unsupported inventory mode")
)
