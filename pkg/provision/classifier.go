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
	"encoding/hex"
	"strings"
	"unicode"
)

const keyHexLength = 32

// Classifier turns raw inventory records into provisioning units. It is a
// pure function of its input and never touches the network.
type Classifier struct {
	gatewayTypeID int
}

// NewClassifier returns a Classifier that treats deviceType.id equal to
// gatewayTypeID as a gateway. Zero selects DefaultGatewayTypeID.
func NewClassifier(gatewayTypeID int) *Classifier {
	if gatewayTypeID == 0 {
		gatewayTypeID = DefaultGatewayTypeID
	}

	return &Classifier{gatewayTypeID: gatewayTypeID}
}

// Classify validates raw and returns the unit to provision. A record without
// join keys yields ErrIncomplete; malformed or undecodable records yield a
// *ValidationError.
func (c *Classifier) Classify(raw *RawDeviceRecord) (Unit, error) {
	if raw.DecodeErr != nil {
		return Unit{}, raw.DecodeErr
	}

	if isBlank(raw.ApplicationKey) || isBlank(raw.NetworkKey) {
		return Unit{}, ErrIncomplete
	}

	id := strings.TrimSpace(raw.DeviceCode.String())
	if id == "" {
		return Unit{}, &ValidationError{Field: "deviceCode", Reason: "is required"}
	}

	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return Unit{}, &ValidationError{Field: "deviceCode", Reason: "must not contain whitespace"}
	}

	if strings.TrimSpace(raw.DeviceName) == "" {
		return Unit{}, &ValidationError{Field: "deviceName", Reason: "is required"}
	}

	if raw.DeviceType == nil {
		return Unit{}, &ValidationError{Field: "deviceType", Reason: "is required"}
	}

	appKey, err := normalizeKey("applicationKey", *raw.ApplicationKey)
	if err != nil {
		return Unit{}, err
	}

	nwkKey, err := normalizeKey("networkKey", *raw.NetworkKey)
	if err != nil {
		return Unit{}, err
	}

	return Unit{
		Identifier:  id,
		DisplayName: raw.DeviceName,
		IsGateway:   raw.DeviceType.ID == c.gatewayTypeID,
		TypeID:      raw.DeviceType.ID,
		AppKey:      appKey,
		NwkKey:      nwkKey,
		ECN:         raw.ECN,
		Profile:     raw.Profile,
	}, nil
}

func isBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func normalizeKey(field, key string) (string, error) {
	key = strings.ToLower(strings.TrimSpace(key))

	if len(key) != keyHexLength {
		return "", &ValidationError{Field: field, Reason: "must be 32 hex characters"}
	}

	if _, err := hex.DecodeString(key); err != nil {
		return "", &ValidationError{Field: field, Reason: "is not valid hex"}
	}

	return key, nil
}
