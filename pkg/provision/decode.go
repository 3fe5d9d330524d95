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
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// DecodeRecord decodes one inventory element. A malformed element does not
// fail the batch: the record comes back with DecodeErr set and whatever
// identity could be recovered, and Classify rejects it on its own.
func DecodeRecord(b []byte) RawDeviceRecord {
	var rec RawDeviceRecord

	if err := json.Unmarshal(b, &rec); err != nil {
		return InvalidRecord(b, "deviceCode", "deviceName", err)
	}

	return rec
}

// InvalidRecord builds the record for an element that failed to decode.
// codeField and nameField name the identity keys in the element.
func InvalidRecord(b []byte, codeField, nameField string, err error) RawDeviceRecord {
	rec := RawDeviceRecord{DecodeErr: decodeError(err)}

	var fields map[string]json.RawMessage
	if json.Unmarshal(b, &fields) != nil {
		return rec
	}

	var code DeviceCode
	if raw, ok := fields[codeField]; ok && json.Unmarshal(raw, &code) == nil {
		rec.DeviceCode = code
	}

	var name string
	if raw, ok := fields[nameField]; ok && json.Unmarshal(raw, &name) == nil {
		rec.DeviceName = name
	}

	return rec
}

func decodeError(err error) *ValidationError {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return &ValidationError{Field: typeErr.Field, Reason: "has unexpected " + typeErr.Value + " value"}
	}

	return &ValidationError{Field: "record", Reason: "is malformed: " + err.Error()}
}

// UnmarshalJSON accepts the type id as a JSON number or a numeric string.
func (t *DeviceType) UnmarshalJSON(b []byte) error {
	type plain DeviceType

	aux := struct {
		ID json.RawMessage `json:"id"`
		*plain
	}{plain: (*plain)(t)}

	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	id, err := parseTypeID(aux.ID)
	if err != nil {
		return err
	}

	t.ID = id

	return nil
}

func parseTypeID(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}

	lit := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &lit); err != nil {
			return 0, &ValidationError{Field: "deviceType.id", Reason: "must be an integer"}
		}

		lit = strings.TrimSpace(lit)
	}

	id, err := strconv.Atoi(lit)
	if err != nil {
		return 0, &ValidationError{Field: "deviceType.id", Reason: "must be an integer"}
	}

	return id, nil
}
