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

// Package provision reconciles a C2 device inventory against a LoRaWAN
// registry: it classifies inventory records, builds the ordered registry
// operations for each device, executes them through an Adapter and reports
// the fate of every record.
package provision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultGatewayTypeID is the C2 taxonomy id for radio gateways.
const DefaultGatewayTypeID = 6149

// DefaultGatewayStatsInterval is the stats interval registered for gateways.
const DefaultGatewayStatsInterval = 30 * time.Second

// DeviceCode is the C2 device code. The C2 REST service emits purely numeric
// codes as JSON numbers, so both strings and numbers are accepted.
type DeviceCode string

func (c *DeviceCode) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)

	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}

		*c = DeviceCode(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return &ValidationError{Field: "deviceCode", Reason: "must be a string or number"}
	}

	lit := n.String()
	if strings.ContainsAny(lit, ".eE") {
		f, err := n.Float64()
		if err != nil {
			return fmt.Errorf("deviceCode: %w", err)
		}

		lit = strconv.FormatFloat(f, 'f', -1, 64)
	}

	*c = DeviceCode(lit)

	return nil
}

func (c DeviceCode) String() string {
	return string(c)
}

// DeviceType is the C2 classification of the physical device.
type DeviceType struct {
	ID   int    `json:"id"`
	Code string `json:"code,omitempty"`
	Name string `json:"name,omitempty"`
}

// RadioProfile is the device profile C2 attaches to bonded devices.
type RadioProfile struct {
	Region        string `json:"deviceRegion,omitempty"`
	SupportOTAA   bool   `json:"deviceSupportOTAA"`
	SupportClassB bool   `json:"deviceSupportClassB"`
	SupportClassC bool   `json:"deviceSupportClassC"`
}

// RawDeviceRecord is an untyped inventory entry as delivered by C2.
// Optional fields are pointers so that absence can be told apart from an
// empty value.
type RawDeviceRecord struct {
	DeviceCode     DeviceCode    `json:"deviceCode"`
	DeviceName     string        `json:"deviceName"`
	DeviceType     *DeviceType   `json:"deviceType"`
	ApplicationKey *string       `json:"applicationKey,omitempty"`
	NetworkKey     *string       `json:"networkKey,omitempty"`
	ECN            *float64      `json:"ecn,omitempty"`
	Profile        *RadioProfile `json:"profile,omitempty"`

	// DecodeErr is set when the element could not be decoded.
	DecodeErr *ValidationError `json:"-"`
}

// ApplicationContext is the per-run registry target. It is supplied by
// configuration and shared read-only by every unit.
type ApplicationContext struct {
	ApplicationID        string
	DeviceProfileID      string
	TenantID             string
	GatewayStatsInterval time.Duration
}

// Unit is a classified, validated inventory record ready to provision.
type Unit struct {
	Identifier  string
	DisplayName string
	IsGateway   bool
	TypeID      int
	AppKey      string
	NwkKey      string
	ECN         *float64
	Profile     *RadioProfile
}

// OperationKind names a registry operation.
type OperationKind int

const (
	OpCreateGateway OperationKind = iota + 1
	OpCreateDevice
	OpCreateDeviceKeys
)

func (k OperationKind) String() string {
	switch k {
	case OpCreateGateway:
		return "create_gateway"
	case OpCreateDevice:
		return "create_device"
	case OpCreateDeviceKeys:
		return "create_device_keys"
	default:
		return "unknown"
	}
}

func (k OperationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *OperationKind) UnmarshalText(b []byte) error {
	for _, c := range []OperationKind{OpCreateGateway, OpCreateDevice, OpCreateDeviceKeys} {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}

	return fmt.Errorf("%w: %q", errUnknownName, b)
}

// GatewaySpec is the payload of OpCreateGateway.
type GatewaySpec struct {
	GatewayID     string
	Name          string
	StatsInterval time.Duration
}

// DeviceSpec is the payload of OpCreateDevice.
type DeviceSpec struct {
	DevEUI  string
	Name    string
	TypeID  int
	ECN     *float64
	Profile *RadioProfile
}

// KeysSpec is the payload of OpCreateDeviceKeys.
type KeysSpec struct {
	DevEUI string
	AppKey string
	NwkKey string
}

// Operation is one backend-agnostic registry step. Exactly one of the
// payload pointers is set, matching Kind. Requires names the step of the
// same unit that must have succeeded (created or duplicate) first; zero
// means the step is independent.
type Operation struct {
	Kind     OperationKind
	Requires OperationKind
	Gateway  *GatewaySpec
	Device   *DeviceSpec
	Keys     *KeysSpec
}

// Identifier returns the registry identifier the operation targets.
func (o Operation) Identifier() string {
	switch {
	case o.Gateway != nil:
		return o.Gateway.GatewayID
	case o.Device != nil:
		return o.Device.DevEUI
	case o.Keys != nil:
		return o.Keys.DevEUI
	default:
		return ""
	}
}

// StepStatus is the normalized result of one registry operation.
type StepStatus int

const (
	StepCreated StepStatus = iota + 1
	StepDuplicate
	StepFailed
	StepSkipped
)

func (s StepStatus) String() string {
	switch s {
	case StepCreated:
		return "created"
	case StepDuplicate:
		return "duplicate"
	case StepFailed:
		return "failed"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

func (s StepStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *StepStatus) UnmarshalText(b []byte) error {
	for _, c := range []StepStatus{StepCreated, StepDuplicate, StepFailed, StepSkipped} {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}

	return fmt.Errorf("%w: %q", errUnknownName, b)
}

// succeeded reports whether dependents of the step may run.
func (s StepStatus) succeeded() bool {
	return s == StepCreated || s == StepDuplicate
}
