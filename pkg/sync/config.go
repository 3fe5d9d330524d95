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

// Package sync wires an inventory source, a registry backend, and the
// provisioning orchestrator into a reconcile service.
package sync

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/loraprov/pkg/inventory"
	"github.com/carverauto/loraprov/pkg/logger"
	"github.com/carverauto/loraprov/pkg/models"
	"github.com/carverauto/loraprov/pkg/natsutil"
	"github.com/carverauto/loraprov/pkg/provision"
	"github.com/carverauto/loraprov/pkg/registry/simulator"
)

const (
	BackendChirpStack = "chirpstack"
	BackendSimulator  = "simulator"

	defaultCallTimeout = 10 * time.Second
)

var (
	errMissingBackend    = errors.New("backend is required")
	errUnknownBackend    = errors.New("unknown backend")
	errMissingEndpoint   = errors.New("inventory.endpoint is required")
	errUnknownMode       = errors.New("unknown inventory.mode")
	errMissingMGDevice   = errors.New("inventory.mg_device_id is required in websocket mode")
	errMissingChirpStack = errors.New("chirpstack.address and chirpstack.api_token are required")
	errMissingSimulator  = errors.New("simulator.base_url is required")
	errInvalidUUID       = errors.New("must be a UUID")
	errNegativeInterval  = errors.New("run_interval must not be negative")
)

// ApplicationConfig identifies where devices are created.
type ApplicationConfig struct {
	ApplicationID        string          `json:"application_id" yaml:"application_id"`
	DeviceProfileID      string          `json:"device_profile_id" yaml:"device_profile_id"`
	TenantID             string          `json:"tenant_id" yaml:"tenant_id"`
	GatewayTypeID        int             `json:"gateway_type_id" yaml:"gateway_type_id"`
	GatewayStatsInterval models.Duration `json:"gateway_stats_interval" yaml:"gateway_stats_interval"`
}

// Context converts the settings into the orchestrator's run context.
func (a *ApplicationConfig) Context() provision.ApplicationContext {
	return provision.ApplicationContext{
		ApplicationID:        a.ApplicationID,
		DeviceProfileID:      a.DeviceProfileID,
		TenantID:             a.TenantID,
		GatewayStatsInterval: time.Duration(a.GatewayStatsInterval),
	}
}

// ChirpStackConfig configures the network-server backend.
type ChirpStackConfig struct {
	Address     string                 `json:"address" yaml:"address"`
	APIToken    string                 `json:"api_token" yaml:"api_token"`
	CallTimeout models.Duration        `json:"call_timeout" yaml:"call_timeout"`
	Security    *models.SecurityConfig `json:"security,omitempty" yaml:"security,omitempty"`
}

// SimulatorConfig configures the simulator backend.
type SimulatorConfig struct {
	BaseURL             string          `json:"base_url" yaml:"base_url"`
	APIToken            string          `json:"api_token" yaml:"api_token"`
	StartAfterProvision bool            `json:"start_after_provision" yaml:"start_after_provision"`
	Timeout             models.Duration `json:"timeout" yaml:"timeout"`
	PayloadDirs         map[int]string  `json:"payload_dirs" yaml:"payload_dirs"`
	simulator.Config    `yaml:",inline"`
}

// RetryConfig bounds per-step retries of registry rejections.
type RetryConfig struct {
	MaxAttempts int             `json:"max_attempts" yaml:"max_attempts"`
	Backoff     models.Duration `json:"backoff" yaml:"backoff"`
}

// HTTPConfig enables the status server.
type HTTPConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

// Config is the provisioner's configuration file.
type Config struct {
	Backend     string                `json:"backend" yaml:"backend"`
	Inventory   inventory.Config      `json:"inventory" yaml:"inventory"`
	Application ApplicationConfig     `json:"application" yaml:"application"`
	ChirpStack  *ChirpStackConfig     `json:"chirpstack,omitempty" yaml:"chirpstack,omitempty"`
	Simulator   *SimulatorConfig      `json:"simulator,omitempty" yaml:"simulator,omitempty"`
	Retry       RetryConfig           `json:"retry" yaml:"retry"`
	RunInterval models.Duration       `json:"run_interval" yaml:"run_interval"`
	NATS        *natsutil.Config      `json:"nats,omitempty" yaml:"nats,omitempty"`
	HTTP        *HTTPConfig           `json:"http,omitempty" yaml:"http,omitempty"`
	Logging     *logger.Config        `json:"logging,omitempty" yaml:"logging,omitempty"`
	Tracing     *logger.TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// Validate fills defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))

	if c.Backend == "" {
		return errMissingBackend
	}

	if err := c.validateInventory(); err != nil {
		return err
	}

	if c.Application.GatewayTypeID == 0 {
		c.Application.GatewayTypeID = provision.DefaultGatewayTypeID
	}

	if c.Application.GatewayStatsInterval <= 0 {
		c.Application.GatewayStatsInterval = models.Duration(provision.DefaultGatewayStatsInterval)
	}

	if c.Retry.MaxAttempts < 1 {
		c.Retry.MaxAttempts = 1
	}

	if c.RunInterval < 0 {
		return errNegativeInterval
	}

	switch c.Backend {
	case BackendChirpStack:
		return c.validateChirpStack()
	case BackendSimulator:
		return c.validateSimulator()
	default:
		return fmt.Errorf("%w: %q (expected %q or %q)", errUnknownBackend, c.Backend, BackendChirpStack, BackendSimulator)
	}
}

func (c *Config) validateInventory() error {
	if c.Inventory.Endpoint == "" {
		return errMissingEndpoint
	}

	switch c.Inventory.Mode {
	case "":
		c.Inventory.Mode = inventory.ModeREST
	case inventory.ModeREST:
	case inventory.ModeWebSocket:
		if c.Inventory.MGDeviceID == "" {
			return errMissingMGDevice
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownMode, c.Inventory.Mode)
	}

	return nil
}

func (c *Config) validateChirpStack() error {
	if c.ChirpStack == nil || c.ChirpStack.Address == "" || c.ChirpStack.APIToken == "" {
		return errMissingChirpStack
	}

	if c.ChirpStack.CallTimeout <= 0 {
		c.ChirpStack.CallTimeout = models.Duration(defaultCallTimeout)
	}

	ids := []struct{ name, value string }{
		{"application.application_id", c.Application.ApplicationID},
		{"application.device_profile_id", c.Application.DeviceProfileID},
		{"application.tenant_id", c.Application.TenantID},
	}

	for _, id := range ids {
		if _, err := uuid.Parse(id.value); err != nil {
			return fmt.Errorf("%s %w: %q", id.name, errInvalidUUID, id.value)
		}
	}

	return nil
}

func (c *Config) validateSimulator() error {
	if c.Simulator == nil || c.Simulator.BaseURL == "" {
		return errMissingSimulator
	}

	if c.Simulator.Timeout <= 0 {
		c.Simulator.Timeout = models.Duration(defaultCallTimeout)
	}

	c.Simulator.Config = c.Simulator.Config.WithDefaults()

	return nil
}

// RetryPolicy converts the retry settings.
func (c *Config) RetryPolicy() provision.RetryPolicy {
	return provision.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		Backoff:     time.Duration(c.Retry.Backoff),
	}
}
