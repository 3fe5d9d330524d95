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

// Package simulator implements the registry adapter for the LWN simulator
// REST API.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/carverauto/loraprov/pkg/logger"
	"github.com/carverauto/loraprov/pkg/provision"
	"github.com/carverauto/loraprov/pkg/transport"
)

const (
	addDevicePath  = "/api/add-device"
	addGatewayPath = "/api/add-gateway"
	startPath      = "/api/start"

	zeroSessionKey   = "00000000000000000000000000000000"
	zeroDevAddr      = "00000000"
	rx2FreqDownlink  = 869525000
	deviceRange      = 10000
	gatewayKeepAlive = 30

	deviceLatitudeStep  = 25
	gatewayLatitudeBase = 500
	gatewayLatitudeStep = 1000
)

var (
	errUnsupportedOperation = errors.New("unsupported operation")
	errDeviceNotStaged      = errors.New("device was not created before its keys")
	errUnexpectedStatus     = errors.New("unexpected status code")
)

// Config holds the simulator device template.
type Config struct {
	Region       string `json:"region" yaml:"region"`
	SendInterval int    `json:"send_interval" yaml:"send_interval"`
	AckTimeout   int    `json:"ack_timeout" yaml:"ack_timeout"`
	RXDelay      int    `json:"rx_delay" yaml:"rx_delay"`
	RXDuration   int    `json:"rx_duration_open" yaml:"rx_duration_open"`
	DataRate     int    `json:"data_rate" yaml:"data_rate"`
}

// WithDefaults fills unset template values.
func (c Config) WithDefaults() Config {
	if c.Region == "" {
		c.Region = "EU868"
	}

	if c.SendInterval <= 0 {
		c.SendInterval = 30
	}

	if c.AckTimeout <= 0 {
		c.AckTimeout = 10
	}

	if c.RXDelay <= 0 {
		c.RXDelay = 15000
	}

	if c.RXDuration <= 0 {
		c.RXDuration = 30000
	}

	return c
}

// Adapter executes provisioning operations against the simulator. The
// simulator takes a device and its keys in one request, so CreateDevice
// stages the device and CreateDeviceKeys submits it.
type Adapter struct {
	baseURL  string
	token    string
	client   transport.HTTPClient
	config   Config
	payloads *PayloadSamples
	logger   logger.Logger

	mu        sync.Mutex
	staged    map[string]provision.DeviceSpec
	deviceLat float64
	gwLat     float64
}

// New creates an adapter for the simulator at baseURL.
func New(baseURL, token string, client transport.HTTPClient, cfg Config, payloads *PayloadSamples, log logger.Logger) *Adapter {
	return &Adapter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		client:   client,
		config:   cfg.WithDefaults(),
		payloads: payloads,
		logger:   log,
		staged:   make(map[string]provision.DeviceSpec),
		gwLat:    gatewayLatitudeBase,
	}
}

// Name implements provision.Adapter.
func (*Adapter) Name() string {
	return "simulator"
}

// Start asks the simulator to begin emulation once devices are registered.
func (a *Adapter) Start(ctx context.Context) error {
	if _, err := a.call(ctx, http.MethodGet, startPath, nil); err != nil {
		return err
	}

	a.logger.Info().Msg("Simulator started")

	return nil
}

// Execute implements provision.Adapter.
func (a *Adapter) Execute(ctx context.Context, op provision.Operation, _ provision.ApplicationContext) (provision.StepStatus, error) {
	switch {
	case op.Kind == provision.OpCreateGateway && op.Gateway != nil:
		return a.addGateway(ctx, op.Gateway)
	case op.Kind == provision.OpCreateDevice && op.Device != nil:
		a.mu.Lock()
		a.staged[op.Device.DevEUI] = *op.Device
		a.mu.Unlock()

		return provision.StepCreated, nil
	case op.Kind == provision.OpCreateDeviceKeys && op.Keys != nil:
		return a.addDevice(ctx, op.Keys)
	default:
		return provision.StepFailed, fmt.Errorf("%w: %w: %s", provision.ErrRegistry, errUnsupportedOperation, op.Kind)
	}
}

func (a *Adapter) addGateway(ctx context.Context, gw *provision.GatewaySpec) (provision.StepStatus, error) {
	a.mu.Lock()
	lat := a.gwLat
	a.mu.Unlock()

	body := addGatewayRequest{
		ID: entityID(gw.GatewayID),
		Info: gatewayInfo{
			MACAddress: gw.GatewayID,
			KeepAlive:  gatewayKeepAlive,
			Active:     true,
			Name:       gw.Name,
			Location:   location{Latitude: lat},
		},
	}

	if _, err := a.call(ctx, http.MethodPost, addGatewayPath, body); err != nil {
		return provision.StepFailed, err
	}

	a.mu.Lock()
	a.gwLat += gatewayLatitudeStep
	a.mu.Unlock()

	return provision.StepCreated, nil
}

func (a *Adapter) addDevice(ctx context.Context, keys *provision.KeysSpec) (provision.StepStatus, error) {
	a.mu.Lock()
	dev, ok := a.staged[keys.DevEUI]
	lat := a.deviceLat
	a.mu.Unlock()

	if !ok {
		return provision.StepFailed, fmt.Errorf("%w: %w: %s", provision.ErrRegistry, errDeviceNotStaged, keys.DevEUI)
	}

	payload, err := a.payloads.Next(dev.TypeID)
	if err != nil {
		a.logger.Warn().Err(err).Str("dev_eui", dev.DevEUI).Msg("Falling back to an empty uplink payload")
	}

	body := addDeviceRequest{
		ID:   entityID(dev.DevEUI),
		Info: a.deviceInfo(&dev, keys.AppKey, payload, lat),
	}

	if _, err := a.call(ctx, http.MethodPost, addDevicePath, body); err != nil {
		return provision.StepFailed, err
	}

	a.mu.Lock()
	delete(a.staged, keys.DevEUI)
	a.deviceLat += deviceLatitudeStep
	a.mu.Unlock()

	return provision.StepCreated, nil
}

func (a *Adapter) deviceInfo(dev *provision.DeviceSpec, appKey, payload string, lat float64) deviceInfo {
	region := RegionID(a.config.Region)
	otaa, classB, classC := true, false, false

	if p := dev.Profile; p != nil {
		if p.Region != "" {
			region = RegionID(p.Region)
		}

		otaa, classB, classC = p.SupportOTAA, p.SupportClassB, p.SupportClassC
	}

	return deviceInfo{
		Name:     dev.Name,
		DevEUI:   dev.DevEUI,
		ECN:      dev.ECN,
		AppKey:   appKey,
		DevAddr:  zeroDevAddr,
		NwkSKey:  zeroSessionKey,
		AppSKey:  zeroSessionKey,
		Location: location{Latitude: lat},
		Status: deviceStatus{
			MType:      "ConfirmedDataUp",
			Payload:    payload,
			Active:     true,
			InfoUplink: infoUplink{FPort: 1, FCnt: 1},
		},
		Configuration: deviceConfiguration{
			Region:            region,
			SendInterval:      a.config.SendInterval,
			AckTimeout:        a.config.AckTimeout,
			Range:             deviceRange,
			DisableFCntDown:   true,
			SupportedOTAA:     otaa,
			SupportedFragment: true,
			SupportedClassB:   classB,
			SupportedClassC:   classC,
			DataRate:          a.config.DataRate,
			NbRetransmission:  1,
		},
		RXs: []rxWindow{
			{Delay: a.config.RXDelay, DurationOpen: a.config.RXDuration},
			{
				Delay:        a.config.RXDelay,
				DurationOpen: a.config.RXDuration,
				Channel:      channel{Active: true, FreqDownlink: rx2FreqDownlink},
			},
		},
	}
}

// call performs one API request and decodes the {code,status} envelope.
// Transport failures are reported as ErrUnavailable and any non-zero code
// as ErrRegistry.
func (a *Adapter) call(ctx context.Context, method, path string, body any) (*apiResponse, error) {
	var reader io.Reader

	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: encode request: %w", provision.ErrRegistry, err)
		}

		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", provision.ErrRegistry, err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", provision.ErrUnavailable, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %s: %w: %d", provision.ErrRegistry, path, errUnexpectedStatus, resp.StatusCode)
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %s: decode response: %w", provision.ErrRegistry, path, err)
	}

	if out.Code != 0 {
		return &out, fmt.Errorf("%w: %s: code %d: %s", provision.ErrRegistry, path, out.Code, out.Status)
	}

	return &out, nil
}

// entityID derives the simulator's numeric id from an EUI.
func entityID(eui string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(eui))

	return int(h.Sum32())
}
