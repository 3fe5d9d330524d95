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

// Package chirpstack implements the network-server registry adapter over
// the ChirpStack v4 gRPC API.
package chirpstack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chirpstack/chirpstack/api/go/v4/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/carverauto/loraprov/pkg/logger"
	"github.com/carverauto/loraprov/pkg/provision"
)

const defaultCallTimeout = 10 * time.Second

var errUnsupportedOperation = errors.New("unsupported operation")

// duplicateMarkers are the message fragments ChirpStack uses when an
// entity with the same identifier is already registered.
var duplicateMarkers = []string{"already exists", "already in use", "duplicate key"}

// Adapter executes provisioning operations against ChirpStack.
type Adapter struct {
	devices     api.DeviceServiceClient
	gateways    api.GatewayServiceClient
	token       string
	callTimeout time.Duration
	logger      logger.Logger
}

// New creates an adapter on conn authenticating with the API token.
func New(conn grpc.ClientConnInterface, token string, callTimeout time.Duration, log logger.Logger) *Adapter {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	return &Adapter{
		devices:     api.NewDeviceServiceClient(conn),
		gateways:    api.NewGatewayServiceClient(conn),
		token:       token,
		callTimeout: callTimeout,
		logger:      log,
	}
}

// Name implements provision.Adapter.
func (*Adapter) Name() string {
	return "chirpstack"
}

// Execute implements provision.Adapter.
func (a *Adapter) Execute(ctx context.Context, op provision.Operation, app provision.ApplicationContext) (provision.StepStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+a.token)

	var err error

	switch {
	case op.Kind == provision.OpCreateGateway && op.Gateway != nil:
		_, err = a.gateways.Create(ctx, &api.CreateGatewayRequest{
			Gateway: &api.Gateway{
				GatewayId:     op.Gateway.GatewayID,
				Name:          op.Gateway.Name,
				TenantId:      app.TenantID,
				StatsInterval: uint32(op.Gateway.StatsInterval / time.Second),
			},
		})
	case op.Kind == provision.OpCreateDevice && op.Device != nil:
		_, err = a.devices.Create(ctx, &api.CreateDeviceRequest{
			Device: &api.Device{
				DevEui:          op.Device.DevEUI,
				Name:            op.Device.Name,
				ApplicationId:   app.ApplicationID,
				DeviceProfileId: app.DeviceProfileID,
				SkipFcntCheck:   true,
				IsDisabled:      false,
			},
		})
	case op.Kind == provision.OpCreateDeviceKeys && op.Keys != nil:
		_, err = a.devices.CreateKeys(ctx, &api.CreateDeviceKeysRequest{
			DeviceKeys: &api.DeviceKeys{
				DevEui: op.Keys.DevEUI,
				AppKey: op.Keys.AppKey,
				NwkKey: op.Keys.NwkKey,
			},
		})
	default:
		return provision.StepFailed, fmt.Errorf("%w: %w: %s", provision.ErrRegistry, errUnsupportedOperation, op.Kind)
	}

	st, classified := classify(err)
	if classified != nil {
		a.logger.Debug().
			Err(err).
			Str("operation", op.Kind.String()).
			Str("identifier", op.Identifier()).
			Msg("ChirpStack call failed")
	}

	return st, classified
}

// classify maps a gRPC error onto a step status. A call that ran out of
// time counts as an unreachable server.
func classify(err error) (provision.StepStatus, error) {
	if err == nil {
		return provision.StepCreated, nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return provision.StepFailed, fmt.Errorf("%w: %w", provision.ErrUnavailable, err)
	}

	s, ok := status.FromError(err)
	if !ok {
		return provision.StepFailed, fmt.Errorf("%w: %w", provision.ErrRegistry, err)
	}

	if s.Code() == codes.AlreadyExists || isDuplicateMessage(s.Message()) {
		return provision.StepDuplicate, nil
	}

	switch s.Code() { //nolint:exhaustive // everything else is a registry rejection
	case codes.Unavailable, codes.DeadlineExceeded:
		return provision.StepFailed, fmt.Errorf("%w: %s: %s", provision.ErrUnavailable, s.Code(), s.Message())
	default:
		return provision.StepFailed, fmt.Errorf("%w: %s: %s", provision.ErrRegistry, s.Code(), s.Message())
	}
}

func isDuplicateMessage(msg string) bool {
	msg = strings.ToLower(msg)

	for _, m := range duplicateMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}

	return false
}
