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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(ops []Operation) []OperationKind {
	out := make([]OperationKind, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.Kind)
	}

	return out
}

func TestBuild_EndDevice(t *testing.T) {
	unit := Unit{Identifier: "AABBCC", DisplayName: "V1", AppKey: testKey, NwkKey: testKey}

	ops := Build(&unit, ApplicationContext{ApplicationID: "app"})

	require.Equal(t, []OperationKind{OpCreateDevice, OpCreateDeviceKeys}, kinds(ops))

	assert.Nil(t, ops[0].Keys)
	assert.Equal(t, &DeviceSpec{DevEUI: "AABBCC", Name: "V1"}, ops[0].Device)
	assert.Equal(t, OperationKind(0), ops[0].Requires)

	assert.Nil(t, ops[1].Device)
	assert.Equal(t, &KeysSpec{DevEUI: "AABBCC", AppKey: testKey, NwkKey: testKey}, ops[1].Keys)
	assert.Equal(t, OpCreateDevice, ops[1].Requires)
}

func TestBuild_GatewayFirst(t *testing.T) {
	unit := Unit{Identifier: "0102030405060708", DisplayName: "GW", IsGateway: true, AppKey: testKey, NwkKey: testKey}

	ops := Build(&unit, ApplicationContext{})

	require.Equal(t, []OperationKind{OpCreateGateway, OpCreateDevice, OpCreateDeviceKeys}, kinds(ops))
	assert.Equal(t, OperationKind(0), ops[0].Requires)
	assert.Equal(t, OperationKind(0), ops[1].Requires)
	assert.Equal(t, DefaultGatewayStatsInterval, ops[0].Gateway.StatsInterval)
	assert.Equal(t, "0102030405060708", ops[0].Identifier())

	ops = Build(&unit, ApplicationContext{GatewayStatsInterval: time.Minute})
	assert.Equal(t, time.Minute, ops[0].Gateway.StatsInterval)
}
