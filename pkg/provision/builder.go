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

// Build returns the ordered registry operations for unit. A gateway unit
// gets an independent CreateGateway first; every unit gets CreateDevice
// followed by CreateDeviceKeys, which requires the device step.
func Build(unit *Unit, app ApplicationContext) []Operation {
	ops := make([]Operation, 0, 3)

	if unit.IsGateway {
		interval := app.GatewayStatsInterval
		if interval <= 0 {
			interval = DefaultGatewayStatsInterval
		}

		ops = append(ops, Operation{
			Kind: OpCreateGateway,
			Gateway: &GatewaySpec{
				GatewayID:     unit.Identifier,
				Name:          unit.DisplayName,
				StatsInterval: interval,
			},
		})
	}

	ops = append(ops,
		Operation{
			Kind: OpCreateDevice,
			Device: &DeviceSpec{
				DevEUI:  unit.Identifier,
				Name:    unit.DisplayName,
				TypeID:  unit.TypeID,
				ECN:     unit.ECN,
				Profile: unit.Profile,
			},
		},
		Operation{
			Kind:     OpCreateDeviceKeys,
			Requires: OpCreateDevice,
			Keys: &KeysSpec{
				DevEUI: unit.Identifier,
				AppKey: unit.AppKey,
				NwkKey: unit.NwkKey,
			},
		},
	)

	return ops
}
