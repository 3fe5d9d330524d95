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

package inventory

import (
	"fmt"
	"time"

	"github.com/carverauto/loraprov/pkg/logger"
	"github.com/carverauto/loraprov/pkg/models"
	"github.com/carverauto/loraprov/pkg/provision"
	"github.com/carverauto/loraprov/pkg/transport"
)

const (
	ModeREST      = "rest"
	ModeWebSocket = "websocket"

	defaultTimeout = 30 * time.Second
)

// Config selects and configures the C2 inventory source.
type Config struct {
	Mode         string          `json:"mode" yaml:"mode"`
	Endpoint     string          `json:"endpoint" yaml:"endpoint"`
	Username     string          `json:"username" yaml:"username"`
	Password     string          `json:"password" yaml:"password"`
	MGDeviceID   string          `json:"mg_device_id" yaml:"mg_device_id"`
	Timeout      models.Duration `json:"timeout" yaml:"timeout"`
	MirrorAppKey bool            `json:"mirror_app_key" yaml:"mirror_app_key"`
}

// TimeoutOrDefault returns the configured timeout, or 30s.
func (c *Config) TimeoutOrDefault() time.Duration {
	if c.Timeout <= 0 {
		return defaultTimeout
	}

	return time.Duration(c.Timeout)
}

// New builds the source selected by cfg.Mode. client is used by the REST
// source only.
func New(cfg *Config, client transport.HTTPClient, log logger.Logger) (provision.InventorySource, error) {
	switch cfg.Mode {
	case "", ModeREST:
		return NewRESTSource(cfg.Endpoint, cfg.Username, cfg.Password, client, log), nil
	case ModeWebSocket:
		return NewWebSocketSource(WebSocketConfig{
			URL:          cfg.Endpoint,
			Username:     cfg.Username,
			Password:     cfg.Password,
			MGDeviceID:   cfg.MGDeviceID,
			MirrorAppKey: cfg.MirrorAppKey,
			ReadTimeout:  cfg.TimeoutOrDefault(),
		}, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, cfg.Mode)
	}
}
