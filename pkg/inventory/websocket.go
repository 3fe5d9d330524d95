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
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/loraprov/pkg/logger"
	"github.com/carverauto/loraprov/pkg/provision"
)

const (
	msgTypeRequest  = "req_bonded_devices"
	msgTypeResponse = "resp_bonded_devices"
)

type bondedRequest struct {
	MsgType string `json:"msg_type"`
	Device  string `json:"device"`
	LS      int    `json:"ls"`
}

type bondedDevice struct {
	ID         json.Number          `json:"id"`
	Code       provision.DeviceCode `json:"code"`
	Name       string               `json:"name"`
	Key        *string              `json:"key"`
	NetworkKey *string              `json:"nwkKey,omitempty"`
	Type       int                  `json:"type"`
	ProfileID  json.Number          `json:"profileId"`
	ECN        *float64             `json:"ecn,omitempty"`
}

type deviceProfile struct {
	ID json.Number `json:"id"`
	provision.RadioProfile
}

type bondedBatch struct {
	MsgType        string            `json:"msg_type"`
	FullImport     bool              `json:"fullImport"`
	FinalBatch     bool              `json:"finalBatch"`
	DataSize       int               `json:"dataSize"`
	Sequence       int               `json:"sequence"`
	BondedDevices  []json.RawMessage `json:"bonded_devices"`
	DeviceProfiles []deviceProfile   `json:"deviceProfiles"`
}

// WebSocketConfig configures a WebSocketSource.
type WebSocketConfig struct {
	URL        string
	Username   string
	Password   string
	MGDeviceID string
	// MirrorAppKey reuses the bonded device key as network key, for C2
	// deployments that only distribute one root key.
	MirrorAppKey bool
	// ReadTimeout bounds the wait for each batch. Zero waits forever.
	ReadTimeout time.Duration
}

// WebSocketSource requests the devices bonded to a management gateway and
// collects the batched responses.
type WebSocketSource struct {
	config WebSocketConfig
	dialer *websocket.Dialer
	logger logger.Logger
}

// NewWebSocketSource creates a WebSocket inventory source.
func NewWebSocketSource(config WebSocketConfig, log logger.Logger) *WebSocketSource {
	return &WebSocketSource{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		},
		logger: log,
	}
}

// Name implements provision.InventorySource.
func (*WebSocketSource) Name() string {
	return "c2-websocket"
}

// Fetch implements provision.InventorySource. It returns once the final
// batch arrived; a missing sequence number aborts with ErrBatchLost.
func (s *WebSocketSource) Fetch(ctx context.Context) ([]provision.RawDeviceRecord, error) {
	header := make(http.Header)
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString(
		[]byte(s.config.Username+":"+s.config.Password)))

	conn, resp, err := s.dialer.DialContext(ctx, s.config.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: %w (status %s)", provision.ErrTransport, s.config.URL, err, resp.Status)
		}

		return nil, fmt.Errorf("%w: dial %s: %w", provision.ErrTransport, s.config.URL, err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(bondedRequest{MsgType: msgTypeRequest, Device: s.config.MGDeviceID}); err != nil {
		return nil, s.wrap(ctx, fmt.Errorf("write request: %w", err))
	}

	s.logger.Info().
		Str("url", s.config.URL).
		Str("mg_device_id", s.config.MGDeviceID).
		Msg("Waiting for bonded devices")

	var (
		records  []provision.RawDeviceRecord
		sequence int
	)

	for {
		if s.config.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, s.wrap(ctx, fmt.Errorf("read batch %d: %w", sequence+1, err))
		}

		// An undecodable frame is dropped; if it carried a batch the next
		// sequence check fails.
		var batch bondedBatch
		if err := json.Unmarshal(msg, &batch); err != nil {
			s.logger.Warn().
				Err(err).
				Int("expected_sequence", sequence+1).
				Msg("Dropping undecodable frame")

			continue
		}

		if batch.MsgType != msgTypeResponse {
			return nil, fmt.Errorf("%w: %w: %q", provision.ErrTransport, ErrUnexpectedMessage, batch.MsgType)
		}

		if batch.Sequence != sequence+1 {
			return nil, fmt.Errorf("%w: %w: expected %d, got %d",
				provision.ErrTransport, ErrBatchLost, sequence+1, batch.Sequence)
		}

		sequence = batch.Sequence
		records = append(records, s.convert(&batch)...)

		s.logger.Debug().
			Int("sequence", batch.Sequence).
			Int("devices", len(batch.BondedDevices)).
			Int("data_size", batch.DataSize).
			Msg("Received bonded device batch")

		if batch.FinalBatch {
			break
		}
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second)); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to send close message")
	}

	s.logger.Info().
		Int("devices", len(records)).
		Int("batches", sequence).
		Msg("Bonded devices received")

	return records, nil
}

func (*WebSocketSource) wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w: %w", provision.ErrTransport, ctxErr, err)
	}

	return fmt.Errorf("%w: %w", provision.ErrTransport, err)
}

func (s *WebSocketSource) convert(batch *bondedBatch) []provision.RawDeviceRecord {
	profiles := make(map[string]*provision.RadioProfile, len(batch.DeviceProfiles))
	for i := range batch.DeviceProfiles {
		profiles[batch.DeviceProfiles[i].ID.String()] = &batch.DeviceProfiles[i].RadioProfile
	}

	out := make([]provision.RawDeviceRecord, 0, len(batch.BondedDevices))

	for _, raw := range batch.BondedDevices {
		var d bondedDevice
		if err := json.Unmarshal(raw, &d); err != nil {
			out = append(out, provision.InvalidRecord(raw, "code", "name", err))
			continue
		}

		rec := provision.RawDeviceRecord{
			DeviceCode:     d.Code,
			DeviceName:     d.Name,
			DeviceType:     &provision.DeviceType{ID: d.Type},
			ApplicationKey: d.Key,
			NetworkKey:     d.NetworkKey,
			ECN:            d.ECN,
			Profile:        profiles[d.ProfileID.String()],
		}

		if rec.NetworkKey == nil && s.config.MirrorAppKey {
			rec.NetworkKey = d.Key
		}

		out = append(out, rec)
	}

	return out
}
