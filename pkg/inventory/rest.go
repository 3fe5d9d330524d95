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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/carverauto/loraprov/pkg/logger"
	"github.com/carverauto/loraprov/pkg/provision"
	"github.com/carverauto/loraprov/pkg/transport"
)

const maxErrorBody = 512

// RESTSource fetches the inventory with a single authenticated POST.
type RESTSource struct {
	endpoint string
	username string
	password string
	client   transport.HTTPClient
	logger   logger.Logger
}

// NewRESTSource creates a source posting to endpoint with Basic credentials.
func NewRESTSource(endpoint, username, password string, client transport.HTTPClient, log logger.Logger) *RESTSource {
	return &RESTSource{
		endpoint: endpoint,
		username: username,
		password: password,
		client:   client,
		logger:   log,
	}
}

// Name implements provision.InventorySource.
func (*RESTSource) Name() string {
	return "c2-rest"
}

type restEnvelope struct {
	Device json.RawMessage `json:"Device"`
}

// Fetch implements provision.InventorySource. Every failure wraps
// provision.ErrTransport.
func (s *RESTSource) Fetch(ctx context.Context) ([]provision.RawDeviceRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader("{}"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", provision.ErrTransport, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(s.username, s.password)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", provision.ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %w", provision.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}

		return nil, fmt.Errorf("%w: %w: %d, response: %s",
			provision.ErrTransport, errUnexpectedStatusCode, resp.StatusCode, string(body))
	}

	records, err := decodeDevices(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", provision.ErrTransport, err)
	}

	s.logger.Debug().
		Str("endpoint", s.endpoint).
		Int("records", len(records)).
		Msg("Fetched inventory")

	return records, nil
}

// decodeDevices accepts the Device field as an array or a single object.
// Elements are decoded one by one so a malformed record only fails itself.
func decodeDevices(body []byte) ([]provision.RawDeviceRecord, error) {
	var env restEnvelope

	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	raw := bytes.TrimSpace(env.Device)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errDeviceFieldMissing
	}

	if raw[0] == '{' {
		return []provision.RawDeviceRecord{provision.DecodeRecord(raw)}, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("failed to parse devices: %w", err)
	}

	records := make([]provision.RawDeviceRecord, 0, len(elems))
	for _, elem := range elems {
		records = append(records, provision.DecodeRecord(elem))
	}

	return records, nil
}
