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
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/loraprov/pkg/logger"
	"github.com/carverauto/loraprov/pkg/provision"
)

func newC2Server(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "operator", user)
		assert.Equal(t, "secret", pass)

		reqBody, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{}`, string(reqBody))

		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)

	return server
}

func TestRESTSource_Fetch(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "array",
			body: `{"Device":[
				{"deviceCode":"AABBCC","deviceName":"V1","deviceType":{"id":1},"applicationKey":"k","networkKey":"n"},
				{"deviceCode":70368744177664,"deviceName":"V2","deviceType":{"id":6149}}
			]}`,
			want: []string{"AABBCC", "70368744177664"},
		},
		{
			name: "single object",
			body: `{"Device":{"deviceCode":"AABBCC","deviceName":"V1","deviceType":{"id":1}}}`,
			want: []string{"AABBCC"},
		},
		{
			name: "empty array",
			body: `{"Device":[]}`,
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newC2Server(t, http.StatusOK, tt.body)
			src := NewRESTSource(server.URL, "operator", "secret", server.Client(), logger.NewTestLogger())

			records, err := src.Fetch(context.Background())
			require.NoError(t, err)

			codes := make([]string, 0, len(records))
			for _, r := range records {
				codes = append(codes, r.DeviceCode.String())
			}

			assert.Equal(t, tt.want, codes)
		})
	}
}

func TestRESTSource_KeepsAbsentKeysNil(t *testing.T) {
	server := newC2Server(t, http.StatusOK,
		`{"Device":[{"deviceCode":"AABBCC","deviceName":"V1","deviceType":{"id":1},"applicationKey":"00112233445566778899aabbccddeeff","ecn":4.5}]}`)
	src := NewRESTSource(server.URL, "operator", "secret", server.Client(), logger.NewTestLogger())

	records, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.NotNil(t, records[0].ApplicationKey)
	assert.Nil(t, records[0].NetworkKey)
	require.NotNil(t, records[0].ECN)
	assert.InDelta(t, 4.5, *records[0].ECN, 0)
}

func TestRESTSource_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad credentials"}`},
		{"server error", http.StatusInternalServerError, `oops`},
		{"missing device field", http.StatusOK, `{"message":"invalid credentials"}`},
		{"not json", http.StatusOK, `<html></html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newC2Server(t, tt.status, tt.body)
			src := NewRESTSource(server.URL, "operator", "secret", server.Client(), logger.NewTestLogger())

			records, err := src.Fetch(context.Background())
			require.ErrorIs(t, err, provision.ErrTransport)
			assert.Nil(t, records)
		})
	}
}

func TestRESTSource_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	src := NewRESTSource(url, "u", "p", http.DefaultClient, logger.NewTestLogger())

	_, err := src.Fetch(context.Background())
	require.ErrorIs(t, err, provision.ErrTransport)
}

func TestNew(t *testing.T) {
	src, err := New(&Config{Endpoint: "http://c2"}, http.DefaultClient, logger.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "c2-rest", src.Name())

	src, err = New(&Config{Mode: ModeWebSocket, Endpoint: "ws://c2"}, nil, logger.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "c2-websocket", src.Name())

	_, err = New(&Config{Mode: "carrier-pigeon"}, nil, logger.NewTestLogger())
	require.ErrorIs(t, err, ErrUnsupportedMode)
}

func TestDecodeDevices_BadRecordFailsAlone(t *testing.T) {
	body := []byte(`{"Device":[
		{"deviceCode":"AABBCC","deviceName":"V1","deviceType":{"id":1}},
		{"deviceCode":"GW1","deviceName":"G1","deviceType":{"id":"6149"}},
		{"deviceCode":"BAD1","deviceName":"V2","applicationKey":12345},
		{"deviceCode":true,"deviceName":"V3"}
	]}`)

	records, err := decodeDevices(body)
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Nil(t, records[0].DecodeErr)

	assert.Nil(t, records[1].DecodeErr)
	require.NotNil(t, records[1].DeviceType)
	assert.Equal(t, 6149, records[1].DeviceType.ID)

	require.NotNil(t, records[2].DecodeErr)
	assert.Equal(t, provision.DeviceCode("BAD1"), records[2].DeviceCode)
	assert.Equal(t, "applicationKey", records[2].DecodeErr.Field)

	require.NotNil(t, records[3].DecodeErr)
	assert.Equal(t, "V3", records[3].DeviceName)
	require.ErrorIs(t, records[3].DecodeErr, provision.ErrValidation)
}

func TestDecodeDevices_MalformedEnvelope(t *testing.T) {
	_, err := decodeDevices([]byte(`{"Device":[{"deviceCode":"AABBCC"}`))
	require.Error(t, err)

	_, err = decodeDevices([]byte(`{"Device":"AABBCC"}`))
	require.Error(t, err)
}
