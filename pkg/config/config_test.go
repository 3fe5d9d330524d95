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

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/loraprov/pkg/logger"
	"github.com/carverauto/loraprov/pkg/models"
)

var errTestInvalid = errors.New("invalid test config")

type testInventory struct {
	Endpoint string          `json:"endpoint" yaml:"endpoint"`
	Timeout  models.Duration `json:"timeout" yaml:"timeout"`
}

type testConfig struct {
	Backend   string                 `json:"backend" yaml:"backend"`
	Attempts  int                    `json:"attempts" yaml:"attempts"`
	Mirror    bool                   `json:"mirror" yaml:"mirror"`
	Subjects  []string               `json:"subjects" yaml:"subjects"`
	Dirs      map[int]string         `json:"dirs" yaml:"dirs"`
	Inventory testInventory          `json:"inventory" yaml:"inventory"`
	Security  *models.SecurityConfig `json:"security,omitempty" yaml:"security,omitempty"`
	internal  string

	validated bool
}

func (c *testConfig) Validate() error {
	if c.Backend == "" {
		return errTestInvalid
	}

	c.validated = true

	return nil
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadAndValidate_JSONFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	path := writeFile(t, "provisioner.json", `{
		"backend": "chirpstack",
		"attempts": 3,
		"inventory": {"endpoint": "https://c2.local/devices", "timeout": "45s"}
	}`)

	var cfg testConfig
	require.NoError(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), path, &cfg))

	assert.True(t, cfg.validated)
	assert.Equal(t, "chirpstack", cfg.Backend)
	assert.Equal(t, 3, cfg.Attempts)
	assert.Equal(t, 45*time.Second, time.Duration(cfg.Inventory.Timeout))
	assert.Nil(t, cfg.Security)
}

func TestLoadAndValidate_YAMLFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "file")

	path := writeFile(t, "provisioner.yaml", `
backend: simulator
subjects: [a, b]
dirs:
  6199: /samples/s
inventory:
  timeout: 2m
security:
  mode: mtls
  cert_dir: /etc/loraprov/certs
`)

	var cfg testConfig
	require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, "simulator", cfg.Backend)
	assert.Equal(t, []string{"a", "b"}, cfg.Subjects)
	assert.Equal(t, map[int]string{6199: "/samples/s"}, cfg.Dirs)
	assert.Equal(t, 2*time.Minute, time.Duration(cfg.Inventory.Timeout))
	require.NotNil(t, cfg.Security)
	assert.Equal(t, models.SecurityModeMTLS, cfg.Security.Mode)
}

func TestLoadAndValidate_Errors(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	var cfg testConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), filepath.Join(t.TempDir(), "missing.json"), &cfg)
	require.Error(t, err)

	path := writeFile(t, "bad.json", `{"backend":`)
	require.Error(t, NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg))

	path = writeFile(t, "empty.json", `{}`)
	require.ErrorIs(t, NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg), errTestInvalid)

	t.Setenv("CONFIG_SOURCE", "kv")
	require.ErrorIs(t, NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg), errInvalidConfigSource)
}

func TestEnvConfigLoader_Variables(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("LORAPROV_BACKEND", "simulator")
	t.Setenv("LORAPROV_ATTEMPTS", "4")
	t.Setenv("LORAPROV_MIRROR", "true")
	t.Setenv("LORAPROV_SUBJECTS", "a, b ,c")
	t.Setenv("LORAPROV_DIRS", `{"6165":"/samples/l"}`)
	t.Setenv("LORAPROV_INVENTORY_ENDPOINT", "wss://c2.local/ws")
	t.Setenv("LORAPROV_INVENTORY_TIMEOUT", "15s")

	var cfg testConfig
	require.NoError(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), "", &cfg))

	assert.Equal(t, "simulator", cfg.Backend)
	assert.Equal(t, 4, cfg.Attempts)
	assert.True(t, cfg.Mirror)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Subjects)
	assert.Equal(t, map[int]string{6165: "/samples/l"}, cfg.Dirs)
	assert.Equal(t, "wss://c2.local/ws", cfg.Inventory.Endpoint)
	assert.Equal(t, 15*time.Second, time.Duration(cfg.Inventory.Timeout))
	assert.Nil(t, cfg.Security, "untouched pointer sections stay nil")
	assert.Empty(t, cfg.internal)
}

func TestEnvConfigLoader_NestedPointer(t *testing.T) {
	t.Setenv("APP_BACKEND", "chirpstack")
	t.Setenv("APP_SECURITY_MODE", "tls")
	t.Setenv("APP_SECURITY_TLS_CA_FILE", "root.pem")

	var cfg testConfig
	require.NoError(t, NewEnvConfigLoader(logger.NewTestLogger(), "APP_").Load(context.Background(), "", &cfg))

	require.NotNil(t, cfg.Security)
	assert.Equal(t, models.SecurityModeTLS, cfg.Security.Mode)
	assert.Equal(t, "root.pem", cfg.Security.TLS.CAFile)
}

func TestEnvConfigLoader_ConfigJSON(t *testing.T) {
	t.Setenv("LORAPROV_CONFIG_JSON", `{"backend":"chirpstack","attempts":2}`)
	t.Setenv("LORAPROV_ATTEMPTS", "9")

	var cfg testConfig
	require.NoError(t, NewEnvConfigLoader(logger.NewTestLogger(), DefaultEnvPrefix).Load(context.Background(), "", &cfg))

	assert.Equal(t, "chirpstack", cfg.Backend)
	assert.Equal(t, 2, cfg.Attempts)
}

func TestEnvConfigLoader_InvalidValues(t *testing.T) {
	loader := NewEnvConfigLoader(logger.NewTestLogger(), "BAD_")

	t.Setenv("BAD_ATTEMPTS", "many")

	var cfg testConfig
	require.Error(t, loader.Load(context.Background(), "", &cfg))

	require.ErrorIs(t, loader.Load(context.Background(), "", nil), ErrDstMustBeNonNilPointer)

	s := "not a struct"
	require.ErrorIs(t, loader.Load(context.Background(), "", &s), ErrDstMustBePointerToStruct)
}
