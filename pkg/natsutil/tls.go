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

package natsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/carverauto/loraprov/pkg/models"
)

var (
	// ErrCAParsingFailed is returned when CA certificate cannot be parsed
	ErrCAParsingFailed = errors.New("failed to parse CA certificate")
	// ErrUnsupportedSecurityMode is returned for modes other than tls and mtls
	ErrUnsupportedSecurityMode = errors.New("unsupported NATS security mode")
)

// TLSConfig builds a tls.Config for connecting to NATS. The client key pair
// is only loaded in mtls mode.
func TLSConfig(sec *models.SecurityConfig) (*tls.Config, error) {
	if sec == nil || (sec.Mode != models.SecurityModeTLS && sec.Mode != models.SecurityModeMTLS) {
		return nil, ErrUnsupportedSecurityMode
	}

	conf := &tls.Config{
		ServerName: sec.ServerName,
		MinVersion: tls.VersionTLS13,
	}

	if sec.Mode == models.SecurityModeMTLS {
		cert, err := tls.LoadX509KeyPair(sec.ResolvePath(sec.TLS.CertFile), sec.ResolvePath(sec.TLS.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}

		conf.Certificates = []tls.Certificate{cert}
	}

	if sec.TLS.CAFile != "" {
		caCert, err := os.ReadFile(sec.ResolvePath(sec.TLS.CAFile))
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, ErrCAParsingFailed
		}

		conf.RootCAs = caPool
	}

	return conf, nil
}
