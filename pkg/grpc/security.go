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

package grpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/carverauto/loraprov/pkg/logger"
	"github.com/carverauto/loraprov/pkg/models"
)

const (
	SecurityModeNone = models.SecurityModeNone
	SecurityModeTLS  = models.SecurityModeTLS
	SecurityModeMTLS = models.SecurityModeMTLS
)

// SecurityProvider supplies transport credentials for outbound connections.
type SecurityProvider interface {
	GetClientCredentials(ctx context.Context) (grpc.DialOption, error)
	Close() error
}

// NoSecurityProvider dials in plaintext (development only).
type NoSecurityProvider struct{}

func (NoSecurityProvider) GetClientCredentials(context.Context) (grpc.DialOption, error) {
	return grpc.WithTransportCredentials(insecure.NewCredentials()), nil
}

func (NoSecurityProvider) Close() error {
	return nil
}

// TLSProvider verifies the server certificate and, when a client key pair
// is configured, presents it (mutual TLS).
type TLSProvider struct {
	creds credentials.TransportCredentials
}

func (p *TLSProvider) GetClientCredentials(context.Context) (grpc.DialOption, error) {
	return grpc.WithTransportCredentials(p.creds), nil
}

func (*TLSProvider) Close() error {
	return nil
}

// NewTLSProvider builds a provider from config. With mutual set the client
// certificate, key and CA are all required; otherwise the CA is optional and
// the system pool is used when it is absent.
func NewTLSProvider(config *models.SecurityConfig, mutual bool, log logger.Logger) (*TLSProvider, error) {
	tlsConfig := &tls.Config{
		ServerName: config.ServerName,
		MinVersion: tls.VersionTLS12,
	}

	if mutual {
		if config.TLS.CertFile == "" || config.TLS.KeyFile == "" || config.TLS.CAFile == "" {
			return nil, fmt.Errorf("%w: mtls requires tls.cert_file, tls.key_file and tls.ca_file", errMissingTLSFiles)
		}

		certPath := config.ResolvePath(config.TLS.CertFile)
		keyPath := config.ResolvePath(config.TLS.KeyFile)

		log.Info().
			Str("cert_path", certPath).
			Str("key_path", keyPath).
			Msg("Loading client certificate")

		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errFailedToLoadClientCert, err)
		}

		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if config.TLS.CAFile != "" {
		pool, err := loadCAPool(config.ResolvePath(config.TLS.CAFile))
		if err != nil {
			return nil, err
		}

		tlsConfig.RootCAs = pool
	}

	return &TLSProvider{creds: credentials.NewTLS(tlsConfig)}, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToReadCACert, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: failed to parse CA certificate from %s", errFailedToAppendCACert, path)
	}

	return pool, nil
}

// NewSecurityProvider creates the provider selected by config.Mode.
func NewSecurityProvider(config *models.SecurityConfig, log logger.Logger) (SecurityProvider, error) {
	if config == nil || config.Mode == "" {
		log.Warn().Msg("No security mode configured, dialing without transport security")

		return NoSecurityProvider{}, nil
	}

	mode := models.SecurityMode(strings.ToLower(string(config.Mode)))

	log.Info().Str("mode", string(mode)).Msg("Creating security provider")

	switch mode {
	case SecurityModeNone:
		return NoSecurityProvider{}, nil
	case SecurityModeTLS, SecurityModeMTLS:
		provider, err := NewTLSProvider(config, mode == SecurityModeMTLS, log)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errFailedToCreateProvider, err)
		}

		return provider, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownSecurityMode, config.Mode)
	}
}
