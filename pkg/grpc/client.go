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

// Package grpc builds outbound gRPC connections with transport security and
// OpenTelemetry instrumentation.
package grpc

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/carverauto/loraprov/pkg/logger"
	"github.com/carverauto/loraprov/pkg/models"
)

// ClientConfig configures NewClient.
type ClientConfig struct {
	Address  string
	Security *models.SecurityConfig
	Logger   logger.Logger
	// DialOptions are appended after the security and tracing options.
	DialOptions []grpc.DialOption
	// DisableTelemetry skips the otelgrpc stats handler.
	DisableTelemetry bool
}

// Client owns a connection and the security provider behind it.
type Client struct {
	conn     *grpc.ClientConn
	provider SecurityProvider
	logger   logger.Logger
}

// NewClient creates a lazily connecting client for cfg.Address.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Address == "" {
		return nil, errAddressRequired
	}

	provider, err := NewSecurityProvider(cfg.Security, cfg.Logger)
	if err != nil {
		return nil, err
	}

	creds, err := provider.GetClientCredentials(ctx)
	if err != nil {
		_ = provider.Close()
		return nil, fmt.Errorf("%w: %w", errFailedToCreateClient, err)
	}

	opts := []grpc.DialOption{creds}
	if !cfg.DisableTelemetry {
		opts = append(opts, grpc.WithStatsHandler(otelgrpc.NewClientHandler()))
	}

	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		_ = provider.Close()
		return nil, fmt.Errorf("%w: %w", errFailedToCreateClient, err)
	}

	cfg.Logger.Info().Str("address", cfg.Address).Msg("Created gRPC client")

	return &Client{conn: conn, provider: provider, logger: cfg.Logger}, nil
}

// GetConnection returns the underlying connection.
func (c *Client) GetConnection() *grpc.ClientConn {
	return c.conn
}

// Close closes the connection and the security provider.
func (c *Client) Close() error {
	err := c.conn.Close()

	if perr := c.provider.Close(); perr != nil && err == nil {
		err = perr
	}

	return err
}
