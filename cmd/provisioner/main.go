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

package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/carverauto/loraprov/pkg/api"
	"github.com/carverauto/loraprov/pkg/config"
	"github.com/carverauto/loraprov/pkg/lifecycle"
	"github.com/carverauto/loraprov/pkg/logger"
	"github.com/carverauto/loraprov/pkg/sync"
	"github.com/carverauto/loraprov/pkg/version"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "provisioner.json", "Path to provisioner config file")
	once := flag.Bool("once", false, "Run a single reconcile even when run_interval is set")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		log.Print(version.GetFullVersion())
		return nil
	}

	ctx := context.Background()

	var cfg sync.Config

	if err := config.NewConfig(nil).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return err
	}

	if *once {
		cfg.RunInterval = 0
	}

	lg, err := lifecycle.CreateComponentLogger("provisioner", cfg.Logging)
	if err != nil {
		return err
	}

	tracing := logger.TracingConfig{}
	if cfg.Tracing != nil {
		tracing = *cfg.Tracing
	}

	if tracing.ServiceVersion == "" {
		tracing.ServiceVersion = version.GetVersion()
	}

	tp, err := logger.InitializeTracing(ctx, tracing, lg)
	if err != nil {
		return err
	}

	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			lg.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	svc, err := sync.NewDefault(ctx, &cfg, lg)
	if err != nil {
		return err
	}

	defer func() {
		if err := svc.Close(); err != nil {
			lg.Warn().Err(err).Msg("Failed to close backend connections")
		}
	}()

	if svc.Interval() <= 0 {
		_, err := svc.RunOnce(ctx)
		return err
	}

	d := &daemon{svc: svc}
	if cfg.HTTP != nil && cfg.HTTP.ListenAddr != "" {
		d.status = api.NewServer(cfg.HTTP.ListenAddr, svc.Reports(), svc.Gatherer(), lg)
	}

	return lifecycle.RunUntilSignal(ctx, d, lg)
}

// daemon runs the status server alongside the reconcile loop.
type daemon struct {
	svc    *sync.Service
	status *api.Server
}

func (d *daemon) Start(ctx context.Context) error {
	if d.status != nil {
		if err := d.status.Start(ctx); err != nil {
			return err
		}
	}

	return d.svc.Start(ctx)
}
