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

package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/carverauto/loraprov/pkg/logger"
)

// Service is a long-running component driven by RunUntilSignal.
type Service interface {
	Start(ctx context.Context) error
}

// RunUntilSignal starts svc and blocks until it returns or the process
// receives SIGINT/SIGTERM. A cancellation caused by a signal is not an error.
func RunUntilSignal(ctx context.Context, svc Service, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := svc.Start(ctx)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		log.Info().Msg("Shutdown signal received")
		return nil
	}

	return err
}
