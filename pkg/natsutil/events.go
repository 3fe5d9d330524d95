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

// Package natsutil publishes provisioning reports to NATS JetStream as
// CloudEvents.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/loraprov/pkg/logger"
	"github.com/carverauto/loraprov/pkg/models"
	"github.com/carverauto/loraprov/pkg/provision"
)

const (
	DefaultStream  = "PROVISIONING"
	DefaultSubject = "provisioning.reports"

	reportEventType   = "com.carverauto.loraprov.provisioning.report"
	reportEventSource = "loraprov/provisioner"
)

// Config selects the NATS server and stream reports are published to.
type Config struct {
	URL      string                 `json:"url" yaml:"url"`
	Domain   string                 `json:"domain,omitempty" yaml:"domain,omitempty"`
	Stream   string                 `json:"stream" yaml:"stream"`
	Subject  string                 `json:"subject" yaml:"subject"`
	Security *models.SecurityConfig `json:"security,omitempty" yaml:"security,omitempty"`
}

func (c *Config) withDefaults() Config {
	out := *c

	if out.Stream == "" {
		out.Stream = DefaultStream
	}

	if out.Subject == "" {
		out.Subject = DefaultSubject
	}

	return out
}

// ReportPublisher implements provision.ReportSink on JetStream.
type ReportPublisher struct {
	js      jetstream.JetStream
	subject string
	logger  logger.Logger
}

// NewReportPublisher creates a publisher writing to subject.
func NewReportPublisher(js jetstream.JetStream, subject string, log logger.Logger) *ReportPublisher {
	return &ReportPublisher{js: js, subject: subject, logger: log}
}

// Publish implements provision.ReportSink. The run id doubles as the
// JetStream message id so a republished report is deduplicated.
func (p *ReportPublisher) Publish(ctx context.Context, report *provision.Report) error {
	finished := report.FinishedAt

	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          reportEventSource,
		Type:            reportEventType,
		DataContentType: "application/json",
		Subject:         p.subject,
		Time:            &finished,
		Data:            report,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal provisioning report: %w", err)
	}

	ack, err := p.js.Publish(ctx, p.subject, payload, jetstream.WithMsgID(report.RunID))
	if err != nil {
		return fmt.Errorf("failed to publish provisioning report: %w", err)
	}

	p.logger.Debug().
		Str("run_id", report.RunID).
		Str("subject", p.subject).
		Uint64("seq", ack.Sequence).
		Msg("Published provisioning report")

	return nil
}

// Connect dials NATS, ensures the report stream exists, and returns a
// publisher for it. The caller owns the returned connection.
func Connect(ctx context.Context, cfg *Config, log logger.Logger) (*ReportPublisher, *nats.Conn, error) {
	c := cfg.withDefaults()

	opts := []nats.Option{
		nats.Name("loraprov"),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	if c.Security != nil && c.Security.Mode != "" && c.Security.Mode != models.SecurityModeNone {
		tlsConf, err := TLSConfig(c.Security)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	nc, err := nats.Connect(c.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := newJetStream(nc, c.Domain)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	if err := ensureStream(ctx, js, c.Stream, c.Subject); err != nil {
		nc.Close()
		return nil, nil, err
	}

	log.Info().Str("stream", c.Stream).Str("subject", c.Subject).Msg("Connected report publisher to NATS")

	return NewReportPublisher(js, c.Subject, log), nc, nil
}

func newJetStream(nc *nats.Conn, domain string) (jetstream.JetStream, error) {
	if domain != "" {
		js, err := jetstream.NewWithDomain(nc, domain)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context with domain %s: %w", domain, err)
		}

		return js, nil
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return js, nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, name, subject string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, name)

	switch {
	case err == nil:
		info, infoErr := stream.Info(ctx)
		if infoErr != nil {
			return fmt.Errorf("failed to get stream %s info: %w", name, infoErr)
		}

		subjects := ensureSubjectList(append([]string(nil), info.Config.Subjects...), subject)
		if len(subjects) == len(info.Config.Subjects) {
			return nil
		}

		cfg := info.Config
		cfg.Subjects = subjects

		if _, err := js.UpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("failed to add subject %s to stream %s: %w", subject, name, err)
		}

		return nil
	case isStreamMissingErr(err):
		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     name,
			Subjects: []string{subject},
		})
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", name, err)
		}

		return nil
	default:
		return fmt.Errorf("failed to get stream %s: %w", name, err)
	}
}

// ensureSubjectList appends subject unless an existing pattern covers it.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, s := range subjects {
		if matchesSubject(s, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether a NATS subject pattern matches subject.
func matchesSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}

		if i >= len(st) {
			return false
		}

		if tok != "*" && tok != st[i] {
			return false
		}
	}

	return len(pt) == len(st)
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}
