// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ingest orchestrates one inbound email event end to end: tenant
// resolution, config lookup, verdict checks, raw mail fetch, parsing, and
// the backend upload pipeline. Every event resolves to an Outcome; errors
// never propagate to the transport, so upstream retries are never triggered
// by pipeline failures.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/satvos/ingestion/internal/mailparse"
	"github.com/satvos/ingestion/internal/models"
	"github.com/satvos/ingestion/internal/satvos"
	"github.com/satvos/ingestion/internal/tenant"
)

// MailFetcher retrieves raw message bytes for a tenant's stored email.
// Implemented by storage.MailStore.
type MailFetcher interface {
	FetchRawEmail(ctx context.Context, tenantSlug, messageID string) ([]byte, error)
}

// DedupFilter reports whether a message ID is new. Implemented by
// dedup.Filter.
type DedupFilter interface {
	IsNew(ctx context.Context, messageID string) (bool, error)
}

// APIClient is what the processor needs from a SATVOS client. Each run
// gets its own client bound to one tenant's credentials and base URL.
type APIClient interface {
	Authenticate(ctx context.Context, email, password string) error
	ProcessAttachments(ctx context.Context, companyName string, attachments []models.Attachment, senderEmail string) (*models.ProcessingResult, error)
}

// ProcessorConfig holds the processor's collaborators.
type ProcessorConfig struct {
	Tenants        *tenant.Cache
	Mail           MailFetcher
	Dedup          DedupFilter // optional; nil disables deduplication
	DefaultBaseURL string

	// NewClient overrides client construction, for tests. Nil means a
	// real satvos.Client per run.
	NewClient func(baseURL, tenantSlug string) APIClient
}

// Processor drives the ingestion pipeline for inbound email events.
type Processor struct {
	tenants        *tenant.Cache
	mail           MailFetcher
	dedup          DedupFilter
	defaultBaseURL string
	newClient      func(baseURL, tenantSlug string) APIClient
}

// NewProcessor creates an ingestion processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	newClient := cfg.NewClient
	if newClient == nil {
		newClient = func(baseURL, tenantSlug string) APIClient {
			return satvos.NewClient(nil, baseURL, tenantSlug)
		}
	}
	return &Processor{
		tenants:        cfg.Tenants,
		mail:           cfg.Mail,
		dedup:          cfg.Dedup,
		defaultBaseURL: cfg.DefaultBaseURL,
		newClient:      newClient,
	}
}

// Process runs the full pipeline for one SES event and returns its
// Outcome. Steps are strictly ordered: verdicts are checked before the
// storage fetch, and parsing happens before authentication, so rejected
// or filtered mail costs no I/O it does not need.
func (p *Processor) Process(ctx context.Context, event *models.SESEvent) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("unexpected panic processing event", "panic", r)
			out = Failed("internal error (logged)")
		}
	}()

	if len(event.Records) == 0 {
		return Ignored("no records in event")
	}
	rec := event.Records[0].SES
	messageID := rec.Mail.MessageID

	log := slog.With(
		"run_id", uuid.New().String(),
		"message_id", messageID,
	)
	log.Info("processing inbound email", "from", rec.Mail.Source)

	// Step 1: resolve tenant — first matching recipient wins.
	slug, ok := tenant.ExtractSlug(rec.Receipt.Recipients)
	if !ok {
		log.Warn("no matching tenant in recipients", "recipients", rec.Receipt.Recipients)
		return Ignored("no matching tenant recipient")
	}
	log = log.With("tenant", slug)

	// Step 2: tenant config. Disabled and unknown tenants are routing
	// outcomes, not errors.
	cfg, err := p.tenants.Get(ctx, slug)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantDisabled) {
			log.Warn("tenant is disabled, skipping")
			return Ignored(fmt.Sprintf("tenant %q is disabled", slug))
		}
		log.Error("tenant config lookup failed", "error", err)
		return Failed("tenant config lookup failed")
	}
	if cfg == nil {
		log.Warn("tenant not found in directory")
		return Ignored(fmt.Sprintf("tenant %q not configured", slug))
	}

	// Step 3: spam/virus verdicts, before any storage I/O.
	if rec.Receipt.SpamVerdict.VerdictFailed() {
		log.Warn("email rejected", "verdict", "spamVerdict")
		return Rejected("spamVerdict FAIL")
	}
	if rec.Receipt.VirusVerdict.VerdictFailed() {
		log.Warn("email rejected", "verdict", "virusVerdict")
		return Rejected("virusVerdict FAIL")
	}

	// Step 4: drop SNS redeliveries. A dedup error is logged and the
	// event processed anyway — losing mail is worse than double work.
	if p.dedup != nil {
		isNew, err := p.dedup.IsNew(ctx, messageID)
		if err != nil {
			log.Warn("dedup check failed, proceeding", "error", err)
		} else if !isNew {
			log.Info("skipping duplicate event")
			return Ignored("duplicate event")
		}
	}

	// Step 5: fetch the raw message bytes.
	raw, err := p.mail.FetchRawEmail(ctx, slug, messageID)
	if err != nil {
		log.Error("raw email fetch failed", "error", err)
		return Failed("raw email fetch failed")
	}

	// Step 6: parse and validate before spending a login call.
	parsed, err := mailparse.ParseRawEmail(raw)
	switch {
	case errors.Is(err, mailparse.ErrSubjectMismatch):
		log.Info("ignoring email", "reason", "subject mismatch")
		return Ignored("subject mismatch")
	case errors.Is(err, mailparse.ErrNoAttachments):
		log.Info("ignoring email", "reason", "no attachments")
		return Ignored("no attachments")
	case err != nil:
		log.Error("email parse failed", "error", err)
		return Failed("email parse failed")
	}

	log.Info("parsed email",
		"company", parsed.CompanyName,
		"attachments", len(parsed.Attachments),
		"sender", parsed.Sender,
	)

	// Step 7: authenticate against the tenant's API base URL.
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = p.defaultBaseURL
	}
	client := p.newClient(baseURL, slug)
	if err := client.Authenticate(ctx, cfg.ServiceEmail, cfg.ServicePassword); err != nil {
		log.Error("authentication failed", "error", err)
		return Failed("authentication failed")
	}

	// Steps 8-12: collection, upload, documents. Per-file failures are
	// recorded inside the result and never abort the run.
	result, err := client.ProcessAttachments(ctx, parsed.CompanyName, parsed.Attachments, parsed.Sender)
	if err != nil {
		log.Error("backend processing failed", "error", err)
		return Failed("backend processing failed")
	}

	log.Info("ingestion complete",
		"collection_id", result.CollectionID,
		"files_uploaded", result.FilesUploaded,
		"files_failed", len(result.FilesFailed),
		"documents_created", result.DocumentsCreated,
		"documents_failed", len(result.DocumentsFailed),
	)
	return Processed(result)
}
