package consumer

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/oneirolab/dreamgate/internal/cms"
	"github.com/oneirolab/dreamgate/internal/seo"
)

// HandlerConfig carries the optional outbound credentials. Absent values
// degrade the owning handler; they never abort the worker.
type HandlerConfig struct {
	EmailAPIURL     string
	EmailAPIKey     string
	WebhookSecret   string
	StoragePrefix   string
	OutboundTimeout time.Duration
}

// Handlers owns the per-kind processing logic and its collaborators.
type Handlers struct {
	submissions cms.SubmissionStore
	content     cms.ContentStore
	analytics   cms.AnalyticsStore
	blobs       cms.BlobStore
	pinger      *seo.Pinger
	clock       cms.Clock
	client      *http.Client
	cfg         HandlerConfig
	logger      *zap.Logger
}

// NewHandlers constructs the production handler set.
func NewHandlers(
	submissions cms.SubmissionStore,
	content cms.ContentStore,
	analytics cms.AnalyticsStore,
	blobs cms.BlobStore,
	pinger *seo.Pinger,
	clock cms.Clock,
	cfg HandlerConfig,
	logger *zap.Logger,
) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.OutboundTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handlers{
		submissions: submissions,
		content:     content,
		analytics:   analytics,
		blobs:       blobs,
		pinger:      pinger,
		clock:       clock,
		client:      &http.Client{Timeout: timeout},
		cfg:         cfg,
		logger:      logger,
	}
}

// IndexSubmissionPayload is the payload for index-submission messages.
type IndexSubmissionPayload struct {
	SubmissionID string                 `json:"submission_id"`
	URL          string                 `json:"url"`
	Provider     cms.SubmissionProvider `json:"provider"`
	RetryCount   int                    `json:"retry_count"`
}

// IndexSubmission submits one URL to a search engine and records the
// outcome on the submission row.
func (h *Handlers) IndexSubmission(ctx context.Context, msg cms.QueueMessage) error {
	var p IndexSubmissionPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return fmt.Errorf("decode index-submission payload: %w", err)
	}

	err := h.pinger.Submit(ctx, p.Provider, p.URL)

	var notConfigured seo.ErrProviderNotConfigured
	if errors.As(err, &notConfigured) {
		// ConfigurationGap: mark the row failed, do not burn retries.
		if uerr := h.submissions.UpdateStatus(ctx, p.SubmissionID, cms.SubmissionFailed, p.RetryCount, nil); uerr != nil {
			h.logger.Warn("submission status update failed", zap.String("submission_id", p.SubmissionID), zap.Error(uerr))
		}
		h.logger.Warn("index submission skipped", zap.String("provider", string(p.Provider)), zap.Error(err))
		return nil
	}
	if err != nil {
		retries := p.RetryCount + 1
		status := cms.SubmissionPending
		if retries >= cms.MaxSubmissionRetries {
			status = cms.SubmissionFailed
		}
		if uerr := h.submissions.UpdateStatus(ctx, p.SubmissionID, status, retries, nil); uerr != nil {
			h.logger.Warn("submission status update failed", zap.String("submission_id", p.SubmissionID), zap.Error(uerr))
		}
		return fmt.Errorf("submit %s to %s: %w", p.URL, p.Provider, err)
	}

	now := h.clock.Now()
	if uerr := h.submissions.UpdateStatus(ctx, p.SubmissionID, cms.SubmissionSubmitted, p.RetryCount, &now); uerr != nil {
		return fmt.Errorf("record submission success: %w", uerr)
	}
	return nil
}

// EmailPayload is the payload for email-notification messages.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// EmailNotification posts the message to the configured email API. Without
// credentials the notification is dropped with a warning.
func (h *Handlers) EmailNotification(ctx context.Context, msg cms.QueueMessage) error {
	if h.cfg.EmailAPIURL == "" || h.cfg.EmailAPIKey == "" {
		h.logger.Warn("email api not configured, dropping notification", zap.String("message_id", msg.ID))
		return nil
	}
	var p EmailPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return fmt.Errorf("decode email payload: %w", err)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal email request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.EmailAPIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.cfg.EmailAPIKey)
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("email api call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("email api: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// WebhookPayload is the payload for webhook-trigger messages.
type WebhookPayload struct {
	URL   string          `json:"url"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WebhookTrigger delivers an outbound webhook, signing the body when a
// secret is configured.
func (h *Handlers) WebhookTrigger(ctx context.Context, msg cms.QueueMessage) error {
	var p WebhookPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}
	if p.URL == "" {
		return errors.New("webhook payload missing url")
	}
	body, err := json.Marshal(map[string]any{
		"event": p.Event,
		"data":  p.Data,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.cfg.WebhookSecret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(h.cfg.WebhookSecret, body))
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook delivery: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// AnalyticsExportPayload is the payload for analytics-export messages.
type AnalyticsExportPayload struct {
	Since time.Time `json:"since"`
}

// AnalyticsExport aggregates events and writes the summary to the blob
// store.
func (h *Handlers) AnalyticsExport(ctx context.Context, msg cms.QueueMessage) error {
	var p AnalyticsExportPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return fmt.Errorf("decode analytics-export payload: %w", err)
	}
	if p.Since.IsZero() {
		p.Since = h.clock.Now().AddDate(0, 0, -1)
	}
	summary, err := h.analytics.Summary(ctx, p.Since)
	if err != nil {
		return fmt.Errorf("aggregate analytics: %w", err)
	}
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal analytics summary: %w", err)
	}
	path := fmt.Sprintf("%s/analytics/%s.json", h.cfg.StoragePrefix, h.clock.Now().Format("2006-01-02T15-04-05"))
	if _, err := h.blobs.PutObject(ctx, path, "application/json", body); err != nil {
		return fmt.Errorf("store analytics export: %w", err)
	}
	return nil
}

// ContentBackup dumps every content row as JSON to the blob store.
func (h *Handlers) ContentBackup(ctx context.Context, _ cms.QueueMessage) error {
	rows, err := h.content.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list content for backup: %w", err)
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal content backup: %w", err)
	}
	path := fmt.Sprintf("%s/backups/content-%s.json", h.cfg.StoragePrefix, h.clock.Now().Format("2006-01-02"))
	if _, err := h.blobs.PutObject(ctx, path, "application/json", body); err != nil {
		return fmt.Errorf("store content backup: %w", err)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under the shared secret. The
// same scheme validates inbound webhooks at the API layer.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether sig matches the body under the secret,
// using a constant-time comparison.
func VerifySignature(secret string, body []byte, sig string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(sig))
}
