package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/oneirolab/dreamgate/internal/cms"
	"github.com/oneirolab/dreamgate/internal/consumer"
)

// webhookEvents is the closed set of inbound webhook names.
var webhookEvents = map[string]bool{
	"content-published": true,
	"seo-indexed":       true,
	"analytics-alert":   true,
	"error-occurred":    true,
}

const maxWebhookBody = 1 << 20

// handleWebhook accepts a named event, verifies its HMAC signature when a
// secret is configured, and republishes the payload on the event topic.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	event := chi.URLParam(r, "event")
	if !webhookEvents[event] {
		s.writeError(w, http.StatusBadRequest, "UNKNOWN_EVENT", "Unknown webhook event")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read request body")
		return
	}
	if s.opts.WebhookSecret != "" {
		sig := r.Header.Get("X-Webhook-Signature")
		if sig == "" || !consumer.VerifySignature(s.opts.WebhookSecret, body, sig) {
			s.writeError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature mismatch")
			return
		}
	}
	if len(body) > 0 && !json.Valid(body) {
		s.writeError(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be JSON")
		return
	}

	if _, err := s.publisher.Publish(r.Context(), TopicEvents, cms.Event{
		Name:       event,
		Payload:    body,
		OccurredAt: s.clock.Now(),
	}); err != nil {
		s.logger.Error("webhook publish failed", zap.String("event", event), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "", "Failed to process webhook")
		return
	}
	s.writeSuccess(w, http.StatusAccepted, map[string]string{"event": event})
}
