package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/oneirolab/dreamgate/internal/cms"
	"github.com/oneirolab/dreamgate/internal/scheduler"
)

type eventRequest struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Referrer string `json:"referrer"`
}

func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be JSON")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "Event name is required")
		return
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Error("id generation failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "", "Failed to record event")
		return
	}
	ev := cms.AnalyticsEvent{
		ID:         id,
		Name:       req.Name,
		Path:       req.Path,
		Referrer:   req.Referrer,
		OccurredAt: s.clock.Now(),
	}
	if err := s.stores.Analytics.RecordEvent(r.Context(), ev); err != nil {
		s.logger.Error("event record failed", zap.String("name", req.Name), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "", "Failed to record event")
		return
	}
	s.writeSuccess(w, http.StatusCreated, map[string]string{"id": id})
}

// handleAnalyticsSummary serves the cached aggregate written by the
// nightly job. A cold cache yields an empty summary rather than an error.
func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	var summary cms.AnalyticsSummary
	err := s.cache.GetJSON(r.Context(), scheduler.SummaryCacheKey, &summary)
	switch {
	case errors.Is(err, cms.ErrCacheMiss):
		summary = cms.AnalyticsSummary{ByName: map[string]int64{}}
	case err != nil:
		s.logger.Warn("summary cache read failed", zap.Error(err))
		summary = cms.AnalyticsSummary{ByName: map[string]int64{}}
	}
	s.writeSuccess(w, http.StatusOK, summary)
}
