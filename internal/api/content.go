package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/oneirolab/dreamgate/internal/cms"
	"github.com/oneirolab/dreamgate/internal/consumer"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// publishProviders are the index endpoints notified when content goes
// live.
var publishProviders = []cms.SubmissionProvider{
	cms.ProviderIndexNow,
	cms.ProviderGoogle,
	cms.ProviderBing,
}

func parseContentType(raw string) (cms.ContentType, bool) {
	switch ct := cms.ContentType(raw); ct {
	case cms.ContentTypeBlog, cms.ContentTypeGuide, cms.ContentTypeUtility, cms.ContentTypeDream:
		return ct, true
	default:
		return "", false
	}
}

func queryInt(r *http.Request, key string, def, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

type contentRequest struct {
	Type    string `json:"type"`
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Body    string `json:"body"`
	Status  string `json:"status"`
}

func (s *Server) handleListContent(w http.ResponseWriter, r *http.Request) {
	ctype, ok := parseContentType(r.URL.Query().Get("type"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "INVALID_TYPE", "Unknown or missing content type")
		return
	}
	s.listContent(w, r, ctype)
}

// listContentOf serves the typed collection routes (/api/blog, /api/dream,
// ...) where the path fixes the content type.
func (s *Server) listContentOf(ctype cms.ContentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.listContent(w, r, ctype)
	}
}

func (s *Server) listContent(w http.ResponseWriter, r *http.Request, ctype cms.ContentType) {
	limit := queryInt(r, "limit", defaultPageSize, maxPageSize)
	offset := queryInt(r, "offset", 0, 0)

	rows, err := s.stores.Content.List(r.Context(), ctype, limit, offset)
	if err != nil {
		s.logger.Error("content list failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "", "Failed to list content")
		return
	}
	s.writeSuccess(w, http.StatusOK, rows)
}

func (s *Server) handleCreateContent(w http.ResponseWriter, r *http.Request) {
	s.createContent(w, r, "")
}

func (s *Server) createContentOf(ctype cms.ContentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.createContent(w, r, ctype)
	}
}

func (s *Server) createContent(w http.ResponseWriter, r *http.Request, forced cms.ContentType) {
	var req contentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be JSON")
		return
	}
	if forced != "" {
		req.Type = string(forced)
	}
	ctype, ok := parseContentType(req.Type)
	if !ok || req.Slug == "" || req.Title == "" || req.Summary == "" {
		s.writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "Missing required fields")
		return
	}
	status := cms.ContentStatusDraft
	if req.Status == string(cms.ContentStatusPublished) {
		status = cms.ContentStatusPublished
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Error("id generation failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "", "Failed to create content")
		return
	}
	now := s.clock.Now()
	c := cms.Content{
		ID:        id,
		Type:      ctype,
		Slug:      req.Slug,
		Title:     req.Title,
		Summary:   req.Summary,
		Body:      req.Body,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if status == cms.ContentStatusPublished {
		c.PublishedAt = &now
	}
	if err := s.stores.Content.Create(r.Context(), c); err != nil {
		s.logger.Error("content create failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "", "Failed to create content")
		return
	}
	s.writeSuccess(w, http.StatusCreated, c)
}

func (s *Server) loadContent(w http.ResponseWriter, r *http.Request) (cms.Content, bool) {
	ctype, ok := parseContentType(chi.URLParam(r, "type"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "INVALID_TYPE", "Unknown content type")
		return cms.Content{}, false
	}
	return s.loadContentBy(w, r, ctype, chi.URLParam(r, "slug"))
}

func (s *Server) loadContentBy(w http.ResponseWriter, r *http.Request, ctype cms.ContentType, slug string) (cms.Content, bool) {
	c, err := s.stores.Content.GetBySlug(r.Context(), ctype, slug)
	if errors.Is(err, cms.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "NOT_FOUND", "Content not found")
		return cms.Content{}, false
	}
	if err != nil {
		s.logger.Error("content fetch failed", zap.String("slug", slug), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "", "Failed to fetch content")
		return cms.Content{}, false
	}
	return c, true
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadContent(w, r)
	if !ok {
		return
	}
	s.writeSuccess(w, http.StatusOK, c)
}

func (s *Server) getContentOf(ctype cms.ContentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.loadContentBy(w, r, ctype, chi.URLParam(r, "slug"))
		if !ok {
			return
		}
		s.writeSuccess(w, http.StatusOK, c)
	}
}

func (s *Server) handleUpdateContent(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadContent(w, r)
	if !ok {
		return
	}
	s.updateContent(w, r, c)
}

func (s *Server) updateContentOf(ctype cms.ContentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.loadContentBy(w, r, ctype, chi.URLParam(r, "slug"))
		if !ok {
			return
		}
		s.updateContent(w, r, c)
	}
}

func (s *Server) updateContent(w http.ResponseWriter, r *http.Request, c cms.Content) {
	var req contentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be JSON")
		return
	}
	if req.Title != "" {
		c.Title = req.Title
	}
	if req.Summary != "" {
		c.Summary = req.Summary
	}
	if req.Body != "" {
		c.Body = req.Body
	}
	c.UpdatedAt = s.clock.Now()
	if err := s.stores.Content.Update(r.Context(), c); err != nil {
		s.logger.Error("content update failed", zap.String("id", c.ID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "", "Failed to update content")
		return
	}
	s.writeSuccess(w, http.StatusOK, c)
}

func (s *Server) handleDeleteContent(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadContent(w, r)
	if !ok {
		return
	}
	s.deleteContent(w, r, c)
}

func (s *Server) deleteContentOf(ctype cms.ContentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.loadContentBy(w, r, ctype, chi.URLParam(r, "slug"))
		if !ok {
			return
		}
		s.deleteContent(w, r, c)
	}
}

func (s *Server) deleteContent(w http.ResponseWriter, r *http.Request, c cms.Content) {
	if err := s.stores.Content.Delete(r.Context(), c.ID); err != nil {
		s.logger.Error("content delete failed", zap.String("id", c.ID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "", "Failed to delete content")
		return
	}
	s.writeSuccess(w, http.StatusOK, map[string]string{"deleted": c.ID})
}

func (s *Server) handlePublishContent(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadContent(w, r)
	if !ok {
		return
	}
	s.publishContent(w, r, c)
}

func (s *Server) publishContentOf(ctype cms.ContentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.loadContentBy(w, r, ctype, chi.URLParam(r, "slug"))
		if !ok {
			return
		}
		s.publishContent(w, r, c)
	}
}

// publishContent flips the row to published, queues index submissions
// for each provider and announces the event. Queue or publisher trouble
// degrades to a warning; the publish itself sticks.
func (s *Server) publishContent(w http.ResponseWriter, r *http.Request, c cms.Content) {
	now := s.clock.Now()
	c.Status = cms.ContentStatusPublished
	c.PublishedAt = &now
	c.UpdatedAt = now
	if err := s.stores.Content.Update(r.Context(), c); err != nil {
		s.logger.Error("publish update failed", zap.String("id", c.ID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "", "Failed to publish content")
		return
	}

	s.queueSubmissions(r, c)

	payload, _ := json.Marshal(map[string]string{
		"id":   c.ID,
		"type": string(c.Type),
		"slug": c.Slug,
	})
	if _, err := s.publisher.Publish(r.Context(), TopicEvents, cms.Event{
		Name:       "content-published",
		Payload:    payload,
		OccurredAt: now,
	}); err != nil {
		s.logger.Warn("event publish failed", zap.String("id", c.ID), zap.Error(err))
	}

	s.writeSuccess(w, http.StatusOK, c)
}

func (s *Server) queueSubmissions(r *http.Request, c cms.Content) {
	target := s.opts.SiteURL + "/" + string(c.Type) + "/" + c.Slug
	for _, provider := range publishProviders {
		subID, err := s.ids.NewID()
		if err != nil {
			s.logger.Warn("submission id generation failed", zap.Error(err))
			continue
		}
		sub := cms.IndexSubmission{
			ID:        subID,
			URL:       target,
			Provider:  provider,
			Status:    cms.SubmissionPending,
			CreatedAt: s.clock.Now(),
		}
		if err := s.stores.Submissions.Create(r.Context(), sub); err != nil {
			s.logger.Warn("submission record failed", zap.String("provider", string(provider)), zap.Error(err))
			continue
		}
		payload, err := json.Marshal(consumer.IndexSubmissionPayload{
			SubmissionID: sub.ID,
			URL:          sub.URL,
			Provider:     sub.Provider,
		})
		if err != nil {
			s.logger.Warn("submission payload marshal failed", zap.Error(err))
			continue
		}
		msgID, err := s.ids.NewID()
		if err != nil {
			s.logger.Warn("message id generation failed", zap.Error(err))
			continue
		}
		msg := cms.QueueMessage{
			ID:         msgID,
			Kind:       consumer.KindIndexSubmission,
			Payload:    payload,
			EnqueuedAt: s.clock.Now(),
		}
		if err := s.queue.Enqueue(r.Context(), msg, 0); err != nil {
			s.logger.Warn("submission enqueue failed", zap.String("provider", string(provider)), zap.Error(err))
		}
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.writeError(w, http.StatusBadRequest, "MISSING_QUERY", "Query parameter q is required")
		return
	}
	limit := queryInt(r, "limit", defaultPageSize, maxPageSize)
	rows, err := s.stores.Content.Search(r.Context(), q, limit)
	if err != nil {
		s.logger.Error("search failed", zap.String("q", q), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "", "Search failed")
		return
	}
	s.writeSuccess(w, http.StatusOK, rows)
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("slug")
	if slug == "" {
		s.writeError(w, http.StatusBadRequest, "MISSING_SLUG", "Query parameter slug is required")
		return
	}
	limit := queryInt(r, "limit", 5, maxPageSize)
	rows, err := s.stores.Content.Related(r.Context(), slug, limit)
	if err != nil {
		s.logger.Error("related lookup failed", zap.String("slug", slug), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "", "Related lookup failed")
		return
	}
	s.writeSuccess(w, http.StatusOK, rows)
}
