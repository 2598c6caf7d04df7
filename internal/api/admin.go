package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/oneirolab/dreamgate/internal/cms"
)

func (s *Server) handleListFailedJobs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageSize, maxPageSize)
	offset := queryInt(r, "offset", 0, 0)
	jobs, err := s.stores.FailedJobs.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("failed-job list failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "", "Failed to list failed jobs")
		return
	}
	s.writeSuccess(w, http.StatusOK, jobs)
}

// handleRequeueFailedJob puts a dead message back on the queue with a
// fresh retry budget and removes its failure record.
func (s *Server) handleRequeueFailedJob(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	job, err := s.stores.FailedJobs.Get(r.Context(), messageID)
	if errors.Is(err, cms.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "NOT_FOUND", "Failed job not found")
		return
	}
	if err != nil {
		s.logger.Error("failed-job fetch failed", zap.String("message_id", messageID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "", "Failed to fetch failed job")
		return
	}
	msg := cms.QueueMessage{
		ID:         job.MessageID,
		Kind:       job.Kind,
		Payload:    job.Payload,
		EnqueuedAt: s.clock.Now(),
	}
	if err := s.queue.Enqueue(r.Context(), msg, 0); err != nil {
		s.logger.Error("requeue failed", zap.String("message_id", messageID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "", "Failed to requeue job")
		return
	}
	if err := s.stores.FailedJobs.Delete(r.Context(), messageID); err != nil {
		s.logger.Warn("failed-job cleanup failed", zap.String("message_id", messageID), zap.Error(err))
	}
	s.writeSuccess(w, http.StatusOK, map[string]string{"requeued": messageID})
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageSize, maxPageSize)
	offset := queryInt(r, "offset", 0, 0)
	subs, err := s.stores.Submissions.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("submission list failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "", "Failed to list submissions")
		return
	}
	s.writeSuccess(w, http.StatusOK, subs)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageSize, maxPageSize)
	offset := queryInt(r, "offset", 0, 0)
	recs, err := s.stores.Audit.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("audit list failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "", "Failed to list audit records")
		return
	}
	s.writeSuccess(w, http.StatusOK, recs)
}
