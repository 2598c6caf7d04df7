package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oneirolab/dreamgate/internal/cms"
)

// SubmissionStore keeps index submissions in memory.
type SubmissionStore struct {
	mu   sync.RWMutex
	rows map[string]cms.IndexSubmission
}

// NewSubmissionStore returns an empty SubmissionStore.
func NewSubmissionStore() *SubmissionStore {
	return &SubmissionStore{rows: make(map[string]cms.IndexSubmission)}
}

// Create stores a submission row.
func (s *SubmissionStore) Create(_ context.Context, sub cms.IndexSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[sub.ID] = sub
	return nil
}

// UpdateStatus records an attempt outcome.
func (s *SubmissionStore) UpdateStatus(
	_ context.Context,
	id string,
	status cms.SubmissionStatus,
	retryCount int,
	submittedAt *time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.rows[id]
	if !ok {
		return cms.ErrNotFound
	}
	sub.Status = status
	sub.RetryCount = retryCount
	sub.SubmittedAt = submittedAt
	s.rows[id] = sub
	return nil
}

// ListPending returns pending rows under the retry cap, oldest first.
func (s *SubmissionStore) ListPending(_ context.Context, maxRetries int, limit int) ([]cms.IndexSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []cms.IndexSubmission
	for _, sub := range s.rows {
		if sub.Status == cms.SubmissionPending && sub.RetryCount < maxRetries {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// List returns rows newest first.
func (s *SubmissionStore) List(_ context.Context, limit, offset int) ([]cms.IndexSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []cms.IndexSubmission
	for _, sub := range s.rows {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// FailedJobStore keeps failed jobs in memory.
type FailedJobStore struct {
	mu   sync.RWMutex
	rows map[string]cms.FailedJob
}

// NewFailedJobStore returns an empty FailedJobStore.
func NewFailedJobStore() *FailedJobStore {
	return &FailedJobStore{rows: make(map[string]cms.FailedJob)}
}

// Create stores the terminal record for an exhausted message.
func (s *FailedJobStore) Create(_ context.Context, f cms.FailedJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[f.MessageID] = f
	return nil
}

// Get fetches one record by message ID.
func (s *FailedJobStore) Get(_ context.Context, messageID string) (cms.FailedJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.rows[messageID]
	if !ok {
		return cms.FailedJob{}, cms.ErrNotFound
	}
	return f, nil
}

// List returns records newest first.
func (s *FailedJobStore) List(_ context.Context, limit, offset int) ([]cms.FailedJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []cms.FailedJob
	for _, f := range s.rows {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.After(out[j].FailedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a record.
func (s *FailedJobStore) Delete(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[messageID]; !ok {
		return cms.ErrNotFound
	}
	delete(s.rows, messageID)
	return nil
}

// Count reports the number of records (for tests).
func (s *FailedJobStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// AuditStore keeps audit records in memory.
type AuditStore struct {
	mu   sync.RWMutex
	rows []cms.AuditRecord
}

// NewAuditStore returns an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Record appends one audit row.
func (s *AuditStore) Record(_ context.Context, rec cms.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rec)
	return nil
}

// List returns rows newest first.
func (s *AuditStore) List(_ context.Context, limit, offset int) ([]cms.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]cms.AuditRecord, len(s.rows))
	copy(out, s.rows)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// AnalyticsStore keeps analytics events in memory.
type AnalyticsStore struct {
	mu     sync.RWMutex
	events []cms.AnalyticsEvent
}

// NewAnalyticsStore returns an empty AnalyticsStore.
func NewAnalyticsStore() *AnalyticsStore {
	return &AnalyticsStore{}
}

// RecordEvent appends one event.
func (s *AnalyticsStore) RecordEvent(_ context.Context, ev cms.AnalyticsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Summary aggregates events since the given time.
func (s *AnalyticsStore) Summary(_ context.Context, since time.Time) (cms.AnalyticsSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary := cms.AnalyticsSummary{ByName: make(map[string]int64), Since: since}
	for _, ev := range s.events {
		if ev.OccurredAt.Before(since) {
			continue
		}
		summary.ByName[ev.Name]++
		summary.TotalEvents++
	}
	return summary, nil
}

// PurgeBefore drops events older than the cutoff.
func (s *AnalyticsStore) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var purged int64
	for _, ev := range s.events {
		if ev.OccurredAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return purged, nil
}
