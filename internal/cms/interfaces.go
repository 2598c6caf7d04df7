package cms

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrCacheMiss is returned by Cache implementations for absent keys.
var ErrCacheMiss = errors.New("cache miss")

// ContentStore persists content rows. D1 in the original deployment,
// Postgres here.
type ContentStore interface {
	Create(ctx context.Context, c Content) error
	Update(ctx context.Context, c Content) error
	Delete(ctx context.Context, id string) error
	GetBySlug(ctx context.Context, ctype ContentType, slug string) (Content, error)
	List(ctx context.Context, ctype ContentType, limit, offset int) ([]Content, error)
	ListPublished(ctx context.Context) ([]Content, error)
	Search(ctx context.Context, query string, limit int) ([]Content, error)
	Related(ctx context.Context, slug string, limit int) ([]Content, error)
}

// SubmissionStore persists index_submissions rows.
type SubmissionStore interface {
	Create(ctx context.Context, s IndexSubmission) error
	UpdateStatus(ctx context.Context, id string, status SubmissionStatus, retryCount int, submittedAt *time.Time) error
	ListPending(ctx context.Context, maxRetries int, limit int) ([]IndexSubmission, error)
	List(ctx context.Context, limit, offset int) ([]IndexSubmission, error)
}

// FailedJobStore persists failed_jobs rows.
type FailedJobStore interface {
	Create(ctx context.Context, f FailedJob) error
	List(ctx context.Context, limit, offset int) ([]FailedJob, error)
	Get(ctx context.Context, messageID string) (FailedJob, error)
	Delete(ctx context.Context, messageID string) error
}

// AuditStore persists audit_logs rows.
type AuditStore interface {
	Record(ctx context.Context, rec AuditRecord) error
	List(ctx context.Context, limit, offset int) ([]AuditRecord, error)
}

// AnalyticsStore persists analytics events and aggregates.
type AnalyticsStore interface {
	RecordEvent(ctx context.Context, ev AnalyticsEvent) error
	Summary(ctx context.Context, since time.Time) (AnalyticsSummary, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cache provides ephemeral key-value storage for rate counters and
// realtime metric snapshots. Never authoritative.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Queue is the async message transport. Enqueue with a positive delay
// defers visibility until the delay elapses; retry state survives process
// restarts because the delayed set lives in the transport.
type Queue interface {
	Enqueue(ctx context.Context, msg QueueMessage, delay time.Duration) error
	Dequeue(ctx context.Context, block time.Duration) (QueueMessage, error)
	MoveDue(ctx context.Context, now time.Time, batch int64) (int64, error)
}

// BlobStore writes generated artifacts (sitemaps, exports, backups) and
// returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes CMS events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record and message IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
