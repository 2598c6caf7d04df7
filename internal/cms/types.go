// Package cms defines core types shared across subsystems.
package cms

import (
	"encoding/json"
	"time"
)

// ContentType classifies a content row.
type ContentType string

// Content types served by the API.
const (
	ContentTypeBlog    ContentType = "blog"
	ContentTypeGuide   ContentType = "guide"
	ContentTypeUtility ContentType = "utility"
	ContentTypeDream   ContentType = "dream"
)

// ContentStatus represents the publication state of a content row.
type ContentStatus string

// Content status values persisted in the content store.
const (
	ContentStatusDraft     ContentStatus = "draft"
	ContentStatusPublished ContentStatus = "published"
)

// Content is the persisted representation of an article, guide, utility
// page or dream-dictionary entry.
type Content struct {
	ID          string        `json:"id"`
	Type        ContentType   `json:"type"`
	Slug        string        `json:"slug"`
	Title       string        `json:"title"`
	Summary     string        `json:"summary"`
	Body        string        `json:"body,omitempty"`
	Status      ContentStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	PublishedAt *time.Time    `json:"published_at,omitempty"`
}

// QueueMessage is the unit of work carried by the async queue.
type QueueMessage struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int             `json:"retry_count"`
	Priority   int             `json:"priority,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// ResultStatus is the terminal (or intermediate) outcome of one message.
type ResultStatus string

// Result status values recorded per processed message.
const (
	ResultSuccess ResultStatus = "success"
	ResultRetry   ResultStatus = "retry"
	ResultFailed  ResultStatus = "failed"
	ResultError   ResultStatus = "error"
)

// Result records the outcome of processing a single queue message.
type Result struct {
	MessageID string       `json:"message_id"`
	Kind      string       `json:"kind"`
	Status    ResultStatus `json:"status"`
	Err       string       `json:"error,omitempty"`
}

// FailedJob is written exactly once when a message exhausts its retry
// budget. Rows are never mutated afterwards; they are kept for manual
// inspection and requeueing.
type FailedJob struct {
	MessageID    string          `json:"message_id"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	ErrorMessage string          `json:"error_message"`
	FailedAt     time.Time       `json:"failed_at"`
}

// SubmissionProvider identifies a search-engine index endpoint.
type SubmissionProvider string

// Supported index-submission providers.
const (
	ProviderGoogle   SubmissionProvider = "google"
	ProviderBing     SubmissionProvider = "bing"
	ProviderIndexNow SubmissionProvider = "indexnow"
)

// SubmissionStatus tracks an index submission through its lifecycle.
type SubmissionStatus string

// Submission status values.
const (
	SubmissionPending   SubmissionStatus = "pending"
	SubmissionSubmitted SubmissionStatus = "submitted"
	SubmissionIndexed   SubmissionStatus = "indexed"
	SubmissionFailed    SubmissionStatus = "failed"
)

// MaxSubmissionRetries caps reattempts per index submission row.
const MaxSubmissionRetries = 3

// IndexSubmission is created when content is published and mutated as
// submission attempts succeed or fail.
type IndexSubmission struct {
	ID          string             `json:"id"`
	URL         string             `json:"url"`
	Provider    SubmissionProvider `json:"provider"`
	Status      SubmissionStatus   `json:"status"`
	RetryCount  int                `json:"retry_count"`
	SubmittedAt *time.Time         `json:"submitted_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// AuditRecord captures one admin or mutating API request.
type AuditRecord struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Status    int       `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// AnalyticsEvent is a raw analytics hit recorded by the public API.
type AnalyticsEvent struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Referrer   string    `json:"referrer,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AnalyticsSummary is an aggregate over stored analytics events.
type AnalyticsSummary struct {
	TotalEvents int64            `json:"total_events"`
	ByName      map[string]int64 `json:"by_name"`
	Since       time.Time        `json:"since"`
}

// Event is published to the event topic when something notable happens
// (content published, analytics alert, queue exhaustion).
type Event struct {
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}
