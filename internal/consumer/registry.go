// Package consumer processes async queue messages: dispatch by kind over an
// injected registry, bounded per-kind retry with exponential backoff, and a
// terminal failed_jobs record once the budget is exhausted.
package consumer

import "time"

// Message kinds handled by the worker fleet.
const (
	KindIndexSubmission   = "index-submission"
	KindEmailNotification = "email-notification"
	KindWebhookTrigger    = "webhook-trigger"
	KindAnalyticsExport   = "analytics-export"
	KindContentBackup     = "content-backup"
)

// JobSpec bounds retry behavior for one message kind.
type JobSpec struct {
	MaxRetries int
	RetryDelay time.Duration
}

// Registration pairs a spec with its handler.
type Registration struct {
	Spec   JobSpec
	Handle Handler
}

// Registry maps message kinds to registrations. Built once at startup and
// passed by reference so tests can substitute fakes.
type Registry map[string]Registration

// DefaultRegistry wires the production handlers with their per-kind retry
// budgets.
func DefaultRegistry(h *Handlers) Registry {
	return Registry{
		KindIndexSubmission: {
			Spec:   JobSpec{MaxRetries: 3, RetryDelay: 30 * time.Second},
			Handle: h.IndexSubmission,
		},
		KindEmailNotification: {
			Spec:   JobSpec{MaxRetries: 5, RetryDelay: 10 * time.Second},
			Handle: h.EmailNotification,
		},
		KindWebhookTrigger: {
			Spec:   JobSpec{MaxRetries: 3, RetryDelay: 15 * time.Second},
			Handle: h.WebhookTrigger,
		},
		KindAnalyticsExport: {
			Spec:   JobSpec{MaxRetries: 2, RetryDelay: time.Minute},
			Handle: h.AnalyticsExport,
		},
		KindContentBackup: {
			Spec:   JobSpec{MaxRetries: 2, RetryDelay: 2 * time.Minute},
			Handle: h.ContentBackup,
		},
	}
}
