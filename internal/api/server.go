// Package api exposes the HTTP surface: public content routes, analytics
// ingestion, webhook intake and the authenticated admin API, all wrapped
// in a uniform JSON envelope.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/oneirolab/dreamgate/internal/audit"
	"github.com/oneirolab/dreamgate/internal/cms"
	"github.com/oneirolab/dreamgate/internal/ratelimit"
	"github.com/oneirolab/dreamgate/internal/telemetry"
)

// Topic names for the event publisher.
const (
	TopicEvents = "cms-events"
)

// Options bundles server behavior knobs.
type Options struct {
	// Development leaves panic details in 500 responses; production
	// deployments redact them.
	Development bool
	// AllowedOrigins is the CORS allow-list. Requests from other origins
	// are answered with the first entry rather than rejected outright.
	AllowedOrigins []string
	// JWTSecret guards /api/admin. Empty leaves admin open.
	JWTSecret string
	// WebhookSecret enables HMAC verification of inbound webhooks.
	WebhookSecret string
	// RateLimitEnabled toggles the limiter middleware.
	RateLimitEnabled bool
	// RequestTimeout bounds each request's lifetime.
	RequestTimeout time.Duration
	// SiteURL is the public site base used when building submission URLs.
	SiteURL string
}

// Stores groups the persistence interfaces the handlers touch.
type Stores struct {
	Content     cms.ContentStore
	Submissions cms.SubmissionStore
	FailedJobs  cms.FailedJobStore
	Audit       cms.AuditStore
	Analytics   cms.AnalyticsStore
}

// Server carries the router and every collaborator the handlers need.
type Server struct {
	opts      Options
	stores    Stores
	cache     cms.Cache
	queue     cms.Queue
	limiter   *ratelimit.Limiter
	auditor   audit.Emitter
	publisher cms.Publisher
	ids       cms.IDGenerator
	clock     cms.Clock
	logger    *zap.Logger
	router    chi.Router
}

// New wires the server and builds its route tree.
func New(
	opts Options,
	stores Stores,
	cache cms.Cache,
	queue cms.Queue,
	limiter *ratelimit.Limiter,
	auditor audit.Emitter,
	publisher cms.Publisher,
	ids cms.IDGenerator,
	clock cms.Clock,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		opts:      opts,
		stores:    stores,
		cache:     cache,
		queue:     queue,
		limiter:   limiter,
		auditor:   auditor,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.logRequests)
	r.Use(s.recoverPanics)
	r.Use(s.corsHeaders)
	r.Use(chimiddleware.Timeout(s.opts.RequestTimeout))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "", "Method not allowed")
	})

	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Use(s.auditMutations)

			r.Route("/content", func(r chi.Router) {
				r.Get("/", s.handleListContent)
				r.Post("/", s.handleCreateContent)
				r.Route("/{type}/{slug}", func(r chi.Router) {
					r.Get("/", s.handleGetContent)
					r.Put("/", s.handleUpdateContent)
					r.Delete("/", s.handleDeleteContent)
					r.Post("/publish", s.handlePublishContent)
				})
			})

			// Typed aliases for the generic content routes, one per
			// content kind.
			for path, ctype := range map[string]cms.ContentType{
				"/blog":    cms.ContentTypeBlog,
				"/guide":   cms.ContentTypeGuide,
				"/utility": cms.ContentTypeUtility,
				"/dream":   cms.ContentTypeDream,
			} {
				r.Route(path, func(r chi.Router) {
					r.Get("/", s.listContentOf(ctype))
					r.Post("/", s.createContentOf(ctype))
					r.Route("/{slug}", func(r chi.Router) {
						r.Get("/", s.getContentOf(ctype))
						r.Put("/", s.updateContentOf(ctype))
						r.Delete("/", s.deleteContentOf(ctype))
						r.Post("/publish", s.publishContentOf(ctype))
					})
				})
			}

			r.Get("/search", s.handleSearch)
			r.Get("/related", s.handleRelated)

			r.Route("/analytics", func(r chi.Router) {
				r.Post("/events", s.handleRecordEvent)
				r.Get("/summary", s.handleAnalyticsSummary)
			})

			r.Post("/webhook/{event}", s.handleWebhook)

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.requireJWT)
				r.Get("/failed-jobs", s.handleListFailedJobs)
				r.Post("/failed-jobs/{messageID}/requeue", s.handleRequeueFailedJob)
				r.Get("/submissions", s.handleListSubmissions)
				r.Get("/audit", s.handleListAudit)
				r.Get("/content", s.handleListContent)
			})
		})
	})

	return r
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe runs the HTTP server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}
