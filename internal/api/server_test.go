package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	cachememory "github.com/oneirolab/dreamgate/internal/cache/memory"
	"github.com/oneirolab/dreamgate/internal/cms"
	"github.com/oneirolab/dreamgate/internal/consumer"
	"github.com/oneirolab/dreamgate/internal/id/uuid"
	pubmemory "github.com/oneirolab/dreamgate/internal/publisher/memory"
	queuememory "github.com/oneirolab/dreamgate/internal/queue/memory"
	"github.com/oneirolab/dreamgate/internal/ratelimit"
	storagememory "github.com/oneirolab/dreamgate/internal/storage/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type recordingEmitter struct {
	mu   sync.Mutex
	recs []cms.AuditRecord
}

func (e *recordingEmitter) Emit(rec cms.AuditRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recs = append(e.recs, rec)
}

func (e *recordingEmitter) records() []cms.AuditRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]cms.AuditRecord(nil), e.recs...)
}

type testEnv struct {
	server    *Server
	content   *storagememory.ContentStore
	failed    *storagememory.FailedJobStore
	queue     *queuememory.Queue
	publisher *pubmemory.Publisher
	emitter   *recordingEmitter
	clock     *fakeClock
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
	content := storagememory.NewContentStore()
	failed := storagememory.NewFailedJobStore()
	q := queuememory.New()
	pub := pubmemory.New()
	emitter := &recordingEmitter{}
	cache := cachememory.NewWithClock(clock.Now)

	limiter := ratelimit.New(cache, ratelimit.Config{
		Default:        ratelimit.Rule{Window: time.Minute, Max: 1000},
		Global:         ratelimit.Rule{Window: time.Minute, Max: 5000},
		TrustedHeaders: []string{"X-Real-IP"},
	}, clock, nil)

	srv := New(
		opts,
		Stores{
			Content:     content,
			Submissions: storagememory.NewSubmissionStore(),
			FailedJobs:  failed,
			Audit:       storagememory.NewAuditStore(),
			Analytics:   storagememory.NewAnalyticsStore(),
		},
		cache,
		q,
		limiter,
		emitter,
		pub,
		uuid.New(),
		clock,
		nil,
	)
	return &testEnv{
		server:    srv,
		content:   content,
		failed:    failed,
		queue:     q,
		publisher: pub,
		emitter:   emitter,
		clock:     clock,
	}
}

func defaultOptions() Options {
	return Options{
		Development:      true,
		AllowedOrigins:   []string{"https://dreamgate.example.com", "https://staging.dreamgate.example.com"},
		RateLimitEnabled: true,
		SiteURL:          "https://dreamgate.example.com",
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Real-IP", "203.0.113.5")
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func decodeSuccess(t *testing.T, w *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var env struct {
		Success   bool            `json:"success"`
		Data      json.RawMessage `json:"data"`
		Timestamp time.Time       `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.True(t, env.Success)
	require.False(t, env.Timestamp.IsZero())
	if dest != nil {
		require.NoError(t, json.Unmarshal(env.Data, dest))
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.False(t, env.Success)
	require.NotEmpty(t, env.Error.Code)
	require.False(t, env.Error.Timestamp.IsZero())
	return env.Error
}

func TestHealthEnvelope(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultOptions())
	w := env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var data map[string]string
	decodeSuccess(t, w, &data)
	require.Equal(t, "ok", data["status"])
}

func TestUnknownRouteReturnsNotFoundEnvelope(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultOptions())
	w := env.do(t, http.MethodGet, "/api/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_FOUND", decodeError(t, w).Code)
}

func TestMethodNotAllowedCodeDefaults(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultOptions())
	w := env.do(t, http.MethodDelete, "/api/health", nil)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	require.Equal(t, "HTTP_405", decodeError(t, w).Code)
}

func TestCreateContentValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultOptions())

	w := env.do(t, http.MethodPost, "/api/content", map[string]string{
		"type": "blog", "slug": "falling",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	e := decodeError(t, w)
	require.Equal(t, "VALIDATION_FAILED", e.Code)
	require.Equal(t, "Missing required fields", e.Message)

	w = env.do(t, http.MethodPost, "/api/content", map[string]string{
		"type": "poem", "slug": "falling", "title": "t", "summary": "s",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContentCreateGetRoundTrip(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultOptions())

	w := env.do(t, http.MethodPost, "/api/content", map[string]string{
		"type":    "dream",
		"slug":    "falling",
		"title":   "Falling Dreams",
		"summary": "What falling dreams mean",
		"body":    "Long form text.",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created cms.Content
	decodeSuccess(t, w, &created)
	require.NotEmpty(t, created.ID)
	require.Equal(t, cms.ContentStatusDraft, created.Status)

	w = env.do(t, http.MethodGet, "/api/content/dream/falling", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got cms.Content
	decodeSuccess(t, w, &got)
	require.Equal(t, created.ID, got.ID)

	w = env.do(t, http.MethodGet, "/api/content/dream/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestTypedRoutesFixContentType(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultOptions())

	// The path decides the type; a conflicting body field is ignored.
	w := env.do(t, http.MethodPost, "/api/dream", map[string]string{
		"type":    "blog",
		"slug":    "teeth",
		"title":   "Teeth Dreams",
		"summary": "What teeth dreams mean",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created cms.Content
	decodeSuccess(t, w, &created)
	require.Equal(t, cms.ContentTypeDream, created.Type)

	w = env.do(t, http.MethodGet, "/api/dream/teeth", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got cms.Content
	decodeSuccess(t, w, &got)
	require.Equal(t, created.ID, got.ID)

	// The same slug is invisible under a different typed prefix.
	w = env.do(t, http.MethodGet, "/api/blog/teeth", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodDelete, "/api/dream/teeth", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/api/dream/teeth", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublishQueuesSubmissionsAndEvent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultOptions())

	w := env.do(t, http.MethodPost, "/api/content", map[string]string{
		"type": "blog", "slug": "teeth", "title": "Teeth", "summary": "s",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/api/content/blog/teeth/publish", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var published cms.Content
	decodeSuccess(t, w, &published)
	require.Equal(t, cms.ContentStatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)

	// One queue message per provider.
	ready, _ := env.queue.Depth()
	require.Equal(t, len(publishProviders), ready)
	msg, err := env.queue.Dequeue(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, consumer.KindIndexSubmission, msg.Kind)

	msgs := env.publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, TopicEvents, msgs[0].Topic)
}

func TestSearchRequiresQuery(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultOptions())
	w := env.do(t, http.MethodGet, "/api/search", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "MISSING_QUERY", decodeError(t, w).Code)
}

func TestCORSFallbackOrigin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultOptions())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	// Disallowed origins get the first allow-listed origin, not a block.
	require.Equal(t, "https://dreamgate.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://staging.dreamgate.example.com")
	w = httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	require.Equal(t, "https://staging.dreamgate.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflightShortCircuits(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultOptions())
	req := httptest.NewRequest(http.MethodOptions, "/api/content", nil)
	req.Header.Set("Origin", "https://dreamgate.example.com")
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestRateLimitReturns429(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultOptions())
	// Rebuild the limiter with a tiny budget.
	clock := env.clock
	cache := cachememory.NewWithClock(clock.Now)
	env.server.limiter = ratelimit.New(cache, ratelimit.Config{
		Default:        ratelimit.Rule{Window: time.Minute, Max: 2},
		Global:         ratelimit.Rule{Window: time.Minute, Max: 100},
		TrustedHeaders: []string{"X-Real-IP"},
	}, clock, nil)

	for i := 0; i < 2; i++ {
		w := env.do(t, http.MethodGet, "/api/content?type=blog", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := env.do(t, http.MethodGet, "/api/content?type=blog", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "RATE_LIMITED", decodeError(t, w).Code)
	require.Equal(t, "60", w.Header().Get("Retry-After"))

	// Health stays reachable under pressure.
	w = env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookUnknownEvent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultOptions())
	w := env.do(t, http.MethodPost, "/api/webhook/surprise", map[string]string{"k": "v"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "UNKNOWN_EVENT", decodeError(t, w).Code)
}

func TestWebhookSignatureEnforcedWhenConfigured(t *testing.T) {
	t.Parallel()
	opts := defaultOptions()
	opts.WebhookSecret = "hook-secret"
	env := newTestEnv(t, opts)

	body := []byte(`{"slug":"falling"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/content-published", bytes.NewReader(body))
	req.Header.Set("X-Real-IP", "203.0.113.5")
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/webhook/content-published", bytes.NewReader(body))
	req.Header.Set("X-Real-IP", "203.0.113.5")
	req.Header.Set("X-Webhook-Signature", consumer.Sign("hook-secret", body))
	w = httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, env.publisher.Messages(), 1)
}

func TestAdminJWTGate(t *testing.T) {
	t.Parallel()
	opts := defaultOptions()
	opts.JWTSecret = "top-secret"
	env := newTestEnv(t, opts)

	w := env.do(t, http.MethodGet, "/api/admin/failed-jobs", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("top-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/failed-jobs", nil)
	req.Header.Set("X-Real-IP", "203.0.113.5")
	req.Header.Set("Authorization", "Bearer "+signed)
	w2 := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w2, req)
	require.Equal(t, http.StatusOK, w2.Code)
}

func TestAdminOpenWithoutSecret(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultOptions())
	w := env.do(t, http.MethodGet, "/api/admin/failed-jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRequeueFailedJob(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultOptions())
	require.NoError(t, env.failed.Create(context.Background(), cms.FailedJob{
		MessageID:    "m-42",
		Kind:         consumer.KindEmailNotification,
		Payload:      []byte(`{"to":"a@b.c"}`),
		ErrorMessage: "smtp down",
		FailedAt:     env.clock.Now(),
	}))

	w := env.do(t, http.MethodPost, "/api/admin/failed-jobs/m-42/requeue", nil)
	require.Equal(t, http.StatusOK, w.Code)

	msg, err := env.queue.Dequeue(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "m-42", msg.ID)
	require.Zero(t, msg.RetryCount)
	require.Equal(t, 0, env.failed.Count())

	w = env.do(t, http.MethodPost, "/api/admin/failed-jobs/m-42/requeue", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalyticsSummaryColdCache(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultOptions())
	w := env.do(t, http.MethodGet, "/api/analytics/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var summary cms.AnalyticsSummary
	decodeSuccess(t, w, &summary)
	require.Zero(t, summary.TotalEvents)
	require.NotNil(t, summary.ByName)
}

func TestAnalyticsEventValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultOptions())
	w := env.do(t, http.MethodPost, "/api/analytics/events", map[string]string{"path": "/blog/falling"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/analytics/events", map[string]string{
		"name": "page_view", "path": "/blog/falling",
	})
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestMutationsAreAudited(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultOptions())

	env.do(t, http.MethodGet, "/api/content?type=blog", nil)
	env.do(t, http.MethodPost, "/api/content", map[string]string{
		"type": "blog", "slug": "s", "title": "t", "summary": "x",
	})
	env.do(t, http.MethodGet, "/api/admin/audit", nil)

	recs := env.emitter.records()
	require.Len(t, recs, 2)
	require.Equal(t, http.MethodPost, recs[0].Method)
	require.Equal(t, "/api/content", recs[0].Path)
	require.Equal(t, "203.0.113.5", recs[0].Actor)
	require.Equal(t, "/api/admin/audit", recs[1].Path)
}

func TestPanicsBecomeEnvelopes(t *testing.T) {
	t.Parallel()
	opts := defaultOptions()
	opts.Development = false
	env := newTestEnv(t, opts)
	env.server.router.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})

	w := env.do(t, http.MethodGet, "/boom", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	e := decodeError(t, w)
	require.Equal(t, "HTTP_500", e.Code)
	// Production responses never leak the panic value.
	require.False(t, strings.Contains(e.Message, "kaboom"))
}
