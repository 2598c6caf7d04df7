package consumer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oneirolab/dreamgate/internal/cms"
	"github.com/oneirolab/dreamgate/internal/seo"
	storagememory "github.com/oneirolab/dreamgate/internal/storage/memory"
)

func newTestHandlers(cfg HandlerConfig) (*Handlers, *storagememory.SubmissionStore, *storagememory.BlobStore, *storagememory.AnalyticsStore) {
	submissions := storagememory.NewSubmissionStore()
	analytics := storagememory.NewAnalyticsStore()
	blobs := storagememory.NewBlobStore()
	pinger := seo.NewPinger(seo.PingerConfig{SiteURL: "https://example.com"}, nil)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	h := NewHandlers(submissions, storagememory.NewContentStore(), analytics, blobs, pinger, clock, cfg, nil)
	return h, submissions, blobs, analytics
}

func TestIndexSubmissionUnconfiguredProviderMarksFailed(t *testing.T) {
	t.Parallel()
	h, submissions, _, _ := newTestHandlers(HandlerConfig{})
	require.NoError(t, submissions.Create(context.Background(), cms.IndexSubmission{
		ID:       "sub-1",
		URL:      "https://example.com/blog/falling",
		Provider: cms.ProviderIndexNow,
		Status:   cms.SubmissionPending,
	}))

	payload, err := json.Marshal(IndexSubmissionPayload{
		SubmissionID: "sub-1",
		URL:          "https://example.com/blog/falling",
		Provider:     cms.ProviderIndexNow,
	})
	require.NoError(t, err)

	// No IndexNow key configured: the handler must swallow the gap instead
	// of burning the retry budget on an error that can never clear.
	err = h.IndexSubmission(context.Background(), cms.QueueMessage{ID: "m1", Kind: KindIndexSubmission, Payload: payload})
	require.NoError(t, err)

	subs, err := submissions.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, cms.SubmissionFailed, subs[0].Status)
}

func TestEmailNotificationUnconfiguredIsNoop(t *testing.T) {
	t.Parallel()
	h, _, _, _ := newTestHandlers(HandlerConfig{})
	err := h.EmailNotification(context.Background(), cms.QueueMessage{
		ID:      "m1",
		Kind:    KindEmailNotification,
		Payload: []byte(`{"to":"a@b.c","subject":"hi","body":"x"}`),
	})
	require.NoError(t, err)
}

func TestEmailNotificationPostsToAPI(t *testing.T) {
	t.Parallel()
	var gotAuth string
	var gotBody EmailPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	h, _, _, _ := newTestHandlers(HandlerConfig{EmailAPIURL: srv.URL, EmailAPIKey: "key-123"})
	err := h.EmailNotification(context.Background(), cms.QueueMessage{
		ID:      "m1",
		Kind:    KindEmailNotification,
		Payload: []byte(`{"to":"a@b.c","subject":"hi","body":"x"}`),
	})
	require.NoError(t, err)
	require.Equal(t, "Bearer key-123", gotAuth)
	require.Equal(t, "a@b.c", gotBody.To)
}

func TestWebhookTriggerSignsBody(t *testing.T) {
	t.Parallel()
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h, _, _, _ := newTestHandlers(HandlerConfig{WebhookSecret: "s3cret"})
	payload, err := json.Marshal(WebhookPayload{URL: srv.URL, Event: "content-published"})
	require.NoError(t, err)

	err = h.WebhookTrigger(context.Background(), cms.QueueMessage{ID: "m1", Kind: KindWebhookTrigger, Payload: payload})
	require.NoError(t, err)
	require.NotEmpty(t, gotSig)
	require.True(t, VerifySignature("s3cret", gotBody, gotSig))
}

func TestWebhookTriggerRejectsBadStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h, _, _, _ := newTestHandlers(HandlerConfig{})
	payload, err := json.Marshal(WebhookPayload{URL: srv.URL, Event: "x"})
	require.NoError(t, err)

	err = h.WebhookTrigger(context.Background(), cms.QueueMessage{ID: "m1", Kind: KindWebhookTrigger, Payload: payload})
	require.Error(t, err)
}

func TestAnalyticsExportWritesBlob(t *testing.T) {
	t.Parallel()
	h, _, blobs, analytics := newTestHandlers(HandlerConfig{StoragePrefix: "artifacts"})
	require.NoError(t, analytics.RecordEvent(context.Background(), cms.AnalyticsEvent{
		ID:         "e1",
		Name:       "page_view",
		OccurredAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}))

	err := h.AnalyticsExport(context.Background(), cms.QueueMessage{
		ID:      "m1",
		Kind:    KindAnalyticsExport,
		Payload: []byte(`{}`),
	})
	require.NoError(t, err)

	raw, ok := blobs.Object("artifacts/analytics/2026-03-01T09-00-00.json")
	require.True(t, ok)
	var summary cms.AnalyticsSummary
	require.NoError(t, json.Unmarshal(raw, &summary))
	require.EqualValues(t, 1, summary.TotalEvents)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	t.Parallel()
	body := []byte(`{"event":"content-published"}`)
	sig := Sign("secret", body)
	require.True(t, VerifySignature("secret", body, sig))
	require.False(t, VerifySignature("other", body, sig))
	require.False(t, VerifySignature("secret", []byte(`{}`), sig))
}
