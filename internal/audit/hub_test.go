package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oneirolab/dreamgate/internal/cms"
)

type captureSink struct {
	mu     sync.Mutex
	recs   []cms.AuditRecord
	closed bool
	err    error
}

func (s *captureSink) Consume(_ context.Context, batch []cms.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) records() []cms.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cms.AuditRecord(nil), s.recs...)
}

func TestHubDeliversToAllSinks(t *testing.T) {
	t.Parallel()
	a := &captureSink{}
	b := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, a, b)

	for i := 0; i < 5; i++ {
		hub.Emit(cms.AuditRecord{ID: "r", Method: "POST", Path: "/api/content"})
	}
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, a.records(), 5)
	require.Len(t, b.records(), 5)
	require.True(t, a.closed)
	require.True(t, b.closed)
}

func TestHubCloseFlushesBufferedRecords(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	// Long batch wait: records must still arrive via the close-time drain.
	hub := NewHub(Config{MaxBatchWait: time.Hour}, sink)

	hub.Emit(cms.AuditRecord{ID: "r1"})
	hub.Emit(cms.AuditRecord{ID: "r2"})
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, sink.records(), 2)
}

func TestHubEmitAfterCloseIsNoop(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(cms.AuditRecord{ID: "late"})
	require.Empty(t, sink.records())
}

func TestHubSinkErrorDoesNotStopPipeline(t *testing.T) {
	t.Parallel()
	failing := &captureSink{err: errors.New("db down")}
	healthy := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, failing, healthy)

	hub.Emit(cms.AuditRecord{ID: "r1"})
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, healthy.records(), 1)
}

func TestNilHubEmitIsSafe(t *testing.T) {
	t.Parallel()
	var hub *Hub
	hub.Emit(cms.AuditRecord{ID: "r"})
	require.NoError(t, hub.Close(context.Background()))
}
