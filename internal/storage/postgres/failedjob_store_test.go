package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/oneirolab/dreamgate/internal/cms"
)

func newFailedJobStore(t *testing.T) (*FailedJobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewFailedJobStore(mock)
	require.NoError(t, err)
	return store, mock
}

func TestFailedJobStoreCreateAndGet(t *testing.T) {
	t.Parallel()
	store, mock := newFailedJobStore(t)
	failedAt := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	job := cms.FailedJob{
		MessageID:    "m-1",
		Kind:         "email-notification",
		Payload:      []byte(`{"to":"a@b.c"}`),
		ErrorMessage: "smtp down",
		FailedAt:     failedAt,
	}

	mock.ExpectExec("INSERT INTO failed_jobs").
		WithArgs(job.MessageID, job.Kind, job.Payload, job.ErrorMessage, job.FailedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.Create(context.Background(), job))

	mock.ExpectQuery("SELECT .* FROM failed_jobs WHERE message_id = \\$1").
		WithArgs("m-1").
		WillReturnRows(pgxmock.NewRows([]string{"message_id", "kind", "payload", "error_message", "failed_at"}).
			AddRow(job.MessageID, job.Kind, job.Payload, job.ErrorMessage, job.FailedAt))

	got, err := store.Get(context.Background(), "m-1")
	require.NoError(t, err)
	require.Equal(t, job, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailedJobStoreGetNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newFailedJobStore(t)

	mock.ExpectQuery("SELECT .* FROM failed_jobs WHERE message_id = \\$1").
		WithArgs("absent").
		WillReturnRows(pgxmock.NewRows([]string{"message_id", "kind", "payload", "error_message", "failed_at"}))

	_, err := store.Get(context.Background(), "absent")
	require.ErrorIs(t, err, cms.ErrNotFound)
}

func TestFailedJobStoreDeleteNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newFailedJobStore(t)

	mock.ExpectExec("DELETE FROM failed_jobs WHERE message_id = \\$1").
		WithArgs("absent").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.ErrorIs(t, store.Delete(context.Background(), "absent"), cms.ErrNotFound)
}
