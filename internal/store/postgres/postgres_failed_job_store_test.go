package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/RezaEskandarii/firequeue/custom_errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failedRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "uuid", "queue", "payload", "exception", "failed_at"})
}

func TestPostgresQueueStore_ListFailed(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("SELECT (.+) FROM firequeue_schema.failed_jobs").
		WithArgs(2, 0).
		WillReturnRows(failedRows().
			AddRow(3, "u-3", "default", testPayload, "boom", now).
			AddRow(2, "u-2", "high", testPayload, "bang", now.Add(-time.Minute)))

	result, err := store.ListFailed(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "u-3", result.Items[0].UUID)
	assert.Equal(t, 3, result.TotalItems)
	assert.Equal(t, 2, result.TotalPages)
	assert.True(t, result.HasNextPage)
	assert.False(t, result.HasPreviousPage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_ListFailed_NormalizesPaging(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT (.+) FROM firequeue_schema.failed_jobs").
		WithArgs(15, 0).
		WillReturnRows(failedRows())

	result, err := store.ListFailed(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.Equal(t, 1, result.Page)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_FindFailed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM firequeue_schema.failed_jobs WHERE id").
		WithArgs(1).
		WillReturnRows(failedRows().AddRow(1, "u-1", "default", testPayload, "boom", time.Now()))

	job, err := store.FindFailed(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "boom", job.Exception)

	mock.ExpectQuery("SELECT (.+) FROM firequeue_schema.failed_jobs WHERE id").
		WithArgs(2).
		WillReturnRows(failedRows())

	_, err = store.FindFailed(context.Background(), 2)
	assert.ErrorIs(t, err, custom_errors.ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_ForgetFailed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM firequeue_schema.failed_jobs").
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM firequeue_schema.failed_jobs").
		WithArgs(2).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.ForgetFailed(context.Background(), 1))
	assert.ErrorIs(t, store.ForgetFailed(context.Background(), 2), custom_errors.ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_FlushFailed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM firequeue_schema.failed_jobs").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := store.FlushFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_RetryFailed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM firequeue_schema.failed_jobs").
		WithArgs(8).
		WillReturnRows(sqlmock.NewRows([]string{"queue", "payload"}).AddRow("high", testPayload))
	mock.ExpectQuery("INSERT INTO firequeue_schema.jobs").
		WithArgs("high", testPayload, 90).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100))
	mock.ExpectCommit()

	jobID, err := store.RetryFailed(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, int64(100), jobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_RetryFailed_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM firequeue_schema.failed_jobs").
		WithArgs(8).
		WillReturnRows(sqlmock.NewRows([]string{"queue", "payload"}))
	mock.ExpectRollback()

	_, err := store.RetryFailed(context.Background(), 8)
	assert.ErrorIs(t, err, custom_errors.ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
