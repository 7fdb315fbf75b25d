package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/RezaEskandarii/firequeue/custom_errors"
	"github.com/RezaEskandarii/firequeue/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPayload = `{"uuid":"u-1","job":"send_sms","maxTries":0,"timeout":60,"data":{"to":"+100"}}`

func newMockStore(t *testing.T) (*PostgresQueueStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresQueueStore(db), mock
}

func jobRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "queue", "payload", "attempts", "reserved_at", "available_at", "created_at", "timeout_seconds"})
}

func TestNewPostgresQueueStore(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresQueueStore(db)
	require.NotNil(t, store)
}

func TestPostgresQueueStore_Insert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO firequeue_schema.jobs").
		WithArgs("default", testPayload, float64(30), 60).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	jobID, err := store.Insert(context.Background(), types.NewJob{
		Queue:          "default",
		Payload:        testPayload,
		Delay:          30 * time.Second,
		TimeoutSeconds: 60,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), jobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_Insert_StorageError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO firequeue_schema.jobs").
		WillReturnError(sql.ErrConnDone)

	_, err := store.Insert(context.Background(), types.NewJob{Queue: "default", Payload: testPayload, TimeoutSeconds: 60})
	require.Error(t, err)
	assert.True(t, custom_errors.IsStorageError(err))
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestPostgresQueueStore_InsertBatch_Empty(t *testing.T) {
	store, _ := newMockStore(t)

	ids, err := store.InsertBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPostgresQueueStore_InsertBatch(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO firequeue_schema.jobs")
	prep.ExpectQuery().WithArgs("high", "p1", float64(0), 60).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	prep.ExpectQuery().WithArgs("default", "p2", float64(0), 60).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	mock.ExpectCommit()

	ids, err := store.InsertBatch(context.Background(), []types.NewJob{
		{Queue: "high", Payload: "p1", TimeoutSeconds: 60},
		{Queue: "default", Payload: "p2", TimeoutSeconds: 60},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_InsertBatch_RollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO firequeue_schema.jobs")
	prep.ExpectQuery().WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	prep.ExpectQuery().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	ids, err := store.InsertBatch(context.Background(), []types.NewJob{
		{Queue: "default", Payload: "p1", TimeoutSeconds: 60},
		{Queue: "default", Payload: "p2", TimeoutSeconds: 60},
	})
	assert.Nil(t, ids)
	assert.True(t, custom_errors.IsStorageError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_ReserveNext(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("UPDATE firequeue_schema.jobs").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(jobRows().AddRow(7, "high", testPayload, 1, now, now.Add(-time.Minute), now.Add(-time.Hour), 60))

	job, err := store.ReserveNext(context.Background(), []string{"high", "default"})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, int64(7), job.ID)
	assert.Equal(t, "high", job.Queue)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.ReservedAt)
	assert.True(t, job.ReservedAt.Equal(now))
	assert.Equal(t, time.Minute, job.Timeout())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_ReserveNext_Empty(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE firequeue_schema.jobs").
		WillReturnRows(jobRows())

	job, err := store.ReserveNext(context.Background(), []string{"default"})
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_ReserveNext_NoQueues(t *testing.T) {
	store, mock := newMockStore(t)

	job, err := store.ReserveNext(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_ReserveNext_StorageError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE firequeue_schema.jobs").
		WillReturnError(errors.New("connection reset by peer"))

	job, err := store.ReserveNext(context.Background(), []string{"default"})
	assert.Nil(t, job)
	assert.True(t, custom_errors.IsStorageError(err))
}

func TestPostgresQueueStore_Release(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE firequeue_schema.jobs").
		WithArgs(5, 2, float64(20)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Release(context.Background(), &types.JobRecord{ID: 5, Attempts: 2}, 20*time.Second)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_Release_ReservationLost(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE firequeue_schema.jobs").
		WithArgs(5, 2, float64(0)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Release(context.Background(), &types.JobRecord{ID: 5, Attempts: 2}, 0)
	assert.ErrorIs(t, err, custom_errors.ErrReservationLost)
	assert.False(t, custom_errors.IsStorageError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_Delete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM firequeue_schema.jobs").
		WithArgs(1, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Delete(context.Background(), &types.JobRecord{ID: 1, Attempts: 1})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_Delete_ReservationLost(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM firequeue_schema.jobs").
		WithArgs(1, 1).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), &types.JobRecord{ID: 1, Attempts: 1})
	assert.ErrorIs(t, err, custom_errors.ErrReservationLost)
}

func TestPostgresQueueStore_MoveToFailed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM firequeue_schema.jobs").
		WithArgs(9, 3).
		WillReturnRows(sqlmock.NewRows([]string{"queue", "payload"}).AddRow("default", testPayload))
	mock.ExpectExec("INSERT INTO firequeue_schema.failed_jobs").
		WithArgs("u-1", "default", testPayload, "boom", 3).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.MoveToFailed(context.Background(), &types.JobRecord{ID: 9, Attempts: 3, Queue: "default", Payload: testPayload}, "boom")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_MoveToFailed_SecondCallIsNoop(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM firequeue_schema.jobs").
		WithArgs(9, 3).
		WillReturnRows(sqlmock.NewRows([]string{"queue", "payload"}))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM firequeue_schema.jobs WHERE id = \$1\)`).
		WithArgs(9, "u-1", 3).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	err := store.MoveToFailed(context.Background(), &types.JobRecord{ID: 9, Attempts: 3, Payload: testPayload}, "boom")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_MoveToFailed_SupersededAttemptIsReservationLost(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM firequeue_schema.jobs").
		WithArgs(9, 3).
		WillReturnRows(sqlmock.NewRows([]string{"queue", "payload"}))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM firequeue_schema.jobs WHERE id = \$1\)`).
		WithArgs(9, "u-1", 3).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := store.MoveToFailed(context.Background(), &types.JobRecord{ID: 9, Attempts: 3, Payload: testPayload}, "boom")
	assert.ErrorIs(t, err, custom_errors.ErrReservationLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_MoveToFailed_InsertFailsRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM firequeue_schema.jobs").
		WillReturnRows(sqlmock.NewRows([]string{"queue", "payload"}).AddRow("default", testPayload))
	mock.ExpectExec("INSERT INTO firequeue_schema.failed_jobs").
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := store.MoveToFailed(context.Background(), &types.JobRecord{ID: 9, Attempts: 3, Payload: testPayload}, "boom")
	assert.True(t, custom_errors.IsStorageError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_FindByID(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM firequeue_schema.jobs WHERE id").
		WithArgs(3).
		WillReturnRows(jobRows().AddRow(3, "default", testPayload, 0, nil, now, now, 60))

	job, err := store.FindByID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), job.ID)
	assert.Nil(t, job.ReservedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueueStore_FindByID_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM firequeue_schema.jobs WHERE id").
		WithArgs(404).
		WillReturnRows(jobRows())

	_, err := store.FindByID(context.Background(), 404)
	assert.ErrorIs(t, err, custom_errors.ErrJobNotFound)
}

func TestPostgresQueueStore_Size(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("default").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))

	count, err := store.Size(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, 10, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
