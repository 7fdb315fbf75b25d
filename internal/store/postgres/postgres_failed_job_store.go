package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/RezaEskandarii/firequeue/custom_errors"
	"github.com/RezaEskandarii/firequeue/internal/store"
	"github.com/RezaEskandarii/firequeue/types"
)

const failedJobColumns = `id, uuid, queue, payload, exception, failed_at`

func (r *PostgresQueueStore) ListFailed(ctx context.Context, page int, pageSize int) (*types.PaginationResult[types.FailedJobRecord], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 15
	}
	offset := (page - 1) * pageSize

	var totalItems int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM firequeue_schema.failed_jobs`).Scan(&totalItems)
	if err != nil {
		return nil, custom_errors.NewStorageError("count failed jobs", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+failedJobColumns+`
		FROM firequeue_schema.failed_jobs
		ORDER BY failed_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, pageSize, offset)
	if err != nil {
		return nil, custom_errors.NewStorageError("list failed jobs", err)
	}
	defer rows.Close()

	var jobs []types.FailedJobRecord
	for rows.Next() {
		job, err := r.mapSqlRowsToFailedJob(rows)
		if err != nil {
			return nil, custom_errors.NewStorageError("scan failed job", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, custom_errors.NewStorageError("list failed jobs", err)
	}

	return types.NewPaginationResult(jobs, totalItems, page, pageSize), nil
}

func (r *PostgresQueueStore) FindFailed(ctx context.Context, id int64) (*types.FailedJobRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+failedJobColumns+` FROM firequeue_schema.failed_jobs WHERE id = $1`, id)
	if err != nil {
		return nil, custom_errors.NewStorageError("find failed job", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, custom_errors.NewStorageError("find failed job", err)
		}
		return nil, fmt.Errorf("failed job with ID %d: %w", id, custom_errors.ErrJobNotFound)
	}

	job, err := r.mapSqlRowsToFailedJob(rows)
	if err != nil {
		return nil, custom_errors.NewStorageError("scan failed job", err)
	}
	return job, nil
}

func (r *PostgresQueueStore) ForgetFailed(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM firequeue_schema.failed_jobs WHERE id = $1`, id)
	if err != nil {
		return custom_errors.NewStorageError(fmt.Sprintf("forget failed job %d", id), err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return custom_errors.NewStorageError("rows affected", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("failed job with ID %d: %w", id, custom_errors.ErrJobNotFound)
	}
	return nil
}

func (r *PostgresQueueStore) FlushFailed(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM firequeue_schema.failed_jobs`)
	if err != nil {
		return 0, custom_errors.NewStorageError("flush failed jobs", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, custom_errors.NewStorageError("rows affected", err)
	}
	return n, nil
}

func (r *PostgresQueueStore) RetryFailed(ctx context.Context, id int64) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, custom_errors.NewStorageError("begin retry failed", err)
	}
	defer tx.Rollback()

	var queue, payload string
	err = tx.QueryRowContext(ctx, `
		DELETE FROM firequeue_schema.failed_jobs
		WHERE id = $1
		RETURNING queue, payload
	`, id).Scan(&queue, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed job with ID %d: %w", id, custom_errors.ErrJobNotFound)
	}
	if err != nil {
		return 0, custom_errors.NewStorageError(fmt.Sprintf("take failed job %d", id), err)
	}

	var jobID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO firequeue_schema.jobs (queue, payload, attempts, reserved_at, available_at, created_at, timeout_seconds)
		VALUES ($1, $2, 0, NULL, now(), now(), $3)
		RETURNING id
	`, queue, payload, store.TimeoutSecondsOf(payload)).Scan(&jobID)
	if err != nil {
		return 0, custom_errors.NewStorageError("requeue failed job", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, custom_errors.NewStorageError("commit retry failed", err)
	}
	return jobID, nil
}

func (r *PostgresQueueStore) mapSqlRowsToFailedJob(rows *sql.Rows) (*types.FailedJobRecord, error) {
	var job types.FailedJobRecord
	if err := rows.Scan(
		&job.ID,
		&job.UUID,
		&job.Queue,
		&job.Payload,
		&job.Exception,
		&job.FailedAt,
	); err != nil {
		return nil, err
	}
	return &job, nil
}
