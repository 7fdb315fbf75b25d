package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/RezaEskandarii/firequeue/custom_errors"
	"github.com/RezaEskandarii/firequeue/internal/store"
	"github.com/RezaEskandarii/firequeue/types"
	"github.com/lib/pq"
)

const jobColumns = `id, queue, payload, attempts, reserved_at, available_at, created_at, timeout_seconds`

type PostgresQueueStore struct {
	db *sql.DB
}

var _ store.Store = (*PostgresQueueStore)(nil)

func NewPostgresQueueStore(db *sql.DB) *PostgresQueueStore {
	return &PostgresQueueStore{
		db: db,
	}
}

func (r *PostgresQueueStore) Insert(ctx context.Context, job types.NewJob) (int64, error) {
	query := `
        INSERT INTO firequeue_schema.jobs (
            queue,
            payload,
            attempts,
            reserved_at,
            available_at,
            created_at,
            timeout_seconds
        )
        VALUES ($1, $2, 0, NULL, now() + make_interval(secs => $3), now(), $4)
        RETURNING id
    `

	var jobID int64
	err := r.db.QueryRowContext(ctx, query,
		job.Queue,
		job.Payload,
		job.Delay.Seconds(),
		job.TimeoutSeconds,
	).Scan(&jobID)
	if err != nil {
		return 0, custom_errors.NewStorageError("insert job", err)
	}

	return jobID, nil
}

func (r *PostgresQueueStore) InsertBatch(ctx context.Context, jobs []types.NewJob) ([]int64, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, custom_errors.NewStorageError("begin batch insert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO firequeue_schema.jobs (queue, payload, attempts, reserved_at, available_at, created_at, timeout_seconds)
		VALUES ($1, $2, 0, NULL, now() + make_interval(secs => $3), now(), $4)
		RETURNING id
	`)
	if err != nil {
		return nil, custom_errors.NewStorageError("prepare batch insert", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(jobs))
	for _, job := range jobs {
		var id int64
		if err := stmt.QueryRowContext(ctx, job.Queue, job.Payload, job.Delay.Seconds(), job.TimeoutSeconds).Scan(&id); err != nil {
			return nil, custom_errors.NewStorageError("batch insert job", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, custom_errors.NewStorageError("commit batch insert", err)
	}
	return ids, nil
}

// ReserveNext claims one job with a single UPDATE whose target row is picked by a
// FOR UPDATE SKIP LOCKED subquery: concurrent workers skip rows another
// transaction is claiming instead of waiting on them, and a row that was claimed
// and committed no longer satisfies the eligibility predicate.
func (r *PostgresQueueStore) ReserveNext(ctx context.Context, queues []string) (*types.JobRecord, error) {
	if len(queues) == 0 {
		return nil, nil
	}

	query := `
		UPDATE firequeue_schema.jobs
		SET reserved_at = now(),
		    attempts = attempts + 1
		WHERE id = (
			SELECT id
			FROM firequeue_schema.jobs
			WHERE queue = ANY($1::text[])
			  AND available_at <= now()
			  AND (reserved_at IS NULL OR reserved_at <= now() - make_interval(secs => timeout_seconds))
			ORDER BY array_position($1::text[], queue), available_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns

	rows, err := r.db.QueryContext(ctx, query, pq.Array(queues))
	if err != nil {
		return nil, custom_errors.NewStorageError("reserve next job", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, custom_errors.NewStorageError("reserve next job", err)
		}
		return nil, nil
	}

	job, err := r.mapSqlRowsToJob(rows)
	if err != nil {
		return nil, custom_errors.NewStorageError("scan reserved job", err)
	}
	return job, nil
}

func (r *PostgresQueueStore) Release(ctx context.Context, job *types.JobRecord, delay time.Duration) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE firequeue_schema.jobs
		SET reserved_at = NULL,
		    available_at = now() + make_interval(secs => $3)
		WHERE id = $1 AND attempts = $2 AND reserved_at IS NOT NULL
	`, job.ID, job.Attempts, delay.Seconds())
	if err != nil {
		return custom_errors.NewStorageError(fmt.Sprintf("release job %d", job.ID), err)
	}
	return r.expectOneRow(result, job.ID)
}

func (r *PostgresQueueStore) Delete(ctx context.Context, job *types.JobRecord) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM firequeue_schema.jobs WHERE id = $1 AND attempts = $2`,
		job.ID, job.Attempts)
	if err != nil {
		return custom_errors.NewStorageError(fmt.Sprintf("delete job %d", job.ID), err)
	}
	return r.expectOneRow(result, job.ID)
}

func (r *PostgresQueueStore) MoveToFailed(ctx context.Context, job *types.JobRecord, errInfo string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return custom_errors.NewStorageError("begin move to failed", err)
	}
	defer tx.Rollback()

	var queue, payload string
	err = tx.QueryRowContext(ctx, `
		DELETE FROM firequeue_schema.jobs
		WHERE id = $1 AND attempts = $2
		RETURNING queue, payload
	`, job.ID, job.Attempts).Scan(&queue, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return r.explainMissedMove(ctx, tx, job)
	}
	if err != nil {
		return custom_errors.NewStorageError(fmt.Sprintf("delete job %d", job.ID), err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO firequeue_schema.failed_jobs (uuid, queue, payload, exception, attempts, failed_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (uuid) DO NOTHING
	`, store.FailedJobUUID(job), queue, payload, errInfo, job.Attempts)
	if err != nil {
		return custom_errors.NewStorageError(fmt.Sprintf("insert failed job %d", job.ID), err)
	}

	if err := tx.Commit(); err != nil {
		return custom_errors.NewStorageError("commit move to failed", err)
	}
	return nil
}

// explainMissedMove tells a job this attempt already moved (nil) from one that
// a newer attempt owns or has moved itself (ErrReservationLost).
func (r *PostgresQueueStore) explainMissedMove(ctx context.Context, tx *sql.Tx, job *types.JobRecord) error {
	var superseded bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM firequeue_schema.jobs WHERE id = $1)
		    OR EXISTS(SELECT 1 FROM firequeue_schema.failed_jobs WHERE uuid = $2 AND attempts <> $3)
	`, job.ID, store.FailedJobUUID(job), job.Attempts).Scan(&superseded)
	if err != nil {
		return custom_errors.NewStorageError(fmt.Sprintf("check job %d", job.ID), err)
	}
	if superseded {
		return fmt.Errorf("job %d: %w", job.ID, custom_errors.ErrReservationLost)
	}
	return nil
}

func (r *PostgresQueueStore) FindByID(ctx context.Context, id int64) (*types.JobRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM firequeue_schema.jobs WHERE id = $1`, id)
	if err != nil {
		return nil, custom_errors.NewStorageError("find job", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, custom_errors.NewStorageError("find job", err)
		}
		return nil, fmt.Errorf("job with ID %d: %w", id, custom_errors.ErrJobNotFound)
	}

	job, err := r.mapSqlRowsToJob(rows)
	if err != nil {
		return nil, custom_errors.NewStorageError("scan job", err)
	}
	return job, nil
}

func (r *PostgresQueueStore) Size(ctx context.Context, queue string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM firequeue_schema.jobs WHERE queue = $1`, queue).Scan(&count)
	if err != nil {
		return 0, custom_errors.NewStorageError("count jobs", err)
	}
	return count, nil
}

func (r *PostgresQueueStore) Close() error {
	return r.db.Close()
}

func (r *PostgresQueueStore) expectOneRow(result sql.Result, jobID int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return custom_errors.NewStorageError(fmt.Sprintf("rows affected for job %d", jobID), err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("job %d: %w", jobID, custom_errors.ErrReservationLost)
	}
	return nil
}

func (r *PostgresQueueStore) mapSqlRowsToJob(rows *sql.Rows) (*types.JobRecord, error) {
	var job types.JobRecord
	if err := rows.Scan(
		&job.ID,
		&job.Queue,
		&job.Payload,
		&job.Attempts,
		&job.ReservedAt,
		&job.AvailableAt,
		&job.CreatedAt,
		&job.TimeoutSeconds,
	); err != nil {
		return nil, err
	}

	return &job, nil
}
