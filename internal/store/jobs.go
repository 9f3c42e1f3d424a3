package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/alertflow/internal/domain"
)

// JobRepo persists scheduled-job run history.
type JobRepo struct{ db *sql.DB }

// LastRunTime returns the most recent high-water mark for a job.
// ErrNotFound when the job has never run.
func (r *JobRepo) LastRunTime(ctx context.Context, jobName string) (time.Time, error) {
	var t sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT last_run_time FROM job_table
		WHERE job_name = $1 AND last_run_time IS NOT NULL
		ORDER BY last_run_time DESC
		LIMIT 1
	`, jobName).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("last run time: %w", err)
	}
	if !t.Valid {
		return time.Time{}, ErrNotFound
	}
	return t.Time, nil
}

// InsertRun records one job execution.
func (r *JobRepo) InsertRun(ctx context.Context, run *domain.JobRun) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_table
			(job_name, job_start_time, job_end_time, last_run_time, frequency, inserted_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, run.JobName, run.StartedAt, run.EndedAt, nullTime(run.LastRunTime), run.Frequency)
	if err != nil {
		return fmt.Errorf("insert job run: %w", err)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
