package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"edutrack/internal/logging"
	"edutrack/internal/schema"
)

// EnqueueJob records a new ingestion job in the queued state. Re-enqueueing
// an existing job id resets it to queued.
func (v *Vault) EnqueueJob(ctx context.Context, jobID, sourceURL, requestedBy string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, err := v.db.ExecContext(ctx, rebind(v.kind, `
		INSERT INTO ingestion_jobs (job_id, source_url, requested_by, status)
		VALUES (?, ?, ?, 'queued')
		ON CONFLICT(job_id) DO UPDATE SET
			status = 'queued',
			reason = NULL,
			updated_at = CURRENT_TIMESTAMP`),
		jobID, sourceURL, requestedBy)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	logging.Vault("Enqueued ingestion job %s for %s", jobID, sourceURL)
	return nil
}

// MarkJobStatus transitions a job and records the reason when one applies.
func (v *Vault) MarkJobStatus(ctx context.Context, jobID string, status schema.JobStatus, reason string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	res, err := v.db.ExecContext(ctx, rebind(v.kind,
		"UPDATE ingestion_jobs SET status = ?, reason = ?, updated_at = CURRENT_TIMESTAMP WHERE job_id = ?"),
		string(status), reason, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}

	if reason != "" {
		logging.Vault("Job %s -> %s (%s)", jobID, status, reason)
	} else {
		logging.Vault("Job %s -> %s", jobID, status)
	}
	return nil
}

// GetJob fetches one ingestion job.
func (v *Vault) GetJob(ctx context.Context, jobID string) (*schema.IngestionJob, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	row := v.db.QueryRowContext(ctx, rebind(v.kind, `
		SELECT job_id, source_url, requested_by, status, reason, created_at, updated_at
		FROM ingestion_jobs WHERE job_id = ?`), jobID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return job, err
}

func scanJob(row rowScanner) (*schema.IngestionJob, error) {
	var j schema.IngestionJob
	var requestedBy, reason sql.NullString
	var createdAt, updatedAt sql.NullTime

	if err := row.Scan(&j.JobID, &j.SourceURL, &requestedBy, &j.Status, &reason, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	j.RequestedBy = requestedBy.String
	j.Reason = reason.String
	if createdAt.Valid {
		j.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		j.UpdatedAt = updatedAt.Time
	}
	return &j, nil
}

// ListJobs returns jobs in creation order, filtered to one status when
// status is non-empty.
func (v *Vault) ListJobs(ctx context.Context, status schema.JobStatus) ([]schema.IngestionJob, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	q := "SELECT job_id, source_url, requested_by, status, reason, created_at, updated_at FROM ingestion_jobs"
	var args []any
	if status != "" {
		q += " WHERE status = ?"
		args = append(args, string(status))
	}
	q += " ORDER BY created_at, job_id"

	rows, err := v.db.QueryContext(ctx, rebind(v.kind, q), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []schema.IngestionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			continue
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ListPendingJobs returns the jobs waiting for human review.
func (v *Vault) ListPendingJobs(ctx context.Context) ([]schema.IngestionJob, error) {
	return v.ListJobs(ctx, schema.JobPendingManualReview)
}

// ApproveJob releases a job from manual review back to the queue. The
// reviewer's judgment overrides whatever screen parked it.
func (v *Vault) ApproveJob(ctx context.Context, jobID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	res, err := v.db.ExecContext(ctx, rebind(v.kind, `
		UPDATE ingestion_jobs SET status = 'queued', reason = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE job_id = ? AND status = 'pending_manual_review'`), jobID)
	if err != nil {
		return fmt.Errorf("failed to approve job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s is not pending manual review", jobID)
	}

	logging.Vault("Job %s approved, requeued", jobID)
	return nil
}

// RejectJob fails a job that was waiting for manual review.
func (v *Vault) RejectJob(ctx context.Context, jobID, reason string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if reason == "" {
		reason = "rejected by reviewer"
	}
	res, err := v.db.ExecContext(ctx, rebind(v.kind, `
		UPDATE ingestion_jobs SET status = 'failed', reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE job_id = ? AND status = 'pending_manual_review'`), reason, jobID)
	if err != nil {
		return fmt.Errorf("failed to reject job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s is not pending manual review", jobID)
	}

	logging.Vault("Job %s rejected: %s", jobID, reason)
	return nil
}
