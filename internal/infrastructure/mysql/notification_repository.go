package mysql

import (
	"context"
	"database/sql"
	"time"

	"auction-marketplace/internal/domain"

	"github.com/cockroachdb/errors"
)

// NotificationRepository is the MySQL-backed domain.NotificationQueue.
type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Enqueue ignores a job whose ID already exists.
func (r *NotificationRepository) Enqueue(ctx context.Context, job *domain.NotificationJob) error {
	query := `
        INSERT IGNORE INTO notification_jobs
            (id, auction_id, recipient_id, kind, message, status, retry_count, run_at, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.AuctionID, job.RecipientID, string(job.Kind), job.Message,
		string(job.Status), job.RetryCount, job.RunAt, job.CreatedAt)
	return domain.Persistence(err, "insert notification job")
}

func (r *NotificationRepository) GetPendingJobs(ctx context.Context, before time.Time, maxRetries, limit int) ([]*domain.NotificationJob, error) {
	query := `
        SELECT id, auction_id, recipient_id, kind, message, status, retry_count, run_at, created_at
        FROM notification_jobs
        WHERE (status = ? OR (status = ? AND retry_count < ?)) AND run_at <= ?
        ORDER BY seq ASC
        LIMIT ?
    `
	rows, err := r.db.QueryContext(ctx, query,
		string(domain.JobPending), string(domain.JobFailed), maxRetries, before, limit)
	if err != nil {
		return nil, domain.Persistence(err, "select pending notification jobs")
	}
	defer rows.Close()

	var jobs []*domain.NotificationJob
	for rows.Next() {
		var job domain.NotificationJob
		var kind, status string
		if err := rows.Scan(&job.ID, &job.AuctionID, &job.RecipientID, &kind, &job.Message,
			&status, &job.RetryCount, &job.RunAt, &job.CreatedAt); err != nil {
			return nil, domain.Persistence(err, "scan notification job")
		}
		job.Kind = domain.NotificationKind(kind)
		job.Status = domain.JobStatus(status)
		jobs = append(jobs, &job)
	}
	return jobs, domain.Persistence(rows.Err(), "iterate notification jobs")
}

func (r *NotificationRepository) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notification_jobs SET status = ? WHERE id = ?`, string(status), jobID)
	if err != nil {
		return domain.Persistence(err, "update notification job")
	}
	return r.expectJob(res, jobID)
}

func (r *NotificationRepository) MarkFailed(ctx context.Context, jobID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notification_jobs SET status = ?, retry_count = retry_count + 1 WHERE id = ?`,
		string(domain.JobFailed), jobID)
	if err != nil {
		return domain.Persistence(err, "mark notification job failed")
	}
	return r.expectJob(res, jobID)
}

func (r *NotificationRepository) expectJob(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Persistence(err, "rows affected")
	}
	if n == 0 {
		return errors.Newf("notification job %s not found", jobID)
	}
	return nil
}
