package services

import (
	"context"
	"time"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/clock"
	"auction-marketplace/pkg/logger"

	"github.com/cockroachdb/errors"
)

// NotificationDispatcher drains the notification queue onto the user
// message channel.
type NotificationDispatcher struct {
	queue      domain.NotificationQueue
	publisher  domain.UserMessagePublisher
	locker     domain.Locker
	clock      clock.Clock
	maxRetries int
	batchSize  int
	lease      time.Duration
	log        logger.Logger
}

func NewNotificationDispatcher(queue domain.NotificationQueue, publisher domain.UserMessagePublisher,
	locker domain.Locker, clk clock.Clock, maxRetries, batchSize int, lease time.Duration,
	log logger.Logger) *NotificationDispatcher {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &NotificationDispatcher{
		queue:      queue,
		publisher:  publisher,
		locker:     locker,
		clock:      clk,
		maxRetries: maxRetries,
		batchSize:  batchSize,
		lease:      lease,
		log:        log,
	}
}

// DispatchPending returns the number of jobs sent. Another instance holding
// the dispatch lease means there is nothing to do here.
func (d *NotificationDispatcher) DispatchPending(ctx context.Context) (int, error) {
	sent := 0
	err := d.locker.WithLock(ctx, domain.NotificationDispatchLockName, 0, d.lease, func(ctx context.Context) error {
		jobs, err := d.queue.GetPendingJobs(ctx, d.clock.Now(), d.maxRetries, d.batchSize)
		if err != nil {
			return err
		}
		for _, job := range jobs {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.send(ctx, job) {
				sent++
			}
		}
		return nil
	})
	if errors.Is(err, domain.ErrLockUnavailable) {
		return 0, nil
	}
	return sent, err
}

func (d *NotificationDispatcher) send(ctx context.Context, job *domain.NotificationJob) bool {
	msg := &domain.UserMessage{
		JobID:       job.ID,
		RecipientID: job.RecipientID,
		AuctionID:   job.AuctionID,
		Kind:        job.Kind,
		Message:     job.Message,
	}
	if err := d.publisher.PublishUserMessage(ctx, msg); err != nil {
		d.log.Error("Failed to send notification", "job_id", job.ID, "retry_count", job.RetryCount, "error", err)
		if err := d.queue.MarkFailed(ctx, job.ID); err != nil {
			d.log.Error("Failed to mark notification failed", "job_id", job.ID, "error", err)
		}
		return false
	}
	if err := d.queue.UpdateJobStatus(ctx, job.ID, domain.JobSent); err != nil {
		d.log.Error("Failed to mark notification sent", "job_id", job.ID, "error", err)
	}
	return true
}
