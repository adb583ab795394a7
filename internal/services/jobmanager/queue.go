package jobmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/provsync/internal/models"
)

// enqueue adds a job to the queue.
func (jm *JobManager) enqueue(ctx context.Context, job *models.Job) error {
	if err := jm.storage.JobQueueStore().Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue %s job: %w", job.JobType, err)
	}
	jm.logger.Debug().
		Str("job_id", job.ID).
		Str("job_type", job.JobType).
		Str("subject", job.Subject).
		Int("priority", job.Priority).
		Msg("Job queued")
	return nil
}

// dequeue gets the highest-priority pending job.
func (jm *JobManager) dequeue(ctx context.Context) (*models.Job, error) {
	return jm.storage.JobQueueStore().Dequeue(ctx)
}

// complete marks a job as completed or failed.
func (jm *JobManager) complete(ctx context.Context, job *models.Job, execErr error, durationMS int64) {
	if err := jm.storage.JobQueueStore().Complete(ctx, job.ID, execErr, durationMS); err != nil {
		jm.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to complete job in queue")
	}
}

// Enqueue submits background work of kind with the default priority. A
// pending or running job for the same kind and subject absorbs the submission.
func (jm *JobManager) Enqueue(ctx context.Context, kind string, payload map[string]string) error {
	_, err := jm.EnqueueIfNeeded(ctx, kind, payload, models.DefaultPriority(kind))
	return err
}

// EnqueueIfNeeded enqueues unless a job with the same type and subject is
// already pending or running. Reports whether a job was added.
func (jm *JobManager) EnqueueIfNeeded(ctx context.Context, jobType string, payload map[string]string, priority int) (bool, error) {
	subject := models.JobSubject(jobType, payload)
	if subject == "" {
		return false, fmt.Errorf("%s job without subject", jobType)
	}

	exists, err := jm.storage.JobQueueStore().HasActiveJob(ctx, jobType, subject)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil // already queued or in flight
	}

	job := &models.Job{
		JobType:     jobType,
		Subject:     subject,
		Payload:     payload,
		Priority:    priority,
		Status:      models.JobStatusPending,
		CreatedAt:   time.Now(),
		MaxAttempts: jm.config.GetMaxRetries(),
	}
	if err := jm.enqueue(ctx, job); err != nil {
		return false, err
	}
	return true, nil
}

// RequestSync queues a user-requested sync of a connection ahead of
// scheduled work.
func (jm *JobManager) RequestSync(ctx context.Context, connectionID string) (bool, error) {
	return jm.EnqueueIfNeeded(ctx, models.JobTypeSyncConnection, map[string]string{"connection_id": connectionID}, models.PriorityManualSync)
}

// CancelSubject cancels every pending job acting on subject.
func (jm *JobManager) CancelSubject(ctx context.Context, subject string) (int, error) {
	return jm.storage.JobQueueStore().CancelBySubject(ctx, subject)
}
