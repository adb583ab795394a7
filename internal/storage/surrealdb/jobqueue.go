package surrealdb

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
)

// jobColumns are the stored job fields. job_id carries the domain id and is
// read back as id.
var jobColumns = []string{
	"job_id", "job_type", "subject", "payload", "priority", "status",
	"created_at", "started_at", "completed_at", "error", "attempts", "max_attempts", "duration_ms",
}

var (
	jobSelect = "SELECT job_id AS id, " + strings.Join(jobColumns[1:], ", ") + " FROM job_queue"
	jobWrite  = "UPSERT $rid SET " + assignments(jobColumns)
)

// queue order: most urgent first, then first in
const jobOrder = " ORDER BY priority DESC, created_at ASC"

func assignments(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + " = $" + c
	}
	return strings.Join(parts, ", ")
}

func jobRID(id string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("job_queue", id)
}

// JobQueueStore implements interfaces.JobQueueStore using SurrealDB.
type JobQueueStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewJobQueueStore creates a new JobQueueStore.
func NewJobQueueStore(db *surrealdb.DB, logger *common.Logger) *JobQueueStore {
	return &JobQueueStore{db: db, logger: logger}
}

// Enqueue writes job, filling in the id, status, creation time and attempt
// budget when unset. Re-enqueueing an existing id replaces its row.
func (s *JobQueueStore) Enqueue(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()[:8]
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}
	payload := job.Payload
	if payload == nil {
		payload = map[string]string{}
	}

	vars := map[string]any{
		"rid":          jobRID(job.ID),
		"job_id":       job.ID,
		"job_type":     job.JobType,
		"subject":      job.Subject,
		"payload":      payload,
		"priority":     job.Priority,
		"status":       job.Status,
		"created_at":   job.CreatedAt,
		"started_at":   job.StartedAt,
		"completed_at": job.CompletedAt,
		"error":        job.Error,
		"attempts":     job.Attempts,
		"max_attempts": job.MaxAttempts,
		"duration_ms":  job.DurationMS,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, jobWrite, vars); err != nil {
		return wrap("enqueue job", err)
	}
	return nil
}

// Dequeue claims the most urgent pending job. The claim only succeeds while
// the row is still pending, so a processor that loses the race sees an
// empty queue until its next poll.
func (s *JobQueueStore) Dequeue(ctx context.Context) (*models.Job, error) {
	candidates, err := s.list(ctx, " WHERE status = $pending"+jobOrder+" LIMIT 1", map[string]any{
		"pending": models.JobStatusPending,
	})
	if err != nil {
		return nil, wrap("select candidate job", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	job := candidates[0]

	now := time.Now()
	claimed, err := exec(ctx, s.db,
		"UPDATE $rid SET status = $running, started_at = $now, attempts += 1 WHERE status = $pending RETURN AFTER",
		map[string]any{
			"rid":     jobRID(job.ID),
			"running": models.JobStatusRunning,
			"pending": models.JobStatusPending,
			"now":     now,
		})
	if err != nil {
		return nil, wrap("claim job", err)
	}
	if claimed == 0 {
		return nil, nil
	}

	job.Status = models.JobStatusRunning
	job.StartedAt = now
	job.Attempts++
	return job, nil
}

// Complete records the terminal state of a job. A non-nil jobErr marks it failed.
func (s *JobQueueStore) Complete(ctx context.Context, id string, jobErr error, durationMS int64) error {
	status, msg := models.JobStatusCompleted, ""
	if jobErr != nil {
		status, msg = models.JobStatusFailed, jobErr.Error()
	}
	_, err := exec(ctx, s.db,
		"UPDATE $rid SET status = $status, completed_at = $now, error = $error, duration_ms = $dur RETURN AFTER",
		map[string]any{
			"rid":    jobRID(id),
			"status": status,
			"now":    time.Now(),
			"error":  msg,
			"dur":    durationMS,
		})
	if err != nil {
		return wrap("complete job", err)
	}
	return nil
}

func (s *JobQueueStore) Cancel(ctx context.Context, id string) error {
	_, err := exec(ctx, s.db, "UPDATE $rid SET status = $cancelled, completed_at = $now WHERE status = $pending RETURN AFTER", map[string]any{
		"rid":       jobRID(id),
		"cancelled": models.JobStatusCancelled,
		"now":       time.Now(),
		"pending":   models.JobStatusPending,
	})
	if err != nil {
		return wrap("cancel job", err)
	}
	return nil
}

func (s *JobQueueStore) ListPending(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	jobs, err := s.list(ctx, " WHERE status = $pending"+jobOrder+" LIMIT $limit", map[string]any{
		"pending": models.JobStatusPending,
		"limit":   limit,
	})
	if err != nil {
		return nil, wrap("list pending jobs", err)
	}
	return jobs, nil
}

// ListBySubject returns every job for subject, newest first.
func (s *JobQueueStore) ListBySubject(ctx context.Context, subject string) ([]*models.Job, error) {
	jobs, err := s.list(ctx, " WHERE subject = $subject ORDER BY created_at DESC", map[string]any{"subject": subject})
	if err != nil {
		return nil, wrap("list jobs by subject", err)
	}
	return jobs, nil
}

func (s *JobQueueStore) CountPending(ctx context.Context) (int, error) {
	n, err := s.count(ctx, "status = $pending", map[string]any{"pending": models.JobStatusPending})
	if err != nil {
		return 0, wrap("count pending jobs", err)
	}
	return n, nil
}

// HasActiveJob reports whether a job of jobType for subject is waiting or
// being executed.
func (s *JobQueueStore) HasActiveJob(ctx context.Context, jobType, subject string) (bool, error) {
	n, err := s.count(ctx, "job_type = $type AND subject = $subject AND status IN [$pending, $running]", map[string]any{
		"type":    jobType,
		"subject": subject,
		"pending": models.JobStatusPending,
		"running": models.JobStatusRunning,
	})
	if err != nil {
		return false, wrap("check active job", err)
	}
	return n > 0, nil
}

func (s *JobQueueStore) PurgeCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	n, err := exec(ctx, s.db,
		"DELETE FROM job_queue WHERE status IN [$completed, $failed, $cancelled] AND completed_at < $cutoff RETURN BEFORE",
		map[string]any{
			"completed": models.JobStatusCompleted,
			"failed":    models.JobStatusFailed,
			"cancelled": models.JobStatusCancelled,
			"cutoff":    olderThan,
		})
	if err != nil {
		return 0, wrap("purge finished jobs", err)
	}
	return n, nil
}

// CancelBySubject cancels the pending jobs for subject. Running jobs finish.
func (s *JobQueueStore) CancelBySubject(ctx context.Context, subject string) (int, error) {
	n, err := exec(ctx, s.db,
		"UPDATE job_queue SET status = $cancelled, completed_at = $now WHERE subject = $subject AND status = $pending RETURN AFTER",
		map[string]any{
			"cancelled": models.JobStatusCancelled,
			"now":       time.Now(),
			"subject":   subject,
			"pending":   models.JobStatusPending,
		})
	if err != nil {
		return 0, wrap("cancel jobs by subject", err)
	}
	return n, nil
}

// ResetRunningJobs returns jobs left running by a previous process to the queue.
func (s *JobQueueStore) ResetRunningJobs(ctx context.Context) (int, error) {
	n, err := exec(ctx, s.db, "UPDATE job_queue SET status = $pending, started_at = NONE WHERE status = $running RETURN AFTER", map[string]any{
		"pending": models.JobStatusPending,
		"running": models.JobStatusRunning,
	})
	if err != nil {
		return 0, wrap("reset running jobs", err)
	}
	return n, nil
}

func (s *JobQueueStore) list(ctx context.Context, clause string, vars map[string]any) ([]*models.Job, error) {
	return queryRows[models.Job](ctx, s.db, jobSelect+clause, vars)
}

func (s *JobQueueStore) count(ctx context.Context, where string, vars map[string]any) (int, error) {
	type row struct {
		N int `json:"n"`
	}
	rows, err := queryRows[row](ctx, s.db, "SELECT count() AS n FROM job_queue WHERE "+where+" GROUP ALL", vars)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].N, nil
}

var _ interfaces.JobQueueStore = (*JobQueueStore)(nil)
