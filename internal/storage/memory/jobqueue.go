package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
)

// JobQueueStore implements interfaces.JobQueueStore in memory.
type JobQueueStore struct {
	st *state
}

func cloneJob(j *models.Job) *models.Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = make(map[string]string, len(j.Payload))
		for k, v := range j.Payload {
			cp.Payload[k] = v
		}
	}
	return &cp
}

// byQueueOrder sorts highest priority first, then oldest first.
func byQueueOrder(jobs []*models.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}

func (s *JobQueueStore) Enqueue(_ context.Context, job *models.Job) error {
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

	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *JobQueueStore) Dequeue(_ context.Context) (*models.Job, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	var pending []*models.Job
	for _, j := range s.st.jobs {
		if j.Status == models.JobStatusPending {
			pending = append(pending, j)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}
	byQueueOrder(pending)

	job := pending[0]
	job.Status = models.JobStatusRunning
	job.StartedAt = time.Now()
	job.Attempts++
	return cloneJob(job), nil
}

func (s *JobQueueStore) Complete(_ context.Context, id string, jobErr error, durationMS int64) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	job, ok := s.st.jobs[id]
	if !ok {
		return models.ErrNotFound
	}
	job.CompletedAt = time.Now()
	job.DurationMS = durationMS
	if jobErr != nil {
		job.Status = models.JobStatusFailed
		job.Error = jobErr.Error()
	} else {
		job.Status = models.JobStatusCompleted
		job.Error = ""
	}
	return nil
}

func (s *JobQueueStore) Cancel(_ context.Context, id string) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if job, ok := s.st.jobs[id]; ok && job.Status == models.JobStatusPending {
		job.Status = models.JobStatusCancelled
		job.CompletedAt = time.Now()
	}
	return nil
}

func (s *JobQueueStore) ListPending(_ context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	var out []*models.Job
	for _, j := range s.st.jobs {
		if j.Status == models.JobStatusPending {
			out = append(out, cloneJob(j))
		}
	}
	byQueueOrder(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JobQueueStore) ListBySubject(_ context.Context, subject string) ([]*models.Job, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	var out []*models.Job
	for _, j := range s.st.jobs {
		if j.Subject == subject {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *JobQueueStore) CountPending(_ context.Context) (int, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	n := 0
	for _, j := range s.st.jobs {
		if j.Status == models.JobStatusPending {
			n++
		}
	}
	return n, nil
}

// HasActiveJob reports whether a pending or running job of jobType exists for subject.
func (s *JobQueueStore) HasActiveJob(_ context.Context, jobType, subject string) (bool, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	for _, j := range s.st.jobs {
		if j.JobType != jobType || j.Subject != subject {
			continue
		}
		if j.Status == models.JobStatusPending || j.Status == models.JobStatusRunning {
			return true, nil
		}
	}
	return false, nil
}

func (s *JobQueueStore) PurgeCompleted(_ context.Context, olderThan time.Time) (int, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	n := 0
	for id, j := range s.st.jobs {
		done := j.Status == models.JobStatusCompleted || j.Status == models.JobStatusFailed || j.Status == models.JobStatusCancelled
		if done && j.CompletedAt.Before(olderThan) {
			delete(s.st.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *JobQueueStore) CancelBySubject(_ context.Context, subject string) (int, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	n := 0
	for _, j := range s.st.jobs {
		if j.Subject == subject && j.Status == models.JobStatusPending {
			j.Status = models.JobStatusCancelled
			j.CompletedAt = time.Now()
			n++
		}
	}
	return n, nil
}

// ResetRunningJobs resets all jobs with status "running" back to "pending".
func (s *JobQueueStore) ResetRunningJobs(_ context.Context) (int, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	n := 0
	for _, j := range s.st.jobs {
		if j.Status == models.JobStatusRunning {
			j.Status = models.JobStatusPending
			j.StartedAt = time.Time{}
			n++
		}
	}
	return n, nil
}

// Compile-time check
var _ interfaces.JobQueueStore = (*JobQueueStore)(nil)
