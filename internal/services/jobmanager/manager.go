// Package jobmanager provides a background job manager with a persistent
// priority queue for connection syncs and downstream balance work.
package jobmanager

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
)

var (
	jobTracer      = otel.Tracer("provsync/jobmanager")
	jobMeter       = otel.Meter("provsync/jobmanager")
	jobDuration, _ = jobMeter.Float64Histogram("jobmanager.job.duration", metric.WithDescription("Job execution duration in seconds"), metric.WithUnit("s"))
	jobTotal, _    = jobMeter.Int64Counter("jobmanager.job.total", metric.WithDescription("Jobs executed by type and status"))
)

// Compile-time interface check
var _ interfaces.WorkSubmitter = (*JobManager)(nil)

// JobManager runs the watcher and processor loops. The watcher enqueues
// syncs for connections that are due; processor goroutines dequeue and
// execute jobs concurrently, one connection per job.
type JobManager struct {
	syncer   interfaces.ConnectionSyncer
	balances interfaces.BalanceHistoryCalculator // optional
	storage  interfaces.StorageManager
	logger   *common.Logger
	config   common.JobManagerConfig

	syncInterval time.Duration
	pollInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobManager creates a new job manager. balances may be nil, in which
// case recalculate_balances jobs complete without work.
func NewJobManager(
	syncer interfaces.ConnectionSyncer,
	balances interfaces.BalanceHistoryCalculator,
	storage interfaces.StorageManager,
	logger *common.Logger,
	config common.JobManagerConfig,
	syncInterval time.Duration,
) *JobManager {
	return &JobManager{
		syncer:       syncer,
		balances:     balances,
		storage:      storage,
		logger:       logger,
		config:       config,
		syncInterval: syncInterval,
		pollInterval: time.Second,
	}
}

// safeGo launches a goroutine with panic recovery and logging.
func (jm *JobManager) safeGo(name string, fn func()) {
	jm.wg.Add(1)
	go func() {
		defer jm.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				jm.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in job manager goroutine")
			}
		}()
		fn()
	}()
}

// Start launches the watcher loop and processor pool.
// Safe to call multiple times; stops any existing loops before starting.
func (jm *JobManager) Start() {
	jm.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	jm.mu.Lock()
	jm.cancel = cancel
	jm.mu.Unlock()

	// Reset orphaned jobs from previous crash
	if count, err := jm.storage.JobQueueStore().ResetRunningJobs(ctx); err != nil {
		jm.logger.Warn().Err(err).Msg("Failed to reset orphaned running jobs")
	} else if count > 0 {
		jm.logger.Info().Int("count", count).Msg("Reset orphaned running jobs to pending")
	}

	jm.safeGo("watcher", func() { jm.watchLoop(ctx) })

	maxConc := jm.config.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 4
	}
	for i := 0; i < maxConc; i++ {
		name := fmt.Sprintf("processor-%d", i)
		jm.safeGo(name, func() { jm.processLoop(ctx) })
	}

	jm.logger.Info().
		Str("watcher_interval", jm.config.GetWatcherInterval().String()).
		Str("sync_interval", jm.syncInterval.String()).
		Int("max_concurrent", maxConc).
		Msg("Job manager started")
}

// Stop cancels all loops and waits for completion.
func (jm *JobManager) Stop() {
	jm.mu.Lock()
	cancel := jm.cancel
	jm.cancel = nil
	jm.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	jm.wg.Wait()
	jm.logger.Info().Msg("Job manager stopped")
}

// processLoop continuously dequeues and executes jobs.
func (jm *JobManager) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := jm.dequeue(ctx)
		if err != nil {
			jm.logger.Warn().Err(err).Msg("Processor: dequeue error")
		}
		if err != nil || job == nil {
			// Queue empty or unavailable, sleep briefly
			select {
			case <-ctx.Done():
				return
			case <-time.After(jm.pollInterval):
				continue
			}
		}

		jm.runJob(ctx, job)
	}
}

// runJob executes one dequeued job and re-queues it on a retryable failure
// while attempts remain.
func (jm *JobManager) runJob(ctx context.Context, job *models.Job) {
	start := time.Now()
	spanCtx, span := jobTracer.Start(ctx, "job."+job.JobType, trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.subject", job.Subject),
	))
	execErr := jm.executeJob(spanCtx, job)
	durationMS := time.Since(start).Milliseconds()

	status := models.JobStatusCompleted
	if execErr != nil {
		status = models.JobStatusFailed
		span.RecordError(execErr)
		span.SetStatus(codes.Error, "job failed")
	}
	span.End()
	attrs := metric.WithAttributes(attribute.String("job_type", job.JobType), attribute.String("status", status))
	jobTotal.Add(ctx, 1, attrs)
	jobDuration.Record(ctx, time.Since(start).Seconds(), attrs)

	if execErr != nil {
		jm.logger.Warn().
			Str("job_id", job.ID).
			Str("job_type", job.JobType).
			Str("subject", job.Subject).
			Int64("duration_ms", durationMS).
			Err(execErr).
			Msg("Job failed")

		if retryable(execErr) && job.Attempts < job.MaxAttempts {
			jm.logger.Info().
				Str("job_id", job.ID).
				Int("attempt", job.Attempts).
				Int("max", job.MaxAttempts).
				Msg("Re-queuing failed job")

			job.Status = models.JobStatusPending
			job.Error = ""
			if err := jm.storage.JobQueueStore().Enqueue(ctx, job); err != nil {
				jm.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to re-enqueue job")
			} else {
				return // re-queued, not completed
			}
		}
	} else {
		jm.logger.Debug().
			Str("job_id", job.ID).
			Str("job_type", job.JobType).
			Str("subject", job.Subject).
			Int64("duration_ms", durationMS).
			Msg("Job completed")
	}

	jm.complete(ctx, job, execErr, durationMS)
}

// retryable reports whether a failed job should be attempted again.
// Authentication failures need the user and are never retried.
func retryable(err error) bool {
	return !models.IsUnauthorized(err)
}
