package jobmanager

import (
	"context"
	"time"

	"github.com/bobmcallan/provsync/internal/models"
)

// watchLoop periodically scans connections for due syncs and enqueues jobs.
func (jm *JobManager) watchLoop(ctx context.Context) {
	ticker := time.NewTicker(jm.config.GetWatcherInterval())
	defer ticker.Stop()

	// Run an initial scan immediately
	jm.scanConnections(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jm.scanConnections(ctx)
		}
	}
}

// scanConnections enqueues a sync for every active connection whose last
// sync is older than the sync interval. Connections awaiting
// re-authentication are left alone, as are connections whose last sync job
// failed within the interval.
func (jm *JobManager) scanConnections(ctx context.Context) int {
	conns, err := jm.storage.ConnectionStore().List(ctx)
	if err != nil {
		jm.logger.Warn().Err(err).Msg("Watcher: failed to list connections")
		return 0
	}

	now := time.Now()
	enqueued := 0
	for _, conn := range conns {
		if !conn.IsActive() {
			continue
		}
		if !conn.LastSyncedAt.IsZero() && now.Sub(conn.LastSyncedAt) < jm.syncInterval {
			continue
		}
		if jm.recentlyFailed(ctx, conn.ID, now) {
			continue
		}
		added, err := jm.EnqueueIfNeeded(ctx, models.JobTypeSyncConnection,
			map[string]string{"connection_id": conn.ID}, models.PrioritySyncConnection)
		if err != nil {
			jm.logger.Warn().
				Str("connection", conn.ID).
				Err(err).
				Msg("Watcher: failed to enqueue sync")
			continue
		}
		if added {
			enqueued++
		}
	}

	if enqueued > 0 {
		jm.logger.Info().Int("enqueued", enqueued).Int("connections", len(conns)).Msg("Watcher: scan complete")
	} else {
		jm.logger.Debug().Int("connections", len(conns)).Msg("Watcher: scan complete, nothing due")
	}

	// Purge old completed jobs
	jm.purgeOldJobs(ctx)
	return enqueued
}

// recentlyFailed reports whether the newest sync job for the connection
// failed less than one sync interval before now. Its retries have run.
func (jm *JobManager) recentlyFailed(ctx context.Context, connectionID string, now time.Time) bool {
	jobs, err := jm.storage.JobQueueStore().ListBySubject(ctx, connectionID)
	if err != nil {
		jm.logger.Warn().Str("connection", connectionID).Err(err).Msg("Watcher: failed to list jobs")
		return false
	}
	for _, job := range jobs {
		if job.JobType != models.JobTypeSyncConnection {
			continue
		}
		return job.Status == models.JobStatusFailed && now.Sub(job.CompletedAt) < jm.syncInterval
	}
	return false
}

// purgeOldJobs removes completed/failed jobs older than the configured purge duration.
func (jm *JobManager) purgeOldJobs(ctx context.Context) {
	cutoff := time.Now().Add(-jm.config.GetPurgeAfter())
	n, err := jm.storage.JobQueueStore().PurgeCompleted(ctx, cutoff)
	if err != nil {
		jm.logger.Warn().Err(err).Msg("Watcher: failed to purge old jobs")
		return
	}
	if n > 0 {
		jm.logger.Debug().Int("purged", n).Msg("Watcher: purged old jobs")
	}
}
