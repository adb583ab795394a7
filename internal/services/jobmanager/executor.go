package jobmanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/bobmcallan/provsync/internal/models"
)

// executeJob dispatches a job to the correct service method based on job type.
func (jm *JobManager) executeJob(ctx context.Context, job *models.Job) error {
	switch job.JobType {
	case models.JobTypeSyncConnection:
		return jm.syncConnection(ctx, job.Subject)
	case models.JobTypeRecalculateBalances:
		if jm.balances == nil {
			jm.logger.Debug().Str("account", job.Subject).Msg("No balance history calculator configured, skipping")
			return nil
		}
		return jm.balances.RecalculateBalances(ctx, job.Subject)
	default:
		return fmt.Errorf("unknown job type: %s", job.JobType)
	}
}

func (jm *JobManager) syncConnection(ctx context.Context, connectionID string) error {
	run, err := jm.syncer.SyncConnection(ctx, connectionID)
	if errors.Is(err, models.ErrSyncInProgress) {
		// The run already underway covers this request.
		jm.logger.Debug().Str("connection", connectionID).Msg("Connection already syncing, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	if run != nil {
		jm.logger.Info().
			Str("connection", connectionID).
			Str("sync_run", run.ID).
			Str("status", run.Status).
			Msg("Connection sync finished")
	}
	return nil
}
