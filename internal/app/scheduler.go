package app

import (
	"context"
	"time"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
)

// startSyncScheduler syncs due connections on a fixed interval. It is the
// fallback used when the job manager is disabled: connections are synced
// one after another in this goroutine.
func startSyncScheduler(ctx context.Context, syncer interfaces.ConnectionSyncer, storage interfaces.StorageManager, interval time.Duration, logger *common.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	syncDue(ctx, syncer, storage, interval, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Sync scheduler: stopped")
			return
		case <-ticker.C:
			syncDue(ctx, syncer, storage, interval, logger)
		}
	}
}

func syncDue(ctx context.Context, syncer interfaces.ConnectionSyncer, storage interfaces.StorageManager, interval time.Duration, logger *common.Logger) int {
	start := time.Now()

	conns, err := storage.ConnectionStore().List(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Sync scheduler: failed to list connections")
		return 0
	}

	synced := 0
	for _, conn := range conns {
		if ctx.Err() != nil {
			return synced
		}
		if !conn.IsActive() {
			continue
		}
		if !conn.LastSyncedAt.IsZero() && start.Sub(conn.LastSyncedAt) < interval {
			continue
		}
		if _, err := syncer.SyncConnection(ctx, conn.ID); err != nil {
			logger.Warn().Str("connection", conn.ID).Err(err).Msg("Sync scheduler: sync failed")
			continue
		}
		synced++
	}

	if synced > 0 {
		logger.Info().
			Int("synced", synced).
			Int("connections", len(conns)).
			Dur("elapsed", time.Since(start)).
			Msg("Sync scheduler: complete")
	}
	return synced
}
