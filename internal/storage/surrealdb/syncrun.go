package surrealdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
)

const syncRunFields = "run_id as id, connection_id, phase, status, stats, started_at, updated_at, completed_at"

// SyncRunStore implements interfaces.SyncRunStore using SurrealDB.
type SyncRunStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewSyncRunStore creates a new SyncRunStore.
func NewSyncRunStore(db *surrealdb.DB, logger *common.Logger) *SyncRunStore {
	return &SyncRunStore{db: db, logger: logger}
}

func (s *SyncRunStore) Get(ctx context.Context, id string) (*models.SyncRun, error) {
	sql := "SELECT " + syncRunFields + " FROM $rid"
	return queryOne[models.SyncRun](ctx, s.db, sql, map[string]any{"rid": surrealmodels.NewRecordID("sync_run", id)})
}

func (s *SyncRunStore) Save(ctx context.Context, run *models.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	now := time.Now()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.UpdatedAt = now
	stats := run.Stats
	if stats == nil {
		stats = map[string]any{}
	}

	sql := `UPSERT $rid SET
		run_id = $run_id, connection_id = $connection_id, phase = $phase, status = $status,
		stats = $stats, started_at = $started_at, updated_at = $updated_at, completed_at = $completed_at`
	vars := map[string]any{
		"rid":           surrealmodels.NewRecordID("sync_run", run.ID),
		"run_id":        run.ID,
		"connection_id": run.ConnectionID,
		"phase":         run.Phase,
		"status":        run.Status,
		"stats":         stats,
		"started_at":    run.StartedAt,
		"updated_at":    run.UpdatedAt,
		"completed_at":  run.CompletedAt,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return wrap("save sync run", err)
	}
	return nil
}

func (s *SyncRunStore) ListByConnection(ctx context.Context, connectionID string, limit int) ([]*models.SyncRun, error) {
	sql := "SELECT " + syncRunFields + " FROM sync_run WHERE connection_id = $connection_id ORDER BY started_at DESC"
	if limit > 0 {
		sql += " LIMIT $limit"
	}
	runs, err := queryRows[models.SyncRun](ctx, s.db, sql, map[string]any{
		"connection_id": connectionID,
		"limit":         limit,
	})
	if err != nil {
		return nil, wrap("list sync runs", err)
	}
	return runs, nil
}

// Compile-time check
var _ interfaces.SyncRunStore = (*SyncRunStore)(nil)
