package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
)

// SyncRunStore implements interfaces.SyncRunStore in memory.
type SyncRunStore struct {
	st *state
}

func cloneRun(r *models.SyncRun) *models.SyncRun {
	cp := *r
	if r.Stats != nil {
		cp.Stats = make(map[string]any, len(r.Stats))
		for k, v := range r.Stats {
			cp.Stats[k] = v
		}
	}
	return &cp
}

func (s *SyncRunStore) Get(_ context.Context, id string) (*models.SyncRun, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	r, ok := s.st.syncRuns[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneRun(r), nil
}

func (s *SyncRunStore) Save(_ context.Context, run *models.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.UpdatedAt = time.Now()
	if run.StartedAt.IsZero() {
		run.StartedAt = run.UpdatedAt
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.syncRuns[run.ID] = cloneRun(run)
	return nil
}

func (s *SyncRunStore) ListByConnection(_ context.Context, connectionID string, limit int) ([]*models.SyncRun, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	var out []*models.SyncRun
	for _, r := range s.st.syncRuns {
		if r.ConnectionID == connectionID {
			out = append(out, cloneRun(r))
		}
	}
	sortRunsNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortRunsNewestFirst(runs []*models.SyncRun) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID > runs[j].ID
	})
}

// Compile-time check
var _ interfaces.SyncRunStore = (*SyncRunStore)(nil)
