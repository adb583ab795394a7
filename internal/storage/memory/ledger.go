package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
)

func cloneHolding(h *models.Holding) *models.Holding {
	cp := *h
	if h.CostBasis != nil {
		cb := *h.CostBasis
		cp.CostBasis = &cb
	}
	return &cp
}

func cloneEntry(e *models.Entry) *models.Entry {
	cp := *e
	if e.Trade != nil {
		t := *e.Trade
		cp.Trade = &t
	}
	if e.Transaction != nil {
		tx := *e.Transaction
		cp.Transaction = &tx
	}
	return &cp
}

// HoldingStore implements interfaces.HoldingStore in memory.
type HoldingStore struct {
	st *state
}

func (s *HoldingStore) Get(_ context.Context, id string) (*models.Holding, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	h, ok := s.st.holdings[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneHolding(h), nil
}

func (s *HoldingStore) Upsert(_ context.Context, holding *models.Holding) error {
	holding.Date = models.DateOnly(holding.Date)
	if holding.ID == "" {
		holding.ID = models.HoldingID(holding.AccountID, holding.SecurityID, holding.Date)
	}
	holding.UpdatedAt = time.Now()

	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.holdings[holding.ID] = cloneHolding(holding)
	return nil
}

func (s *HoldingStore) ListByAccountDate(_ context.Context, accountID string, date time.Time) ([]*models.Holding, error) {
	day := models.DateOnly(date)
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	var out []*models.Holding
	for _, h := range s.st.holdings {
		if h.AccountID == accountID && h.Date.Equal(day) {
			out = append(out, cloneHolding(h))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SecurityID < out[j].SecurityID })
	return out, nil
}

func (s *HoldingStore) CountByLink(_ context.Context, linkID string) (int, error) {
	if linkID == "" {
		return 0, nil
	}
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	n := 0
	for _, h := range s.st.holdings {
		if h.LinkID == linkID {
			n++
		}
	}
	return n, nil
}

// EntryStore implements interfaces.EntryStore in memory.
type EntryStore struct {
	st *state
}

func (s *EntryStore) GetByExternalID(_ context.Context, accountID, externalID string) (*models.Entry, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	if e, ok := s.st.entries[models.EntryID(accountID, externalID)]; ok {
		return cloneEntry(e), nil
	}
	for _, e := range s.st.entries {
		if e.AccountID == accountID && e.ExternalID == externalID {
			return cloneEntry(e), nil
		}
	}
	return nil, models.ErrNotFound
}

// Create stores the entry with its sub-record in a single map write.
func (s *EntryStore) Create(_ context.Context, entry *models.Entry) error {
	if entry.ID == "" {
		if entry.ExternalID != "" {
			entry.ID = models.EntryID(entry.AccountID, entry.ExternalID)
		} else {
			entry.ID = uuid.New().String()
		}
	}
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if _, ok := s.st.entries[entry.ID]; ok {
		return models.ErrDuplicateRecord
	}
	if entry.ExternalID != "" {
		for _, e := range s.st.entries {
			if e.AccountID == entry.AccountID && e.ExternalID == entry.ExternalID {
				return models.ErrDuplicateRecord
			}
		}
	}
	s.st.entries[entry.ID] = cloneEntry(entry)
	return nil
}

func (s *EntryStore) UpdateLabel(_ context.Context, id string, label models.ActivityLabel) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	e, ok := s.st.entries[id]
	if !ok {
		return models.ErrNotFound
	}
	e.Label = label
	e.UpdatedAt = time.Now()
	return nil
}

func (s *EntryStore) ListByAccount(_ context.Context, accountID string) ([]*models.Entry, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	var out []*models.Entry
	for _, e := range s.st.entries {
		if e.AccountID == accountID {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ValuationStore implements interfaces.ValuationStore in memory.
type ValuationStore struct {
	st *state
}

func (s *ValuationStore) Upsert(_ context.Context, v *models.Valuation) error {
	v.Date = models.DateOnly(v.Date)
	if v.ID == "" {
		v.ID = models.ValuationID(v.AccountID, v.Date, v.Kind)
	}
	v.UpdatedAt = time.Now()

	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	cp := *v
	s.st.valuations[v.ID] = &cp
	return nil
}

func (s *ValuationStore) ListByAccount(_ context.Context, accountID string) ([]*models.Valuation, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	var out []*models.Valuation
	for _, v := range s.st.valuations {
		if v.AccountID == accountID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// SecurityStore implements interfaces.SecurityStore in memory.
type SecurityStore struct {
	st *state
}

func (s *SecurityStore) Get(_ context.Context, id string) (*models.Security, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	sec, ok := s.st.securities[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *sec
	return &cp, nil
}

func (s *SecurityStore) Create(_ context.Context, sec *models.Security) error {
	if sec.CreatedAt.IsZero() {
		sec.CreatedAt = time.Now()
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if _, ok := s.st.securities[sec.ID]; ok {
		return models.ErrDuplicateRecord
	}
	cp := *sec
	s.st.securities[sec.ID] = &cp
	return nil
}

// Compile-time checks
var (
	_ interfaces.HoldingStore   = (*HoldingStore)(nil)
	_ interfaces.EntryStore     = (*EntryStore)(nil)
	_ interfaces.ValuationStore = (*ValuationStore)(nil)
	_ interfaces.SecurityStore  = (*SecurityStore)(nil)
)
