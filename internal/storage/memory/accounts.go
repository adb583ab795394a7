package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
)

// ConnectionStore implements interfaces.ConnectionStore in memory.
type ConnectionStore struct {
	st *state
}

func (s *ConnectionStore) Get(_ context.Context, id string) (*models.Connection, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	c, ok := s.st.connections[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *ConnectionStore) Save(_ context.Context, conn *models.Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	now := time.Now()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now
	if conn.Status == "" {
		conn.Status = models.ConnectionStatusActive
	}

	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	cp := *conn
	s.st.connections[conn.ID] = &cp
	return nil
}

func (s *ConnectionStore) List(_ context.Context) ([]*models.Connection, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	out := make([]*models.Connection, 0, len(s.st.connections))
	for _, c := range s.st.connections {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *ConnectionStore) Delete(_ context.Context, id string) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	delete(s.st.connections, id)
	return nil
}

// ProviderAccountStore implements interfaces.ProviderAccountStore in memory.
type ProviderAccountStore struct {
	st *state
}

func (s *ProviderAccountStore) Get(_ context.Context, id string) (*models.ProviderAccount, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	pa, ok := s.st.providerAccounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *pa
	return &cp, nil
}

func (s *ProviderAccountStore) GetByExternalID(_ context.Context, connectionID, externalID string) (*models.ProviderAccount, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	for _, pa := range s.st.providerAccounts {
		if pa.ConnectionID == connectionID && pa.ExternalID == externalID {
			cp := *pa
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *ProviderAccountStore) ListByConnection(_ context.Context, connectionID string) ([]*models.ProviderAccount, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	var out []*models.ProviderAccount
	for _, pa := range s.st.providerAccounts {
		if pa.ConnectionID == connectionID {
			cp := *pa
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out, nil
}

func (s *ProviderAccountStore) Create(_ context.Context, pa *models.ProviderAccount) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	for _, existing := range s.st.providerAccounts {
		if existing.ConnectionID == pa.ConnectionID && existing.ExternalID == pa.ExternalID {
			return models.ErrDuplicateRecord
		}
	}
	if pa.ID == "" {
		pa.ID = uuid.New().String()
	}
	if _, ok := s.st.providerAccounts[pa.ID]; ok {
		return models.ErrDuplicateRecord
	}
	now := time.Now()
	if pa.CreatedAt.IsZero() {
		pa.CreatedAt = now
	}
	pa.UpdatedAt = now
	cp := *pa
	s.st.providerAccounts[pa.ID] = &cp
	return nil
}

func (s *ProviderAccountStore) Save(_ context.Context, pa *models.ProviderAccount) error {
	if pa.ID == "" {
		pa.ID = uuid.New().String()
	}
	now := time.Now()
	if pa.CreatedAt.IsZero() {
		pa.CreatedAt = now
	}
	pa.UpdatedAt = now

	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	cp := *pa
	s.st.providerAccounts[pa.ID] = &cp
	return nil
}

func (s *ProviderAccountStore) Delete(_ context.Context, id string) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	pa, ok := s.st.providerAccounts[id]
	if !ok {
		return models.ErrNotFound
	}
	if _, linked := s.st.links[id]; linked || pa.AccountID != "" {
		return models.ErrLinkedAccount
	}
	delete(s.st.providerAccounts, id)
	return nil
}

// LinkStore implements interfaces.LinkStore in memory.
type LinkStore struct {
	st *state
}

func (s *LinkStore) GetByProviderAccount(_ context.Context, providerAccountID string) (*models.Link, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	l, ok := s.st.links[providerAccountID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *LinkStore) Create(_ context.Context, link *models.Link) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if _, ok := s.st.links[link.ProviderAccountID]; ok {
		return models.ErrDuplicateRecord
	}
	if link.ID == "" {
		link.ID = uuid.New().String()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	cp := *link
	s.st.links[link.ProviderAccountID] = &cp
	return nil
}

// Unlink runs under the shared write lock, so the holding detach, the
// reference clear and the link removal are observed together or not at all.
func (s *LinkStore) Unlink(_ context.Context, providerAccountID string) (int, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	link, hasLink := s.st.links[providerAccountID]
	pa, hasPA := s.st.providerAccounts[providerAccountID]
	if !hasLink && (!hasPA || pa.AccountID == "") {
		return 0, models.ErrNotFound
	}

	refs := map[string]bool{models.DirectLinkID(providerAccountID): true}
	if hasLink {
		refs[link.ID] = true
	}

	detached := 0
	now := time.Now()
	for _, h := range s.st.holdings {
		if h.LinkID != "" && refs[h.LinkID] {
			h.LinkID = ""
			h.UpdatedAt = now
			detached++
		}
	}

	if hasPA {
		pa.AccountID = ""
		pa.UpdatedAt = now
	}
	delete(s.st.links, providerAccountID)
	return detached, nil
}

// AccountStore implements interfaces.AccountStore in memory.
type AccountStore struct {
	st *state
}

func (s *AccountStore) Get(_ context.Context, id string) (*models.Account, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	a, ok := s.st.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *AccountStore) Save(_ context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	cp := *account
	s.st.accounts[account.ID] = &cp
	return nil
}

// Compile-time checks
var (
	_ interfaces.ConnectionStore      = (*ConnectionStore)(nil)
	_ interfaces.ProviderAccountStore = (*ProviderAccountStore)(nil)
	_ interfaces.LinkStore            = (*LinkStore)(nil)
	_ interfaces.AccountStore         = (*AccountStore)(nil)
)
