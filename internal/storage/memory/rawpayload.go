package memory

import (
	"context"
	"time"

	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
)

// RawPayloadStore implements interfaces.RawPayloadStore in memory.
type RawPayloadStore struct {
	st *state
}

func cloneDoc(d *models.RawDocument) *models.RawDocument {
	cp := *d
	cp.Items = append([]models.RawRecord(nil), d.Items...)
	cp.Keys = append([]string(nil), d.Keys...)
	return &cp
}

func (s *RawPayloadStore) Get(_ context.Context, ownerID, kind string) (*models.RawDocument, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	d, ok := s.st.rawDocs[models.RawDocumentID(ownerID, kind)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneDoc(d), nil
}

func (s *RawPayloadStore) Put(_ context.Context, doc *models.RawDocument, expectedVersion int) error {
	id := models.RawDocumentID(doc.OwnerID, doc.Kind)

	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	current := 0
	if existing, ok := s.st.rawDocs[id]; ok {
		current = existing.Version
	}
	if current != expectedVersion {
		return models.ErrVersionConflict
	}

	doc.Version = expectedVersion + 1
	doc.UpdatedAt = time.Now()
	if doc.FetchedAt.IsZero() {
		doc.FetchedAt = doc.UpdatedAt
	}
	s.st.rawDocs[id] = cloneDoc(doc)
	return nil
}

func (s *RawPayloadStore) DeleteByOwner(_ context.Context, ownerID string) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	for id, d := range s.st.rawDocs {
		if d.OwnerID == ownerID {
			delete(s.st.rawDocs, id)
		}
	}
	return nil
}

// Compile-time check
var _ interfaces.RawPayloadStore = (*RawPayloadStore)(nil)
