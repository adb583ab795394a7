package surrealdb

import (
	"context"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
)

const rawDocFields = "owner_id, kind, version, keys, items, fetched_at, updated_at"

// RawPayloadStore implements interfaces.RawPayloadStore using SurrealDB.
// Writes are guarded on the stored version field.
type RawPayloadStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewRawPayloadStore creates a new RawPayloadStore.
func NewRawPayloadStore(db *surrealdb.DB, logger *common.Logger) *RawPayloadStore {
	return &RawPayloadStore{db: db, logger: logger}
}

func rawDocRID(ownerID, kind string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("raw_payload", models.RawDocumentID(ownerID, kind))
}

func (s *RawPayloadStore) Get(ctx context.Context, ownerID, kind string) (*models.RawDocument, error) {
	sql := "SELECT " + rawDocFields + " FROM $rid"
	return queryOne[models.RawDocument](ctx, s.db, sql, map[string]any{"rid": rawDocRID(ownerID, kind)})
}

// Put creates the document when expectedVersion is 0, otherwise updates it
// only while the stored version still equals expectedVersion.
func (s *RawPayloadStore) Put(ctx context.Context, doc *models.RawDocument, expectedVersion int) error {
	now := time.Now()
	fetchedAt := doc.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = now
	}
	items := doc.Items
	if items == nil {
		items = []models.RawRecord{}
	}
	keys := doc.Keys
	if keys == nil {
		keys = []string{}
	}

	vars := map[string]any{
		"rid":        rawDocRID(doc.OwnerID, doc.Kind),
		"owner_id":   doc.OwnerID,
		"kind":       doc.Kind,
		"expected":   expectedVersion,
		"version":    expectedVersion + 1,
		"keys":       keys,
		"items":      items,
		"fetched_at": fetchedAt,
		"updated_at": now,
	}

	set := `owner_id = $owner_id, kind = $kind, version = $version, keys = $keys,
		items = $items, fetched_at = $fetched_at, updated_at = $updated_at`

	if expectedVersion == 0 {
		if _, err := surrealdb.Query[any](ctx, s.db, "CREATE $rid SET "+set, vars); err != nil {
			if isDuplicateError(err) {
				return models.ErrVersionConflict
			}
			return wrap("create raw payload", err)
		}
	} else {
		n, err := exec(ctx, s.db, "UPDATE $rid SET "+set+" WHERE version = $expected RETURN AFTER", vars)
		if err != nil {
			return wrap("update raw payload", err)
		}
		if n == 0 {
			return models.ErrVersionConflict
		}
	}

	doc.Version = expectedVersion + 1
	doc.FetchedAt = fetchedAt
	doc.UpdatedAt = now
	return nil
}

func (s *RawPayloadStore) DeleteByOwner(ctx context.Context, ownerID string) error {
	sql := "DELETE raw_payload WHERE owner_id = $owner_id"
	if _, err := surrealdb.Query[any](ctx, s.db, sql, map[string]any{"owner_id": ownerID}); err != nil {
		return wrap("delete raw payloads", err)
	}
	return nil
}

// Compile-time check
var _ interfaces.RawPayloadStore = (*RawPayloadStore)(nil)
