package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
	"github.com/bobmcallan/provsync/internal/payload"
	"github.com/bobmcallan/provsync/internal/services/dedup"
)

// putRetries is the number of extra attempts after a version conflict.
const putRetries = 1

// mergeAppend appends the items of fetched not already in the owner's
// document of kind, in one write. Stored items are never modified. Returns
// the number of items appended.
func mergeAppend(ctx context.Context, store interfaces.RawPayloadStore, ownerID, kind string, fetched []models.RawRecord, profile payload.Profile) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= putRetries; attempt++ {
		doc, err := store.Get(ctx, ownerID, kind)
		if errors.Is(err, models.ErrNotFound) {
			doc = &models.RawDocument{OwnerID: ownerID, Kind: kind}
		} else if err != nil {
			return 0, fmt.Errorf("failed to read %s document: %w", kind, err)
		}
		expected := doc.Version

		existing := dedup.ExistingKeys(doc, profile)
		if len(doc.Keys) != len(doc.Items) {
			// Rebuild keys for documents written without them.
			doc.Keys = make([]string, len(doc.Items))
			for i, item := range doc.Items {
				doc.Keys[i] = dedup.Key(payload.New(item, profile))
			}
		}

		added := 0
		for _, item := range fetched {
			key := dedup.Key(payload.New(item, profile))
			if existing.Has(key) {
				continue
			}
			existing.Add(key)
			doc.Items = append(doc.Items, item)
			doc.Keys = append(doc.Keys, key)
			added++
		}
		if added == 0 {
			return 0, nil
		}

		doc.FetchedAt = time.Now()
		err = store.Put(ctx, doc, expected)
		if err == nil {
			return added, nil
		}
		if !errors.Is(err, models.ErrVersionConflict) {
			return 0, fmt.Errorf("failed to write %s document: %w", kind, err)
		}
		lastErr = err
	}
	return 0, fmt.Errorf("failed to merge %s document for %s: %w", kind, ownerID, lastErr)
}

// replaceSnapshot replaces the items of the owner's document of kind. Used
// for snapshot kinds (account lists, balances, holdings) where the latest
// fetch is the whole truth.
func replaceSnapshot(ctx context.Context, store interfaces.RawPayloadStore, ownerID, kind string, items []models.RawRecord, keys []string) error {
	var lastErr error
	for attempt := 0; attempt <= putRetries; attempt++ {
		expected := 0
		doc, err := store.Get(ctx, ownerID, kind)
		switch {
		case err == nil:
			expected = doc.Version
		case errors.Is(err, models.ErrNotFound):
		default:
			return fmt.Errorf("failed to read %s document: %w", kind, err)
		}

		next := &models.RawDocument{OwnerID: ownerID, Kind: kind, Items: items, Keys: keys}
		err = store.Put(ctx, next, expected)
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrVersionConflict) {
			return fmt.Errorf("failed to write %s document: %w", kind, err)
		}
		lastErr = err
	}
	return fmt.Errorf("failed to replace %s document for %s: %w", kind, ownerID, lastErr)
}
