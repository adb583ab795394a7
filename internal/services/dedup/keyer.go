// Package dedup derives stable identities for provider records so the same
// record is never ingested twice.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/bobmcallan/provsync/internal/models"
	"github.com/bobmcallan/provsync/internal/payload"
)

const (
	idPrefix   = "id:"
	hashPrefix = "hash:"
)

// stableFields are the only fields hashed for records without a provider id.
// Live values such as market value, status or unrealized P&L are excluded so
// a refetch of the same record keeps its key.
var stableFields = []payload.Field{
	payload.FieldDate,
	payload.FieldType,
	payload.FieldAmount,
	payload.FieldQuantity,
	payload.FieldSymbol,
	payload.FieldCurrency,
}

// Key returns the dedup key of p: the provider id when present, else a
// content hash over the stable fields.
func Key(p payload.RawPayload) string {
	if id := p.ID(); id != "" {
		return idPrefix + id
	}
	sum := sha256.Sum256([]byte(canonical(p)))
	return hashPrefix + hex.EncodeToString(sum[:])
}

// IsContentHash reports whether key was derived from content rather than a provider id.
func IsContentHash(key string) bool {
	return strings.HasPrefix(key, hashPrefix)
}

// canonical renders the stable fields as "name=value" pairs joined by "|",
// with values normalised so formatting differences do not change the key.
func canonical(p payload.RawPayload) string {
	var b strings.Builder
	for i, f := range stableFields {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(string(f))
		b.WriteByte('=')
		b.WriteString(normalise(p, f))
	}
	return b.String()
}

func normalise(p payload.RawPayload, f payload.Field) string {
	switch f {
	case payload.FieldDate:
		if t, ok := p.Date(); ok {
			return models.DateKey(t)
		}
		return ""
	case payload.FieldAmount, payload.FieldQuantity:
		if d, ok := p.Decimal(f); ok {
			return d.String()
		}
		return ""
	default:
		return strings.ToUpper(strings.TrimSpace(p.String(f)))
	}
}

// KeySet is the set of dedup keys already stored for a document.
type KeySet map[string]struct{}

// Has reports whether key is in the set.
func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Add inserts key.
func (s KeySet) Add(key string) {
	s[key] = struct{}{}
}

// ExistingKeys builds the key set of a stored document. Stored keys are
// trusted when they line up with the items; otherwise keys are recomputed.
func ExistingKeys(doc *models.RawDocument, profile payload.Profile) KeySet {
	set := make(KeySet)
	if doc == nil {
		return set
	}
	if len(doc.Keys) == len(doc.Items) {
		for _, k := range doc.Keys {
			set.Add(k)
		}
		return set
	}
	for _, item := range doc.Items {
		set.Add(Key(payload.New(item, profile)))
	}
	return set
}
