// Package processor turns raw provider documents into canonical entries and holdings.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
	"github.com/bobmcallan/provsync/internal/payload"
)

// Compile-time interface checks
var (
	_ interfaces.ActivityProcessor = (*Processor)(nil)
	_ interfaces.HoldingsProcessor = (*Processor)(nil)
)

const entrySource = "provider"

// Processor implements both the activity and holdings processors for one
// provider profile.
type Processor struct {
	storage    interfaces.StorageManager
	linker     interfaces.AccountLinker
	securities interfaces.SecurityService
	profile    payload.Profile
	logger     *common.Logger
	now        func() time.Time
}

// Option configures a Processor
type Option func(*Processor)

// WithClock overrides the time source used for undated holdings.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// New creates a processor.
func New(storage interfaces.StorageManager, linker interfaces.AccountLinker, securities interfaces.SecurityService, profile payload.Profile, logger *common.Logger, opts ...Option) *Processor {
	p := &Processor{
		storage:    storage,
		linker:     linker,
		securities: securities,
		profile:    profile,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// document loads the raw document of kind for pa. A missing document is an
// empty one.
func (p *Processor) document(ctx context.Context, pa *models.ProviderAccount, kind string) (*models.RawDocument, error) {
	doc, err := p.storage.RawPayloadStore().Get(ctx, pa.ID, kind)
	if errors.Is(err, models.ErrNotFound) {
		return &models.RawDocument{OwnerID: pa.ID, Kind: kind}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s document for %s: %w", kind, pa.ID, err)
	}
	return doc, nil
}

func (p *Processor) currency(item payload.RawPayload, pa *models.ProviderAccount) string {
	if cur := item.Currency(); cur != "" {
		return cur
	}
	return pa.Currency
}
