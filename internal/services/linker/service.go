// Package linker maps provider accounts to canonical accounts and prunes
// provider accounts that vanished upstream.
package linker

import (
	"context"
	"errors"
	"fmt"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
)

// Compile-time interface check
var _ interfaces.AccountLinker = (*Service)(nil)

// Service implements AccountLinker
type Service struct {
	storage interfaces.StorageManager
	logger  *common.Logger
}

// NewService creates a new linker service
func NewService(storage interfaces.StorageManager, logger *common.Logger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
	}
}

// link returns the Link row for pa, nil when there is none.
func (s *Service) link(ctx context.Context, pa *models.ProviderAccount) (*models.Link, error) {
	l, err := s.storage.LinkStore().GetByProviderAccount(ctx, pa.ID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link for provider account %s: %w", pa.ID, err)
	}
	return l, nil
}

// IsLinked reports whether pa is linked by direct reference or a Link row.
func (s *Service) IsLinked(ctx context.Context, pa *models.ProviderAccount) (bool, error) {
	if pa.AccountID != "" {
		return true, nil
	}
	l, err := s.link(ctx, pa)
	if err != nil {
		return false, err
	}
	return l != nil, nil
}

// ResolveAccountID returns the canonical account pa is linked to, "" when unlinked.
func (s *Service) ResolveAccountID(ctx context.Context, pa *models.ProviderAccount) (string, error) {
	if pa.AccountID != "" {
		return pa.AccountID, nil
	}
	l, err := s.link(ctx, pa)
	if err != nil || l == nil {
		return "", err
	}
	return l.AccountID, nil
}

// LinkRef returns the Link id, or the direct-reference marker, that holdings
// imported for pa should carry.
func (s *Service) LinkRef(ctx context.Context, pa *models.ProviderAccount) (string, error) {
	l, err := s.link(ctx, pa)
	if err != nil {
		return "", err
	}
	if l != nil {
		return l.ID, nil
	}
	if pa.AccountID != "" {
		return models.DirectLinkID(pa.ID), nil
	}
	return "", nil
}

// Link associates pa with a canonical account. Linking again to the same
// account is a no-op; linking to a different one is refused.
func (s *Service) Link(ctx context.Context, pa *models.ProviderAccount, accountID string) (*models.Link, error) {
	if _, err := s.storage.AccountStore().Get(ctx, accountID); err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", accountID, err)
	}
	if pa.AccountID != "" && pa.AccountID != accountID {
		return nil, fmt.Errorf("provider account %s already linked to %s: %w", pa.ID, pa.AccountID, models.ErrDuplicateRecord)
	}

	l := &models.Link{ProviderAccountID: pa.ID, AccountID: accountID}
	err := s.storage.LinkStore().Create(ctx, l)
	if errors.Is(err, models.ErrDuplicateRecord) {
		existing, getErr := s.link(ctx, pa)
		if getErr != nil {
			return nil, getErr
		}
		if existing != nil && existing.AccountID == accountID {
			return existing, nil
		}
		return nil, fmt.Errorf("provider account %s already linked: %w", pa.ID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create link: %w", err)
	}

	s.logger.Info().
		Str("provider_account", pa.ID).
		Str("account", accountID).
		Msg("Provider account linked")
	return l, nil
}

// UnlinkAll unlinks every linked provider account of conn. Each account is
// detached and unlinked atomically; a failure is recorded on its result and
// the remaining accounts are still processed. With dryRun nothing is
// written and the results carry the holdings that would be detached.
func (s *Service) UnlinkAll(ctx context.Context, conn *models.Connection, dryRun bool) ([]models.UnlinkResult, error) {
	accounts, err := s.storage.ProviderAccountStore().ListByConnection(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider accounts: %w", err)
	}

	var results []models.UnlinkResult
	for _, pa := range accounts {
		linked, err := s.IsLinked(ctx, pa)
		if err != nil {
			results = append(results, s.failed(conn, pa, err, "Link state could not be read"))
			continue
		}
		if !linked {
			continue
		}

		if dryRun {
			n, err := s.countDetachable(ctx, pa)
			if err != nil {
				results = append(results, s.failed(conn, pa, err, "Holdings could not be counted"))
				continue
			}
			results = append(results, models.UnlinkResult{ProviderAccountID: pa.ID, DetachedHoldingCount: n})
			continue
		}

		n, err := s.storage.LinkStore().Unlink(ctx, pa.ID)
		if err != nil {
			results = append(results, s.failed(conn, pa, err, "Provider account could not be unlinked"))
			continue
		}
		results = append(results, models.UnlinkResult{ProviderAccountID: pa.ID, DetachedHoldingCount: n})
	}

	s.logger.Info().
		Str("connection", conn.ID).
		Bool("dry_run", dryRun).
		Int("accounts", len(results)).
		Msg("Connection unlinked")
	return results, nil
}

func (s *Service) countDetachable(ctx context.Context, pa *models.ProviderAccount) (int, error) {
	total := 0
	refs := []string{models.DirectLinkID(pa.ID)}
	if l, err := s.link(ctx, pa); err != nil {
		return 0, err
	} else if l != nil {
		refs = append(refs, l.ID)
	}
	for _, ref := range refs {
		n, err := s.storage.HoldingStore().CountByLink(ctx, ref)
		if err != nil {
			return 0, fmt.Errorf("failed to count holdings: %w", err)
		}
		total += n
	}
	return total, nil
}

// failed logs err and returns a result carrying msg. Raw error text stays
// in the logs.
func (s *Service) failed(conn *models.Connection, pa *models.ProviderAccount, err error, msg string) models.UnlinkResult {
	s.logger.Warn().
		Str("connection", conn.ID).
		Str("provider_account", pa.ID).
		Err(err).
		Msg(msg)
	return models.UnlinkResult{ProviderAccountID: pa.ID, Err: err, Error: msg}
}

// Prune deletes provider accounts of conn whose external id is missing from
// upstreamIDs, unless they are linked. Linked orphans are kept and reported.
func (s *Service) Prune(ctx context.Context, conn *models.Connection, upstreamIDs []string) (*models.PruneResult, error) {
	upstream := make(map[string]bool, len(upstreamIDs))
	for _, id := range upstreamIDs {
		upstream[id] = true
	}

	accounts, err := s.storage.ProviderAccountStore().ListByConnection(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider accounts: %w", err)
	}

	result := &models.PruneResult{}
	for _, pa := range accounts {
		if upstream[pa.ExternalID] {
			continue
		}

		linked, err := s.IsLinked(ctx, pa)
		if err != nil {
			return result, err
		}
		if linked {
			s.logger.Warn().
				Str("connection", conn.ID).
				Str("provider_account", pa.ID).
				Str("external_id", pa.ExternalID).
				Msg("Provider account missing upstream but linked, keeping")
			result.Protected = append(result.Protected, pa.ID)
			continue
		}

		err = s.storage.ProviderAccountStore().Delete(ctx, pa.ID)
		if errors.Is(err, models.ErrLinkedAccount) {
			// Linked between the check and the delete.
			result.Protected = append(result.Protected, pa.ID)
			continue
		}
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return result, fmt.Errorf("failed to delete provider account %s: %w", pa.ID, err)
		}
		if err := s.storage.RawPayloadStore().DeleteByOwner(ctx, pa.ID); err != nil {
			s.logger.Warn().Str("provider_account", pa.ID).Err(err).Msg("Failed to delete raw payloads of pruned account")
		}
		result.Deleted = append(result.Deleted, pa.ID)
	}

	if len(result.Deleted) > 0 || len(result.Protected) > 0 {
		s.logger.Info().
			Str("connection", conn.ID).
			Int("deleted", len(result.Deleted)).
			Int("protected", len(result.Protected)).
			Msg("Pruned provider accounts missing upstream")
	}
	return result, nil
}

// CountLinks counts the linked and unlinked provider accounts of conn.
func (s *Service) CountLinks(ctx context.Context, conn *models.Connection) (linked, unlinked int, err error) {
	accounts, err := s.storage.ProviderAccountStore().ListByConnection(ctx, conn.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list provider accounts: %w", err)
	}
	for _, pa := range accounts {
		ok, err := s.IsLinked(ctx, pa)
		if err != nil {
			return 0, 0, err
		}
		if ok {
			linked++
		} else {
			unlinked++
		}
	}
	return linked, unlinked, nil
}
