package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/provsync/internal/models"
	"github.com/bobmcallan/provsync/internal/payload"
	"github.com/bobmcallan/provsync/internal/services/dedup"
)

// ProcessActivities creates one entry per stored raw transaction not yet in
// the ledger of pa's canonical account. Existing entries only get a missing
// label backfilled. Unlinked accounts are skipped.
func (p *Processor) ProcessActivities(ctx context.Context, pa *models.ProviderAccount) (*models.ActivityResult, error) {
	result := &models.ActivityResult{}

	accountID, err := p.linker.ResolveAccountID(ctx, pa)
	if err != nil {
		return nil, err
	}
	if accountID == "" {
		return result, nil
	}

	doc, err := p.document(ctx, pa, models.RawKindTransactions)
	if err != nil {
		return nil, err
	}

	keysAligned := len(doc.Keys) == len(doc.Items)
	unmapped := map[string]bool{}
	entries := p.storage.EntryStore()

	for i, rec := range doc.Items {
		item := payload.New(rec, p.profile)
		key := ""
		if keysAligned {
			key = doc.Keys[i]
		}
		if key == "" {
			key = dedup.Key(item)
		}

		label, ok := MapActivityType(item.Type())
		if !ok {
			raw := item.Type()
			if !unmapped[raw] {
				unmapped[raw] = true
				result.Unmapped = append(result.Unmapped, raw)
				p.logger.Warn().
					Str("provider_account", pa.ID).
					Str("provider_type", raw).
					Msg("Unmapped activity type, labelled Other")
			}
		}

		existing, err := entries.GetByExternalID(ctx, accountID, key)
		if err == nil {
			if existing.Label == "" {
				if err := entries.UpdateLabel(ctx, existing.ID, label); err != nil {
					return nil, fmt.Errorf("failed to backfill label on entry %s: %w", existing.ID, err)
				}
				result.Backfilled++
			} else {
				result.Duplicates++
			}
			continue
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up entry %s: %w", key, err)
		}

		var entry *models.Entry
		if label.IsTradeLike() {
			entry, err = p.buildTrade(ctx, pa, accountID, key, label, item)
		} else {
			entry, err = p.buildTransaction(pa, accountID, key, label, item)
		}
		if err != nil {
			result.Skipped++
			p.logger.Warn().
				Str("provider_account", pa.ID).
				Str("external_id", key).
				Err(err).
				Msg("Activity skipped")
			continue
		}

		err = entries.Create(ctx, entry)
		if errors.Is(err, models.ErrDuplicateRecord) {
			result.Duplicates++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create entry %s: %w", key, err)
		}
		if dedup.IsContentHash(key) {
			result.ContentKeyed++
		}
		if entry.Kind == models.EntryKindTrade {
			result.TradesCreated++
		} else {
			result.TransactionsCreated++
		}
	}

	p.logger.Debug().
		Str("provider_account", pa.ID).
		Int("trades", result.TradesCreated).
		Int("transactions", result.TransactionsCreated).
		Int("backfilled", result.Backfilled).
		Int("content_keyed", result.ContentKeyed).
		Int("skipped", result.Skipped).
		Msg("Activities processed")
	return result, nil
}

// buildTrade maps a trade-like activity. Sell-side quantities are negative
// and the amount is the signed cash flow of the trade.
func (p *Processor) buildTrade(ctx context.Context, pa *models.ProviderAccount, accountID, key string, label models.ActivityLabel, item payload.RawPayload) (*models.Entry, error) {
	date, ok := item.Date()
	if !ok {
		return nil, fmt.Errorf("trade without date")
	}
	symbol := item.Symbol()
	if symbol == "" {
		return nil, fmt.Errorf("trade without instrument identifier")
	}
	qty, ok := item.Quantity()
	if !ok {
		return nil, fmt.Errorf("trade without quantity")
	}

	sec, err := p.securities.FindOrCreate(ctx, symbol, securityKind(item.SecurityKind(), p.profile.Name))
	if err != nil {
		return nil, err
	}

	qty = qty.Abs()
	if label.IsSellSide() {
		qty = qty.Neg()
	}
	price, _ := item.Price()
	fee, _ := item.Fee()

	amount, ok := item.Amount()
	if !ok {
		amount = price.Mul(qty.Abs())
	}
	amount = signed(amount, label)

	name := item.SecurityName()
	if name == "" {
		name = sec.Name
	}
	currency := p.currency(item, pa)

	return &models.Entry{
		AccountID:  accountID,
		ExternalID: key,
		Kind:       models.EntryKindTrade,
		Date:       date,
		Name:       name,
		Amount:     amount,
		Currency:   currency,
		Label:      label,
		Source:     entrySource,
		Trade: &models.Trade{
			SecurityID: sec.ID,
			Qty:        qty,
			Price:      price,
			Fee:        fee.Abs(),
			Currency:   currency,
		},
	}, nil
}

// buildTransaction maps a cash-like activity.
func (p *Processor) buildTransaction(pa *models.ProviderAccount, accountID, key string, label models.ActivityLabel, item payload.RawPayload) (*models.Entry, error) {
	date, ok := item.Date()
	if !ok {
		return nil, fmt.Errorf("transaction without date")
	}
	amount, ok := item.Amount()
	if !ok {
		return nil, fmt.Errorf("transaction without amount")
	}

	name := item.Description()
	if name == "" {
		name = string(label)
	}

	return &models.Entry{
		AccountID:  accountID,
		ExternalID: key,
		Kind:       models.EntryKindTransaction,
		Date:       date,
		Name:       name,
		Amount:     signed(amount, label),
		Currency:   p.currency(item, pa),
		Label:      label,
		Source:     entrySource,
		Transaction: &models.Transaction{
			Category:     item.Category(),
			ProviderType: item.Type(),
			Pending:      item.Pending(),
		},
	}, nil
}

// signed applies the label's cash direction. Labels without a direction
// keep the provider's sign.
func signed(amount decimal.Decimal, label models.ActivityLabel) decimal.Decimal {
	switch label.CashDirection() {
	case -1:
		return amount.Abs().Neg()
	case 1:
		return amount.Abs()
	default:
		return amount
	}
}
