package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/provsync/internal/models"
	"github.com/bobmcallan/provsync/internal/payload"
)

// ProcessHoldings upserts the stored raw holdings of pa, one holding per
// (account, security, as-of date) with lots of the same key summed.
// Unlinked accounts are skipped.
func (p *Processor) ProcessHoldings(ctx context.Context, pa *models.ProviderAccount) (*models.HoldingsResult, error) {
	result := &models.HoldingsResult{}

	accountID, err := p.linker.ResolveAccountID(ctx, pa)
	if err != nil {
		return nil, err
	}
	if accountID == "" {
		return result, nil
	}
	linkRef, err := p.linker.LinkRef(ctx, pa)
	if err != nil {
		return nil, err
	}

	doc, err := p.document(ctx, pa, models.RawKindHoldings)
	if err != nil {
		return nil, err
	}

	today := models.DateOnly(p.now())
	positions := map[string]*position{}
	var order []string

	for _, rec := range doc.Items {
		item := payload.New(rec, p.profile)

		symbol := item.Symbol()
		qty, hasQty := item.Quantity()
		if symbol == "" || !hasQty {
			result.Skipped++
			p.logger.Warn().
				Str("provider_account", pa.ID).
				Str("symbol", symbol).
				Msg("Holding skipped: missing identifier or quantity")
			continue
		}

		sec, err := p.securities.FindOrCreate(ctx, symbol, securityKind(item.SecurityKind(), p.profile.Name))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve security %s: %w", symbol, err)
		}

		date := today
		if d, ok := item.Date(); ok {
			date = models.DateOnly(d)
		}

		price, _ := item.Price()
		amount, hasValue := item.MarketValue()
		if !hasValue {
			amount = price.Mul(qty)
		}

		// Lots of one security on one date add up to a single holding.
		id := models.HoldingID(accountID, sec.ID, date)
		pos, ok := positions[id]
		if !ok {
			pos = &position{id: id, securityID: sec.ID, date: date, currency: p.currency(item, pa)}
			positions[id] = pos
			order = append(order, id)
		}
		pos.lots++
		pos.qty = pos.qty.Add(qty)
		pos.amount = pos.amount.Add(amount)
		pos.price = price
		if basis, ok := costBasis(item, qty); ok {
			pos.basis = pos.basis.Add(basis)
			pos.hasBasis = true
		}
	}

	store := p.storage.HoldingStore()
	for _, id := range order {
		pos := positions[id]

		h, err := store.Get(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			h = &models.Holding{ID: id, AccountID: accountID, SecurityID: pos.securityID, Date: pos.date}
		} else if err != nil {
			return nil, fmt.Errorf("failed to get holding %s: %w", id, err)
		}

		h.Qty = pos.qty
		h.Price = pos.unitPrice()
		h.Amount = pos.amount
		h.Currency = pos.currency
		h.LinkID = linkRef

		if pos.hasBasis {
			if h.HasManualCostBasis() {
				result.CostBasisPreserved++
			} else {
				basis := pos.basis
				h.CostBasis = &basis
				h.CostBasisSource = models.CostBasisSourceProvider
			}
		}

		if err := store.Upsert(ctx, h); err != nil {
			return nil, fmt.Errorf("failed to upsert holding %s: %w", id, err)
		}
		result.Upserted++
	}

	p.logger.Debug().
		Str("provider_account", pa.ID).
		Int("upserted", result.Upserted).
		Int("skipped", result.Skipped).
		Msg("Holdings processed")
	return result, nil
}

// position accumulates the lots of one holding within a pass.
type position struct {
	id         string
	securityID string
	date       time.Time
	currency   string
	lots       int
	qty        decimal.Decimal
	amount     decimal.Decimal
	price      decimal.Decimal // last reported unit price
	basis      decimal.Decimal
	hasBasis   bool
}

// unitPrice is the reported price for a single lot, else market value over
// quantity.
func (p *position) unitPrice() decimal.Decimal {
	if (p.lots == 1 && !p.price.IsZero()) || p.qty.IsZero() {
		return p.price
	}
	return p.amount.Div(p.qty)
}

// costBasis prefers a total cost basis, then average cost times quantity.
func costBasis(item payload.RawPayload, qty decimal.Decimal) (decimal.Decimal, bool) {
	if total, ok := item.CostBasis(); ok {
		return total, true
	}
	if avg, ok := item.AverageCost(); ok {
		return avg.Mul(qty.Abs()), true
	}
	return decimal.Decimal{}, false
}
