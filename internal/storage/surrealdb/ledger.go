package surrealdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
)

const (
	holdingFields = `holding_id as id, account_id, security_id, date, qty, price, amount, currency,
	cost_basis, cost_basis_source, link_id, updated_at`

	entryFields = `entry_id, account_id, external_id, kind, date, name, amount, currency,
	label, source, trade, cash_txn, created_at, updated_at`

	valuationFields = "valuation_id as id, account_id, date, kind, amount, cash_amount, currency, updated_at"

	securityFields = "security_id as id, ticker, name, kind, exchange, currency, offline, created_at"
)

// HoldingStore implements interfaces.HoldingStore using SurrealDB.
type HoldingStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewHoldingStore creates a new HoldingStore.
func NewHoldingStore(db *surrealdb.DB, logger *common.Logger) *HoldingStore {
	return &HoldingStore{db: db, logger: logger}
}

func (s *HoldingStore) Get(ctx context.Context, id string) (*models.Holding, error) {
	sql := "SELECT " + holdingFields + " FROM $rid"
	return queryOne[models.Holding](ctx, s.db, sql, map[string]any{"rid": surrealmodels.NewRecordID("holding", id)})
}

func (s *HoldingStore) Upsert(ctx context.Context, holding *models.Holding) error {
	holding.Date = models.DateOnly(holding.Date)
	if holding.ID == "" {
		holding.ID = models.HoldingID(holding.AccountID, holding.SecurityID, holding.Date)
	}
	holding.UpdatedAt = time.Now()

	sql := `UPSERT $rid SET
		holding_id = $holding_id, account_id = $account_id, security_id = $security_id, date = $date,
		qty = $qty, price = $price, amount = $amount, currency = $currency,
		cost_basis = $cost_basis, cost_basis_source = $cost_basis_source,
		link_id = $link_id, updated_at = $updated_at`
	vars := map[string]any{
		"rid":               surrealmodels.NewRecordID("holding", holding.ID),
		"holding_id":        holding.ID,
		"account_id":        holding.AccountID,
		"security_id":       holding.SecurityID,
		"date":              holding.Date,
		"qty":               holding.Qty,
		"price":             holding.Price,
		"amount":            holding.Amount,
		"currency":          holding.Currency,
		"cost_basis":        holding.CostBasis,
		"cost_basis_source": holding.CostBasisSource,
		"link_id":           holding.LinkID,
		"updated_at":        holding.UpdatedAt,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return wrap("upsert holding", err)
	}
	return nil
}

func (s *HoldingStore) ListByAccountDate(ctx context.Context, accountID string, date time.Time) ([]*models.Holding, error) {
	sql := "SELECT " + holdingFields + " FROM holding WHERE account_id = $account_id AND date = $date ORDER BY security_id ASC"
	holdings, err := queryRows[models.Holding](ctx, s.db, sql, map[string]any{
		"account_id": accountID,
		"date":       models.DateOnly(date),
	})
	if err != nil {
		return nil, wrap("list holdings", err)
	}
	return holdings, nil
}

func (s *HoldingStore) CountByLink(ctx context.Context, linkID string) (int, error) {
	if linkID == "" {
		return 0, nil
	}
	type countResult struct {
		Cnt int `json:"cnt"`
	}
	sql := "SELECT count() AS cnt FROM holding WHERE link_id = $link_id GROUP ALL"
	rows, err := queryRows[countResult](ctx, s.db, sql, map[string]any{"link_id": linkID})
	if err != nil {
		return 0, wrap("count holdings", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Cnt, nil
}

// entryRow is the DB-level representation of an entry. The transaction
// sub-record is stored as cash_txn.
type entryRow struct {
	EntryID    string              `json:"entry_id"`
	AccountID  string              `json:"account_id"`
	ExternalID string              `json:"external_id"`
	Kind       string              `json:"kind"`
	Date       time.Time           `json:"date"`
	Name       string              `json:"name"`
	Amount     decimal.Decimal     `json:"amount"`
	Currency   string              `json:"currency"`
	Label      string              `json:"label"`
	Source     string              `json:"source"`
	Trade      *models.Trade       `json:"trade"`
	CashTxn    *models.Transaction `json:"cash_txn"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func (r *entryRow) toEntry() *models.Entry {
	return &models.Entry{
		ID:          r.EntryID,
		AccountID:   r.AccountID,
		ExternalID:  r.ExternalID,
		Kind:        r.Kind,
		Date:        r.Date,
		Name:        r.Name,
		Amount:      r.Amount,
		Currency:    r.Currency,
		Label:       models.ActivityLabel(r.Label),
		Source:      r.Source,
		Trade:       r.Trade,
		Transaction: r.CashTxn,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// EntryStore implements interfaces.EntryStore using SurrealDB. The trade or
// transaction sub-record is embedded in the entry document, so Create is a
// single write.
type EntryStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewEntryStore creates a new EntryStore.
func NewEntryStore(db *surrealdb.DB, logger *common.Logger) *EntryStore {
	return &EntryStore{db: db, logger: logger}
}

func (s *EntryStore) GetByExternalID(ctx context.Context, accountID, externalID string) (*models.Entry, error) {
	sql := "SELECT " + entryFields + " FROM entry WHERE account_id = $account_id AND external_id = $external_id LIMIT 1"
	row, err := queryOne[entryRow](ctx, s.db, sql, map[string]any{
		"account_id":  accountID,
		"external_id": externalID,
	})
	if err != nil {
		return nil, err
	}
	return row.toEntry(), nil
}

func (s *EntryStore) Create(ctx context.Context, entry *models.Entry) error {
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

	sql := `CREATE $rid SET
		entry_id = $entry_id, account_id = $account_id, external_id = $external_id, kind = $kind,
		date = $date, name = $name, amount = $amount, currency = $currency, label = $label,
		source = $source, trade = $trade, cash_txn = $cash_txn,
		created_at = $created_at, updated_at = $updated_at`
	vars := map[string]any{
		"rid":         surrealmodels.NewRecordID("entry", entry.ID),
		"entry_id":    entry.ID,
		"account_id":  entry.AccountID,
		"external_id": entry.ExternalID,
		"kind":        entry.Kind,
		"date":        entry.Date,
		"name":        entry.Name,
		"amount":      entry.Amount,
		"currency":    entry.Currency,
		"label":       string(entry.Label),
		"source":      entry.Source,
		"trade":       entry.Trade,
		"cash_txn":    entry.Transaction,
		"created_at":  entry.CreatedAt,
		"updated_at":  entry.UpdatedAt,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		if isDuplicateError(err) {
			return models.ErrDuplicateRecord
		}
		return wrap("create entry", err)
	}
	return nil
}

func (s *EntryStore) UpdateLabel(ctx context.Context, id string, label models.ActivityLabel) error {
	sql := "UPDATE $rid SET label = $label, updated_at = $now RETURN AFTER"
	n, err := exec(ctx, s.db, sql, map[string]any{
		"rid":   surrealmodels.NewRecordID("entry", id),
		"label": string(label),
		"now":   time.Now(),
	})
	if err != nil {
		return wrap("update entry label", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *EntryStore) ListByAccount(ctx context.Context, accountID string) ([]*models.Entry, error) {
	sql := "SELECT " + entryFields + " FROM entry WHERE account_id = $account_id ORDER BY date ASC, entry_id ASC"
	rows, err := queryRows[entryRow](ctx, s.db, sql, map[string]any{"account_id": accountID})
	if err != nil {
		return nil, wrap("list entries", err)
	}
	entries := make([]*models.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toEntry())
	}
	return entries, nil
}

// ValuationStore implements interfaces.ValuationStore using SurrealDB.
type ValuationStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewValuationStore creates a new ValuationStore.
func NewValuationStore(db *surrealdb.DB, logger *common.Logger) *ValuationStore {
	return &ValuationStore{db: db, logger: logger}
}

func (s *ValuationStore) Upsert(ctx context.Context, v *models.Valuation) error {
	v.Date = models.DateOnly(v.Date)
	if v.ID == "" {
		v.ID = models.ValuationID(v.AccountID, v.Date, v.Kind)
	}
	v.UpdatedAt = time.Now()

	sql := `UPSERT $rid SET
		valuation_id = $valuation_id, account_id = $account_id, date = $date, kind = $kind,
		amount = $amount, cash_amount = $cash_amount, currency = $currency, updated_at = $updated_at`
	vars := map[string]any{
		"rid":          surrealmodels.NewRecordID("valuation", v.ID),
		"valuation_id": v.ID,
		"account_id":   v.AccountID,
		"date":         v.Date,
		"kind":         v.Kind,
		"amount":       v.Amount,
		"cash_amount":  v.CashAmount,
		"currency":     v.Currency,
		"updated_at":   v.UpdatedAt,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return wrap("upsert valuation", err)
	}
	return nil
}

func (s *ValuationStore) ListByAccount(ctx context.Context, accountID string) ([]*models.Valuation, error) {
	sql := "SELECT " + valuationFields + " FROM valuation WHERE account_id = $account_id ORDER BY date ASC"
	vals, err := queryRows[models.Valuation](ctx, s.db, sql, map[string]any{"account_id": accountID})
	if err != nil {
		return nil, wrap("list valuations", err)
	}
	return vals, nil
}

// SecurityStore implements interfaces.SecurityStore using SurrealDB.
type SecurityStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewSecurityStore creates a new SecurityStore.
func NewSecurityStore(db *surrealdb.DB, logger *common.Logger) *SecurityStore {
	return &SecurityStore{db: db, logger: logger}
}

func (s *SecurityStore) Get(ctx context.Context, id string) (*models.Security, error) {
	sql := "SELECT " + securityFields + " FROM $rid"
	return queryOne[models.Security](ctx, s.db, sql, map[string]any{"rid": surrealmodels.NewRecordID("security", id)})
}

func (s *SecurityStore) Create(ctx context.Context, sec *models.Security) error {
	if sec.CreatedAt.IsZero() {
		sec.CreatedAt = time.Now()
	}

	sql := `CREATE $rid SET
		security_id = $security_id, ticker = $ticker, name = $name, kind = $kind,
		exchange = $exchange, currency = $currency, offline = $offline, created_at = $created_at`
	vars := map[string]any{
		"rid":         surrealmodels.NewRecordID("security", sec.ID),
		"security_id": sec.ID,
		"ticker":      sec.Ticker,
		"name":        sec.Name,
		"kind":        sec.Kind,
		"exchange":    sec.Exchange,
		"currency":    sec.Currency,
		"offline":     sec.Offline,
		"created_at":  sec.CreatedAt,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		if isDuplicateError(err) {
			return models.ErrDuplicateRecord
		}
		return wrap("create security", err)
	}
	return nil
}

// Compile-time checks
var (
	_ interfaces.HoldingStore   = (*HoldingStore)(nil)
	_ interfaces.EntryStore     = (*EntryStore)(nil)
	_ interfaces.ValuationStore = (*ValuationStore)(nil)
	_ interfaces.SecurityStore  = (*SecurityStore)(nil)
)
