package surrealdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
)

const (
	connectionFields = "connection_id as id, user_id, provider, status, pending_setup, credentials_ref, last_synced_at, created_at, updated_at"

	providerAccountFields = `provider_account_id as id, connection_id, external_id, name, currency, account_type,
	current_balance, cash_balance, account_id, inactive, zero_activity_streak, last_seen_at, last_imported_at, created_at, updated_at`

	linkFields = "link_id as id, provider_account_id, account_id, created_at"

	accountFields = "account_id as id, user_id, name, currency, balance, cash_balance, inactive, created_at, updated_at"
)

// ConnectionStore implements interfaces.ConnectionStore using SurrealDB.
type ConnectionStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewConnectionStore creates a new ConnectionStore.
func NewConnectionStore(db *surrealdb.DB, logger *common.Logger) *ConnectionStore {
	return &ConnectionStore{db: db, logger: logger}
}

func (s *ConnectionStore) Get(ctx context.Context, id string) (*models.Connection, error) {
	sql := "SELECT " + connectionFields + " FROM $rid"
	return queryOne[models.Connection](ctx, s.db, sql, map[string]any{"rid": surrealmodels.NewRecordID("connection", id)})
}

func (s *ConnectionStore) Save(ctx context.Context, conn *models.Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	now := time.Now()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now

	sql := `UPSERT $rid SET
		connection_id = $connection_id, user_id = $user_id, provider = $provider, status = $status,
		pending_setup = $pending_setup, credentials_ref = $credentials_ref,
		last_synced_at = $last_synced_at, created_at = $created_at, updated_at = $updated_at`
	vars := map[string]any{
		"rid":             surrealmodels.NewRecordID("connection", conn.ID),
		"connection_id":   conn.ID,
		"user_id":         conn.UserID,
		"provider":        conn.Provider,
		"status":          conn.Status,
		"pending_setup":   conn.PendingSetup,
		"credentials_ref": conn.CredentialsRef,
		"last_synced_at":  conn.LastSyncedAt,
		"created_at":      conn.CreatedAt,
		"updated_at":      conn.UpdatedAt,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return wrap("save connection", err)
	}
	return nil
}

func (s *ConnectionStore) List(ctx context.Context) ([]*models.Connection, error) {
	sql := "SELECT " + connectionFields + " FROM connection ORDER BY created_at ASC"
	conns, err := queryRows[models.Connection](ctx, s.db, sql, nil)
	if err != nil {
		return nil, wrap("list connections", err)
	}
	return conns, nil
}

func (s *ConnectionStore) Delete(ctx context.Context, id string) error {
	_, err := surrealdb.Delete[models.Connection](ctx, s.db, surrealmodels.NewRecordID("connection", id))
	if err != nil && !isNotFoundError(err) {
		return wrap("delete connection", err)
	}
	return nil
}

// ProviderAccountStore implements interfaces.ProviderAccountStore using SurrealDB.
type ProviderAccountStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewProviderAccountStore creates a new ProviderAccountStore.
func NewProviderAccountStore(db *surrealdb.DB, logger *common.Logger) *ProviderAccountStore {
	return &ProviderAccountStore{db: db, logger: logger}
}

func (s *ProviderAccountStore) Get(ctx context.Context, id string) (*models.ProviderAccount, error) {
	sql := "SELECT " + providerAccountFields + " FROM $rid"
	return queryOne[models.ProviderAccount](ctx, s.db, sql, map[string]any{"rid": surrealmodels.NewRecordID("provider_account", id)})
}

func (s *ProviderAccountStore) GetByExternalID(ctx context.Context, connectionID, externalID string) (*models.ProviderAccount, error) {
	sql := "SELECT " + providerAccountFields + " FROM provider_account WHERE connection_id = $connection_id AND external_id = $external_id LIMIT 1"
	return queryOne[models.ProviderAccount](ctx, s.db, sql, map[string]any{
		"connection_id": connectionID,
		"external_id":   externalID,
	})
}

func (s *ProviderAccountStore) ListByConnection(ctx context.Context, connectionID string) ([]*models.ProviderAccount, error) {
	sql := "SELECT " + providerAccountFields + " FROM provider_account WHERE connection_id = $connection_id ORDER BY created_at ASC, external_id ASC"
	pas, err := queryRows[models.ProviderAccount](ctx, s.db, sql, map[string]any{"connection_id": connectionID})
	if err != nil {
		return nil, wrap("list provider accounts", err)
	}
	return pas, nil
}

// Create inserts a new provider account. The unique index on
// (connection_id, external_id) rejects a second row for the same upstream id.
func (s *ProviderAccountStore) Create(ctx context.Context, pa *models.ProviderAccount) error {
	if pa.ID == "" {
		pa.ID = uuid.New().String()
	}
	now := time.Now()
	if pa.CreatedAt.IsZero() {
		pa.CreatedAt = now
	}
	pa.UpdatedAt = now

	if err := s.write(ctx, "CREATE", pa); err != nil {
		if isDuplicateError(err) {
			return models.ErrDuplicateRecord
		}
		return wrap("create provider account", err)
	}
	return nil
}

func (s *ProviderAccountStore) Save(ctx context.Context, pa *models.ProviderAccount) error {
	if pa.ID == "" {
		pa.ID = uuid.New().String()
	}
	now := time.Now()
	if pa.CreatedAt.IsZero() {
		pa.CreatedAt = now
	}
	pa.UpdatedAt = now

	if err := s.write(ctx, "UPSERT", pa); err != nil {
		return wrap("save provider account", err)
	}
	return nil
}

func (s *ProviderAccountStore) write(ctx context.Context, verb string, pa *models.ProviderAccount) error {
	sql := verb + ` $rid SET
		provider_account_id = $provider_account_id, connection_id = $connection_id, external_id = $external_id,
		name = $name, currency = $currency, account_type = $account_type,
		current_balance = $current_balance, cash_balance = $cash_balance, account_id = $account_id,
		inactive = $inactive, zero_activity_streak = $zero_activity_streak,
		last_seen_at = $last_seen_at, last_imported_at = $last_imported_at,
		created_at = $created_at, updated_at = $updated_at`
	vars := map[string]any{
		"rid":                  surrealmodels.NewRecordID("provider_account", pa.ID),
		"provider_account_id":  pa.ID,
		"connection_id":        pa.ConnectionID,
		"external_id":          pa.ExternalID,
		"name":                 pa.Name,
		"currency":             pa.Currency,
		"account_type":         pa.AccountType,
		"current_balance":      pa.CurrentBalance,
		"cash_balance":         pa.CashBalance,
		"account_id":           pa.AccountID,
		"inactive":             pa.Inactive,
		"zero_activity_streak": pa.ZeroActivityStreak,
		"last_seen_at":         pa.LastSeenAt,
		"last_imported_at":     pa.LastImportedAt,
		"created_at":           pa.CreatedAt,
		"updated_at":           pa.UpdatedAt,
	}
	_, err := surrealdb.Query[any](ctx, s.db, sql, vars)
	return err
}

// Delete removes an unlinked provider account. The link check and the
// delete run in one transaction.
func (s *ProviderAccountStore) Delete(ctx context.Context, id string) error {
	pa, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if pa.AccountID != "" {
		return models.ErrLinkedAccount
	}

	sql := `BEGIN TRANSACTION;
		IF (SELECT count() AS cnt FROM link WHERE provider_account_id = $id GROUP ALL)[0].cnt > 0 {
			THROW "linked account";
		};
		DELETE $rid WHERE account_id = "" OR account_id = NONE;
		COMMIT TRANSACTION;`
	vars := map[string]any{
		"id":  id,
		"rid": surrealmodels.NewRecordID("provider_account", id),
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		if containsFold(err.Error(), "linked account") {
			return models.ErrLinkedAccount
		}
		return wrap("delete provider account", err)
	}
	return nil
}

// LinkStore implements interfaces.LinkStore using SurrealDB. Links are keyed
// by provider account id so a second link for the same account is rejected
// by the record id alone.
type LinkStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewLinkStore creates a new LinkStore.
func NewLinkStore(db *surrealdb.DB, logger *common.Logger) *LinkStore {
	return &LinkStore{db: db, logger: logger}
}

func (s *LinkStore) GetByProviderAccount(ctx context.Context, providerAccountID string) (*models.Link, error) {
	sql := "SELECT " + linkFields + " FROM $rid"
	return queryOne[models.Link](ctx, s.db, sql, map[string]any{"rid": surrealmodels.NewRecordID("link", providerAccountID)})
}

func (s *LinkStore) Create(ctx context.Context, link *models.Link) error {
	if link.ID == "" {
		link.ID = uuid.New().String()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}

	sql := `CREATE $rid SET
		link_id = $link_id, provider_account_id = $provider_account_id,
		account_id = $account_id, created_at = $created_at`
	vars := map[string]any{
		"rid":                 surrealmodels.NewRecordID("link", link.ProviderAccountID),
		"link_id":             link.ID,
		"provider_account_id": link.ProviderAccountID,
		"account_id":          link.AccountID,
		"created_at":          link.CreatedAt,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		if isDuplicateError(err) {
			return models.ErrDuplicateRecord
		}
		return wrap("create link", err)
	}
	return nil
}

// Unlink detaches holdings, clears the direct reference and removes the
// link row inside one transaction.
func (s *LinkStore) Unlink(ctx context.Context, providerAccountID string) (int, error) {
	refs := []string{models.DirectLinkID(providerAccountID)}
	hasLink := false
	link, err := s.GetByProviderAccount(ctx, providerAccountID)
	switch {
	case err == nil:
		refs = append(refs, link.ID)
		hasLink = true
	case err != models.ErrNotFound:
		return 0, wrap("load link", err)
	}

	paRID := surrealmodels.NewRecordID("provider_account", providerAccountID)
	if !hasLink {
		pa, err := queryOne[models.ProviderAccount](ctx, s.db, "SELECT "+providerAccountFields+" FROM $rid", map[string]any{"rid": paRID})
		if err != nil {
			return 0, err
		}
		if pa.AccountID == "" {
			return 0, models.ErrNotFound
		}
	}

	sql := `BEGIN TRANSACTION;
		UPDATE holding SET link_id = "", updated_at = $now WHERE link_id IN $refs RETURN AFTER;
		UPDATE provider_account SET account_id = "", updated_at = $now WHERE id = $pa_rid;
		DELETE $link_rid;
		COMMIT TRANSACTION;`
	vars := map[string]any{
		"now":      time.Now(),
		"refs":     refs,
		"pa_rid":   paRID,
		"link_rid": surrealmodels.NewRecordID("link", providerAccountID),
	}
	detached, err := exec(ctx, s.db, sql, vars)
	if err != nil {
		return 0, wrap("unlink provider account", err)
	}

	s.logger.Debug().
		Str("provider_account", providerAccountID).
		Int("detached_holdings", detached).
		Msg("Provider account unlinked")
	return detached, nil
}

// AccountStore implements interfaces.AccountStore using SurrealDB.
type AccountStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(db *surrealdb.DB, logger *common.Logger) *AccountStore {
	return &AccountStore{db: db, logger: logger}
}

func (s *AccountStore) Get(ctx context.Context, id string) (*models.Account, error) {
	sql := "SELECT " + accountFields + " FROM $rid"
	return queryOne[models.Account](ctx, s.db, sql, map[string]any{"rid": surrealmodels.NewRecordID("account", id)})
}

func (s *AccountStore) Save(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	sql := `UPSERT $rid SET
		account_id = $account_id, user_id = $user_id, name = $name, currency = $currency,
		balance = $balance, cash_balance = $cash_balance, inactive = $inactive,
		created_at = $created_at, updated_at = $updated_at`
	vars := map[string]any{
		"rid":          surrealmodels.NewRecordID("account", account.ID),
		"account_id":   account.ID,
		"user_id":      account.UserID,
		"name":         account.Name,
		"currency":     account.Currency,
		"balance":      account.Balance,
		"cash_balance": account.CashBalance,
		"inactive":     account.Inactive,
		"created_at":   account.CreatedAt,
		"updated_at":   account.UpdatedAt,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return wrap("save account", err)
	}
	return nil
}

// Compile-time checks
var (
	_ interfaces.ConnectionStore      = (*ConnectionStore)(nil)
	_ interfaces.ProviderAccountStore = (*ProviderAccountStore)(nil)
	_ interfaces.LinkStore            = (*LinkStore)(nil)
	_ interfaces.AccountStore         = (*AccountStore)(nil)
)
