package payload

// Field is a logical payload field whose physical location varies by provider.
type Field string

const (
	FieldID             Field = "id"
	FieldAccountID      Field = "account_id"
	FieldName           Field = "name"
	FieldCurrency       Field = "currency"
	FieldAccountType    Field = "account_type"
	FieldType           Field = "type"
	FieldDate           Field = "date"
	FieldAmount         Field = "amount"
	FieldQuantity       Field = "quantity"
	FieldPrice          Field = "price"
	FieldFee            Field = "fee"
	FieldSymbol         Field = "symbol"
	FieldSecurityName   Field = "security_name"
	FieldSecurityKind   Field = "security_kind"
	FieldMarketValue    Field = "market_value"
	FieldCostBasis      Field = "cost_basis"
	FieldAverageCost    Field = "average_cost"
	FieldCurrentBalance Field = "current_balance"
	FieldCashBalance    Field = "cash_balance"
	FieldDescription    Field = "description"
	FieldCategory       Field = "category"
	FieldPending        Field = "pending"
	FieldStatus         Field = "status"
	FieldUnrealizedPnL  Field = "unrealized_pnl"
)

// Profile maps each logical field to the key paths a provider family uses
// for it, tried in order. Paths are dotted; numeric segments index arrays.
type Profile struct {
	Name  string
	Paths map[Field][]string
}

// With returns a copy of the profile whose paths for the given fields are
// tried before the inherited ones.
func (p Profile) With(name string, overrides map[Field][]string) Profile {
	out := Profile{Name: name, Paths: make(map[Field][]string, len(p.Paths)+len(overrides))}
	for f, paths := range p.Paths {
		out.Paths[f] = append([]string(nil), paths...)
	}
	for f, paths := range overrides {
		out.Paths[f] = append(append([]string(nil), paths...), out.Paths[f]...)
	}
	return out
}

// DefaultProfile covers the flat field names most providers share.
var DefaultProfile = Profile{
	Name: "default",
	Paths: map[Field][]string{
		FieldID:             {"id", "external_id"},
		FieldAccountID:      {"account_id", "account.id"},
		FieldName:           {"name", "display_name", "official_name"},
		FieldCurrency:       {"currency", "currency_code", "iso_currency_code"},
		FieldAccountType:    {"type", "account_type", "subtype"},
		FieldType:           {"type", "activity_type", "transaction_type"},
		FieldDate:           {"date", "trade_date", "settlement_date", "created_at"},
		FieldAmount:         {"amount", "net_amount"},
		FieldQuantity:       {"quantity", "units", "qty"},
		FieldPrice:          {"price", "institution_price"},
		FieldFee:            {"fee", "fees", "commission"},
		FieldSymbol:         {"symbol", "ticker", "ticker_symbol", "isin"},
		FieldSecurityName:   {"security_name", "description"},
		FieldSecurityKind:   {"security_type", "asset_type"},
		FieldMarketValue:    {"market_value", "institution_value", "value"},
		FieldCostBasis:      {"cost_basis", "book_value"},
		FieldAverageCost:    {"average_cost", "average_purchase_price", "average_price"},
		FieldCurrentBalance: {"current_balance", "balance", "balances.current", "total"},
		FieldCashBalance:    {"cash_balance", "cash", "balances.available"},
		FieldDescription:    {"description", "name", "memo"},
		FieldCategory:       {"category", "personal_finance_category.primary"},
		FieldPending:        {"pending"},
		FieldStatus:         {"status"},
		FieldUnrealizedPnL:  {"unrealized_pnl", "open_pnl"},
	},
}

// BankingProfile covers bank aggregators.
var BankingProfile = DefaultProfile.With("banking", map[Field][]string{
	FieldID:             {"transaction_id"},
	FieldName:           {"merchant_name"},
	FieldCurrency:       {"balances.iso_currency_code"},
	FieldType:           {"transaction_code", "payment_channel"},
	FieldDate:           {"authorized_date"},
	FieldCurrentBalance: {"balances.current"},
	FieldCashBalance:    {"balances.available"},
})

// BrokerageProfile covers brokerage aggregators with nested instrument objects.
var BrokerageProfile = DefaultProfile.With("brokerage", map[Field][]string{
	FieldSymbol:         {"symbol.symbol.symbol", "symbol.symbol", "security.ticker_symbol", "security.isin", "instrument.symbol"},
	FieldSecurityName:   {"symbol.symbol.description", "security.name", "instrument.name"},
	FieldSecurityKind:   {"symbol.symbol.type.code", "security.type", "instrument.asset_class"},
	FieldCurrency:       {"currency.code", "symbol.symbol.currency.code", "security.iso_currency_code"},
	FieldCurrentBalance: {"total_value.value", "balance.total.amount"},
	FieldCashBalance:    {"cash_balance.value", "balance.cash.amount"},
})

// CryptoProfile covers exchanges that wrap amounts in {amount, currency} objects.
var CryptoProfile = DefaultProfile.With("crypto", map[Field][]string{
	FieldAmount:         {"native_amount.amount"},
	FieldQuantity:       {"amount.amount", "size"},
	FieldPrice:          {"unit_price.amount", "spot_price"},
	FieldFee:            {"fee.amount", "network.transaction_fee.amount"},
	FieldSymbol:         {"amount.currency", "currency.code", "asset", "base_currency"},
	FieldCurrency:       {"native_amount.currency", "native_balance.currency", "quote_currency"},
	FieldMarketValue:    {"native_balance.amount"},
	FieldCurrentBalance: {"native_balance.amount"},
	FieldDate:           {"created_at", "time"},
})

// ProfileFor returns the built-in profile for a provider kind.
func ProfileFor(kind string) Profile {
	switch kind {
	case "banking":
		return BankingProfile
	case "brokerage":
		return BrokerageProfile
	case "crypto":
		return CryptoProfile
	default:
		return DefaultProfile
	}
}
