package processor

import (
	"strings"

	"github.com/bobmcallan/provsync/internal/models"
)

// activityLabels maps normalised provider type strings to labels. Keys are
// upper-case with spaces and hyphens folded to underscores.
var activityLabels = map[string]models.ActivityLabel{
	"BUY":                   models.LabelBuy,
	"BOUGHT":                models.LabelBuy,
	"PURCHASE":              models.LabelBuy,
	"SELL":                  models.LabelSell,
	"SOLD":                  models.LabelSell,
	"SALE":                  models.LabelSell,
	"REINVEST":              models.LabelReinvestment,
	"REINVESTMENT":          models.LabelReinvestment,
	"DRIP":                  models.LabelReinvestment,
	"DIVIDEND_REINVESTMENT": models.LabelReinvestment,
	"OPTION_EXERCISE":       models.LabelOptionExercise,
	"OPTIONEXERCISE":        models.LabelOptionExercise,
	"EXERCISE":              models.LabelOptionExercise,
	"DIVIDEND":              models.LabelDividend,
	"DIV":                   models.LabelDividend,
	"QUALIFIED_DIVIDEND":    models.LabelDividend,
	"CASH_DIVIDEND":         models.LabelDividend,
	"INTEREST":              models.LabelInterest,
	"INT":                   models.LabelInterest,
	"FEE":                   models.LabelFee,
	"FEES":                  models.LabelFee,
	"COMMISSION":            models.LabelFee,
	"TAX":                   models.LabelTax,
	"WITHHOLDING_TAX":       models.LabelTax,
	"TRANSFER":              models.LabelTransfer,
	"JOURNAL":               models.LabelTransfer,
	"CONTRIBUTION":          models.LabelContribution,
	"WITHDRAWAL":            models.LabelWithdrawal,
	"WITHDRAW":              models.LabelWithdrawal,
	"DEPOSIT":               models.LabelDeposit,
	"OTHER":                 models.LabelOther,
}

// MapActivityType classifies a provider activity type. Unknown or empty
// types return LabelOther and false.
func MapActivityType(providerType string) (models.ActivityLabel, bool) {
	key := normaliseType(providerType)
	if label, ok := activityLabels[key]; ok {
		return label, true
	}
	return models.LabelOther, false
}

func normaliseType(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// securityKind maps a payload's instrument type onto a Security kind.
// Crypto profiles default to crypto, everything else to stock.
func securityKind(raw, profileName string) string {
	switch normaliseType(raw) {
	case "CRYPTO", "CRYPTOCURRENCY", "DIGITAL_ASSET", "COIN":
		return models.SecurityKindCrypto
	case "ETF", "FUND", "MUTUAL_FUND", "OEF", "UNIT_TRUST":
		return models.SecurityKindFund
	case "CS", "STOCK", "EQUITY", "COMMON_STOCK", "ADR":
		return models.SecurityKindStock
	case "":
		if profileName == "crypto" {
			return models.SecurityKindCrypto
		}
		return models.SecurityKindStock
	default:
		return models.SecurityKindOther
	}
}
