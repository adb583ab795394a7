// Package payload provides typed access to provider records whose field
// names and nesting differ between providers.
package payload

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/provsync/internal/models"
)

// RawPayload wraps one provider record with the profile used to read it.
type RawPayload struct {
	rec     models.RawRecord
	profile Profile
}

// New wraps rec for reading through profile.
func New(rec models.RawRecord, profile Profile) RawPayload {
	return RawPayload{rec: rec, profile: profile}
}

// Wrap wraps every record in recs.
func Wrap(recs []models.RawRecord, profile Profile) []RawPayload {
	out := make([]RawPayload, len(recs))
	for i, r := range recs {
		out[i] = New(r, profile)
	}
	return out
}

// Record returns the underlying record.
func (p RawPayload) Record() models.RawRecord {
	return p.rec
}

// Profile returns the profile the payload reads through.
func (p RawPayload) Profile() Profile {
	return p.profile
}

// Lookup returns the first non-nil value found for f.
func (p RawPayload) Lookup(f Field) (any, bool) {
	for _, path := range p.profile.Paths[f] {
		if v, ok := resolve(p.rec, path); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String returns the first non-empty scalar value for f as trimmed text.
func (p RawPayload) String(f Field) string {
	for _, path := range p.profile.Paths[f] {
		v, ok := resolve(p.rec, path)
		if !ok {
			continue
		}
		if s, ok := scalarString(v); ok && s != "" {
			return s
		}
	}
	return ""
}

// Decimal returns the first value for f that parses as a number.
func (p RawPayload) Decimal(f Field) (decimal.Decimal, bool) {
	for _, path := range p.profile.Paths[f] {
		v, ok := resolve(p.rec, path)
		if !ok {
			continue
		}
		if d, ok := toDecimal(v); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

// Time returns the first value for f that parses as a timestamp or date.
func (p RawPayload) Time(f Field) (time.Time, bool) {
	for _, path := range p.profile.Paths[f] {
		v, ok := resolve(p.rec, path)
		if !ok {
			continue
		}
		if t, ok := toTime(v); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// Bool returns the value for f as a boolean, false when absent.
func (p RawPayload) Bool(f Field) bool {
	for _, path := range p.profile.Paths[f] {
		v, ok := resolve(p.rec, path)
		if !ok {
			continue
		}
		switch b := v.(type) {
		case bool:
			return b
		case string:
			if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
				return parsed
			}
		}
	}
	return false
}

// Named accessors for the fields the pipeline reads.

func (p RawPayload) ID() string { return p.String(FieldID) }
func (p RawPayload) AccountID() string { return p.String(FieldAccountID) }
func (p RawPayload) Name() string { return p.String(FieldName) }
func (p RawPayload) Currency() string { return strings.ToUpper(p.String(FieldCurrency)) }
func (p RawPayload) AccountType() string { return p.String(FieldAccountType) }
func (p RawPayload) Type() string { return p.String(FieldType) }
func (p RawPayload) Symbol() string { return p.String(FieldSymbol) }
func (p RawPayload) SecurityName() string { return p.String(FieldSecurityName) }
func (p RawPayload) SecurityKind() string { return p.String(FieldSecurityKind) }
func (p RawPayload) Description() string { return p.String(FieldDescription) }
func (p RawPayload) Category() string { return p.String(FieldCategory) }
func (p RawPayload) Pending() bool { return p.Bool(FieldPending) }
func (p RawPayload) Date() (time.Time, bool) { return p.Time(FieldDate) }
func (p RawPayload) Amount() (decimal.Decimal, bool) { return p.Decimal(FieldAmount) }
func (p RawPayload) Quantity() (decimal.Decimal, bool) { return p.Decimal(FieldQuantity) }
func (p RawPayload) Price() (decimal.Decimal, bool) { return p.Decimal(FieldPrice) }
func (p RawPayload) Fee() (decimal.Decimal, bool) { return p.Decimal(FieldFee) }
func (p RawPayload) MarketValue() (decimal.Decimal, bool) { return p.Decimal(FieldMarketValue) }
func (p RawPayload) CostBasis() (decimal.Decimal, bool) { return p.Decimal(FieldCostBasis) }
func (p RawPayload) AverageCost() (decimal.Decimal, bool) { return p.Decimal(FieldAverageCost) }
func (p RawPayload) CurrentBalance() (decimal.Decimal, bool) { return p.Decimal(FieldCurrentBalance) }
func (p RawPayload) CashBalance() (decimal.Decimal, bool) { return p.Decimal(FieldCashBalance) }

// resolve walks a dotted path through nested maps and slices.
func resolve(rec models.RawRecord, path string) (any, bool) {
	var cur any = map[string]any(rec)
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case models.RawRecord:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case map[any]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func scalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s), true
	case json.Number:
		return s.String(), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32), true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", s), true
	case bool:
		return strconv.FormatBool(s), true
	default:
		return "", false
	}
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case int32:
		return decimal.NewFromInt32(n), true
	case uint64:
		d, err := decimal.NewFromString(strconv.FormatUint(n, 10))
		return d, err == nil
	case uint32:
		return decimal.NewFromInt(int64(n)), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(n, ",", ""))
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), true
			}
		}
		return time.Time{}, false
	default:
		d, ok := toDecimal(v)
		if !ok || !d.IsPositive() {
			return time.Time{}, false
		}
		secs := d.IntPart()
		// Millisecond epochs are 13 digits.
		if secs > 1e11 {
			return time.UnixMilli(secs).UTC(), true
		}
		return time.Unix(secs, 0).UTC(), true
	}
}
