package extraction

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/phrazzld/medstock-api/internal/domain"
	"github.com/spf13/cast"
)

type fieldKind int

const (
	kindText fieldKind = iota
	kindNumber
)

type fieldSpec struct {
	name      string
	kind      fieldKind
	setText   func(a *domain.MedicineAttributes, v string)
	setNumber func(a *domain.MedicineAttributes, v float64)
}

func text(name string, set func(a *domain.MedicineAttributes, v *string)) fieldSpec {
	return fieldSpec{name: name, kind: kindText, setText: func(a *domain.MedicineAttributes, v string) {
		set(a, &v)
	}}
}

func number(name string, set func(a *domain.MedicineAttributes, v *float64)) fieldSpec {
	return fieldSpec{name: name, kind: kindNumber, setNumber: func(a *domain.MedicineAttributes, v float64) {
		set(a, &v)
	}}
}

// coercionTable is the allow-list of canonical fields and their expected kinds.
var coercionTable = []fieldSpec{
	text(domain.FieldName, func(a *domain.MedicineAttributes, v *string) { a.Name = v }),
	text(domain.FieldBrandName, func(a *domain.MedicineAttributes, v *string) { a.BrandName = v }),
	text(domain.FieldGenericName, func(a *domain.MedicineAttributes, v *string) { a.GenericName = v }),
	{name: domain.FieldDosageForm, kind: kindText, setText: func(a *domain.MedicineAttributes, v string) {
		form := domain.DosageForm(normalizeEnum(v, func(s string) bool { return domain.DosageForm(s).IsKnown() }))
		a.DosageForm = &form
	}},
	text(domain.FieldActiveIngredient, func(a *domain.MedicineAttributes, v *string) { a.ActiveIngredient = v }),
	number(domain.FieldStrengthValue, func(a *domain.MedicineAttributes, v *float64) { a.StrengthValue = v }),
	text(domain.FieldStrengthUnit, func(a *domain.MedicineAttributes, v *string) { a.StrengthUnit = v }),
	{name: domain.FieldContainerType, kind: kindText, setText: func(a *domain.MedicineAttributes, v string) {
		ct := domain.ContainerType(normalizeEnum(v, func(s string) bool { return domain.ContainerType(s).IsKnown() }))
		a.ContainerType = &ct
	}},
	number(domain.FieldTotalQuantity, func(a *domain.MedicineAttributes, v *float64) { a.TotalQuantity = v }),
	text(domain.FieldQuantityUnit, func(a *domain.MedicineAttributes, v *string) { a.QuantityUnit = v }),
	text(domain.FieldManufacturer, func(a *domain.MedicineAttributes, v *string) { a.Manufacturer = v }),
	text(domain.FieldLotNumber, func(a *domain.MedicineAttributes, v *string) { a.LotNumber = v }),
	text(domain.FieldExpirationDate, func(a *domain.MedicineAttributes, v *string) { a.ExpirationDate = v }),
}

// CanonicalFields returns the allow-listed field names in display order.
func CanonicalFields() []string {
	names := make([]string, len(coercionTable))
	for i, spec := range coercionTable {
		names[i] = spec.name
	}
	return names
}

// normalizeEnum lowercases v when the lowercase form is a known value;
// unknown values are returned unchanged.
func normalizeEnum(v string, known func(string) bool) string {
	if lower := strings.ToLower(v); known(lower) {
		return lower
	}
	return v
}

var leadingNumber = regexp.MustCompile(`^[-+]?(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?`)

// coerceNumber converts a scalar into a finite float64. Strings may carry a
// unit suffix ("500mg") or thousands separators ("1,000"); a string that is
// numeric but out of range is rejected rather than truncated.
func coerceNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			return finite(f)
		}
		if errors.Is(err, strconv.ErrRange) {
			return 0, false
		}
		m := leadingNumber.FindString(s)
		if m == "" {
			return 0, false
		}
		f, err = cast.ToFloat64E(strings.ReplaceAll(m, ",", ""))
		if err != nil {
			return 0, false
		}
		return finite(f)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, false
		}
		return finite(f)
	case bool:
		return 0, false
	default:
		f, err := cast.ToFloat64E(val)
		if err != nil {
			return 0, false
		}
		return finite(f)
	}
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// coerceText converts a scalar into trimmed text.
func coerceText(v any) (string, bool) {
	if n, ok := v.(json.Number); ok {
		return n.String(), true
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(s), true
}
