package extraction

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/phrazzld/medstock-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tylenolResponse = `{"name":"Tylenol 500mg","dosage_form":"tablet","strength_value":"500",` +
	`"strength_unit":"mg","total_quantity":"100","quantity_unit":"tablets","container_type":"bottle"}`

func TestSanitizeTylenol(t *testing.T) {
	t.Parallel()

	attrs, err := Sanitize(tylenolResponse)
	require.NoError(t, err)

	require.NotNil(t, attrs.Name)
	assert.Equal(t, "Tylenol 500mg", *attrs.Name)
	require.NotNil(t, attrs.DosageForm)
	assert.Equal(t, domain.DosageFormTablet, *attrs.DosageForm)
	require.NotNil(t, attrs.StrengthValue)
	assert.Equal(t, 500.0, *attrs.StrengthValue)
	require.NotNil(t, attrs.TotalQuantity)
	assert.Equal(t, 100.0, *attrs.TotalQuantity)
	assert.Equal(t, "mg", *attrs.StrengthUnit)
	assert.Equal(t, "tablets", *attrs.QuantityUnit)
	assert.Equal(t, domain.ContainerTypeBottle, *attrs.ContainerType)
	assert.Nil(t, attrs.Manufacturer)
}

func TestSanitizeJSONWrappedInProse(t *testing.T) {
	t.Parallel()

	raw := "Sure! Here is what I found:\n```json\n" +
		`{"name": "Advil {liqui-gels}", "strength_value": 200, "strength_unit": "mg"}` +
		"\n```\nLet me know if you need anything else."

	attrs, err := Sanitize(raw)
	require.NoError(t, err)
	assert.Equal(t, "Advil {liqui-gels}", *attrs.Name)
	assert.Equal(t, 200.0, *attrs.StrengthValue)
}

func TestSanitizeSkipsUnparseableCandidates(t *testing.T) {
	t.Parallel()

	raw := `Template was {name: ...} and the answer is {"brand_name": "Motrin"}`
	attrs, err := Sanitize(raw)
	require.NoError(t, err)
	assert.Equal(t, "Motrin", *attrs.BrandName)
}

func TestSanitizeUnreadable(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"",
		"I'm sorry, I can't read the label in these photos.",
		`{"name": "unterminated`,
		`["tablet", "bottle"]`,
	} {
		_, err := Sanitize(raw)
		assert.ErrorIs(t, err, ErrParse, raw)
	}
}

func TestSanitizeExplicitError(t *testing.T) {
	t.Parallel()

	_, err := Sanitize(`{"error": "Image too blurry to identify medicine"}`)
	require.Error(t, err)

	var idErr *IdentificationError
	require.True(t, errors.As(err, &idErr))
	assert.Equal(t, "Image too blurry to identify medicine", idErr.Message)
	assert.ErrorIs(t, err, ErrNotIdentified)

	_, err = Sanitize(`{"error": {"message": "no medicine visible"}}`)
	require.True(t, errors.As(err, &idErr))
	assert.Equal(t, "no medicine visible", idErr.Message)
}

func TestSanitizeEmptyErrorFieldIsIgnored(t *testing.T) {
	t.Parallel()

	attrs, err := Sanitize(`{"error": null, "name": "Zyrtec"}`)
	require.NoError(t, err)
	assert.Equal(t, "Zyrtec", *attrs.Name)

	attrs, err = Sanitize(`{"error": "", "name": "Claritin"}`)
	require.NoError(t, err)
	assert.Equal(t, "Claritin", *attrs.Name)
}

func TestSanitizeDropsUnknownNullAndEmpty(t *testing.T) {
	t.Parallel()

	attrs, err := Sanitize(`{
		"name": "  Benadryl  ",
		"brand_name": "",
		"generic_name": null,
		"confidence": 0.93,
		"notes": "front label only",
		"lot_number": 448812
	}`)
	require.NoError(t, err)

	fields := attrs.Fields()
	assert.Len(t, fields, 2)
	assert.Equal(t, "Benadryl", fields[domain.FieldName])
	assert.Equal(t, "448812", fields[domain.FieldLotNumber])
}

func TestSanitizeNoUsefulInfo(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		`{}`,
		`{"name": "", "strength_value": null}`,
		`{"confidence": 0.2, "description": "a white box"}`,
		`{"strength_value": "unknown"}`,
		`{"strength_value": "NaN"}`,
		`{"total_quantity": "Infinity"}`,
		`{"total_quantity": "1e999"}`,
	} {
		_, err := Sanitize(raw)
		assert.ErrorIs(t, err, ErrNoUsefulInfo, raw)
	}
}

func TestSanitizeNumericCoercion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want float64
	}{
		{`{"total_quantity": "1,000"}`, 1000},
		{`{"total_quantity": " 30 tablets"}`, 30},
		{`{"total_quantity": 2.5}`, 2.5},
		{`{"total_quantity": "0.5"}`, 0.5},
	}
	for _, tc := range tests {
		attrs, err := Sanitize(tc.raw)
		require.NoError(t, err, tc.raw)
		require.NotNil(t, attrs.TotalQuantity, tc.raw)
		assert.InDelta(t, tc.want, *attrs.TotalQuantity, 1e-9, tc.raw)
	}
}

func TestSanitizeDropsNonFiniteNumbers(t *testing.T) {
	t.Parallel()

	for _, value := range []string{`"NaN"`, `"Infinity"`, `"-Inf"`, `"1e999"`, `1e999`} {
		attrs, err := Sanitize(`{"name": "Tylenol", "strength_value": ` + value + `, "total_quantity": ` + value + `}`)
		require.NoError(t, err, value)
		assert.Nil(t, attrs.StrengthValue, value)
		assert.Nil(t, attrs.TotalQuantity, value)

		_, err = json.Marshal(attrs)
		assert.NoError(t, err, value)
	}
}

func TestSanitizeNestedValuesAreIgnored(t *testing.T) {
	t.Parallel()

	attrs, err := Sanitize(`{"name": {"en": "Tylenol"}, "brand_name": ["Tylenol"], "strength_value": 500}`)
	require.NoError(t, err)
	assert.Nil(t, attrs.Name)
	assert.Nil(t, attrs.BrandName)
	require.NotNil(t, attrs.StrengthValue)
	assert.InDelta(t, 500.0, *attrs.StrengthValue, 1e-9)
}

func TestSanitizeEnumerationsPassThrough(t *testing.T) {
	t.Parallel()

	attrs, err := Sanitize(`{"dosage_form": "Capsule", "container_type": "pouch"}`)
	require.NoError(t, err)

	assert.Equal(t, domain.DosageFormCapsule, *attrs.DosageForm)
	assert.Equal(t, domain.ContainerType("pouch"), *attrs.ContainerType)
	assert.False(t, attrs.ContainerType.IsKnown())
}

func TestCanonicalFields(t *testing.T) {
	t.Parallel()

	fields := CanonicalFields()
	assert.Len(t, fields, 13)
	assert.Equal(t, domain.FieldName, fields[0])
	assert.Contains(t, fields, domain.FieldExpirationDate)
}
