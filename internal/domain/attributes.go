package domain

// DosageForm is the physical form of a medicine.
type DosageForm string

// Known dosage forms
const (
	DosageFormTablet      DosageForm = "tablet"
	DosageFormCapsule     DosageForm = "capsule"
	DosageFormLiquid      DosageForm = "liquid"
	DosageFormInjection   DosageForm = "injection"
	DosageFormCream       DosageForm = "cream"
	DosageFormOintment    DosageForm = "ointment"
	DosageFormDrops       DosageForm = "drops"
	DosageFormInhaler     DosageForm = "inhaler"
	DosageFormPatch       DosageForm = "patch"
	DosageFormPowder      DosageForm = "powder"
	DosageFormSuppository DosageForm = "suppository"
	DosageFormOther       DosageForm = "other"
)

// DosageForms lists every known dosage form.
var DosageForms = []DosageForm{
	DosageFormTablet, DosageFormCapsule, DosageFormLiquid, DosageFormInjection,
	DosageFormCream, DosageFormOintment, DosageFormDrops, DosageFormInhaler,
	DosageFormPatch, DosageFormPowder, DosageFormSuppository, DosageFormOther,
}

// IsKnown reports whether the dosage form is part of the fixed enumeration.
func (d DosageForm) IsKnown() bool {
	for _, known := range DosageForms {
		if d == known {
			return true
		}
	}
	return false
}

// ContainerType is the kind of packaging a medicine comes in.
type ContainerType string

// Known container types
const (
	ContainerTypeBottle  ContainerType = "bottle"
	ContainerTypeBox     ContainerType = "box"
	ContainerTypeBlister ContainerType = "blister"
	ContainerTypeTube    ContainerType = "tube"
	ContainerTypeVial    ContainerType = "vial"
	ContainerTypeAmpoule ContainerType = "ampoule"
	ContainerTypeSachet  ContainerType = "sachet"
	ContainerTypeJar     ContainerType = "jar"
	ContainerTypeOther   ContainerType = "other"
)

// ContainerTypes lists every known container type.
var ContainerTypes = []ContainerType{
	ContainerTypeBottle, ContainerTypeBox, ContainerTypeBlister, ContainerTypeTube,
	ContainerTypeVial, ContainerTypeAmpoule, ContainerTypeSachet, ContainerTypeJar,
	ContainerTypeOther,
}

// IsKnown reports whether the container type is part of the fixed enumeration.
func (c ContainerType) IsKnown() bool {
	for _, known := range ContainerTypes {
		if c == known {
			return true
		}
	}
	return false
}

// Canonical attribute field names.
const (
	FieldName             = "name"
	FieldBrandName        = "brand_name"
	FieldGenericName      = "generic_name"
	FieldDosageForm       = "dosage_form"
	FieldActiveIngredient = "active_ingredient"
	FieldStrengthValue    = "strength_value"
	FieldStrengthUnit     = "strength_unit"
	FieldContainerType    = "container_type"
	FieldTotalQuantity    = "total_quantity"
	FieldQuantityUnit     = "quantity_unit"
	FieldManufacturer     = "manufacturer"
	FieldLotNumber        = "lot_number"
	FieldExpirationDate   = "expiration_date"
)

// MedicineAttributes is the canonical set of fields extracted from packaging
// photographs. Every field is optional; absent values are nil.
type MedicineAttributes struct {
	Name             *string        `json:"name,omitempty"`
	BrandName        *string        `json:"brand_name,omitempty"`
	GenericName      *string        `json:"generic_name,omitempty"`
	DosageForm       *DosageForm    `json:"dosage_form,omitempty"`
	ActiveIngredient *string        `json:"active_ingredient,omitempty"`
	StrengthValue    *float64       `json:"strength_value,omitempty"`
	StrengthUnit     *string        `json:"strength_unit,omitempty"`
	ContainerType    *ContainerType `json:"container_type,omitempty"`
	TotalQuantity    *float64       `json:"total_quantity,omitempty"`
	QuantityUnit     *string        `json:"quantity_unit,omitempty"`
	Manufacturer     *string        `json:"manufacturer,omitempty"`
	LotNumber        *string        `json:"lot_number,omitempty"`
	ExpirationDate   *string        `json:"expiration_date,omitempty"`
}

// IsEmpty reports whether no attribute is set.
func (a MedicineAttributes) IsEmpty() bool {
	return len(a.Fields()) == 0
}

// Fields returns the set attributes keyed by canonical field name.
func (a MedicineAttributes) Fields() map[string]any {
	out := make(map[string]any)
	putString := func(key string, v *string) {
		if v != nil {
			out[key] = *v
		}
	}
	putFloat := func(key string, v *float64) {
		if v != nil {
			out[key] = *v
		}
	}

	putString(FieldName, a.Name)
	putString(FieldBrandName, a.BrandName)
	putString(FieldGenericName, a.GenericName)
	if a.DosageForm != nil {
		out[FieldDosageForm] = string(*a.DosageForm)
	}
	putString(FieldActiveIngredient, a.ActiveIngredient)
	putFloat(FieldStrengthValue, a.StrengthValue)
	putString(FieldStrengthUnit, a.StrengthUnit)
	if a.ContainerType != nil {
		out[FieldContainerType] = string(*a.ContainerType)
	}
	putFloat(FieldTotalQuantity, a.TotalQuantity)
	putString(FieldQuantityUnit, a.QuantityUnit)
	putString(FieldManufacturer, a.Manufacturer)
	putString(FieldLotNumber, a.LotNumber)
	putString(FieldExpirationDate, a.ExpirationDate)

	return out
}

// DisplayName returns the most specific name available for the medicine.
func (a MedicineAttributes) DisplayName() string {
	for _, v := range []*string{a.Name, a.BrandName, a.GenericName} {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}
