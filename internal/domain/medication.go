package domain

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Medication is a persisted inventory record created from an approved entry.
type Medication struct {
	ID               uuid.UUID `json:"id"`
	SourceEntryID    uuid.UUID `json:"source_entry_id"`
	Name             string    `json:"name" validate:"required,max=255"`
	BrandName        string    `json:"brand_name,omitempty" validate:"max=255"`
	GenericName      string    `json:"generic_name,omitempty" validate:"max=255"`
	DosageForm       string    `json:"dosage_form,omitempty" validate:"omitempty,dosage_form"`
	ActiveIngredient string    `json:"active_ingredient,omitempty" validate:"max=255"`
	StrengthValue    *float64  `json:"strength_value,omitempty" validate:"omitempty,gt=0"`
	StrengthUnit     string    `json:"strength_unit,omitempty" validate:"required_with=StrengthValue,max=32"`
	ContainerType    string    `json:"container_type,omitempty" validate:"omitempty,container_type"`
	TotalQuantity    *float64  `json:"total_quantity,omitempty" validate:"omitempty,gte=0"`
	QuantityUnit     string    `json:"quantity_unit,omitempty" validate:"max=32"`
	Manufacturer     string    `json:"manufacturer,omitempty" validate:"max=255"`
	LotNumber        string    `json:"lot_number,omitempty" validate:"max=64"`
	ExpirationDate   string    `json:"expiration_date,omitempty" validate:"max=32"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewMedication builds an unsaved inventory record from extracted attributes.
// Missing optional attributes become zero values; a missing name is left for
// Validate to report.
func NewMedication(sourceEntryID uuid.UUID, attrs MedicineAttributes) *Medication {
	m := &Medication{
		ID:               uuid.New(),
		SourceEntryID:    sourceEntryID,
		Name:             attrs.DisplayName(),
		BrandName:        deref(attrs.BrandName),
		GenericName:      deref(attrs.GenericName),
		ActiveIngredient: deref(attrs.ActiveIngredient),
		StrengthValue:    attrs.StrengthValue,
		StrengthUnit:     deref(attrs.StrengthUnit),
		TotalQuantity:    attrs.TotalQuantity,
		QuantityUnit:     deref(attrs.QuantityUnit),
		Manufacturer:     deref(attrs.Manufacturer),
		LotNumber:        deref(attrs.LotNumber),
		ExpirationDate:   deref(attrs.ExpirationDate),
		CreatedAt:        time.Now().UTC(),
	}
	if attrs.DosageForm != nil {
		m.DosageForm = string(*attrs.DosageForm)
	}
	if attrs.ContainerType != nil {
		m.ContainerType = string(*attrs.ContainerType)
	}
	return m
}

// Validate checks the record against the inventory rules and returns
// *FieldErrors describing every failing field.
func (m *Medication) Validate() error {
	err := medicationValidator.Struct(m)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	fe := &FieldErrors{Fields: make(map[string]string, len(validationErrors))}
	for _, e := range validationErrors {
		fe.Fields[e.Field()] = validationMessage(e)
	}
	return fe
}

// FieldErrors reports per-field validation failures of a record.
type FieldErrors struct {
	Fields map[string]string `json:"fields"`
}

// Error implements the error interface.
func (e *FieldErrors) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is allows errors.Is(err, ErrValidation) to match field errors.
func (e *FieldErrors) Is(target error) bool {
	return target == ErrValidation
}

var medicationValidator = newMedicationValidator()

func newMedicationValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("dosage_form", func(fl validator.FieldLevel) bool {
		return DosageForm(fl.Field().String()).IsKnown()
	})
	_ = v.RegisterValidation("container_type", func(fl validator.FieldLevel) bool {
		return ContainerType(fl.Field().String()).IsKnown()
	})
	return v
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "required_with":
		return "is required when a strength value is set"
	case "max":
		return "must be at most " + e.Param() + " characters"
	case "gt":
		return "must be greater than " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "dosage_form":
		return "is not a recognized dosage form"
	case "container_type":
		return "is not a recognized container type"
	default:
		return "is invalid"
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
