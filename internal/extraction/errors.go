package extraction

import (
	"errors"
	"fmt"
)

var (
	// ErrParse is returned when no JSON object can be recovered from the response.
	ErrParse = errors.New("could not parse AI response")

	// ErrNoUsefulInfo is returned when parsing succeeded but no canonical field survived.
	ErrNoUsefulInfo = errors.New("no useful information extracted")

	// ErrNotIdentified matches any *IdentificationError.
	ErrNotIdentified = errors.New("medicine not identified")
)

// IdentificationError reports that the model explicitly said it could not
// identify the medicine. It is a domain outcome, not a malfunction.
type IdentificationError struct {
	Message string
}

// Error implements the error interface.
func (e *IdentificationError) Error() string {
	return fmt.Sprintf("AI could not identify medicine: %s", e.Message)
}

// Is allows errors.Is(err, ErrNotIdentified).
func (e *IdentificationError) Is(target error) bool {
	return target == ErrNotIdentified
}
