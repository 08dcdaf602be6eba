package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/medstock-api/internal/api/shared"
	"github.com/phrazzld/medstock-api/internal/domain"
	"github.com/phrazzld/medstock-api/internal/service"
	"github.com/phrazzld/medstock-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, domain.ErrNotReadyForAnalysis),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrClaimSuperseded),
		errors.Is(err, domain.ErrNotReviewable):
		return http.StatusConflict

	case errors.Is(err, service.ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, domain.ErrUnsupportedContentType):
		return http.StatusUnsupportedMediaType

	// Bad request errors
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidDecision),
		errors.Is(err, domain.ErrEmptyAnalysisResult),
		errors.Is(err, domain.ErrImageEmpty),
		errors.Is(err, service.ErrInvalidUpload),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, store.ErrEntryNotFound):
		return "Entry not found"

	case errors.Is(err, store.ErrEntryImageNotFound):
		return "Image not found"

	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"

	case errors.Is(err, store.ErrEntryNumberExists):
		return "Entry number already exists in this batch"

	case errors.Is(err, store.ErrDuplicate):
		return "Resource already exists"

	case errors.Is(err, domain.ErrNotReadyForAnalysis),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrClaimSuperseded):
		return "Entry is not in a state that allows this operation"

	case errors.Is(err, domain.ErrNotReviewable):
		return "Entry analysis is not complete"

	case errors.Is(err, service.ErrUploadTooLarge):
		return "Image exceeds the maximum upload size"

	case errors.Is(err, domain.ErrUnsupportedContentType):
		return "Unsupported image type"

	case errors.Is(err, domain.ErrImageEmpty):
		return "Image is empty"

	case errors.Is(err, domain.ErrInvalidDecision):
		return "Decision must be approved or rejected"

	case errors.Is(err, domain.ErrEmptyAnalysisResult):
		return "Results must contain at least one attribute"

	case errors.Is(err, domain.ErrInvalidEntryNumber):
		return "Entry number must be positive"

	case errors.Is(err, service.ErrInvalidUpload):
		return "Invalid image upload"

	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid ID"

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError maps err to a status code and safe message and writes the
// error response. defaultMsg replaces the safe message for server errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, defaultMsg string) {
	status := MapErrorToStatusCode(err)

	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && defaultMsg != "" {
		message = defaultMsg
	}

	var opts []shared.ResponseOption
	var fe *domain.FieldErrors
	if errors.As(err, &fe) {
		opts = append(opts, shared.WithFieldErrors(fe.Fields))
	}
	if status == http.StatusConflict {
		opts = append(opts, shared.WithElevatedLogLevel())
	}

	shared.RespondWithErrorAndLog(w, r, status, message, err, opts...)
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		e := validationErrors[0]
		field := strings.ToLower(e.Field())
		if tag := e.Tag(); tag != "" {
			return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
		}
		return fmt.Sprintf("Invalid %s", field)
	}

	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "gt", "gte", "min":
		return "too small"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
