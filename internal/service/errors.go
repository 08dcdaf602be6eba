package service

import (
	"errors"
	"fmt"
)

// Common service errors - sentinel errors used across service implementations.
// The API layer maps these to HTTP status codes.
var (
	// ErrInvalidUpload indicates an upload without content or file name.
	// API layer should map this to HTTP 400 Bad Request.
	ErrInvalidUpload = errors.New("invalid image upload")

	// ErrUploadTooLarge indicates an upload above the configured limit.
	// API layer should map this to HTTP 413 Request Entity Too Large.
	ErrUploadTooLarge = errors.New("image upload too large")
)

// EntryServiceError wraps unexpected errors from the entry service with context.
type EntryServiceError struct {
	// Operation is the operation that failed (e.g., "upload_image", "save_batch")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for EntryServiceError.
func (e *EntryServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("entry service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("entry service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *EntryServiceError) Unwrap() error {
	return e.Err
}

// NewEntryServiceError creates a new EntryServiceError.
func NewEntryServiceError(operation, message string, err error) *EntryServiceError {
	return &EntryServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
