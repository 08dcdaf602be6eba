package vision

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/medstock-api/internal/imagestore"
)

var (
	// ErrInvalidConfig is returned when a client cannot be built from its settings.
	ErrInvalidConfig = errors.New("invalid vision client configuration")

	// ErrNoImages is returned when a request carries no image references.
	ErrNoImages = errors.New("analysis request has no images")

	// ErrContentBlocked is returned when the provider refuses to answer,
	// for example because of safety filters.
	ErrContentBlocked = errors.New("content blocked by provider")

	// ErrEmptyResponse is returned when the provider answers without any text.
	ErrEmptyResponse = errors.New("empty response from provider")
)

// Request is a single analysis call: the instructions followed by every
// image of an entry, in upload order.
type Request struct {
	Instructions string
	Images       []imagestore.Reference
}

// Validate checks the request can be sent.
func (r Request) Validate() error {
	if len(r.Images) == 0 {
		return ErrNoImages
	}
	for i, img := range r.Images {
		switch img.Kind {
		case imagestore.KindURL:
			if img.URL == "" {
				return fmt.Errorf("image %d: empty URL reference", i)
			}
		case imagestore.KindBytes:
			if len(img.Data) == 0 {
				return fmt.Errorf("image %d: empty byte reference", i)
			}
		default:
			return fmt.Errorf("image %d: unknown reference kind %d", i, img.Kind)
		}
	}
	return nil
}

// Analyzer sends one request to a vision model and returns its raw text answer.
// Implementations make exactly one remote call; retries are the caller's concern.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (string, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, req Request) (string, error)

// Analyze implements Analyzer.
func (f AnalyzerFunc) Analyze(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// HTTPStatus exposes the status code to the retry classifier.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}
