// Package imagestore defines durable byte storage for entry photographs and
// the reference type handed to the vision analyzer.
//
// Backends decide how an image is exposed: as a time-limited URL the model
// provider can fetch, or as raw bytes to embed in the request. Callers only
// ever branch on Reference.Kind, never on the backend.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrImageNotFound is returned when no object exists for a key.
	ErrImageNotFound = errors.New("image not found")

	// ErrImageUnavailable is returned when the backend cannot serve an
	// existing image (network failure, permission error, presign failure).
	ErrImageUnavailable = errors.New("image unavailable")

	// ErrInvalidKey is returned for empty keys or keys escaping the store root.
	ErrInvalidKey = errors.New("invalid storage key")
)

// Kind tags which variant of Reference is populated.
type Kind int

const (
	// KindURL means the image is reachable at Reference.URL.
	KindURL Kind = iota + 1
	// KindBytes means the image content is carried in Reference.Data.
	KindBytes
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindURL:
		return "url"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Reference is a resolved image ready to be sent for analysis.
type Reference struct {
	Kind        Kind
	URL         string
	Data        []byte
	ContentType string
}

// URLReference returns a reference to an image reachable at url.
func URLReference(url, contentType string) Reference {
	return Reference{Kind: KindURL, URL: url, ContentType: contentType}
}

// BytesReference returns a reference carrying the image content.
func BytesReference(data []byte, contentType string) Reference {
	return Reference{Kind: KindBytes, Data: data, ContentType: contentType}
}

// Store is durable byte storage keyed by opaque identifiers.
type Store interface {
	// Put stores data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// ResolveReference turns a key into something the analyzer can consume.
	ResolveReference(ctx context.Context, key, contentType string) (Reference, error)

	// GetBytes returns the stored content of key.
	GetBytes(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// NewStorageKey builds a unique key for an uploaded image. Only the file
// extension of the original name is kept.
func NewStorageKey(batchID, entryID uuid.UUID, filename string) string {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(filename, "\\", "/")))
	if len(ext) > 8 || strings.ContainsAny(ext, " /") {
		ext = ""
	}
	return fmt.Sprintf("batches/%s/entries/%s/%s%s", batchID, entryID, uuid.New(), ext)
}

// ValidateKey rejects keys that are empty, absolute, or contain parent
// directory segments.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
