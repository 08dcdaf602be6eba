package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntryImage validation errors
var (
	ErrImageEntryIDEmpty      = errors.New("image entry ID cannot be empty")
	ErrImageStorageKeyEmpty   = errors.New("image storage key cannot be empty")
	ErrImageEmpty             = errors.New("image file size must be positive")
	ErrUnsupportedContentType = errors.New("unsupported image content type")
	ErrInvalidUploadOrder     = errors.New("upload order cannot be negative")
)

// allowedContentTypes is the set of image formats accepted for upload.
var allowedContentTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/heic": {},
}

// EntryImage is one photograph attached to an Entry.
// UploadOrder determines the order in which images are sent for analysis.
type EntryImage struct {
	ID               uuid.UUID `json:"id"`
	EntryID          uuid.UUID `json:"entry_id"`
	StorageKey       string    `json:"storage_key"`
	OriginalFilename string    `json:"original_filename"`
	FileSize         int64     `json:"file_size"`
	ContentType      string    `json:"content_type"`
	UploadOrder      int       `json:"upload_order"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewEntryImage creates a validated EntryImage.
func NewEntryImage(
	entryID uuid.UUID,
	storageKey, originalFilename string,
	fileSize int64,
	contentType string,
	uploadOrder int,
) (*EntryImage, error) {
	img := &EntryImage{
		ID:               uuid.New(),
		EntryID:          entryID,
		StorageKey:       storageKey,
		OriginalFilename: originalFilename,
		FileSize:         fileSize,
		ContentType:      NormalizeContentType(contentType),
		UploadOrder:      uploadOrder,
		CreatedAt:        time.Now().UTC(),
	}

	if err := img.Validate(); err != nil {
		return nil, err
	}

	return img, nil
}

// Validate checks that the image satisfies the upload constraints.
func (i *EntryImage) Validate() error {
	if i.EntryID == uuid.Nil {
		return ErrImageEntryIDEmpty
	}

	if strings.TrimSpace(i.StorageKey) == "" {
		return ErrImageStorageKeyEmpty
	}

	if i.FileSize <= 0 {
		return ErrImageEmpty
	}

	if !IsAllowedContentType(i.ContentType) {
		return ErrUnsupportedContentType
	}

	if i.UploadOrder < 0 {
		return ErrInvalidUploadOrder
	}

	return nil
}

// IsAllowedContentType reports whether ct is an accepted image format.
func IsAllowedContentType(ct string) bool {
	_, ok := allowedContentTypes[NormalizeContentType(ct)]
	return ok
}

// NormalizeContentType lowercases a MIME type and strips any parameters.
func NormalizeContentType(ct string) string {
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
