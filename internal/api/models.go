package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/medstock-api/internal/domain"
)

// CreateEntryRequest defines the payload for creating an entry in a batch.
type CreateEntryRequest struct {
	EntryNumber int `json:"entry_number" validate:"gt=0"`
}

// ReviewEntryRequest defines the payload for recording a review decision.
type ReviewEntryRequest struct {
	Decision string `json:"decision"        validate:"required,oneof=approved rejected"`
	Reviewer string `json:"reviewer"        validate:"max=255"`
	Notes    string `json:"notes,omitempty" validate:"max=2000"`
}

// UpdateResultsRequest defines the payload for human edits of extracted attributes.
type UpdateResultsRequest struct {
	Results domain.MedicineAttributes `json:"results"`
}

// ImageResponse describes one stored photograph.
type ImageResponse struct {
	ID               uuid.UUID `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	FileSize         int64     `json:"file_size"`
	ContentType      string    `json:"content_type"`
	UploadOrder      int       `json:"upload_order"`
	CreatedAt        string    `json:"created_at"`
}

// EntryResponse is the client view of an entry.
type EntryResponse struct {
	ID             uuid.UUID                  `json:"id"`
	BatchID        uuid.UUID                  `json:"batch_id"`
	EntryNumber    int                        `json:"entry_number"`
	Status         string                     `json:"status"`
	AnalysisStatus string                     `json:"ai_analysis_status"`
	Results        *domain.MedicineAttributes `json:"ai_results,omitempty"`
	ErrorMessage   *string                    `json:"error_message,omitempty"`
	ApprovalStatus string                     `json:"approval_status"`
	ReviewedBy     *string                    `json:"reviewed_by,omitempty"`
	ReviewedAt     *string                    `json:"reviewed_at,omitempty"`
	ReviewNotes    *string                    `json:"review_notes,omitempty"`
	Images         []ImageResponse            `json:"images"`
	CreatedAt      string                     `json:"created_at"`
	UpdatedAt      string                     `json:"updated_at"`
}

// EntryListResponse wraps the entries of a batch.
type EntryListResponse struct {
	BatchID uuid.UUID       `json:"batch_id"`
	Entries []EntryResponse `json:"entries"`
}

func entryToResponse(entry *domain.Entry) EntryResponse {
	resp := EntryResponse{
		ID:             entry.ID,
		BatchID:        entry.BatchID,
		EntryNumber:    entry.EntryNumber,
		Status:         string(entry.Status),
		AnalysisStatus: string(entry.AnalysisStatus),
		Results:        entry.Results,
		ErrorMessage:   entry.ErrorMessage,
		ApprovalStatus: string(entry.ApprovalStatus),
		ReviewedBy:     entry.ReviewedBy,
		ReviewNotes:    entry.ReviewNotes,
		Images:         make([]ImageResponse, 0, len(entry.Images)),
		CreatedAt:      entry.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      entry.UpdatedAt.Format(time.RFC3339),
	}
	if entry.ReviewedAt != nil {
		reviewedAt := entry.ReviewedAt.Format(time.RFC3339)
		resp.ReviewedAt = &reviewedAt
	}
	for i := range entry.Images {
		resp.Images = append(resp.Images, imageToResponse(&entry.Images[i]))
	}
	return resp
}

func imageToResponse(image *domain.EntryImage) ImageResponse {
	return ImageResponse{
		ID:               image.ID,
		OriginalFilename: image.OriginalFilename,
		FileSize:         image.FileSize,
		ContentType:      image.ContentType,
		UploadOrder:      image.UploadOrder,
		CreatedAt:        image.CreatedAt.Format(time.RFC3339),
	}
}
