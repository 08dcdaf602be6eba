package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/medstock-api/internal/api/shared"
	"github.com/phrazzld/medstock-api/internal/platform/logger"
	"github.com/phrazzld/medstock-api/internal/service"
)

// uploadFormField is the multipart field carrying the photograph.
const uploadFormField = "file"

// multipartOverhead is the allowance for multipart framing on top of the image itself.
const multipartOverhead = 64 << 10

// EntryHandler handles entry-related HTTP requests
type EntryHandler struct {
	entryService   service.EntryService
	validator      *validator.Validate
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewEntryHandler creates a new EntryHandler
func NewEntryHandler(entryService service.EntryService, maxUploadBytes int64, logger *slog.Logger) *EntryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &EntryHandler{
		entryService:   entryService,
		validator:      v,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With(slog.String("component", "entry_handler")),
	}
}

// Routes mounts the entry endpoints on r.
func (h *EntryHandler) Routes(r chi.Router) {
	r.Route("/batches/{batchID}", func(r chi.Router) {
		r.Post("/entries", h.CreateEntry)
		r.Get("/entries", h.ListBatch)
		r.Post("/save", h.SaveBatch)
	})
	r.Route("/entries/{id}", func(r chi.Router) {
		r.Get("/", h.GetEntry)
		r.Delete("/", h.DeleteEntry)
		r.Post("/images", h.UploadImage)
		r.Post("/retry", h.RetryAnalysis)
		r.Put("/results", h.UpdateResults)
		r.Post("/review", h.Review)
	})
}

// CreateEntry handles POST /api/batches/{batchID}/entries requests
func (h *EntryHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	batchID, ok := handlePathUUID(w, r, "batchID")
	if !ok {
		return
	}

	var req CreateEntryRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	entry, err := h.entryService.CreateEntry(r.Context(), batchID, req.EntryNumber)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create entry")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, entryToResponse(entry))
}

// ListBatch handles GET /api/batches/{batchID}/entries requests
func (h *EntryHandler) ListBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := handlePathUUID(w, r, "batchID")
	if !ok {
		return
	}

	entries, err := h.entryService.ListBatch(r.Context(), batchID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list entries")
		return
	}

	resp := EntryListResponse{BatchID: batchID, Entries: make([]EntryResponse, 0, len(entries))}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, entryToResponse(entry))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// SaveBatch handles POST /api/batches/{batchID}/save requests.
// The response reports a per-entry outcome; partial failure is still 200.
func (h *EntryHandler) SaveBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := handlePathUUID(w, r, "batchID")
	if !ok {
		return
	}

	summary, err := h.entryService.SaveBatch(r.Context(), batchID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to save batch")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, summary)
}

// GetEntry handles GET /api/entries/{id} requests
func (h *EntryHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathUUID(w, r, "id")
	if !ok {
		return
	}

	entry, err := h.entryService.GetEntry(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retrieve entry")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, entryToResponse(entry))
}

// DeleteEntry handles DELETE /api/entries/{id} requests
func (h *EntryHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.entryService.DeleteEntry(r.Context(), id); err != nil {
		HandleAPIError(w, r, err, "Failed to delete entry")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UploadImage handles POST /api/entries/{id}/images requests.
// The body is multipart/form-data with the photograph in the "file" field.
func (h *EntryHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathUUID(w, r, "id")
	if !ok {
		return
	}

	upload, err := h.readUpload(w, r)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to read upload")
		return
	}

	image, err := h.entryService.UploadImage(r.Context(), id, upload)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to upload image")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, imageToResponse(image))
}

// RetryAnalysis handles POST /api/entries/{id}/retry requests
func (h *EntryHandler) RetryAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathUUID(w, r, "id")
	if !ok {
		return
	}

	entry, err := h.entryService.RetryAnalysis(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retry analysis")
		return
	}

	// Analysis runs in the background
	shared.RespondWithJSON(w, r, http.StatusAccepted, entryToResponse(entry))
}

// UpdateResults handles PUT /api/entries/{id}/results requests
func (h *EntryHandler) UpdateResults(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathUUID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateResultsRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	entry, err := h.entryService.UpdateResults(r.Context(), id, req.Results)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to update results")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, entryToResponse(entry))
}

// Review handles POST /api/entries/{id}/review requests
func (h *EntryHandler) Review(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathUUID(w, r, "id")
	if !ok {
		return
	}

	var req ReviewEntryRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	entry, err := h.entryService.Review(r.Context(), id, service.ReviewRequest{
		Decision: req.Decision,
		Reviewer: req.Reviewer,
		Notes:    req.Notes,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to record review")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, entryToResponse(entry))
}

// decodeAndValidate decodes the JSON body into req and validates it,
// writing a 400 response on failure.
func (h *EntryHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := shared.DecodeJSON(r, req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return false
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return false
	}

	return true
}

// readUpload extracts the photograph from a multipart request, bounded by
// the configured upload limit.
func (h *EntryHandler) readUpload(w http.ResponseWriter, r *http.Request) (service.ImageUpload, error) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			return service.ImageUpload{}, fmt.Errorf("%w: %v", service.ErrUploadTooLarge, err)
		}
		return service.ImageUpload{}, fmt.Errorf("%w: %v", service.ErrInvalidUpload, err)
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(uploadFormField)
	if err != nil {
		return service.ImageUpload{}, fmt.Errorf("%w: missing %q field", service.ErrInvalidUpload, uploadFormField)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			log.Warn("failed to close upload", slog.String("error", cerr.Error()))
		}
	}()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		return service.ImageUpload{}, fmt.Errorf("%w: %v", service.ErrInvalidUpload, err)
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = http.DetectContentType(data)
	}

	log.Debug("upload received",
		slog.String("filename", header.Filename),
		slog.String("content_type", contentType),
		slog.Int("size", len(data)))

	return service.ImageUpload{
		Filename:    header.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}
