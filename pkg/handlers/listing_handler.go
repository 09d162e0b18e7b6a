package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/marketscan/listing-engine/pkg/apperrors"
	"github.com/marketscan/listing-engine/pkg/config"
	"github.com/marketscan/listing-engine/pkg/models"
	"github.com/marketscan/listing-engine/pkg/services"
)

// UpsertListingsRequest for POST /api/listings/upsert
type UpsertListingsRequest struct {
	Listings []models.ListingRecord `json:"listings"`
}

// DeleteListingResponse for DELETE /api/listings/{id}
type DeleteListingResponse struct {
	Deleted bool `json:"deleted"`
}

// ScopeMiddleware wraps a handler with a request-scoped database connection.
type ScopeMiddleware func(http.HandlerFunc) http.HandlerFunc

// ListingHandler handles listing HTTP requests.
type ListingHandler struct {
	listingService services.ListingService
	limits         config.ListingsConfig
	logger         *zap.Logger
}

// NewListingHandler creates a new listing handler.
func NewListingHandler(
	listingService services.ListingService,
	limits config.ListingsConfig,
	logger *zap.Logger,
) *ListingHandler {
	return &ListingHandler{
		listingService: listingService,
		limits:         limits,
		logger:         logger,
	}
}

// RegisterRoutes registers the listing handler's routes on the given mux.
func (h *ListingHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	mux.HandleFunc("POST /api/listings/upsert", scope(h.Upsert))
	mux.HandleFunc("POST /api/listings/query", scope(h.Query))
	mux.HandleFunc("GET /api/listings/{id}", scope(h.Get))
	mux.HandleFunc("DELETE /api/listings/{id}", scope(h.Delete))
}

// Upsert handles POST /api/listings/upsert
func (h *ListingHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req UpsertListingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeDecodeError(w, err)
		return
	}

	result, err := h.listingService.Upsert(r.Context(), req.Listings)
	if err != nil {
		h.writeServiceError(w, r, "Failed to upsert listings", err)
		return
	}

	h.logger.Info("Upserted listings",
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated))

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Query handles POST /api/listings/query
func (h *ListingHandler) Query(w http.ResponseWriter, r *http.Request) {
	page, limit, ok := h.parsePagination(w, r)
	if !ok {
		return
	}

	var filter models.ListingFilter
	if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
		h.writeDecodeError(w, err)
		return
	}

	result, err := h.listingService.Query(r.Context(), &filter, page, limit)
	if err != nil {
		h.writeServiceError(w, r, "Failed to query listings", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/listings/{id}
func (h *ListingHandler) Get(w http.ResponseWriter, r *http.Request) {
	listingID := r.PathValue("id")

	view, err := h.listingService.GetByID(r.Context(), listingID)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get listing", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, view); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/listings/{id}
func (h *ListingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	listingID := r.PathValue("id")

	deleted, err := h.listingService.Delete(r.Context(), listingID)
	if err != nil {
		h.writeServiceError(w, r, "Failed to delete listing", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, DeleteListingResponse{Deleted: deleted}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// parsePagination reads page/limit query parameters, applying the configured
// default and cap. Returns ok=false after writing an error response.
func (h *ListingHandler) parsePagination(w http.ResponseWriter, r *http.Request) (page, limit int, ok bool) {
	page = 1
	limit = h.limits.DefaultPageLimit

	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeBadRequest(w, "invalid_page", "page must be a positive integer")
			return 0, 0, false
		}
		page = parsed
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeBadRequest(w, "invalid_limit", "limit must be a positive integer")
			return 0, 0, false
		}
		limit = parsed
	}
	if limit > h.limits.MaxPageLimit {
		limit = h.limits.MaxPageLimit
	}

	return page, limit, true
}

func (h *ListingHandler) writeDecodeError(w http.ResponseWriter, err error) {
	// Custom unmarshalers surface validation sentinels through the decoder;
	// keep their messages, which name the offending field.
	if errors.Is(err, apperrors.ErrValidation) {
		h.writeBadRequest(w, "validation_error", err.Error())
		return
	}
	h.writeBadRequest(w, "invalid_request", "Invalid request body")
}

func (h *ListingHandler) writeBadRequest(w http.ResponseWriter, code, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *ListingHandler) writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status, code, message := TranslateError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("path", r.URL.Path), zap.Error(err))
	}
	if writeErr := ErrorResponse(w, status, code, message); writeErr != nil {
		h.logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}
