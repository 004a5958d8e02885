package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"autolist/apperrors"
	"autolist/httputil"
	"autolist/models"
	"autolist/services"
)

const (
	defaultRelationLimit = 100
	maxRelationLimit     = 1000
)

// ============================================================================
// Dependencies
// ============================================================================

type Normalizer interface {
	Run(ctx context.Context, req services.NormalizeRequest) (*services.NormalizeResult, error)
}

type Detector interface {
	Run(ctx context.Context, req services.DetectRequest) (*services.DetectResult, error)
}

// Store is the read side the API serves directly.
type Store interface {
	Ping(ctx context.Context) error
	GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	ListSimilarityRelations(ctx context.Context, listingID *uuid.UUID, limit int) ([]models.SimilarityRelation, error)
	ListBrandAliases(ctx context.Context) ([]models.BrandAlias, error)
	GetRun(ctx context.Context, id uuid.UUID) (*models.EngineRun, error)
}

// ============================================================================
// Response Types
// ============================================================================

// RelationsResponse for GET /v1/relations
type RelationsResponse struct {
	Relations []models.SimilarityRelation `json:"relations"`
	Total     int                         `json:"total"`
}

// AliasesResponse for GET /v1/brands/aliases
type AliasesResponse struct {
	Aliases []models.BrandAlias `json:"aliases"`
	Total   int                 `json:"total"`
}

// ============================================================================
// Handler
// ============================================================================

// Handler serves the engine's run and read endpoints.
type Handler struct {
	normalizer Normalizer
	detector   Detector
	store      Store
	logger     *zap.Logger
}

func NewHandler(normalizer Normalizer, detector Detector, store Store, logger *zap.Logger) *Handler {
	return &Handler{
		normalizer: normalizer,
		detector:   detector,
		store:      store,
		logger:     logger.Named("api"),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		h.writeError(w, eris.Wrapf(apperrors.ErrUpstreamUnavailable, "store ping: %v", err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Normalize handles POST /v1/normalize. An empty body runs with defaults.
func (h *Handler) Normalize(w http.ResponseWriter, r *http.Request) {
	var req services.NormalizeRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.normalizer.Run(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Detect handles POST /v1/detect. An empty body runs with defaults.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	var req services.DetectRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.detector.Run(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Relations handles GET /v1/relations?listing_id=&limit=
func (h *Handler) Relations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var listingID *uuid.UUID
	if raw := q.Get("listing_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, eris.Wrapf(apperrors.ErrValidation, "listing_id %q is not a UUID", raw))
			return
		}
		listingID = &id
	}

	limit := defaultRelationLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRelationLimit {
			h.writeError(w, eris.Wrapf(apperrors.ErrValidation, "limit must be within [1,%d], got %q", maxRelationLimit, raw))
			return
		}
		limit = n
	}

	relations, err := h.store.ListSimilarityRelations(r.Context(), listingID, limit)
	if err != nil {
		h.writeError(w, eris.Wrapf(apperrors.ErrUpstreamUnavailable, "list relations: %v", err))
		return
	}
	if relations == nil {
		relations = []models.SimilarityRelation{}
	}
	h.writeJSON(w, http.StatusOK, RelationsResponse{Relations: relations, Total: len(relations)})
}

func (h *Handler) Aliases(w http.ResponseWriter, r *http.Request) {
	aliases, err := h.store.ListBrandAliases(r.Context())
	if err != nil {
		h.writeError(w, eris.Wrapf(apperrors.ErrUpstreamUnavailable, "list aliases: %v", err))
		return
	}
	if aliases == nil {
		aliases = []models.BrandAlias{}
	}
	h.writeJSON(w, http.StatusOK, AliasesResponse{Aliases: aliases, Total: len(aliases)})
}

// Listing handles GET /v1/listings/{id}, the lookup behind a relation's ids.
func (h *Handler) Listing(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "listing")
	if err != nil {
		h.writeError(w, err)
		return
	}

	listing, err := h.store.GetListing(r.Context(), id)
	if err != nil {
		h.writeError(w, eris.Wrapf(apperrors.ErrUpstreamUnavailable, "get listing: %v", err))
		return
	}
	if listing == nil {
		h.writeError(w, eris.Wrapf(apperrors.ErrNotFound, "listing %s", id))
		return
	}
	h.writeJSON(w, http.StatusOK, listing)
}

// Run handles GET /v1/runs/{id}
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "run")
	if err != nil {
		h.writeError(w, err)
		return
	}

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		h.writeError(w, eris.Wrapf(apperrors.ErrUpstreamUnavailable, "get run: %v", err))
		return
	}
	if run == nil {
		h.writeError(w, eris.Wrapf(apperrors.ErrNotFound, "run %s", id))
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

func pathUUID(r *http.Request, what string) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, eris.Wrapf(apperrors.ErrValidation, "%s id %q is not a UUID", what, raw)
	}
	return id, nil
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return eris.Wrapf(apperrors.ErrValidation, "invalid request body: %v", err)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	if err := httputil.WriteJSON(w, status, data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if httputil.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	if werr := httputil.WriteError(w, err); werr != nil {
		h.logger.Error("failed to write error response", zap.Error(werr))
	}
}
