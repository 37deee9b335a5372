package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"anchorid/internal/domain"
	"anchorid/pkg/domainerrors"
	"anchorid/pkg/platform/httputil"
)

// Service defines the interface for DID lifecycle operations.
type Service interface {
	CreateDID(ctx context.Context, owner string, body domain.DIDDocumentBody) (domain.DIDDocument, error)
	GetDID(ctx context.Context, did string) (domain.DIDDocument, error)
	ListByOwner(ctx context.Context, owner string) ([]domain.DIDDocument, error)
	UpdateDID(ctx context.Context, did, requester string, body domain.DIDDocumentBody) (domain.DIDDocument, error)
	DeactivateDID(ctx context.Context, did, requester string) (domain.DIDDocument, error)
}

// Handler wires identity endpoints to the registry service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an identity handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts identity endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/identity", h.HandleCreate)
	r.Get("/identity", h.HandleListByOwner)
	r.Get("/identity/{did}", h.HandleGet)
	r.Put("/identity/{did}", h.HandleUpdate)
	r.Post("/identity/{did}/deactivate", h.HandleDeactivate)
}

// CreateRequest is the payload for POST /identity.
type CreateRequest struct {
	Owner    string                 `json:"owner"`
	Document domain.DIDDocumentBody `json:"document"`
}

// MutateRequest is the payload for update and deactivate calls.
type MutateRequest struct {
	Requester string                 `json:"requester"`
	Document  domain.DIDDocumentBody `json:"document,omitempty"`
}

// HandleCreate handles POST /identity requests.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	req, err := httputil.Decode[CreateRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	doc, err := h.service.CreateDID(ctx, req.Owner, req.Document)
	if err != nil {
		h.logger.ErrorContext(ctx, "did creation failed", "owner", req.Owner, "error", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "did created",
		"did", doc.DID,
		"anchor_status", string(doc.AnchorStatus),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, doc)
}

// HandleGet handles GET /identity/{did} requests.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.GetDID(r.Context(), chi.URLParam(r, "did"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

// HandleListByOwner handles GET /identity?owner= requests.
func (h *Handler) HandleListByOwner(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeInvalidArgument, "owner query parameter is required"))
		return
	}
	docs, err := h.service.ListByOwner(r.Context(), owner)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"identities": docs})
}

// HandleUpdate handles PUT /identity/{did} requests.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	did := chi.URLParam(r, "did")

	req, err := httputil.Decode[MutateRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	doc, err := h.service.UpdateDID(ctx, did, req.Requester, req.Document)
	if err != nil {
		h.logger.ErrorContext(ctx, "did update failed", "did", did, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

// HandleDeactivate handles POST /identity/{did}/deactivate requests.
func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	did := chi.URLParam(r, "did")

	req, err := httputil.Decode[MutateRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	doc, err := h.service.DeactivateDID(ctx, did, req.Requester)
	if err != nil {
		h.logger.ErrorContext(ctx, "did deactivation failed", "did", did, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}
