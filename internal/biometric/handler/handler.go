package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"anchorid/internal/biometric"
	"anchorid/internal/domain"
	"anchorid/pkg/platform/httputil"
)

// Service defines the interface for biometric operations.
type Service interface {
	Register(ctx context.Context, did string, bioType domain.BiometricType, sample []byte) (domain.BiometricRecord, error)
	Verify(ctx context.Context, did string, bioType domain.BiometricType, sample []byte) (biometric.VerificationResult, error)
	Remove(ctx context.Context, did string, bioType domain.BiometricType) error
}

// Handler wires biometric endpoints to the biometric engine.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a biometric handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts biometric endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/biometric/register/{type}", h.HandleRegister)
	r.Post("/biometric/verify/{type}", h.HandleVerify)
	r.Delete("/biometric/{did}/{type}", h.HandleRemove)
}

// SampleRequest carries a base64-encoded biometric sample for one DID.
type SampleRequest struct {
	DID    string `json:"did"`
	Sample []byte `json:"sample"`
}

// HandleRegister handles POST /biometric/register/{type} requests.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bioType := domain.BiometricType(chi.URLParam(r, "type"))

	req, err := httputil.Decode[SampleRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.service.Register(ctx, req.DID, bioType, req.Sample)
	if err != nil {
		h.logger.ErrorContext(ctx, "biometric registration failed", "did", req.DID, "type", string(bioType), "error", err)
		httputil.WriteError(w, err)
		return
	}

	// The raw template hash stays server-side; callers get the record metadata.
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"id":            record.ID,
		"did":           record.DID,
		"type":          record.Type,
		"anchor_status": record.AnchorStatus,
		"anchor_tx":     record.AnchorTxHash,
		"created_at":    record.CreatedAt,
	})
}

// HandleVerify handles POST /biometric/verify/{type} requests.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bioType := domain.BiometricType(chi.URLParam(r, "type"))

	req, err := httputil.Decode[SampleRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.Verify(ctx, req.DID, bioType, req.Sample)
	if err != nil {
		h.logger.ErrorContext(ctx, "biometric verification failed", "did", req.DID, "type", string(bioType), "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleRemove handles DELETE /biometric/{did}/{type} requests.
func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	did := chi.URLParam(r, "did")
	bioType := domain.BiometricType(chi.URLParam(r, "type"))

	if err := h.service.Remove(ctx, did, bioType); err != nil {
		h.logger.ErrorContext(ctx, "biometric removal failed", "did", did, "type", string(bioType), "error", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
