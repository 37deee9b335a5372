package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"anchorid/internal/domain"
	"anchorid/internal/fraud"
	"anchorid/pkg/platform/httputil"
)

// Service defines the interface for fraud operations.
type Service interface {
	ReportFraud(ctx context.Context, did, fraudType string, score int, details map[string]any) (domain.FraudReport, error)
	ListReports(ctx context.Context, did string) ([]domain.FraudReport, error)
	DetectIdentityFraud(ctx context.Context, did string, data fraud.IdentityData) (fraud.DetectionResult, error)
	DetectDeepfake(ctx context.Context, did string, media []byte) (fraud.DetectionResult, error)
	AssessRisk(ctx context.Context, did string, signals fraud.Signals) (domain.RiskAssessment, error)
}

// Handler wires fraud endpoints to the fraud service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a fraud handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts fraud endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/fraud/report", h.HandleReport)
	r.Get("/fraud/reports/{did}", h.HandleListReports)
	r.Post("/fraud/detect/identity", h.HandleDetectIdentity)
	r.Post("/fraud/detect/deepfake", h.HandleDetectDeepfake)
	r.Post("/fraud/risk-score", h.HandleAssessRisk)
}

// ReportRequest is the payload for POST /fraud/report.
type ReportRequest struct {
	DID       string         `json:"did"`
	FraudType string         `json:"fraud_type"`
	Score     int            `json:"score"`
	Details   map[string]any `json:"details,omitempty"`
}

// IdentityDataRequest carries the structural identity fields, with an
// optional DID for recording flagged results on that identity's trail.
type IdentityDataRequest struct {
	DID      string             `json:"did"`
	Identity fraud.IdentityData `json:"identity"`
}

// SignalsRequest carries behavioral signals for one DID.
type SignalsRequest struct {
	DID     string        `json:"did"`
	Signals fraud.Signals `json:"signals"`
}

// MediaRequest carries base64-encoded media for deepfake analysis. The DID is
// optional, like in IdentityDataRequest.
type MediaRequest struct {
	DID   string `json:"did"`
	Media []byte `json:"media"`
}

// HandleReport handles POST /fraud/report requests.
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httputil.Decode[ReportRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	report, err := h.service.ReportFraud(ctx, req.DID, req.FraudType, req.Score, req.Details)
	if err != nil {
		h.logger.ErrorContext(ctx, "fraud report failed", "did", req.DID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, report)
}

// HandleListReports handles GET /fraud/reports/{did} requests.
func (h *Handler) HandleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.service.ListReports(r.Context(), chi.URLParam(r, "did"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// HandleDetectIdentity handles POST /fraud/detect/identity requests.
func (h *Handler) HandleDetectIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httputil.Decode[IdentityDataRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.DetectIdentityFraud(ctx, req.DID, req.Identity)
	if err != nil {
		h.logger.ErrorContext(ctx, "identity fraud detection failed", "did", req.DID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleDetectDeepfake handles POST /fraud/detect/deepfake requests.
func (h *Handler) HandleDetectDeepfake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httputil.Decode[MediaRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.DetectDeepfake(ctx, req.DID, req.Media)
	if err != nil {
		h.logger.ErrorContext(ctx, "deepfake detection failed", "did", req.DID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleAssessRisk handles POST /fraud/risk-score requests.
func (h *Handler) HandleAssessRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httputil.Decode[SignalsRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	assessment, err := h.service.AssessRisk(ctx, req.DID, req.Signals)
	if err != nil {
		h.logger.ErrorContext(ctx, "risk assessment failed", "did", req.DID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, assessment)
}
