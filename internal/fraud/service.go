// Package fraud owns the append-only fraud trail and the risk scoring built
// on top of it. Reports are immutable once written; a digest of every report
// is anchored on the chain so the trail is tamper-evident.
package fraud

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/sha3"

	"anchorid/internal/anchor"
	"anchorid/internal/audit"
	"anchorid/internal/docstore"
	"anchorid/internal/domain"
	"anchorid/internal/fraud/metrics"
	"anchorid/internal/ledger"
	"anchorid/pkg/domainerrors"
	psync "anchorid/pkg/platform/sync"
)

// DIDResolver is the slice of the registry the service needs.
type DIDResolver interface {
	GetDID(ctx context.Context, did string) (domain.DIDDocument, error)
}

// DeepfakeScorer scores media for synthetic-content likelihood in [0,1].
// Production deployments back this with the external analysis pipeline.
type DeepfakeScorer interface {
	Score(ctx context.Context, media []byte) (float64, error)
}

// DigestScorer is a deterministic stand-in for the external deepfake model:
// the score is derived from a digest of the media, so the same bytes always
// score identically.
type DigestScorer struct{}

func (DigestScorer) Score(_ context.Context, media []byte) (float64, error) {
	if len(media) == 0 {
		return 0, domainerrors.New(domainerrors.CodeInvalidArgument, "empty media sample")
	}
	sum := sha3.Sum256(media)
	return float64(sum[0]) / 256, nil
}

// DetectionResult is the outcome of one detection run. ReportID is set only
// when the run flagged and recorded a report.
type DetectionResult struct {
	DID         string           `json:"did"`
	Kind        string           `json:"kind"`
	FraudScore  float64          `json:"fraud_score"`
	Flagged     bool             `json:"flagged"`
	RiskLevel   domain.RiskLevel `json:"risk_level"`
	RiskFactors []string         `json:"risk_factors,omitempty"`
	ReportID    string           `json:"report_id,omitempty"`
}

// Service implements fraud reporting, detection, and risk assessment.
type Service struct {
	resolver   DIDResolver
	docs       docstore.Store
	anchors    *anchor.Client
	reconciler *anchor.Reconciler
	locks      *psync.KeyedMutex
	scorer     DeepfakeScorer
	audit      *audit.Publisher
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *metrics.Metrics
	threshold  float64
	historyCap int
	anchorWait time.Duration
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics attaches fraud metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDeepfakeScorer swaps the media scorer.
func WithDeepfakeScorer(scorer DeepfakeScorer) Option {
	return func(s *Service) { s.scorer = scorer }
}

// New wires the fraud service. The keyed mutex is shared with the registry so
// trail appends and their chain submissions serialize with lifecycle changes
// on the same DID. threshold flags detections and historyCap bounds the
// history component of risk scores.
func New(resolver DIDResolver, docs docstore.Store, anchors *anchor.Client, reconciler *anchor.Reconciler, locks *psync.KeyedMutex, auditor *audit.Publisher, logger *slog.Logger, threshold float64, historyCap int, anchorWait time.Duration, opts ...Option) *Service {
	s := &Service{
		resolver:   resolver,
		docs:       docs,
		anchors:    anchors,
		reconciler: reconciler,
		locks:      locks,
		scorer:     DigestScorer{},
		audit:      auditor,
		logger:     logger,
		tracer:     otel.Tracer("anchorid/internal/fraud"),
		threshold:  threshold,
		historyCap: historyCap,
		anchorWait: anchorWait,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// ReportFraud appends an immutable report to the DID's trail and anchors its
// digest. The report lands off-chain first; the stored entry never changes,
// so the transaction hash of the anchor is returned to the caller rather than
// patched into the trail.
func (s *Service) ReportFraud(ctx context.Context, did, fraudType string, score int, details map[string]any) (domain.FraudReport, error) {
	ctx, span := s.tracer.Start(ctx, "fraud.ReportFraud", trace.WithAttributes(attribute.String("did", did)))
	defer span.End()

	if fraudType == "" {
		return domain.FraudReport{}, domainerrors.New(domainerrors.CodeInvalidArgument, "fraud type is required")
	}
	if score < 0 || score > 100 {
		return domain.FraudReport{}, domainerrors.New(domainerrors.CodeInvalidArgument, "score must be in [0,100]")
	}
	if _, err := s.resolver.GetDID(ctx, did); err != nil {
		return domain.FraudReport{}, err
	}

	report := domain.FraudReport{
		ID:        uuid.NewString(),
		DID:       did,
		FraudType: fraudType,
		Score:     score,
		Details:   details,
		Timestamp: s.now(),
	}
	value, err := json.Marshal(report)
	if err != nil {
		return domain.FraudReport{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "encode fraud report")
	}
	digest := reportDigest(value)

	s.locks.Lock(did)
	if _, err := s.docs.AppendToArray(ctx, trailKey(did), value); err != nil {
		s.locks.Unlock(did)
		return domain.FraudReport{}, domainerrors.Wrap(err, domainerrors.CodeExternalService, "fraud trail write failed")
	}
	txHash, submitErr := s.anchors.Submit(ctx, anchor.OpReportFraud, chainKey(did, report.ID), digest)
	s.locks.Unlock(did)

	s.metrics.IncrementReport(fraudType)
	s.audit.Emit(ctx, audit.Event{DID: did, Action: "fraud.report", Outcome: "accepted", Detail: fraudType})
	s.logger.InfoContext(ctx, "fraud reported", "did", did, "fraud_type", fraudType, "score", score)

	report.AnchorTxHash = s.settleAnchor(ctx, report, digest, txHash, submitErr)
	return report, nil
}

// ListReports returns the DID's fraud trail in report order. The trail is
// read fresh on every call; assessments never cache it.
func (s *Service) ListReports(ctx context.Context, did string) ([]domain.FraudReport, error) {
	ctx, span := s.tracer.Start(ctx, "fraud.ListReports")
	defer span.End()

	items, err := s.docs.ListArray(ctx, trailKey(did))
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeExternalService, "fraud trail read failed")
	}
	reports := make([]domain.FraudReport, 0, len(items))
	for _, item := range items {
		var report domain.FraudReport
		if err := json.Unmarshal(item, &report); err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable fraud report", "did", did, "error", err)
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// DetectIdentityFraud runs the deterministic structural checks over the
// submitted identity data. The DID is optional: when present it must resolve,
// and a score crossing the threshold records a report on its trail; without
// one the data is scored and nothing is persisted.
func (s *Service) DetectIdentityFraud(ctx context.Context, did string, data IdentityData) (DetectionResult, error) {
	ctx, span := s.tracer.Start(ctx, "fraud.DetectIdentityFraud", trace.WithAttributes(attribute.String("did", did)))
	defer span.End()

	if did != "" {
		if _, err := s.resolver.GetDID(ctx, did); err != nil {
			return DetectionResult{}, err
		}
	}

	score, factors := EvaluateIdentity(data)
	result := DetectionResult{
		DID:         did,
		Kind:        "identity",
		FraudScore:  score,
		Flagged:     score >= s.threshold,
		RiskLevel:   domain.BucketRisk(score),
		RiskFactors: factors,
	}
	s.metrics.IncrementDetection("identity", result.Flagged)

	if result.Flagged && did != "" {
		report, err := s.ReportFraud(ctx, did, "identity_fraud", int(math.Round(score*100)), map[string]any{
			"risk_factors": factors,
		})
		if err != nil {
			return DetectionResult{}, err
		}
		result.ReportID = report.ID
	}
	return result, nil
}

// DetectDeepfake scores media for synthetic content. The DID is optional the
// same way as in DetectIdentityFraud: only flagged media with a DID attached
// produces a report; clean or anonymous media leaves no trace on any trail.
func (s *Service) DetectDeepfake(ctx context.Context, did string, media []byte) (DetectionResult, error) {
	ctx, span := s.tracer.Start(ctx, "fraud.DetectDeepfake", trace.WithAttributes(attribute.String("did", did)))
	defer span.End()

	if did != "" {
		if _, err := s.resolver.GetDID(ctx, did); err != nil {
			return DetectionResult{}, err
		}
	}
	score, err := s.scorer.Score(ctx, media)
	if err != nil {
		return DetectionResult{}, err
	}

	result := DetectionResult{
		DID:        did,
		Kind:       "deepfake",
		FraudScore: score,
		Flagged:    score >= s.threshold,
		RiskLevel:  domain.BucketRisk(score),
	}
	s.metrics.IncrementDetection("deepfake", result.Flagged)

	if result.Flagged && did != "" {
		report, err := s.ReportFraud(ctx, did, "deepfake", int(math.Round(score*100)), nil)
		if err != nil {
			return DetectionResult{}, err
		}
		result.ReportID = report.ID
	}
	return result, nil
}

// AssessRisk blends the DID's fraud history with the current interaction's
// signals into a normalized risk score plus its bucket. Nothing is persisted.
func (s *Service) AssessRisk(ctx context.Context, did string, signals Signals) (domain.RiskAssessment, error) {
	ctx, span := s.tracer.Start(ctx, "fraud.AssessRisk", trace.WithAttributes(attribute.String("did", did)))
	defer span.End()

	if _, err := s.resolver.GetDID(ctx, did); err != nil {
		return domain.RiskAssessment{}, err
	}
	reports, err := s.ListReports(ctx, did)
	if err != nil {
		return domain.RiskAssessment{}, err
	}

	blended := BlendRisk(len(reports), s.historyCap, SignalScore(signals))
	s.metrics.ObserveRiskScore(blended)

	return domain.RiskAssessment{
		DID:               did,
		RiskScore:         int(math.Round(blended * 100)),
		RiskLevel:         domain.BucketRisk(blended),
		FraudHistoryCount: len(reports),
	}, nil
}

// settleAnchor finishes the anchor attempt for a report whose transaction was
// submitted under the per-DID lock. Trail entries are immutable, so the
// reconciler callbacks only log; the anchor is discoverable on-chain under
// the report's key either way. No staleness guard is needed: a report is
// never superseded.
func (s *Service) settleAnchor(ctx context.Context, report domain.FraudReport, digest, txHash string, submitErr error) string {
	key := chainKey(report.DID, report.ID)

	err := submitErr
	var receipt ledger.Receipt
	if err == nil {
		receipt, err = s.anchors.WaitForConfirmation(ctx, txHash, s.anchorWait)
	}
	if err == nil && receipt.Status == ledger.ReceiptStatusConfirmed {
		return receipt.TxHash
	}
	if err != nil && !domainerrors.HasCode(err, domainerrors.CodeExternalService) && !domainerrors.HasCode(err, domainerrors.CodeTimedOut) {
		s.logger.ErrorContext(ctx, "fraud anchor rejected by ledger", "did", report.DID, "report", report.ID, "error", err)
		return ""
	}

	s.logger.WarnContext(ctx, "fraud anchor deferred to reconciler", "did", report.DID, "report", report.ID, "error", err)
	s.reconciler.Enqueue(anchor.Task{
		Kind:  anchor.OpReportFraud,
		Key:   key,
		Value: digest,
		OnConfirmed: func(ctx context.Context, txHash string) error {
			s.logger.InfoContext(ctx, "fraud report anchored", "did", report.DID, "report", report.ID, "tx", txHash)
			return nil
		},
		OnFailed: func(ctx context.Context) error {
			s.logger.ErrorContext(ctx, "fraud report anchor failed permanently", "did", report.DID, "report", report.ID)
			return nil
		},
	})
	return ""
}

// reportDigest is the canonical on-chain value for a report.
func reportDigest(encoded []byte) string {
	sum := sha3.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

// trailKey namespaces fraud trails in the shared document store.
func trailKey(did string) string {
	return "fraud:" + did
}

// chainKey namespaces report anchors in the shared contract state.
func chainKey(did, reportID string) string {
	return "fraud:" + did + ":" + reportID
}
