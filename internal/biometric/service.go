// Package biometric owns template registration and verification. Raw samples
// are embedded by an external pipeline, reduced to one-way template hashes,
// and only the hashes cross the storage and chain boundaries.
package biometric

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"anchorid/internal/anchor"
	"anchorid/internal/audit"
	"anchorid/internal/biometric/hashing"
	"anchorid/internal/biometric/metrics"
	"anchorid/internal/docstore"
	"anchorid/internal/domain"
	"anchorid/internal/ledger"
	"anchorid/pkg/domainerrors"
	psync "anchorid/pkg/platform/sync"
)

// DIDResolver is the slice of the registry the engine needs: resolving a DID
// proves the identity is active before any biometric work happens.
type DIDResolver interface {
	GetDID(ctx context.Context, did string) (domain.DIDDocument, error)
}

// Policy holds the match and liveness thresholds. These are deployment
// policy, not invariants; operators tune them per modality.
type Policy struct {
	FaceThreshold        float64
	FingerprintThreshold float64
	LivenessMin          float64
}

// DefaultPolicy returns the documented threshold defaults.
func DefaultPolicy() Policy {
	return Policy{
		FaceThreshold:        0.6,
		FingerprintThreshold: 0.7,
		LivenessMin:          0.5,
	}
}

// ThresholdFor returns the match threshold for a modality.
func (p Policy) ThresholdFor(t domain.BiometricType) float64 {
	if t == domain.BiometricTypeFingerprint {
		return p.FingerprintThreshold
	}
	return p.FaceThreshold
}

// VerificationResult is the full outcome of one verification attempt.
// ChainVerified reports whether the stored template hash still matches its
// on-chain anchor; a mismatch means off-chain tampering or a pending anchor.
type VerificationResult struct {
	DID           string               `json:"did"`
	Type          domain.BiometricType `json:"type"`
	Match         bool                 `json:"match"`
	Similarity    float64              `json:"similarity"`
	Threshold     float64              `json:"threshold"`
	Liveness      float64              `json:"liveness"`
	ChainVerified bool                 `json:"chain_verified"`
}

// Service implements the biometric engine over the shared document store and
// chain anchor.
type Service struct {
	resolver   DIDResolver
	docs       docstore.Store
	anchors    *anchor.Client
	reconciler *anchor.Reconciler
	locks      *psync.KeyedMutex
	embedder   Embedder
	matcher    hashing.Matcher
	audit      *audit.Publisher
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *metrics.Metrics
	policy     Policy
	anchorWait time.Duration
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics attaches biometric metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithMatcher swaps the similarity function; the default compares banded
// template hashes.
func WithMatcher(m hashing.Matcher) Option {
	return func(s *Service) { s.matcher = m }
}

// New wires the biometric engine. The keyed mutex is shared with the registry
// so biometric writes serialize with lifecycle changes on the same DID.
func New(resolver DIDResolver, docs docstore.Store, anchors *anchor.Client, reconciler *anchor.Reconciler, locks *psync.KeyedMutex, embedder Embedder, auditor *audit.Publisher, logger *slog.Logger, policy Policy, anchorWait time.Duration, opts ...Option) *Service {
	s := &Service{
		resolver:   resolver,
		docs:       docs,
		anchors:    anchors,
		reconciler: reconciler,
		locks:      locks,
		embedder:   embedder,
		matcher:    hashing.Similarity,
		audit:      auditor,
		logger:     logger,
		tracer:     otel.Tracer("anchorid/internal/biometric"),
		policy:     policy,
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

// Register derives and stores the template hash for one (DID, modality) pair.
// The sample must pass the liveness gate; one live template per modality is
// allowed, though a removed modality can be registered again.
func (s *Service) Register(ctx context.Context, did string, bioType domain.BiometricType, sample []byte) (domain.BiometricRecord, error) {
	ctx, span := s.tracer.Start(ctx, "biometric.Register", trace.WithAttributes(
		attribute.String("did", did), attribute.String("type", string(bioType))))
	defer span.End()

	if !bioType.Valid() {
		return domain.BiometricRecord{}, domainerrors.New(domainerrors.CodeInvalidArgument, "unsupported biometric type")
	}
	if _, err := s.resolver.GetDID(ctx, did); err != nil {
		return domain.BiometricRecord{}, err
	}

	vec, liveness, err := s.embedder.Embed(ctx, sample)
	if err != nil {
		return domain.BiometricRecord{}, err
	}
	if liveness < s.policy.LivenessMin {
		s.metrics.IncrementLivenessRejection(string(bioType))
		s.metrics.IncrementRegistration(string(bioType), "rejected")
		s.audit.Emit(ctx, audit.Event{DID: did, Action: "biometric.register", Outcome: "liveness_rejected"})
		return domain.BiometricRecord{}, domainerrors.New(domainerrors.CodeLivenessRejected, "sample failed liveness check")
	}

	record := domain.BiometricRecord{
		ID:           uuid.NewString(),
		DID:          did,
		Type:         bioType,
		TemplateHash: hashing.TemplateHash(vec),
		AnchorStatus: domain.AnchorStatusPending,
		CreatedAt:    s.now(),
	}
	value, err := json.Marshal(record)
	if err != nil {
		return domain.BiometricRecord{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "encode biometric record")
	}

	s.locks.Lock(did)
	inserted, err := s.docs.InsertIfAbsent(ctx, recordKey(did, bioType), value)
	if err != nil {
		s.locks.Unlock(did)
		return domain.BiometricRecord{}, domainerrors.Wrap(err, domainerrors.CodeExternalService, "biometric store write failed")
	}
	if !inserted {
		_, storeVersion, loadErr := s.load(ctx, did, bioType)
		switch {
		case loadErr == nil:
			s.locks.Unlock(did)
			s.metrics.IncrementRegistration(string(bioType), "rejected")
			return domain.BiometricRecord{}, domainerrors.New(domainerrors.CodeInvalidState, "biometric already registered for this modality")
		case domainerrors.HasCode(loadErr, domainerrors.CodeNotFound):
			// A removed modality leaves a tombstone; registering again revives it.
			if err := s.storeAt(ctx, record, storeVersion); err != nil {
				s.locks.Unlock(did)
				return domain.BiometricRecord{}, err
			}
		default:
			s.locks.Unlock(did)
			return domain.BiometricRecord{}, loadErr
		}
	}
	txHash, submitErr := s.anchors.Submit(ctx, anchor.OpStoreBiometric, chainKey(did, bioType), record.TemplateHash)
	s.locks.Unlock(did)

	s.metrics.IncrementRegistration(string(bioType), "accepted")
	s.audit.Emit(ctx, audit.Event{DID: did, Action: "biometric.register", Outcome: "accepted", Detail: string(bioType)})
	s.logger.InfoContext(ctx, "biometric registered", "did", did, "type", string(bioType))

	return s.settleAnchor(ctx, did, bioType, record, txHash, submitErr), nil
}

// Verify compares a fresh sample against the stored template. The liveness
// gate runs before any comparison; a match requires similarity at or above
// the modality threshold.
func (s *Service) Verify(ctx context.Context, did string, bioType domain.BiometricType, sample []byte) (VerificationResult, error) {
	ctx, span := s.tracer.Start(ctx, "biometric.Verify", trace.WithAttributes(
		attribute.String("did", did), attribute.String("type", string(bioType))))
	defer span.End()

	if !bioType.Valid() {
		return VerificationResult{}, domainerrors.New(domainerrors.CodeInvalidArgument, "unsupported biometric type")
	}
	if _, err := s.resolver.GetDID(ctx, did); err != nil {
		return VerificationResult{}, err
	}
	record, _, err := s.load(ctx, did, bioType)
	if err != nil {
		return VerificationResult{}, err
	}

	vec, liveness, err := s.embedder.Embed(ctx, sample)
	if err != nil {
		return VerificationResult{}, err
	}
	if liveness < s.policy.LivenessMin {
		s.metrics.IncrementLivenessRejection(string(bioType))
		s.metrics.IncrementVerification(string(bioType), "liveness_rejected")
		s.audit.Emit(ctx, audit.Event{DID: did, Action: "biometric.verify", Outcome: "liveness_rejected"})
		return VerificationResult{}, domainerrors.New(domainerrors.CodeLivenessRejected, "sample failed liveness check")
	}

	similarity := s.matcher(hashing.TemplateHash(vec), record.TemplateHash)
	threshold := s.policy.ThresholdFor(bioType)
	result := VerificationResult{
		DID:           did,
		Type:          bioType,
		Match:         similarity >= threshold,
		Similarity:    similarity,
		Threshold:     threshold,
		Liveness:      liveness,
		ChainVerified: s.chainVerified(ctx, did, bioType, record.TemplateHash),
	}

	outcome := "no_match"
	if result.Match {
		outcome = "match"
	}
	s.metrics.ObserveSimilarity(string(bioType), similarity)
	s.metrics.IncrementVerification(string(bioType), outcome)
	s.audit.Emit(ctx, audit.Event{DID: did, Action: "biometric.verify", Outcome: outcome, Detail: string(bioType)})

	return result, nil
}

// Remove retires the template for one modality. The record becomes a
// tombstone so a later registration for the same modality is allowed; the
// historical on-chain anchor stays, the chain being append-only.
func (s *Service) Remove(ctx context.Context, did string, bioType domain.BiometricType) error {
	ctx, span := s.tracer.Start(ctx, "biometric.Remove", trace.WithAttributes(
		attribute.String("did", did), attribute.String("type", string(bioType))))
	defer span.End()

	if !bioType.Valid() {
		return domainerrors.New(domainerrors.CodeInvalidArgument, "unsupported biometric type")
	}
	if _, err := s.resolver.GetDID(ctx, did); err != nil {
		return err
	}

	s.locks.Lock(did)
	defer s.locks.Unlock(did)

	record, storeVersion, err := s.load(ctx, did, bioType)
	if err != nil {
		return err
	}
	record.TemplateHash = ""
	record.AnchorStatus = domain.AnchorStatusPending
	record.AnchorTxHash = ""
	if err := s.storeAt(ctx, record, storeVersion); err != nil {
		return err
	}

	s.audit.Emit(ctx, audit.Event{DID: did, Action: "biometric.remove", Outcome: "accepted", Detail: string(bioType)})
	s.logger.InfoContext(ctx, "biometric removed", "did", did, "type", string(bioType))
	return nil
}

// load fetches the record for one (DID, modality) pair. A tombstoned record
// reads the same as a missing one.
func (s *Service) load(ctx context.Context, did string, bioType domain.BiometricType) (domain.BiometricRecord, int64, error) {
	stored, err := s.docs.Get(ctx, recordKey(did, bioType))
	if err != nil {
		if domainerrors.HasCode(err, domainerrors.CodeNotFound) {
			return domain.BiometricRecord{}, 0, domainerrors.New(domainerrors.CodeNotFound, "no biometric registered for this modality")
		}
		return domain.BiometricRecord{}, 0, domainerrors.Wrap(err, domainerrors.CodeExternalService, "biometric store read failed")
	}
	var record domain.BiometricRecord
	if err := json.Unmarshal(stored.Value, &record); err != nil {
		return domain.BiometricRecord{}, 0, domainerrors.Wrap(err, domainerrors.CodeInternal, "decode biometric record")
	}
	if record.TemplateHash == "" {
		return domain.BiometricRecord{}, stored.Version, domainerrors.New(domainerrors.CodeNotFound, "no biometric registered for this modality")
	}
	return record, stored.Version, nil
}

func (s *Service) storeAt(ctx context.Context, record domain.BiometricRecord, storeVersion int64) error {
	value, err := json.Marshal(record)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "encode biometric record")
	}
	ok, err := s.docs.UpdateIfVersion(ctx, recordKey(record.DID, record.Type), value, storeVersion)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeExternalService, "biometric store write failed")
	}
	if !ok {
		return domainerrors.New(domainerrors.CodeConflict, "biometric record changed concurrently")
	}
	return nil
}

// settleAnchor finishes the anchor attempt for a committed template whose
// transaction was submitted under the per-DID lock, mirroring the registry's
// submit-then-settle flow. Finalizes are pinned to the record ID the
// submission anchored; a template replaced in the meantime keeps its own
// anchor state.
func (s *Service) settleAnchor(ctx context.Context, did string, bioType domain.BiometricType, record domain.BiometricRecord, txHash string, submitErr error) domain.BiometricRecord {
	key := chainKey(did, bioType)

	err := submitErr
	var receipt ledger.Receipt
	if err == nil {
		receipt, err = s.anchors.WaitForConfirmation(ctx, txHash, s.anchorWait)
	}

	switch {
	case err == nil && receipt.Status == ledger.ReceiptStatusConfirmed:
		updated, applied, finErr := s.setAnchorState(ctx, did, bioType, record.ID, domain.AnchorStatusConfirmed, receipt.TxHash)
		if finErr != nil {
			s.logger.ErrorContext(ctx, "anchor finalize failed", "did", did, "type", string(bioType), "error", finErr)
			return record
		}
		if !applied {
			return record
		}
		return updated

	case err != nil && !anchorRetryable(err):
		s.logger.ErrorContext(ctx, "anchor rejected by ledger", "did", did, "type", string(bioType), "error", err)
		updated, applied, finErr := s.setAnchorState(ctx, did, bioType, record.ID, domain.AnchorStatusFailed, "")
		if finErr != nil || !applied {
			return record
		}
		return updated

	default:
		s.logger.WarnContext(ctx, "anchor deferred to reconciler", "did", did, "type", string(bioType), "error", err)
		s.reconciler.Enqueue(anchor.Task{
			Kind:  anchor.OpStoreBiometric,
			Key:   key,
			Value: record.TemplateHash,
			Stale: func(ctx context.Context) bool {
				return s.anchorStale(ctx, did, bioType, record.ID)
			},
			OnConfirmed: func(ctx context.Context, txHash string) error {
				_, _, err := s.setAnchorState(ctx, did, bioType, record.ID, domain.AnchorStatusConfirmed, txHash)
				return err
			},
			OnFailed: func(ctx context.Context) error {
				_, _, err := s.setAnchorState(ctx, did, bioType, record.ID, domain.AnchorStatusFailed, "")
				return err
			},
		})
		return record
	}
}

// anchorStale reports whether the stored template has moved past the record a
// pending anchor task was submitted for. A removed modality leaves nothing to
// finalize.
func (s *Service) anchorStale(ctx context.Context, did string, bioType domain.BiometricType, recordID string) bool {
	current, _, err := s.load(ctx, did, bioType)
	if err != nil {
		return domainerrors.HasCode(err, domainerrors.CodeNotFound)
	}
	return current.ID != recordID
}

func (s *Service) setAnchorState(ctx context.Context, did string, bioType domain.BiometricType, recordID string, status domain.AnchorStatus, txHash string) (domain.BiometricRecord, bool, error) {
	s.locks.Lock(did)
	defer s.locks.Unlock(did)

	record, storeVersion, err := s.load(ctx, did, bioType)
	if err != nil {
		return domain.BiometricRecord{}, false, err
	}
	if record.ID != recordID {
		s.logger.InfoContext(ctx, "stale anchor result dropped", "did", did, "type", string(bioType))
		return record, false, nil
	}
	record.AnchorStatus = status
	record.AnchorTxHash = txHash
	if err := s.storeAt(ctx, record, storeVersion); err != nil {
		return domain.BiometricRecord{}, false, err
	}
	return record, true, nil
}

// chainVerified compares the stored template hash against its on-chain
// anchor. Any read failure or pending anchor reports false, never an error;
// tamper evidence is advisory on the verification path.
func (s *Service) chainVerified(ctx context.Context, did string, bioType domain.BiometricType, templateHash string) bool {
	anchored, err := s.anchors.ReadAnchored(ctx, chainKey(did, bioType))
	if err != nil {
		return false
	}
	return anchored == templateHash
}

// anchorRetryable reports whether the inline anchor failure is worth handing
// to the reconciler instead of flagging the record immediately.
func anchorRetryable(err error) bool {
	return domainerrors.HasCode(err, domainerrors.CodeExternalService) ||
		domainerrors.HasCode(err, domainerrors.CodeTimedOut)
}

// recordKey namespaces biometric records in the shared document store.
func recordKey(did string, bioType domain.BiometricType) string {
	return "biometric:" + did + ":" + string(bioType)
}

// chainKey namespaces biometric anchors in the shared contract state.
func chainKey(did string, bioType domain.BiometricType) string {
	return "bio:" + did + ":" + string(bioType)
}
