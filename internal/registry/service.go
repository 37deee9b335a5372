// Package registry owns the DID document lifecycle. It is the only writer of
// identity records: every create, update, and deactivate funnels through the
// per-DID exclusive section here, writes off-chain first, and then anchors a
// digest of the change on the ledger.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"anchorid/internal/anchor"
	"anchorid/internal/audit"
	"anchorid/internal/docstore"
	"anchorid/internal/domain"
	"anchorid/internal/ledger"
	"anchorid/pkg/domainerrors"
	psync "anchorid/pkg/platform/sync"
)

const didPrefix = "did:"

// Service coordinates DID documents between the off-chain store and the chain
// anchor. Reads come from the store alone; the chain is tamper evidence, never
// the read path.
type Service struct {
	docs       docstore.Store
	anchors    *anchor.Client
	reconciler *anchor.Reconciler
	locks      *psync.KeyedMutex
	audit      *audit.Publisher
	logger     *slog.Logger
	tracer     trace.Tracer
	anchorWait time.Duration
	now        func() time.Time
}

// New wires the registry service. anchorWait bounds how long an operation
// blocks on inline chain confirmation before handing off to the reconciler.
func New(docs docstore.Store, anchors *anchor.Client, reconciler *anchor.Reconciler, locks *psync.KeyedMutex, auditor *audit.Publisher, logger *slog.Logger, anchorWait time.Duration) *Service {
	return &Service{
		docs:       docs,
		anchors:    anchors,
		reconciler: reconciler,
		locks:      locks,
		audit:      auditor,
		logger:     logger,
		tracer:     otel.Tracer("anchorid/internal/registry"),
		anchorWait: anchorWait,
		now:        time.Now,
	}
}

// CreateDID registers a new identity. The off-chain record is written first
// and is immediately resolvable; anchoring confirms within anchorWait or is
// handed to the reconciler with the record left in AnchorPending. The
// off-chain write is never rolled back on anchor failure.
func (s *Service) CreateDID(ctx context.Context, owner string, body domain.DIDDocumentBody) (domain.DIDDocument, error) {
	ctx, span := s.tracer.Start(ctx, "registry.CreateDID")
	defer span.End()

	if owner == "" {
		return domain.DIDDocument{}, domainerrors.New(domainerrors.CodeInvalidArgument, "owner is required")
	}
	if body.PublicKey == "" {
		return domain.DIDDocument{}, domainerrors.New(domainerrors.CodeInvalidArgument, "publicKey is required")
	}
	did := body.ID
	if did == "" {
		did = didPrefix + "example:" + strings.ReplaceAll(uuid.NewString(), "-", "")
	} else if !strings.HasPrefix(did, didPrefix) {
		return domain.DIDDocument{}, domainerrors.New(domainerrors.CodeInvalidArgument, "did must start with did:")
	}
	span.SetAttributes(attribute.String("did", did))
	body.ID = did

	now := s.now()
	doc := domain.DIDDocument{
		DID:          did,
		Document:     body,
		Owner:        owner,
		Status:       domain.DIDStatusActive,
		AnchorStatus: domain.AnchorStatusPending,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	value, err := json.Marshal(doc)
	if err != nil {
		return domain.DIDDocument{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "encode identity record")
	}

	payload := anchorPayload(body)
	s.locks.Lock(did)
	inserted, err := s.docs.InsertIfAbsent(ctx, recordKey(did), value)
	if err != nil {
		s.locks.Unlock(did)
		return domain.DIDDocument{}, domainerrors.Wrap(err, domainerrors.CodeExternalService, "identity store write failed")
	}
	if !inserted {
		s.locks.Unlock(did)
		return domain.DIDDocument{}, domainerrors.New(domainerrors.CodeConflict, "did already registered")
	}
	txHash, submitErr := s.anchors.Submit(ctx, anchor.OpCreateDID, did, payload)
	s.locks.Unlock(did)

	s.audit.Emit(ctx, audit.Event{DID: did, Actor: owner, Action: "did.create", Outcome: "accepted"})
	s.logger.InfoContext(ctx, "did registered", "did", did, "owner", owner)

	return s.settleAnchor(ctx, anchor.OpCreateDID, did, payload, doc, txHash, submitErr), nil
}

// GetDID resolves an identity from the off-chain store. Deactivated documents
// resolve the same as missing ones.
func (s *Service) GetDID(ctx context.Context, did string) (domain.DIDDocument, error) {
	ctx, span := s.tracer.Start(ctx, "registry.GetDID")
	defer span.End()

	doc, _, err := s.load(ctx, did)
	if err != nil {
		return domain.DIDDocument{}, err
	}
	if !doc.Resolvable() {
		return domain.DIDDocument{}, domainerrors.New(domainerrors.CodeNotFound, "did not found")
	}
	return doc, nil
}

// ListByOwner returns every identity registered under owner, deactivated ones
// included so callers can see the full lifecycle.
func (s *Service) ListByOwner(ctx context.Context, owner string) ([]domain.DIDDocument, error) {
	ctx, span := s.tracer.Start(ctx, "registry.ListByOwner")
	defer span.End()

	stored, err := s.docs.QueryByField(ctx, "owner", owner)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeExternalService, "identity store query failed")
	}
	docs := make([]domain.DIDDocument, 0, len(stored))
	for _, record := range stored {
		var doc domain.DIDDocument
		if err := json.Unmarshal(record.Value, &doc); err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable identity record", "key", record.Key, "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// UpdateDID replaces the document body for an active identity. Only the owner
// may update; the version increments and the record drops back to
// AnchorPending until the new content is re-anchored.
func (s *Service) UpdateDID(ctx context.Context, did, requester string, body domain.DIDDocumentBody) (domain.DIDDocument, error) {
	ctx, span := s.tracer.Start(ctx, "registry.UpdateDID", trace.WithAttributes(attribute.String("did", did)))
	defer span.End()

	s.locks.Lock(did)
	doc, storeVersion, err := s.load(ctx, did)
	if err != nil {
		s.locks.Unlock(did)
		return domain.DIDDocument{}, err
	}
	if doc.Owner != requester {
		s.locks.Unlock(did)
		s.audit.Emit(ctx, audit.Event{DID: did, Actor: requester, Action: "did.update", Outcome: "forbidden"})
		return domain.DIDDocument{}, domainerrors.New(domainerrors.CodeForbidden, "requester does not own this did")
	}
	if doc.Status == domain.DIDStatusDeactivated {
		s.locks.Unlock(did)
		return domain.DIDDocument{}, domainerrors.New(domainerrors.CodeInvalidState, "did is deactivated")
	}

	body.ID = did
	doc.Document = body
	doc.Version++
	doc.AnchorStatus = domain.AnchorStatusPending
	doc.AnchorTxHash = ""
	doc.UpdatedAt = s.now()

	if err := s.storeAt(ctx, doc, storeVersion); err != nil {
		s.locks.Unlock(did)
		return domain.DIDDocument{}, err
	}
	payload := anchorPayload(body)
	txHash, submitErr := s.anchors.Submit(ctx, anchor.OpUpdateDID, did, payload)
	s.locks.Unlock(did)

	s.audit.Emit(ctx, audit.Event{DID: did, Actor: requester, Action: "did.update", Outcome: "accepted"})
	s.logger.InfoContext(ctx, "did updated", "did", did, "version", doc.Version)

	return s.settleAnchor(ctx, anchor.OpUpdateDID, did, payload, doc, txHash, submitErr), nil
}

// DeactivateDID retires an identity. The transition is one-way; a second
// deactivation reports InvalidState so callers can distinguish a no-op retry
// from a live document.
func (s *Service) DeactivateDID(ctx context.Context, did, requester string) (domain.DIDDocument, error) {
	ctx, span := s.tracer.Start(ctx, "registry.DeactivateDID", trace.WithAttributes(attribute.String("did", did)))
	defer span.End()

	s.locks.Lock(did)
	doc, storeVersion, err := s.load(ctx, did)
	if err != nil {
		s.locks.Unlock(did)
		return domain.DIDDocument{}, err
	}
	if doc.Owner != requester {
		s.locks.Unlock(did)
		s.audit.Emit(ctx, audit.Event{DID: did, Actor: requester, Action: "did.deactivate", Outcome: "forbidden"})
		return domain.DIDDocument{}, domainerrors.New(domainerrors.CodeForbidden, "requester does not own this did")
	}
	if doc.Status == domain.DIDStatusDeactivated {
		s.locks.Unlock(did)
		return domain.DIDDocument{}, domainerrors.New(domainerrors.CodeInvalidState, "did already deactivated")
	}

	doc.Status = domain.DIDStatusDeactivated
	doc.Version++
	doc.AnchorStatus = domain.AnchorStatusPending
	doc.AnchorTxHash = ""
	doc.UpdatedAt = s.now()

	if err := s.storeAt(ctx, doc, storeVersion); err != nil {
		s.locks.Unlock(did)
		return domain.DIDDocument{}, err
	}
	txHash, submitErr := s.anchors.Submit(ctx, anchor.OpDeactivateDID, did, "deactivated")
	s.locks.Unlock(did)

	s.audit.Emit(ctx, audit.Event{DID: did, Actor: requester, Action: "did.deactivate", Outcome: "accepted"})
	s.logger.InfoContext(ctx, "did deactivated", "did", did)

	return s.settleAnchor(ctx, anchor.OpDeactivateDID, did, "deactivated", doc, txHash, submitErr), nil
}

// load fetches and decodes the record along with its store version for CAS.
func (s *Service) load(ctx context.Context, did string) (domain.DIDDocument, int64, error) {
	record, err := s.docs.Get(ctx, recordKey(did))
	if err != nil {
		if domainerrors.HasCode(err, domainerrors.CodeNotFound) {
			return domain.DIDDocument{}, 0, domainerrors.New(domainerrors.CodeNotFound, "did not found")
		}
		return domain.DIDDocument{}, 0, domainerrors.Wrap(err, domainerrors.CodeExternalService, "identity store read failed")
	}
	var doc domain.DIDDocument
	if err := json.Unmarshal(record.Value, &doc); err != nil {
		return domain.DIDDocument{}, 0, domainerrors.Wrap(err, domainerrors.CodeInternal, "decode identity record")
	}
	return doc, record.Version, nil
}

// storeAt writes doc over the given store version. Callers hold the per-DID
// lock, so a CAS miss means the store is misbehaving, not a lost race.
func (s *Service) storeAt(ctx context.Context, doc domain.DIDDocument, storeVersion int64) error {
	value, err := json.Marshal(doc)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "encode identity record")
	}
	ok, err := s.docs.UpdateIfVersion(ctx, recordKey(doc.DID), value, storeVersion)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeExternalService, "identity store write failed")
	}
	if !ok {
		return domainerrors.New(domainerrors.CodeConflict, "identity record changed concurrently")
	}
	return nil
}

// settleAnchor finishes the anchor attempt for an already-committed off-chain
// write whose transaction was submitted under the per-DID lock. Confirmation
// within anchorWait finalizes the record in place; a transient fault, failed
// receipt, or timeout hands the obligation to the reconciler; a ledger
// rejection flags the record AnchorFailed. Every finalize is pinned to the
// document version the submission anchored, so a slow settlement can never
// clobber the anchor state of a later write.
func (s *Service) settleAnchor(ctx context.Context, kind anchor.OperationKind, did, value string, doc domain.DIDDocument, txHash string, submitErr error) domain.DIDDocument {
	version := doc.Version

	err := submitErr
	var receipt ledger.Receipt
	if err == nil {
		receipt, err = s.anchors.WaitForConfirmation(ctx, txHash, s.anchorWait)
	}

	switch {
	case err == nil && receipt.Status == ledger.ReceiptStatusConfirmed:
		updated, applied, finErr := s.setAnchorState(ctx, did, version, domain.AnchorStatusConfirmed, receipt.TxHash)
		if finErr != nil {
			s.logger.ErrorContext(ctx, "anchor finalize failed", "did", did, "error", finErr)
			return doc
		}
		if !applied {
			return doc
		}
		return updated

	case err != nil && !anchorRetryable(err):
		s.logger.ErrorContext(ctx, "anchor rejected by ledger", "did", did, "error", err)
		updated, applied, finErr := s.setAnchorState(ctx, did, version, domain.AnchorStatusFailed, "")
		if finErr != nil {
			s.logger.ErrorContext(ctx, "marking anchor failed did not stick", "did", did, "error", finErr)
			return doc
		}
		if !applied {
			return doc
		}
		return updated

	default:
		s.logger.WarnContext(ctx, "anchor deferred to reconciler", "did", did, "kind", string(kind), "error", err)
		s.reconciler.Enqueue(anchor.Task{
			Kind:  kind,
			Key:   did,
			Value: value,
			Stale: func(ctx context.Context) bool {
				return s.anchorStale(ctx, did, version)
			},
			OnConfirmed: func(ctx context.Context, txHash string) error {
				_, _, err := s.setAnchorState(ctx, did, version, domain.AnchorStatusConfirmed, txHash)
				return err
			},
			OnFailed: func(ctx context.Context) error {
				_, _, err := s.setAnchorState(ctx, did, version, domain.AnchorStatusFailed, "")
				return err
			},
		})
		return doc
	}
}

// anchorStale reports whether the record has moved past the version a pending
// anchor task was submitted for.
func (s *Service) anchorStale(ctx context.Context, did string, version int64) bool {
	doc, _, err := s.load(ctx, did)
	if err != nil {
		return false
	}
	return doc.Version != version
}

// setAnchorState moves only the anchor fields of the stored record, and only
// while the record still sits at the version the submission anchored. A
// record that moved on is left untouched and reported as not applied.
func (s *Service) setAnchorState(ctx context.Context, did string, version int64, status domain.AnchorStatus, txHash string) (domain.DIDDocument, bool, error) {
	s.locks.Lock(did)
	defer s.locks.Unlock(did)

	doc, storeVersion, err := s.load(ctx, did)
	if err != nil {
		return domain.DIDDocument{}, false, err
	}
	if doc.Version != version {
		s.logger.InfoContext(ctx, "stale anchor result dropped", "did", did, "version", version, "current", doc.Version)
		return doc, false, nil
	}
	doc.AnchorStatus = status
	doc.AnchorTxHash = txHash
	doc.UpdatedAt = s.now()
	if err := s.storeAt(ctx, doc, storeVersion); err != nil {
		return domain.DIDDocument{}, false, err
	}
	return doc, true, nil
}

// anchorRetryable reports whether the inline anchor failure is worth handing
// to the reconciler instead of flagging the record immediately.
func anchorRetryable(err error) bool {
	return domainerrors.HasCode(err, domainerrors.CodeExternalService) ||
		domainerrors.HasCode(err, domainerrors.CodeTimedOut)
}

// anchorPayload is the canonical on-chain value for a document body.
func anchorPayload(body domain.DIDDocumentBody) string {
	value, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return string(value)
}

// recordKey namespaces identity records in the shared document store.
func recordKey(did string) string {
	return "identity:" + did
}
