package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anchorid/internal/domain"
	"anchorid/pkg/domainerrors"
)

// stubService returns canned results per operation.
type stubService struct {
	doc  domain.DIDDocument
	docs []domain.DIDDocument
	err  error
}

func (s *stubService) CreateDID(context.Context, string, domain.DIDDocumentBody) (domain.DIDDocument, error) {
	return s.doc, s.err
}
func (s *stubService) GetDID(context.Context, string) (domain.DIDDocument, error) {
	return s.doc, s.err
}
func (s *stubService) ListByOwner(context.Context, string) ([]domain.DIDDocument, error) {
	return s.docs, s.err
}
func (s *stubService) UpdateDID(context.Context, string, string, domain.DIDDocumentBody) (domain.DIDDocument, error) {
	return s.doc, s.err
}
func (s *stubService) DeactivateDID(context.Context, string, string) (domain.DIDDocument, error) {
	return s.doc, s.err
}

func newRouter(s Service) http.Handler {
	r := chi.NewRouter()
	New(s, slog.New(slog.DiscardHandler)).Register(r)
	return r
}

func TestHandleCreate_Created(t *testing.T) {
	doc := domain.DIDDocument{DID: "did:example:abc", Status: domain.DIDStatusActive}
	router := newRouter(&stubService{doc: doc})

	body, _ := json.Marshal(CreateRequest{Owner: "alice", Document: domain.DIDDocumentBody{PublicKey: "pk"}})
	req := httptest.NewRequest(http.MethodPost, "/identity", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var got domain.DIDDocument
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "did:example:abc", got.DID)
}

func TestHandleCreate_MalformedBody(t *testing.T) {
	router := newRouter(&stubService{})

	req := httptest.NewRequest(http.MethodPost, "/identity", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGet_DomainErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", domainerrors.New(domainerrors.CodeNotFound, "did not found"), http.StatusNotFound},
		{"conflict", domainerrors.New(domainerrors.CodeConflict, "did already registered"), http.StatusConflict},
		{"forbidden", domainerrors.New(domainerrors.CodeForbidden, "not the owner"), http.StatusForbidden},
		{"chain down", domainerrors.New(domainerrors.CodeExternalService, "ledger unavailable"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(&stubService{err: tt.err})

			req := httptest.NewRequest(http.MethodGet, "/identity/did:example:abc", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestHandleListByOwner_RequiresOwner(t *testing.T) {
	router := newRouter(&stubService{})

	req := httptest.NewRequest(http.MethodGet, "/identity", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleDeactivate_OK(t *testing.T) {
	doc := domain.DIDDocument{DID: "did:example:abc", Status: domain.DIDStatusDeactivated}
	router := newRouter(&stubService{doc: doc})

	body, _ := json.Marshal(MutateRequest{Requester: "alice"})
	req := httptest.NewRequest(http.MethodPost, "/identity/did:example:abc/deactivate", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got domain.DIDDocument
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, domain.DIDStatusDeactivated, got.Status)
}
