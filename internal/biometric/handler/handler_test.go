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

	"anchorid/internal/biometric"
	"anchorid/internal/domain"
	"anchorid/pkg/domainerrors"
)

type stubService struct {
	record domain.BiometricRecord
	result biometric.VerificationResult
	err    error
}

func (s *stubService) Register(context.Context, string, domain.BiometricType, []byte) (domain.BiometricRecord, error) {
	return s.record, s.err
}
func (s *stubService) Verify(context.Context, string, domain.BiometricType, []byte) (biometric.VerificationResult, error) {
	return s.result, s.err
}
func (s *stubService) Remove(context.Context, string, domain.BiometricType) error {
	return s.err
}

func newRouter(s Service) http.Handler {
	r := chi.NewRouter()
	New(s, slog.New(slog.DiscardHandler)).Register(r)
	return r
}

func sampleBody(t *testing.T) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(SampleRequest{DID: "did:example:abc", Sample: []byte("sample")})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func TestHandleRegister_OmitsTemplateHash(t *testing.T) {
	router := newRouter(&stubService{record: domain.BiometricRecord{
		ID:           "rec-1",
		DID:          "did:example:abc",
		Type:         domain.BiometricTypeFace,
		TemplateHash: "secret-digest",
		AnchorStatus: domain.AnchorStatusConfirmed,
	}})

	req := httptest.NewRequest(http.MethodPost, "/biometric/register/face", sampleBody(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "secret-digest")
}

func TestHandleRegister_LivenessRejected(t *testing.T) {
	router := newRouter(&stubService{err: domainerrors.New(domainerrors.CodeLivenessRejected, "sample failed liveness check")})

	req := httptest.NewRequest(http.MethodPost, "/biometric/register/face", sampleBody(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandleVerify_ReturnsResult(t *testing.T) {
	router := newRouter(&stubService{result: biometric.VerificationResult{
		DID:        "did:example:abc",
		Type:       domain.BiometricTypeFace,
		Match:      true,
		Similarity: 0.97,
		Threshold:  0.6,
	}})

	req := httptest.NewRequest(http.MethodPost, "/biometric/verify/face", sampleBody(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got biometric.VerificationResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.True(t, got.Match)
	assert.InDelta(t, 0.97, got.Similarity, 1e-9)
}

func TestHandleRemove_NoContent(t *testing.T) {
	router := newRouter(&stubService{})

	req := httptest.NewRequest(http.MethodDelete, "/biometric/did:example:abc/face", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}
