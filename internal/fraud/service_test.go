package fraud

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anchorid/internal/anchor"
	"anchorid/internal/audit"
	"anchorid/internal/docstore"
	"anchorid/internal/domain"
	"anchorid/internal/ledger"
	"anchorid/pkg/domainerrors"
	psync "anchorid/pkg/platform/sync"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func fastPolicy() anchor.Policy {
	return anchor.Policy{
		SubmitRetries:       2,
		SubmitBackoff:       time.Millisecond,
		ConfirmPollInterval: time.Millisecond,
		ConfirmPollMax:      5 * time.Millisecond,
	}
}

type stubResolver map[string]bool

func (r stubResolver) GetDID(_ context.Context, did string) (domain.DIDDocument, error) {
	if !r[did] {
		return domain.DIDDocument{}, domainerrors.New(domainerrors.CodeNotFound, "did not found")
	}
	return domain.DIDDocument{DID: did, Status: domain.DIDStatusActive}, nil
}

type stubScorer struct {
	score float64
}

func (s stubScorer) Score(context.Context, []byte) (float64, error) {
	return s.score, nil
}

const aliceDID = "did:example:alice"

func newService(t *testing.T, opts ...Option) (*Service, *anchor.Client) {
	t.Helper()

	lc := ledger.NewMemory()
	anchors := anchor.New(lc, "contract-1", "0xsigner", anchor.NewNonceManager(), testLogger(), anchor.WithPolicy(fastPolicy()))
	reconciler := anchor.NewReconciler(anchors, testLogger())

	service := New(
		stubResolver{aliceDID: true},
		docstore.NewMemory(), anchors, reconciler, psync.NewKeyedMutex(),
		audit.NewPublisher(audit.NewMemorySink(), testLogger()),
		testLogger(), 0.5, 10, 200*time.Millisecond, opts...,
	)
	return service, anchors
}

func TestReportFraud_AppendsAndAnchors(t *testing.T) {
	service, anchors := newService(t)

	report, err := service.ReportFraud(context.Background(), aliceDID, "synthetic_identity", 80, map[string]any{"channel": "onboarding"})
	require.NoError(t, err)
	assert.NotEmpty(t, report.ID)
	assert.NotEmpty(t, report.AnchorTxHash)
	assert.False(t, report.Timestamp.IsZero())

	anchored, err := anchors.ReadAnchored(context.Background(), chainKey(aliceDID, report.ID))
	require.NoError(t, err)
	assert.Len(t, anchored, 64, "anchored value is a hex digest of the report")
}

func TestReportFraud_Validation(t *testing.T) {
	service, _ := newService(t)

	_, err := service.ReportFraud(context.Background(), aliceDID, "", 50, nil)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeInvalidArgument))

	_, err = service.ReportFraud(context.Background(), aliceDID, "deepfake", 101, nil)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeInvalidArgument))

	_, err = service.ReportFraud(context.Background(), aliceDID, "deepfake", -1, nil)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeInvalidArgument))

	_, err = service.ReportFraud(context.Background(), "did:example:ghost", "deepfake", 50, nil)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeNotFound))
}

func TestReportFraud_ConcurrentReportsAllAnchor(t *testing.T) {
	service, anchors := newService(t)

	// Appends and their chain submissions serialize under the per-DID lock,
	// so concurrent reporters never race each other's transactions.
	const reporters = 6
	var wg sync.WaitGroup
	reports := make([]domain.FraudReport, reporters)
	errs := make([]error, reporters)
	for i := 0; i < reporters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i], errs[i] = service.ReportFraud(context.Background(), aliceDID, "synthetic_identity", 40, nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < reporters; i++ {
		require.NoError(t, errs[i])
		assert.NotEmpty(t, reports[i].AnchorTxHash)

		anchored, err := anchors.ReadAnchored(context.Background(), chainKey(aliceDID, reports[i].ID))
		require.NoError(t, err)
		assert.Len(t, anchored, 64)
	}

	trail, err := service.ListReports(context.Background(), aliceDID)
	require.NoError(t, err)
	assert.Len(t, trail, reporters)
}

func TestListReports_AppendOrder(t *testing.T) {
	service, _ := newService(t)

	for i, fraudType := range []string{"first", "second", "third"} {
		_, err := service.ReportFraud(context.Background(), aliceDID, fraudType, 10*i, nil)
		require.NoError(t, err)
	}

	reports, err := service.ListReports(context.Background(), aliceDID)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, "first", reports[0].FraudType)
	assert.Equal(t, "second", reports[1].FraudType)
	assert.Equal(t, "third", reports[2].FraudType)
}

func TestListReports_EmptyTrail(t *testing.T) {
	service, _ := newService(t)

	reports, err := service.ListReports(context.Background(), aliceDID)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestDetectIdentityFraud_FlagsAndReports(t *testing.T) {
	service, _ := newService(t)

	result, err := service.DetectIdentityFraud(context.Background(), aliceDID, IdentityData{
		DocumentNumber: "x",
		FullName:       "Alice",
		BirthDate:      "1990-04-12",
	})
	require.NoError(t, err)
	assert.True(t, result.Flagged)
	assert.InDelta(t, 0.7, result.FraudScore, 1e-9)
	assert.Equal(t, domain.RiskLevelHigh, result.RiskLevel)
	assert.ElementsMatch(t, []string{"invalid_document_number", "implausible_name"}, result.RiskFactors)
	assert.NotEmpty(t, result.ReportID)

	reports, err := service.ListReports(context.Background(), aliceDID)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "identity_fraud", reports[0].FraudType)
	assert.Equal(t, 70, reports[0].Score)
}

func TestDetectIdentityFraud_CleanDataLeavesNoTrace(t *testing.T) {
	service, _ := newService(t)

	result, err := service.DetectIdentityFraud(context.Background(), aliceDID, IdentityData{
		DocumentNumber: "AB-1234567",
		FullName:       "Alice Cooper",
		BirthDate:      "1990-04-12",
	})
	require.NoError(t, err)
	assert.False(t, result.Flagged)
	assert.Equal(t, domain.RiskLevelLow, result.RiskLevel)
	assert.Empty(t, result.ReportID)

	reports, err := service.ListReports(context.Background(), aliceDID)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestDetectIdentityFraud_NoDIDScoresWithoutRecording(t *testing.T) {
	service, _ := newService(t)

	result, err := service.DetectIdentityFraud(context.Background(), "", IdentityData{
		DocumentNumber: "x",
		FullName:       "Alice",
		BirthDate:      "1990-04-12",
	})
	require.NoError(t, err)
	assert.True(t, result.Flagged)
	assert.InDelta(t, 0.7, result.FraudScore, 1e-9)
	assert.Empty(t, result.DID)
	assert.Empty(t, result.ReportID)

	reports, err := service.ListReports(context.Background(), aliceDID)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestDetectDeepfake_NoDIDScoresWithoutRecording(t *testing.T) {
	service, _ := newService(t, WithDeepfakeScorer(stubScorer{score: 0.9}))

	result, err := service.DetectDeepfake(context.Background(), "", []byte("media"))
	require.NoError(t, err)
	assert.True(t, result.Flagged)
	assert.Empty(t, result.ReportID)
}

func TestDetectDeepfake_ThresholdGatesReporting(t *testing.T) {
	flagged, _ := newService(t, WithDeepfakeScorer(stubScorer{score: 0.9}))
	result, err := flagged.DetectDeepfake(context.Background(), aliceDID, []byte("media"))
	require.NoError(t, err)
	assert.True(t, result.Flagged)
	assert.NotEmpty(t, result.ReportID)

	clean, _ := newService(t, WithDeepfakeScorer(stubScorer{score: 0.1}))
	result, err = clean.DetectDeepfake(context.Background(), aliceDID, []byte("media"))
	require.NoError(t, err)
	assert.False(t, result.Flagged)
	assert.Empty(t, result.ReportID)

	reports, err := clean.ListReports(context.Background(), aliceDID)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestAssessRisk_GrowsWithHistory(t *testing.T) {
	service, _ := newService(t)

	baseline, err := service.AssessRisk(context.Background(), aliceDID, Signals{})
	require.NoError(t, err)
	assert.Equal(t, 0, baseline.RiskScore)
	assert.Equal(t, domain.RiskLevelLow, baseline.RiskLevel)

	for i := 0; i < 4; i++ {
		_, err := service.ReportFraud(context.Background(), aliceDID, "synthetic_identity", 50, nil)
		require.NoError(t, err)
	}

	withHistory, err := service.AssessRisk(context.Background(), aliceDID, Signals{})
	require.NoError(t, err)
	assert.Greater(t, withHistory.RiskScore, baseline.RiskScore)
	assert.Equal(t, 4, withHistory.FraudHistoryCount)
	assert.Equal(t, 20, withHistory.RiskScore)
}

func TestAssessRisk_BucketsBySignalsAndHistory(t *testing.T) {
	service, _ := newService(t)

	hot, err := service.AssessRisk(context.Background(), aliceDID, Signals{
		UnusualBehavior:  true,
		LocationMismatch: true,
		DeviceAnomaly:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, 50, hot.RiskScore)
	assert.Equal(t, domain.RiskLevelMedium, hot.RiskLevel)
}

func TestAssessRisk_UnknownDID(t *testing.T) {
	service, _ := newService(t)

	_, err := service.AssessRisk(context.Background(), "did:example:ghost", Signals{})
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeNotFound))
}
