package anchor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anchorid/internal/ledger"
	"anchorid/pkg/domainerrors"
	"anchorid/pkg/platform/circuit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func fastPolicy() Policy {
	return Policy{
		SubmitRetries:       2,
		SubmitBackoff:       time.Millisecond,
		ConfirmPollInterval: time.Millisecond,
		ConfirmPollMax:      5 * time.Millisecond,
	}
}

func newTestClient(lc ledger.Client, opts ...Option) *Client {
	base := []Option{WithPolicy(fastPolicy())}
	return New(lc, "contract-1", "0xsigner", NewNonceManager(), testLogger(), append(base, opts...)...)
}

func TestNonceManager_StrictlyIncreasing(t *testing.T) {
	nm := NewNonceManager()

	assert.EqualValues(t, 0, nm.Current("0xa"))
	assert.EqualValues(t, 1, nm.Next("0xa"))
	assert.EqualValues(t, 2, nm.Next("0xa"))
	assert.EqualValues(t, 1, nm.Next("0xb"))
	assert.EqualValues(t, 2, nm.Current("0xa"))
}

func TestClient_SubmitAndWait_Confirms(t *testing.T) {
	lc := ledger.NewMemory()
	c := newTestClient(lc)

	receipt, err := c.SubmitAndWait(context.Background(), OpCreateDID, "did:example:abc", `{"name":"Alice"}`, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReceiptStatusConfirmed, receipt.Status)
	assert.NotEmpty(t, receipt.TxHash)

	value, err := c.ReadAnchored(context.Background(), "did:example:abc")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Alice"}`, value)
}

func TestClient_Submit_RetriesTransientFailures(t *testing.T) {
	lc := ledger.NewMemory()
	lc.FailNextSends(2)
	c := newTestClient(lc)

	txHash, err := c.Submit(context.Background(), OpCreateDID, "did:example:abc", "payload")
	require.NoError(t, err)
	assert.NotEmpty(t, txHash)

	// Two failed attempts burned nonces 1 and 2; the success used 3.
	assert.EqualValues(t, 3, c.nonces.Current("0xsigner"))
}

func TestClient_Submit_ExhaustsRetries(t *testing.T) {
	lc := ledger.NewMemory()
	lc.FailNextSends(10)
	c := newTestClient(lc)

	_, err := c.Submit(context.Background(), OpCreateDID, "did:example:abc", "payload")
	require.Error(t, err)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeExternalService))
}

func TestClient_Submit_CircuitOpenFailsFast(t *testing.T) {
	lc := ledger.NewMemory()
	breaker := circuit.New("ledger", circuit.WithFailureThreshold(1))
	breaker.RecordFailure()
	c := newTestClient(lc, WithBreaker(breaker))

	_, err := c.Submit(context.Background(), OpCreateDID, "did:example:abc", "payload")
	require.Error(t, err)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeExternalService))
}

func TestClient_WaitForConfirmation_TimesOut(t *testing.T) {
	// Transaction needs many polls; timeout expires first.
	lc := ledger.NewMemory(ledger.WithConfirmAfterPolls(1000))
	c := newTestClient(lc)

	txHash, err := c.Submit(context.Background(), OpCreateDID, "did:example:abc", "payload")
	require.NoError(t, err)

	_, err = c.WaitForConfirmation(context.Background(), txHash, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeTimedOut))
}

func TestClient_WaitForConfirmation_FailedReceipt(t *testing.T) {
	lc := ledger.NewMemory()
	c := newTestClient(lc)

	txHash, err := c.Submit(context.Background(), OpCreateDID, "did:example:abc", "payload")
	require.NoError(t, err)
	lc.FailTx(txHash)

	receipt, err := c.WaitForConfirmation(context.Background(), txHash, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReceiptStatusFailed, receipt.Status)
}

func TestClient_ReadAnchored_NotFound(t *testing.T) {
	c := newTestClient(ledger.NewMemory())

	_, err := c.ReadAnchored(context.Background(), "did:example:ghost")
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeNotFound))
}

func TestClient_PerSignerOrdering(t *testing.T) {
	lc := ledger.NewMemory()
	c := newTestClient(lc)

	// Sequential submissions carry increasing nonces that the ledger accepts.
	for i := 0; i < 5; i++ {
		_, err := c.Submit(context.Background(), OpUpdateDID, "did:example:abc", "v")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 5, c.nonces.Current("0xsigner"))
}
