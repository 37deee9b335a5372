// Package anchor is the single funnel between the coordination core and the
// external ledger. Centralizing submissions here gives one place for nonce
// ordering, bounded retries, confirmation polling, and divergence repair.
package anchor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"anchorid/internal/anchor/metrics"
	"anchorid/internal/ledger"
	"anchorid/pkg/domainerrors"
	"anchorid/pkg/platform/circuit"
)

// OperationKind names the contract operation an anchor submission performs.
type OperationKind string

const (
	OpCreateDID      OperationKind = "create_did"
	OpUpdateDID      OperationKind = "update_did"
	OpDeactivateDID  OperationKind = "deactivate_did"
	OpStoreBiometric OperationKind = "store_biometric_hash"
	OpReportFraud    OperationKind = "report_fraud"
)

// contractMethod maps operation kinds onto contract method names.
var contractMethod = map[OperationKind]string{
	OpCreateDID:      "createDID",
	OpUpdateDID:      "updateDID",
	OpDeactivateDID:  "deactivateDID",
	OpStoreBiometric: "storeBiometricHash",
	OpReportFraud:    "reportFraud",
}

// Policy bounds the client's retry and confirmation behavior.
type Policy struct {
	// SubmitRetries is how many times a transient submission failure is
	// retried before surfacing to the caller.
	SubmitRetries int
	// SubmitBackoff is the initial backoff between submission retries; it
	// doubles per attempt.
	SubmitBackoff time.Duration
	// ConfirmPollInterval is the initial receipt poll interval; it doubles
	// per poll up to ConfirmPollMax.
	ConfirmPollInterval time.Duration
	ConfirmPollMax      time.Duration
}

// DefaultPolicy matches interactive-latency expectations: fail fast on
// submission, poll confirmation for a few seconds before handing off to the
// reconciler.
func DefaultPolicy() Policy {
	return Policy{
		SubmitRetries:       2,
		SubmitBackoff:       200 * time.Millisecond,
		ConfirmPollInterval: 100 * time.Millisecond,
		ConfirmPollMax:      2 * time.Second,
	}
}

// Client wraps the ledger capability with nonce management, retries, and
// confirmation polling. It is a shared, thread-safe singleton.
type Client struct {
	ledger      ledger.Client
	contractRef string
	signerAddr  string
	nonces      *NonceManager
	breaker     *circuit.Breaker
	policy      Policy
	logger      *slog.Logger
	metrics     *metrics.Metrics

	// submitMu serializes nonce reservation with the broadcast that spends
	// it. Without this, two goroutines could reserve nonces n and n+1 and
	// send them in the opposite order, voiding the lower submission.
	submitMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics attaches anchor metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithPolicy overrides the default retry/poll policy.
func WithPolicy(p Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithBreaker overrides the default ledger circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// New creates the anchor client. The nonce manager is owned here and never
// shared through package state.
func New(lc ledger.Client, contractRef, signerAddr string, nonces *NonceManager, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		ledger:      lc,
		contractRef: contractRef,
		signerAddr:  signerAddr,
		nonces:      nonces,
		breaker:     circuit.New("ledger"),
		policy:      DefaultPolicy(),
		logger:      logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Submit builds, signs, and sends a transaction anchoring value under key.
// Transient send failures retry with exponential backoff and a fresh nonce
// each attempt. Validation rejections from the ledger are not retried.
// Each send reserves its nonce and reaches the ledger as one atomic step, so
// the per-signer transaction stream goes out in reservation order; callers
// holding a per-DID exclusive section across Submit therefore get per-DID
// submission ordering for free.
func (c *Client) Submit(ctx context.Context, kind OperationKind, key, value string) (string, error) {
	if c.breaker.IsOpen() {
		c.recordResult(kind, "rejected")
		return "", domainerrors.New(domainerrors.CodeExternalService, "ledger circuit open")
	}

	backoff := c.policy.SubmitBackoff
	var lastErr error
	for attempt := 0; attempt <= c.policy.SubmitRetries; attempt++ {
		if attempt > 0 {
			c.metrics.IncrementRetry(string(kind))
			select {
			case <-ctx.Done():
				return "", domainerrors.Wrap(ctx.Err(), domainerrors.CodeTimedOut, "submission cancelled")
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		c.submitMu.Lock()
		signer := ledger.Signer{Address: c.signerAddr, Nonce: c.nonces.Next(c.signerAddr)}
		txHash, err := c.ledger.SendTransaction(ctx, c.contractRef, contractMethod[kind], []string{key, value}, signer)
		c.submitMu.Unlock()
		if err == nil {
			c.breaker.RecordSuccess()
			return txHash, nil
		}
		lastErr = err

		if !domainerrors.HasCode(err, domainerrors.CodeExternalService) {
			// Rejected by validation, not a transient fault.
			c.recordResult(kind, "rejected")
			return "", err
		}
		if open, tripped := c.breaker.RecordFailure(); open {
			if tripped {
				c.logger.Error("ledger circuit opened", "kind", string(kind))
			}
			break
		}
	}

	c.recordResult(kind, "failed")
	return "", domainerrors.Wrap(lastErr, domainerrors.CodeExternalService, "ledger submission failed")
}

// WaitForConfirmation polls for a receipt until the transaction reaches a
// terminal state or the timeout elapses. A failed receipt is returned with a
// nil error; deciding whether to re-submit belongs to the caller.
func (c *Client) WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) (ledger.Receipt, error) {
	deadline := time.Now().Add(timeout)
	interval := c.policy.ConfirmPollInterval
	start := time.Now()

	for {
		receipt, err := c.ledger.GetReceipt(ctx, txHash)
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return ledger.Receipt{}, domainerrors.Wrap(err, domainerrors.CodeExternalService, "receipt lookup failed")
		}
		if err == nil && receipt.Status != ledger.ReceiptStatusPending {
			if receipt.Status == ledger.ReceiptStatusConfirmed {
				c.metrics.ObserveConfirmation(time.Since(start))
			}
			return receipt, nil
		}

		if time.Now().After(deadline) {
			return ledger.Receipt{}, domainerrors.New(domainerrors.CodeTimedOut, "confirmation wait timed out")
		}
		select {
		case <-ctx.Done():
			return ledger.Receipt{}, domainerrors.Wrap(ctx.Err(), domainerrors.CodeTimedOut, "confirmation wait cancelled")
		case <-time.After(interval):
		}
		if interval *= 2; interval > c.policy.ConfirmPollMax {
			interval = c.policy.ConfirmPollMax
		}
	}
}

// SubmitAndWait submits and then waits for confirmation in one call. Both
// phases share the caller's context; the confirmation phase uses timeout.
func (c *Client) SubmitAndWait(ctx context.Context, kind OperationKind, key, value string, timeout time.Duration) (ledger.Receipt, error) {
	txHash, err := c.Submit(ctx, kind, key, value)
	if err != nil {
		return ledger.Receipt{}, err
	}
	receipt, err := c.WaitForConfirmation(ctx, txHash, timeout)
	if err != nil {
		return ledger.Receipt{}, err
	}
	switch receipt.Status {
	case ledger.ReceiptStatusConfirmed:
		c.recordResult(kind, "confirmed")
	case ledger.ReceiptStatusFailed:
		c.recordResult(kind, "failed")
	}
	return receipt, nil
}

// ReadAnchored reads the anchored value under key directly from the chain.
// The result is the tamper-evidence side of every dual verification.
func (c *Client) ReadAnchored(ctx context.Context, key string) (string, error) {
	value, err := c.ledger.ReadContractState(ctx, c.contractRef, "getAnchor", []string{key})
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return "", err
		}
		return "", domainerrors.Wrap(err, domainerrors.CodeExternalService, "chain state read failed")
	}
	return value, nil
}

func (c *Client) recordResult(kind OperationKind, result string) {
	c.metrics.IncrementSubmission(string(kind), result)
}
