package anchor

import (
	"context"
	"log/slog"
	"time"

	"anchorid/internal/ledger"
	"anchorid/pkg/domainerrors"
)

// Task is one outstanding anchor obligation. Services enqueue a task when the
// inline anchor attempt fails or times out; the off-chain record stays in
// AnchorPending until the task resolves it one way or the other.
type Task struct {
	Kind  OperationKind
	Key   string
	Value string

	// OnConfirmed finalizes the off-chain record with the confirmed tx hash.
	OnConfirmed func(ctx context.Context, txHash string) error
	// OnFailed flags the record AnchorFailed for operator attention.
	OnFailed func(ctx context.Context) error
	// Stale, when set, reports that the off-chain record has moved past the
	// write this task was anchoring. A stale task is dropped without
	// re-submission so a superseded payload never reaches the chain after a
	// newer one.
	Stale func(ctx context.Context) bool

	attempts  int
	notBefore time.Time
}

// Reconciler drives pending anchor tasks to a terminal state in the
// background. Divergence between the off-chain store and the chain is
// tracked and repaired, never hidden: every task ends Confirmed or
// AnchorFailed.
type Reconciler struct {
	client      *Client
	logger      *slog.Logger
	inbox       chan Task
	pending     []Task
	interval    time.Duration
	waitTimeout time.Duration
	baseBackoff time.Duration
	maxAttempts int
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithInterval sets the sweep interval. Default 1s.
func WithInterval(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithMaxAttempts caps re-submissions before a task is flagged AnchorFailed.
// Default 5.
func WithMaxAttempts(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the initial retry backoff, doubled per attempt.
// Default 2s.
func WithRetryBackoff(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.baseBackoff = d
		}
	}
}

// WithWaitTimeout sets the per-attempt confirmation wait. Default 10s.
func WithWaitTimeout(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.waitTimeout = d
		}
	}
}

// NewReconciler creates a reconciler submitting through the given client.
func NewReconciler(client *Client, logger *slog.Logger, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		client:      client,
		logger:      logger,
		inbox:       make(chan Task, 256),
		interval:    time.Second,
		waitTimeout: 10 * time.Second,
		baseBackoff: 2 * time.Second,
		maxAttempts: 5,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Enqueue hands a pending anchor obligation to the background loop. It never
// blocks the caller; a full inbox is dropped with an error log because the
// periodic off-chain scan in the owning service will re-surface the record.
func (r *Reconciler) Enqueue(task Task) {
	select {
	case r.inbox <- task:
	default:
		r.logger.Error("reconciler inbox full, dropping task", "kind", string(task.Kind), "key", task.Key)
	}
}

// Run processes tasks until the context is cancelled. It is the only place
// that re-submits with fresh nonces, so per-DID submission ordering set up by
// the services' exclusive sections is preserved.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-r.inbox:
			r.pending = append(r.pending, task)
			r.client.metrics.SetReconcilerDepth(len(r.pending))
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep attempts every due task once and requeues the rest.
func (r *Reconciler) sweep(ctx context.Context) {
	now := time.Now()
	var remaining []Task
	for _, task := range r.pending {
		if task.notBefore.After(now) {
			remaining = append(remaining, task)
			continue
		}
		if next, done := r.attempt(ctx, task); !done {
			remaining = append(remaining, next)
		}
	}
	r.pending = remaining
	r.client.metrics.SetReconcilerDepth(len(r.pending))
}

// attempt runs one submit-and-wait cycle for the task. It returns the updated
// task and whether the task reached a terminal state.
func (r *Reconciler) attempt(ctx context.Context, task Task) (Task, bool) {
	if task.Stale != nil && task.Stale(ctx) {
		r.logger.Info("anchor task superseded, dropping", "kind", string(task.Kind), "key", task.Key)
		return task, true
	}
	task.attempts++

	receipt, err := r.client.SubmitAndWait(ctx, task.Kind, task.Key, task.Value, r.waitTimeout)
	if err == nil && receipt.Status == ledger.ReceiptStatusConfirmed {
		if cbErr := task.OnConfirmed(ctx, receipt.TxHash); cbErr != nil {
			r.logger.Error("anchor finalize failed", "key", task.Key, "error", cbErr)
			// The chain write landed; retry only the off-chain finalize.
			return r.backoff(task), false
		}
		r.logger.Info("anchor reconciled", "kind", string(task.Kind), "key", task.Key, "tx", receipt.TxHash, "attempts", task.attempts)
		return task, true
	}

	if err != nil && !retryable(err) {
		r.logger.Error("anchor rejected by ledger", "kind", string(task.Kind), "key", task.Key, "error", err)
		return r.fail(ctx, task), true
	}
	if task.attempts >= r.maxAttempts {
		r.logger.Error("anchor retries exhausted", "kind", string(task.Kind), "key", task.Key, "attempts", task.attempts)
		return r.fail(ctx, task), true
	}

	return r.backoff(task), false
}

func (r *Reconciler) backoff(task Task) Task {
	delay := r.baseBackoff << (task.attempts - 1)
	task.notBefore = time.Now().Add(delay)
	return task
}

func (r *Reconciler) fail(ctx context.Context, task Task) Task {
	if err := task.OnFailed(ctx); err != nil {
		r.logger.Error("marking anchor failed did not stick", "key", task.Key, "error", err)
	}
	return task
}

// retryable reports whether the error is a transient fault worth another
// submission. Failed and timed-out submissions both qualify; validation
// rejections do not.
func retryable(err error) bool {
	return domainerrors.HasCode(err, domainerrors.CodeExternalService) ||
		domainerrors.HasCode(err, domainerrors.CodeTimedOut)
}
