// Package ledger defines the consumed chain capability. The real client
// library (and the consensus behind it) is an external collaborator; the
// coordination core only depends on this narrow contract.
package ledger

import (
	"context"
	"time"

	"anchorid/pkg/domainerrors"
)

// ErrNotFound is returned when a transaction or state entry does not exist.
var ErrNotFound = domainerrors.New(domainerrors.CodeNotFound, "ledger entry not found")

// ReceiptStatus is the terminal or in-flight state of a submitted transaction.
type ReceiptStatus string

const (
	ReceiptStatusPending   ReceiptStatus = "pending"
	ReceiptStatusConfirmed ReceiptStatus = "confirmed"
	ReceiptStatusFailed    ReceiptStatus = "failed"
)

// Receipt reports the outcome of a submitted transaction.
type Receipt struct {
	TxHash      string
	Status      ReceiptStatus
	BlockNumber uint64
	ConfirmedAt time.Time
}

// Signer identifies the submitting account. Key custody is assumed provided;
// the nonce is managed by the anchor client's per-signer nonce manager and
// must be strictly increasing per address.
type Signer struct {
	Address string
	Nonce   uint64
}

// Client is the opaque ledger capability. Implementations must be safe for
// concurrent use; the anchor client is the only caller.
type Client interface {
	// SendTransaction submits a contract call and returns its transaction
	// hash. Submission does not imply confirmation.
	SendTransaction(ctx context.Context, contractRef, method string, args []string, signer Signer) (string, error)

	// GetReceipt returns the receipt for a transaction hash, with status
	// pending until the chain confirms or rejects it. Unknown hashes return
	// ErrNotFound.
	GetReceipt(ctx context.Context, txHash string) (Receipt, error)

	// ReadContractState performs a read-only contract call.
	ReadContractState(ctx context.Context, contractRef, method string, args []string) (string, error)
}
