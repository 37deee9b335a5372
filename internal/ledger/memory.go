package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"anchorid/pkg/domainerrors"
)

// Memory simulates the ledger for development and tests. Transactions confirm
// after a configurable number of receipt polls so confirmation-wait logic can
// be exercised deterministically. Contract state is a key-value map applied
// when a transaction confirms: args[0] is the state key, the remaining args
// joined form the value.
type Memory struct {
	mu            sync.Mutex
	txs           map[string]*memoryTx
	state         map[string]string
	nonces        map[string]uint64
	confirmAfter  int
	failNextSends int
	blockHeight   uint64
}

type memoryTx struct {
	receipt   Receipt
	stateKey  string
	stateVal  string
	signer    string
	nonce     uint64
	pollsLeft int
	failed    bool
}

// MemoryOption configures the simulated ledger.
type MemoryOption func(*Memory)

// WithConfirmAfterPolls sets how many GetReceipt calls a transaction stays
// pending before confirming. Default 1 (confirms on first poll).
func WithConfirmAfterPolls(n int) MemoryOption {
	return func(m *Memory) {
		if n >= 0 {
			m.confirmAfter = n
		}
	}
}

// NewMemory creates an empty simulated ledger.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		txs:          make(map[string]*memoryTx),
		state:        make(map[string]string),
		nonces:       make(map[string]uint64),
		confirmAfter: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// FailNextSends makes the next n SendTransaction calls return a transient
// error. Used to exercise retry paths.
func (m *Memory) FailNextSends(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextSends = n
}

// FailTx marks a submitted transaction so its receipt resolves to failed.
func (m *Memory) FailTx(txHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx, ok := m.txs[txHash]; ok {
		tx.failed = true
	}
}

func (m *Memory) SendTransaction(_ context.Context, contractRef, method string, args []string, signer Signer) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNextSends > 0 {
		m.failNextSends--
		return "", domainerrors.New(domainerrors.CodeExternalService, "ledger rpc unavailable")
	}
	if len(args) == 0 {
		return "", fmt.Errorf("send transaction: no args")
	}
	if last, ok := m.nonces[signer.Address]; ok && signer.Nonce <= last {
		return "", domainerrors.New(domainerrors.CodeInvalidState,
			fmt.Sprintf("nonce %d not above %d for %s", signer.Nonce, last, signer.Address))
	}
	m.nonces[signer.Address] = signer.Nonce

	txHash := "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")
	m.txs[txHash] = &memoryTx{
		receipt:   Receipt{TxHash: txHash, Status: ReceiptStatusPending},
		stateKey:  stateKey(contractRef, args[0]),
		stateVal:  strings.Join(args[1:], "|"),
		signer:    signer.Address,
		nonce:     signer.Nonce,
		pollsLeft: m.confirmAfter,
	}
	_ = method
	return txHash, nil
}

func (m *Memory) GetReceipt(_ context.Context, txHash string) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[txHash]
	if !ok {
		return Receipt{}, ErrNotFound
	}
	if tx.receipt.Status != ReceiptStatusPending {
		return tx.receipt, nil
	}
	if tx.failed {
		tx.receipt.Status = ReceiptStatusFailed
		return tx.receipt, nil
	}
	if tx.pollsLeft > 0 {
		tx.pollsLeft--
		return tx.receipt, nil
	}

	m.confirmThrough(tx)
	return tx.receipt, nil
}

// confirmThrough confirms the target and every lower-nonce pending
// transaction from the same signer first, applying state in nonce order the
// way a chain executes an account's transactions. Confirmation order
// therefore matches submission order regardless of which receipt is polled.
func (m *Memory) confirmThrough(target *memoryTx) {
	var due []*memoryTx
	for _, tx := range m.txs {
		if tx.signer == target.signer && tx.receipt.Status == ReceiptStatusPending && !tx.failed && tx.nonce <= target.nonce {
			due = append(due, tx)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].nonce < due[j].nonce })
	for _, tx := range due {
		m.blockHeight++
		tx.receipt.Status = ReceiptStatusConfirmed
		tx.receipt.BlockNumber = m.blockHeight
		tx.receipt.ConfirmedAt = time.Now()
		m.state[tx.stateKey] = tx.stateVal
	}
}

func (m *Memory) ReadContractState(_ context.Context, contractRef, method string, args []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(args) == 0 {
		return "", fmt.Errorf("read contract state: no args")
	}
	_ = method
	value, ok := m.state[stateKey(contractRef, args[0])]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func stateKey(contractRef, key string) string {
	return contractRef + "/" + key
}
