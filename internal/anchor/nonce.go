package anchor

import "sync"

// NonceManager hands out strictly increasing nonces per signer address. It is
// owned by the anchor client and passed in explicitly; nothing reads ambient
// global nonce state.
type NonceManager struct {
	mu   sync.Mutex
	next map[string]uint64
}

// NewNonceManager creates a nonce manager starting every signer at nonce 1.
func NewNonceManager() *NonceManager {
	return &NonceManager{next: make(map[string]uint64)}
}

// Next reserves and returns the next nonce for the address. Reserved nonces
// are never reused, even when the submission they were reserved for fails;
// retries go out with a fresh nonce.
func (n *NonceManager) Next(address string) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next[address]++
	return n.next[address]
}

// Current returns the last reserved nonce for the address, zero when none.
func (n *NonceManager) Current(address string) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.next[address]
}
