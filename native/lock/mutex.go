package lock

import (
	"errors"
	"sync"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
)

// ErrAccountLocked is returned when a second mutating flow is attempted while
// the account's previous flow is still inside the timeout window.
var ErrAccountLocked = errors.New("account has a blocked operation in progress")

// DefaultTimeoutBlocks is the block distance after which a held lock is
// treated as abandoned and may be reclaimed.
const DefaultTimeoutBlocks uint64 = 10

// Mutex serializes multi-step asynchronous flows per account. A logical
// operation spans several independently scheduled continuations; the platform
// does not block the account between them, so this application-level lock is
// the only thing preventing a second supply/borrow/withdraw from interleaving
// with an in-flight one.
type Mutex struct {
	mu      sync.Mutex
	locked  map[string]uint64
	timeout uint64
}

func NewMutex(timeoutBlocks uint64) *Mutex {
	if timeoutBlocks == 0 {
		timeoutBlocks = DefaultTimeoutBlocks
	}
	return &Mutex{
		locked:  make(map[string]uint64),
		timeout: timeoutBlocks,
	}
}

// Permit is the owned capability returned by TryLock. Every state-mutating
// continuation requires one, and Release is safe to defer: it unlocks exactly
// once.
type Permit struct {
	mutex    *Mutex
	account  crypto.Address
	height   uint64
	released bool
	mu       sync.Mutex
}

// Account returns the principal the permit was granted for.
func (p *Permit) Account() crypto.Address { return p.account }

// Height returns the block height the lock was taken at.
func (p *Permit) Height() uint64 { return p.height }

// Release unlocks the account. Subsequent calls are no-ops.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	p.released = true
	p.mutex.unlockAt(p.account, p.height)
}

// TryLock grants a permit when the account is unlocked, or when the existing
// lock is older than the timeout window (a stale lock from a lost
// continuation). While a fresh lock is held the caller must abort the whole
// operation; proceeding without a permit corrupts in-flight state.
func (m *Mutex) TryLock(account crypto.Address, currentBlock uint64) (*Permit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(account.Bytes())
	if at, ok := m.locked[key]; ok {
		if currentBlock-at <= m.timeout {
			return nil, ErrAccountLocked
		}
		// Stale lock: liveness recovery, not a correctness guarantee. A very
		// late continuation of the abandoned flow could still race the new
		// holder.
	}
	m.locked[key] = currentBlock
	return &Permit{mutex: m, account: account, height: currentBlock}, nil
}

// CanOperate reports whether the account may start a mutating flow. As a side
// effect an expired lock is removed.
func (m *Mutex) CanOperate(account crypto.Address, currentBlock uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(account.Bytes())
	at, ok := m.locked[key]
	if !ok {
		return true
	}
	if currentBlock-at > m.timeout {
		delete(m.locked, key)
		return true
	}
	return false
}

// Unlock force-releases the account regardless of any outstanding permit.
func (m *Mutex) Unlock(account crypto.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locked, string(account.Bytes()))
}

// unlockAt releases the lock only while it still belongs to the permit that
// took it at the given height. A permit whose lock was reclaimed after the
// timeout must not evict the new holder.
func (m *Mutex) unlockAt(account crypto.Address, height uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(account.Bytes())
	if at, ok := m.locked[key]; ok && at == height {
		delete(m.locked, key)
	}
}

// LockedAt returns the lock height for the account, if locked.
func (m *Mutex) LockedAt(account crypto.Address) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.locked[string(account.Bytes())]
	return at, ok
}
