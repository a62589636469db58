package market

import (
	"errors"
	"math/big"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/lock"
)

func (m *Market) receiptBalanceLocked(account string) *big.Int {
	if bal, ok := m.balances[account]; ok {
		return bal
	}
	return big.NewInt(0)
}

func (m *Market) mintLocked(account crypto.Address, amount *big.Int) {
	key := account.String()
	m.balances[key] = new(big.Int).Add(m.receiptBalanceLocked(key), amount)
	m.receiptSupply = new(big.Int).Add(m.receiptSupply, amount)
}

func (m *Market) burnLocked(account crypto.Address, amount *big.Int) error {
	key := account.String()
	bal := m.receiptBalanceLocked(key)
	if bal.Cmp(amount) < 0 {
		return errNotEnoughReceipts
	}
	next := new(big.Int).Sub(bal, amount)
	if next.Sign() == 0 {
		delete(m.balances, key)
	} else {
		m.balances[key] = next
	}
	m.receiptSupply = new(big.Int).Sub(m.receiptSupply, amount)
	return nil
}

func (m *Market) moveReceiptsLocked(from, to crypto.Address, amount *big.Int) error {
	fromKey := from.String()
	bal := m.receiptBalanceLocked(fromKey)
	if bal.Cmp(amount) < 0 {
		return errNotEnoughReceipts
	}
	next := new(big.Int).Sub(bal, amount)
	if next.Sign() == 0 {
		delete(m.balances, fromKey)
	} else {
		m.balances[fromKey] = next
	}
	toKey := to.String()
	m.balances[toKey] = new(big.Int).Add(m.receiptBalanceLocked(toKey), amount)
	return nil
}

// ReceiptBalance returns the account's receipt token balance.
func (m *Market) ReceiptBalance(account crypto.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.receiptBalanceLocked(account.String()))
}

// ReceiptSupply returns the total receipt tokens outstanding.
func (m *Market) ReceiptSupply() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.receiptSupply)
}

// TransferReceipts moves receipt tokens between accounts and keeps the
// controller's collateral accounting in step. Receipt tokens are collateral:
// the recipient inherits the supplied balance, and the sender's health is
// re-checked before the move commits.
func (m *Market) TransferReceipts(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkWiring(); err != nil {
		return err
	}
	if m.cfg.DisableTransfers {
		return errTransfersDisabled
	}
	if m.controller.IsBlocked(from) {
		return errAccountBlocked
	}
	sg := newSaga("transfer_receipts", from, m.logger)
	permit, err := m.locks.TryLock(from, m.height)
	if err != nil {
		if errors.Is(err, lock.ErrAccountLocked) {
			m.metrics.LockDenied("transfer_receipts")
		}
		return err
	}
	sg.transition(stateLocked)
	defer func() {
		permit.Release()
		sg.transition(stateUnlocked)
	}()

	if m.receiptBalanceLocked(from.String()).Cmp(amount) < 0 {
		return errNotEnoughReceipts
	}
	sg.transition(stateAwaitingLedger)
	if err := m.controller.DecreaseSupplies(m.self, from, amount); err != nil {
		return err
	}
	sg.push("restore sender supplies", func() error {
		return m.controller.IncreaseSupplies(m.self, from, amount)
	})
	if err := m.controller.CheckAccountHealth(from); err != nil {
		if cerr := sg.compensate(); cerr != nil {
			m.flagInconsistent(from, cerr)
		}
		return err
	}
	if err := m.controller.IncreaseSupplies(m.self, to, amount); err != nil {
		if cerr := sg.compensate(); cerr != nil {
			m.flagInconsistent(from, cerr)
		}
		return err
	}
	if err := m.moveReceiptsLocked(from, to, amount); err != nil {
		sg.push("revert recipient supplies", func() error {
			return m.controller.DecreaseSupplies(m.self, to, amount)
		})
		if cerr := sg.compensate(); cerr != nil {
			m.flagInconsistent(from, cerr)
		}
		return err
	}
	sg.transition(stateCommitted)
	return nil
}

// SeizeReceipts settles the token side of a liquidation originated on
// another market. The controller has already swapped the supplies, so this
// moves balances without touching collateral accounting.
func (m *Market) SeizeReceipts(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveReceiptsLocked(from, to, amount)
}

// flagInconsistent marks the account blocked after a failed compensation.
// Manual repair through the admin surface is the only way out.
func (m *Market) flagInconsistent(account crypto.Address, cause error) {
	m.logger.Error("compensation failed, blocking account", "account", account.String(), "error", cause)
	if err := m.controller.SetAccountConsistency(m.self, account, true); err != nil {
		m.logger.Error("consistency flag update failed", "account", account.String(), "error", err)
	}
}
