package market

import (
	"context"
	"errors"
	"math/big"

	"github.com/omomo-finance/omomo-protocol-sub001/core/events"
	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/common"
	"github.com/omomo-finance/omomo-protocol-sub001/native/lock"
)

// Withdraw redeems receipt tokens for underlying. The collateral is released
// in the controller first; if the outbound transfer then fails, the release
// is compensated and the receipts stay put. Receipts burn only after the
// underlying has definitively left the pool.
func (m *Market) Withdraw(ctx context.Context, account crypto.Address, receipts *big.Int) (*big.Int, error) {
	if receipts == nil || receipts.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if err := m.checkWiring(); err != nil {
		return nil, err
	}
	if err := common.Guard(m.controller, common.ActionWithdraw); err != nil {
		return nil, err
	}
	if m.controller.IsBlocked(account) {
		return nil, errAccountBlocked
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.OperationStarted("withdraw")

	sg := newSaga("withdraw", account, m.logger)
	permit, err := m.locks.TryLock(account, m.height)
	if err != nil {
		if errors.Is(err, lock.ErrAccountLocked) {
			m.metrics.LockDenied("withdraw")
		}
		m.metrics.OperationFinished("withdraw", OutcomeRejected)
		return nil, err
	}
	sg.transition(stateLocked)
	defer func() {
		permit.Release()
		sg.transition(stateUnlocked)
	}()

	if err := m.accrueLocked(); err != nil {
		m.metrics.OperationFinished("withdraw", OutcomeRejected)
		return nil, err
	}
	if m.receiptBalanceLocked(account.String()).Cmp(receipts) < 0 {
		m.metrics.OperationFinished("withdraw", OutcomeRejected)
		return nil, errNotEnoughReceipts
	}
	rate, err := m.exchangeRateLocked()
	if err != nil {
		m.metrics.OperationFinished("withdraw", OutcomeRejected)
		return nil, err
	}
	redeemed, err := rate.MulInt(receipts)
	if err != nil {
		m.metrics.OperationFinished("withdraw", OutcomeRejected)
		return nil, err
	}
	if redeemed.Sign() == 0 {
		m.metrics.OperationFinished("withdraw", OutcomeRejected)
		return nil, errInvalidAmount
	}
	if m.cash.Cmp(redeemed) < 0 {
		m.metrics.OperationFinished("withdraw", OutcomeRejected)
		return nil, errNotEnoughLiquidity
	}

	sg.transition(stateAwaitingLedger)
	if err := m.controller.DecreaseSupplies(m.self, account, receipts); err != nil {
		m.metrics.OperationFinished("withdraw", OutcomeRejected)
		return nil, err
	}
	sg.push("restore supplies", func() error {
		return m.controller.IncreaseSupplies(m.self, account, receipts)
	})
	if err := m.controller.CheckAccountHealth(account); err != nil {
		m.metrics.CompensationTriggered("withdraw")
		if cerr := sg.compensate(); cerr != nil {
			m.flagInconsistent(account, cerr)
		}
		m.metrics.OperationFinished("withdraw", OutcomeCompensated)
		return nil, err
	}

	sg.transition(stateAwaitingTransfer)
	if err := m.transport.Transfer(ctx, m.self, account, redeemed, "withdraw"); err != nil {
		m.metrics.CompensationTriggered("withdraw")
		cerr := sg.compensate()
		if cerr != nil {
			m.flagInconsistent(account, cerr)
		}
		m.emitter.Emit(events.WithdrawFallback{
			Account:   account,
			Market:    m.self,
			Amount:    redeemed,
			Reason:    err.Error(),
			Operation: sg.id,
		})
		m.metrics.OperationFinished("withdraw", OutcomeCompensated)
		return nil, err
	}

	if err := m.burnLocked(account, receipts); err != nil {
		// The receipt balance was checked under this same lock; reaching
		// here means internal accounting broke.
		m.flagInconsistent(account, err)
		m.metrics.OperationFinished("withdraw", OutcomeCompensated)
		return nil, err
	}
	m.cash = new(big.Int).Sub(m.cash, redeemed)
	sg.transition(stateCommitted)
	m.emitter.Emit(events.WithdrawSucceeded{
		Account:   account,
		Market:    m.self,
		Receipts:  new(big.Int).Set(receipts),
		Redeemed:  redeemed,
		Operation: sg.id,
	})
	m.metrics.OperationFinished("withdraw", OutcomeCommitted)
	return redeemed, nil
}
