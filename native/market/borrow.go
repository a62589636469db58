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

// Borrow lends pool cash against the account's cross-market collateral. The
// debt is registered in the controller before any tokens move; a failed
// health check or a failed outbound transfer retires the provisional debt.
func (m *Market) Borrow(ctx context.Context, account crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := m.checkWiring(); err != nil {
		return err
	}
	if err := common.Guard(m.controller, common.ActionBorrow); err != nil {
		return err
	}
	if m.controller.IsBlocked(account) {
		return errAccountBlocked
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.OperationStarted("borrow")

	sg := newSaga("borrow", account, m.logger)
	permit, err := m.locks.TryLock(account, m.height)
	if err != nil {
		if errors.Is(err, lock.ErrAccountLocked) {
			m.metrics.LockDenied("borrow")
		}
		m.metrics.OperationFinished("borrow", OutcomeRejected)
		return err
	}
	sg.transition(stateLocked)
	defer func() {
		permit.Release()
		sg.transition(stateUnlocked)
	}()

	if err := m.accrueLocked(); err != nil {
		m.metrics.OperationFinished("borrow", OutcomeRejected)
		return err
	}
	if m.cash.Cmp(amount) < 0 {
		m.metrics.OperationFinished("borrow", OutcomeRejected)
		return errNotEnoughLiquidity
	}

	sg.transition(stateAwaitingLedger)
	if err := m.controller.IncreaseBorrows(m.self, account, amount); err != nil {
		m.metrics.OperationFinished("borrow", OutcomeRejected)
		return err
	}
	sg.push("retire provisional debt", func() error {
		return m.controller.DecreaseBorrows(m.self, account, amount)
	})
	if err := m.checkBorrowAdmission(account); err != nil {
		m.metrics.CompensationTriggered("borrow")
		if cerr := sg.compensate(); cerr != nil {
			m.flagInconsistent(account, cerr)
		}
		m.emitter.Emit(events.BorrowFailed{
			Account:   account,
			Market:    m.self,
			Amount:    new(big.Int).Set(amount),
			Reason:    err.Error(),
			Operation: sg.id,
		})
		m.metrics.OperationFinished("borrow", OutcomeCompensated)
		return err
	}

	sg.transition(stateAwaitingTransfer)
	if err := m.transport.Transfer(ctx, m.self, account, amount, "borrow"); err != nil {
		m.metrics.CompensationTriggered("borrow")
		if cerr := sg.compensate(); cerr != nil {
			m.flagInconsistent(account, cerr)
		}
		m.emitter.Emit(events.BorrowFailed{
			Account:   account,
			Market:    m.self,
			Amount:    new(big.Int).Set(amount),
			Reason:    err.Error(),
			Operation: sg.id,
		})
		m.metrics.OperationFinished("borrow", OutcomeCompensated)
		return err
	}

	m.cash = new(big.Int).Sub(m.cash, amount)
	m.totalBorrows = new(big.Int).Add(m.totalBorrows, amount)
	sg.transition(stateCommitted)
	m.emitter.Emit(events.BorrowSucceeded{
		Account:   account,
		Market:    m.self,
		Amount:    new(big.Int).Set(amount),
		Operation: sg.id,
	})
	m.metrics.OperationFinished("borrow", OutcomeCommitted)
	return nil
}

// checkBorrowAdmission applies the collateral admission check unless the
// account is allowlisted for uncollateralized borrowing on this market.
func (m *Market) checkBorrowAdmission(account crypto.Address) error {
	if m.controller.IsBorrowAllowlisted(m.self, account) {
		return nil
	}
	return m.controller.CheckAccountHealth(account)
}
