package market

import (
	"context"
	"errors"
	"math/big"

	"github.com/omomo-finance/omomo-protocol-sub001/core/events"
	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/common"
	"github.com/omomo-finance/omomo-protocol-sub001/native/lock"
	"github.com/omomo-finance/omomo-protocol-sub001/native/token"
)

// OnTransfer implements token.Receiver: it dispatches an incoming
// transfer-with-message over the command union. The returned amount is what
// the market kept; the token ledger refunds the rest to the sender. Returning
// an error refunds everything.
func (m *Market) OnTransfer(ctx context.Context, sender crypto.Address, amount *big.Int, message string) (*big.Int, error) {
	if err := m.checkWiring(); err != nil {
		return nil, err
	}
	cmd, err := token.ParseCommand(message)
	if err != nil {
		return nil, err
	}
	switch cmd.Kind {
	case token.CommandSupply:
		return m.supply(sender, amount)
	case token.CommandRepay:
		return m.repay(sender, amount)
	case token.CommandReserve:
		return m.increaseReserves(sender, amount)
	case token.CommandDeposit:
		return m.deposit(sender, amount)
	case token.CommandLiquidate:
		return m.liquidate(sender, amount, *cmd.Liquidate)
	default:
		return nil, token.ErrIncorrectCommand
	}
}

// supply converts transferred underlying into freshly minted receipt tokens
// and registers them as collateral. A failed collateral registration burns
// the mint and refunds the transfer in full.
func (m *Market) supply(account crypto.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if err := common.Guard(m.controller, common.ActionSupply); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.OperationStarted("supply")

	sg := newSaga("supply", account, m.logger)
	permit, err := m.locks.TryLock(account, m.height)
	if err != nil {
		if errors.Is(err, lock.ErrAccountLocked) {
			m.metrics.LockDenied("supply")
		}
		m.metrics.OperationFinished("supply", OutcomeRejected)
		return nil, err
	}
	sg.transition(stateLocked)
	defer func() {
		permit.Release()
		sg.transition(stateUnlocked)
	}()

	if err := m.accrueLocked(); err != nil {
		m.metrics.OperationFinished("supply", OutcomeRejected)
		return nil, err
	}
	rate, err := m.exchangeRateLocked()
	if err != nil {
		m.metrics.OperationFinished("supply", OutcomeRejected)
		return nil, err
	}
	minted, err := rate.DivInt(amount)
	if err != nil {
		m.metrics.OperationFinished("supply", OutcomeRejected)
		return nil, err
	}
	if minted.Sign() == 0 {
		m.metrics.OperationFinished("supply", OutcomeRejected)
		return nil, errMintTooSmall
	}

	m.mintLocked(account, minted)
	sg.push("burn minted receipts", func() error {
		return m.burnLocked(account, minted)
	})
	sg.transition(stateAwaitingLedger)
	if err := m.controller.IncreaseSupplies(m.self, account, minted); err != nil {
		m.metrics.CompensationTriggered("supply")
		if cerr := sg.compensate(); cerr != nil {
			m.flagInconsistent(account, cerr)
		}
		m.emitter.Emit(events.SupplyFailed{
			Account:   account,
			Market:    m.self,
			Amount:    new(big.Int).Set(amount),
			Burned:    minted,
			Reason:    err.Error(),
			Operation: sg.id,
		})
		m.metrics.OperationFinished("supply", OutcomeCompensated)
		return big.NewInt(0), nil
	}

	m.cash = new(big.Int).Add(m.cash, amount)
	sg.transition(stateCommitted)
	m.emitter.Emit(events.SupplySucceeded{
		Account:   account,
		Market:    m.self,
		Amount:    new(big.Int).Set(amount),
		Minted:    minted,
		Operation: sg.id,
	})
	m.metrics.OperationFinished("supply", OutcomeCommitted)
	return new(big.Int).Set(amount), nil
}

// repay retires the sender's debt with the transferred amount. Anything
// beyond the outstanding debt is refunded by the token ledger.
func (m *Market) repay(account crypto.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if err := common.Guard(m.controller, common.ActionRepay); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.OperationStarted("repay")

	sg := newSaga("repay", account, m.logger)
	permit, err := m.locks.TryLock(account, m.height)
	if err != nil {
		if errors.Is(err, lock.ErrAccountLocked) {
			m.metrics.LockDenied("repay")
		}
		m.metrics.OperationFinished("repay", OutcomeRejected)
		return nil, err
	}
	sg.transition(stateLocked)
	defer func() {
		permit.Release()
		sg.transition(stateUnlocked)
	}()

	if err := m.accrueLocked(); err != nil {
		m.metrics.OperationFinished("repay", OutcomeRejected)
		return nil, err
	}
	debt := m.controller.BorrowedBalance(m.self, account)
	if debt.Sign() == 0 {
		m.metrics.OperationFinished("repay", OutcomeRejected)
		return nil, errNothingToRepay
	}
	used := new(big.Int).Set(amount)
	if used.Cmp(debt) > 0 {
		used.Set(debt)
	}
	sg.transition(stateAwaitingLedger)
	if err := m.controller.DecreaseBorrows(m.self, account, used); err != nil {
		m.metrics.OperationFinished("repay", OutcomeRejected)
		return nil, err
	}

	m.totalBorrows = new(big.Int).Sub(m.totalBorrows, used)
	m.cash = new(big.Int).Add(m.cash, used)
	sg.transition(stateCommitted)
	m.emitter.Emit(events.RepaySucceeded{
		Account:   account,
		Market:    m.self,
		Amount:    new(big.Int).Set(used),
		Operation: sg.id,
	})
	m.metrics.OperationFinished("repay", OutcomeCommitted)
	return used, nil
}

// increaseReserves accepts a donation into the protocol reserve.
func (m *Market) increaseReserves(sender crypto.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalReserves = new(big.Int).Add(m.totalReserves, amount)
	m.cash = new(big.Int).Add(m.cash, amount)
	m.emitter.Emit(events.ReserveIncreased{
		Sender: sender,
		Market: m.self,
		Amount: new(big.Int).Set(amount),
	})
	return new(big.Int).Set(amount), nil
}

// deposit credits the sender's margin-trading balance. Markets without the
// leverage pool refund the transfer and report why.
func (m *Market) deposit(sender crypto.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cfg.MarginEnabled {
		m.emitter.Emit(events.DepositFailed{
			Sender: sender,
			Market: m.self,
			Amount: new(big.Int).Set(amount),
			Reason: "margin trading is not enabled on this market",
		})
		return big.NewInt(0), nil
	}
	key := sender.String()
	current, ok := m.marginDeposits[key]
	if !ok {
		current = big.NewInt(0)
	}
	m.marginDeposits[key] = new(big.Int).Add(current, amount)
	return new(big.Int).Set(amount), nil
}

// MarginDeposit returns the account's margin-trading balance.
func (m *Market) MarginDeposit(account crypto.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bal, ok := m.marginDeposits[account.String()]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// WithdrawMarginDeposit returns margin collateral to the account.
func (m *Market) WithdrawMarginDeposit(ctx context.Context, account crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkWiring(); err != nil {
		return err
	}
	key := account.String()
	current, ok := m.marginDeposits[key]
	if !ok || current.Cmp(amount) < 0 {
		return errNotEnoughLiquidity
	}
	if err := m.transport.Transfer(ctx, m.self, account, amount, "margin withdrawal"); err != nil {
		return err
	}
	next := new(big.Int).Sub(current, amount)
	if next.Sign() == 0 {
		delete(m.marginDeposits, key)
	} else {
		m.marginDeposits[key] = next
	}
	return nil
}
