package market

import (
	"errors"
	"math/big"

	"github.com/omomo-finance/omomo-protocol-sub001/core/events"
	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/common"
	"github.com/omomo-finance/omomo-protocol-sub001/native/lock"
	"github.com/omomo-finance/omomo-protocol-sub001/native/token"
)

// liquidate settles an undercollateralized position. The liquidator has
// already transferred the repay amount to this market with the Liquidate
// command attached; eligibility, seize pricing and the repay-and-swap all
// run against the controller, and any failure before the swap commits
// refunds the transfer in full.
func (m *Market) liquidate(liquidator crypto.Address, amount *big.Int, args token.LiquidateArgs) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if err := common.Guard(m.controller, common.ActionLiquidate); err != nil {
		return nil, err
	}
	borrower, err := crypto.DecodeAddress(args.Borrower)
	if err != nil {
		return nil, token.ErrIncorrectCommand
	}
	borrowingMarket, err := crypto.DecodeAddress(args.BorrowingMarket)
	if err != nil {
		return nil, token.ErrIncorrectCommand
	}
	collateralMarket, err := crypto.DecodeAddress(args.CollateralMarket)
	if err != nil {
		return nil, token.ErrIncorrectCommand
	}
	if !borrowingMarket.Equal(m.self) {
		return nil, errWrongMarket
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.OperationStarted("liquidate")

	sg := newSaga("liquidate", borrower, m.logger)
	permit, err := m.locks.TryLock(borrower, m.height)
	if err != nil {
		if errors.Is(err, lock.ErrAccountLocked) {
			m.metrics.LockDenied("liquidate")
		}
		m.metrics.OperationFinished("liquidate", OutcomeRejected)
		return nil, err
	}
	sg.transition(stateLocked)
	defer func() {
		permit.Release()
		sg.transition(stateUnlocked)
	}()

	if err := m.accrueLocked(); err != nil {
		m.metrics.OperationFinished("liquidate", OutcomeRejected)
		return nil, err
	}

	sg.transition(stateAwaitingLedger)
	refuse := func(reason error) (*big.Int, error) {
		m.emitter.Emit(events.LiquidateFailed{
			Liquidator: liquidator,
			Borrower:   borrower,
			Market:     m.self,
			Amount:     new(big.Int).Set(amount),
			Reason:     reason.Error(),
			Operation:  sg.id,
		})
		m.metrics.OperationFinished("liquidate", OutcomeRejected)
		return big.NewInt(0), nil
	}

	permitted, err := m.controller.IsLiquidationAllowed(borrower, m.self, amount)
	if err != nil {
		return refuse(err)
	}
	seize, err := m.controller.SeizeAmount(m.self, collateralMarket, permitted)
	if err != nil {
		return refuse(err)
	}
	if err := m.controller.LiquidationRepayAndSwap(m.self, borrower, liquidator, collateralMarket, permitted, seize); err != nil {
		return refuse(err)
	}

	m.totalBorrows = new(big.Int).Sub(m.totalBorrows, permitted)
	if m.totalBorrows.Sign() < 0 {
		m.totalBorrows = big.NewInt(0)
	}
	m.cash = new(big.Int).Add(m.cash, permitted)

	// The controller already swapped the collateral supplies; the receipt
	// balances on the collateral market follow here. A missing resolver is
	// logged and left to the consistency flag, not unwound: the swap itself
	// is final.
	if collateralMarket.Equal(m.self) {
		if err := m.moveReceiptsLocked(borrower, liquidator, seize); err != nil {
			m.flagInconsistent(borrower, err)
		}
	} else if m.resolve != nil {
		if seizer := m.resolve(collateralMarket); seizer != nil {
			if err := seizer.SeizeReceipts(borrower, liquidator, seize); err != nil {
				m.flagInconsistent(borrower, err)
			}
		} else {
			m.logger.Error("no seizer for collateral market", "market", collateralMarket.String())
			m.flagInconsistent(borrower, errNoSeizer)
		}
	} else {
		m.logger.Error("market resolver not configured, receipt balances lag controller supplies")
		m.flagInconsistent(borrower, errNoSeizer)
	}

	sg.transition(stateCommitted)
	m.emitter.Emit(events.LiquidateSucceeded{
		Liquidator:       liquidator,
		Borrower:         borrower,
		BorrowingMarket:  m.self,
		CollateralMarket: collateralMarket,
		Repaid:           new(big.Int).Set(permitted),
		Seized:           new(big.Int).Set(seize),
		Operation:        sg.id,
	})
	m.metrics.OperationFinished("liquidate", OutcomeCommitted)
	return permitted, nil
}
