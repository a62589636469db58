package events

import (
	"math/big"
	"strconv"

	"github.com/omomo-finance/omomo-protocol-sub001/core/types"
	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
)

const (
	TypeSupplySucceeded    = "lending.supply.succeeded"
	TypeSupplyFailed       = "lending.supply.failed"
	TypeWithdrawSucceeded  = "lending.withdraw.succeeded"
	TypeWithdrawFallback   = "lending.withdraw.fallback"
	TypeBorrowSucceeded    = "lending.borrow.succeeded"
	TypeBorrowFailed       = "lending.borrow.failed"
	TypeRepaySucceeded     = "lending.repay.succeeded"
	TypeLiquidateSucceeded = "lending.liquidate.succeeded"
	TypeLiquidateFailed    = "lending.liquidate.failed"
	TypeDepositFailed      = "lending.deposit.failed"
	TypeReserveIncreased   = "lending.reserve.increased"
	TypePriceUpdated       = "oracle.price.updated"
)

// SupplySucceeded records a completed supply saga: the supplier received
// minted receipt tokens and the ledger balance was increased.
type SupplySucceeded struct {
	Account  crypto.Address
	Market   crypto.Address
	Amount   *big.Int
	Minted   *big.Int
	Operation string
}

func (SupplySucceeded) EventType() string { return TypeSupplySucceeded }

func (e SupplySucceeded) Event() *types.Event {
	return &types.Event{
		Type: TypeSupplySucceeded,
		Attributes: map[string]string{
			"account":   e.Account.String(),
			"market":    e.Market.String(),
			"amount":    formatAmount(e.Amount),
			"minted":    formatAmount(e.Minted),
			"operation": e.Operation,
		},
	}
}

// SupplyFailed records a supply saga that was rolled back, including the
// compensating burn of the just-minted receipt tokens.
type SupplyFailed struct {
	Account   crypto.Address
	Market    crypto.Address
	Amount    *big.Int
	Burned    *big.Int
	Reason    string
	Operation string
}

func (SupplyFailed) EventType() string { return TypeSupplyFailed }

func (e SupplyFailed) Event() *types.Event {
	return &types.Event{
		Type: TypeSupplyFailed,
		Attributes: map[string]string{
			"account":   e.Account.String(),
			"market":    e.Market.String(),
			"amount":    formatAmount(e.Amount),
			"burned":    formatAmount(e.Burned),
			"reason":    e.Reason,
			"operation": e.Operation,
		},
	}
}

type WithdrawSucceeded struct {
	Account   crypto.Address
	Market    crypto.Address
	Receipts  *big.Int
	Redeemed  *big.Int
	Operation string
}

func (WithdrawSucceeded) EventType() string { return TypeWithdrawSucceeded }

func (e WithdrawSucceeded) Event() *types.Event {
	return &types.Event{
		Type: TypeWithdrawSucceeded,
		Attributes: map[string]string{
			"account":   e.Account.String(),
			"market":    e.Market.String(),
			"receipts":  formatAmount(e.Receipts),
			"redeemed":  formatAmount(e.Redeemed),
			"operation": e.Operation,
		},
	}
}

// WithdrawFallback records a failed underlying transfer after the ledger
// balance was already decremented. The ledger is re-credited by the saga; the
// event remains the durable trace of the partial failure.
type WithdrawFallback struct {
	Account   crypto.Address
	Market    crypto.Address
	Amount    *big.Int
	Reason    string
	Operation string
}

func (WithdrawFallback) EventType() string { return TypeWithdrawFallback }

func (e WithdrawFallback) Event() *types.Event {
	return &types.Event{
		Type: TypeWithdrawFallback,
		Attributes: map[string]string{
			"account":   e.Account.String(),
			"market":    e.Market.String(),
			"amount":    formatAmount(e.Amount),
			"reason":    e.Reason,
			"operation": e.Operation,
		},
	}
}

type BorrowSucceeded struct {
	Account   crypto.Address
	Market    crypto.Address
	Amount    *big.Int
	Operation string
}

func (BorrowSucceeded) EventType() string { return TypeBorrowSucceeded }

func (e BorrowSucceeded) Event() *types.Event {
	return &types.Event{
		Type: TypeBorrowSucceeded,
		Attributes: map[string]string{
			"account":   e.Account.String(),
			"market":    e.Market.String(),
			"amount":    formatAmount(e.Amount),
			"operation": e.Operation,
		},
	}
}

type BorrowFailed struct {
	Account   crypto.Address
	Market    crypto.Address
	Amount    *big.Int
	Reason    string
	Operation string
}

func (BorrowFailed) EventType() string { return TypeBorrowFailed }

func (e BorrowFailed) Event() *types.Event {
	return &types.Event{
		Type: TypeBorrowFailed,
		Attributes: map[string]string{
			"account":   e.Account.String(),
			"market":    e.Market.String(),
			"amount":    formatAmount(e.Amount),
			"reason":    e.Reason,
			"operation": e.Operation,
		},
	}
}

type RepaySucceeded struct {
	Account   crypto.Address
	Market    crypto.Address
	Amount    *big.Int
	Operation string
}

func (RepaySucceeded) EventType() string { return TypeRepaySucceeded }

func (e RepaySucceeded) Event() *types.Event {
	return &types.Event{
		Type: TypeRepaySucceeded,
		Attributes: map[string]string{
			"account":   e.Account.String(),
			"market":    e.Market.String(),
			"amount":    formatAmount(e.Amount),
			"operation": e.Operation,
		},
	}
}

type LiquidateSucceeded struct {
	Liquidator       crypto.Address
	Borrower         crypto.Address
	BorrowingMarket  crypto.Address
	CollateralMarket crypto.Address
	Repaid           *big.Int
	Seized           *big.Int
	Operation        string
}

func (LiquidateSucceeded) EventType() string { return TypeLiquidateSucceeded }

func (e LiquidateSucceeded) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidateSucceeded,
		Attributes: map[string]string{
			"liquidator":        e.Liquidator.String(),
			"borrower":          e.Borrower.String(),
			"borrowing_market":  e.BorrowingMarket.String(),
			"collateral_market": e.CollateralMarket.String(),
			"repaid":            formatAmount(e.Repaid),
			"seized":            formatAmount(e.Seized),
			"operation":         e.Operation,
		},
	}
}

// LiquidateFailed records a liquidation chain that failed after the repayment
// transfer landed. Funds stay on the borrowing market; no automatic refund is
// attempted.
type LiquidateFailed struct {
	Liquidator crypto.Address
	Borrower   crypto.Address
	Market     crypto.Address
	Amount     *big.Int
	Reason     string
	Operation  string
}

func (LiquidateFailed) EventType() string { return TypeLiquidateFailed }

func (e LiquidateFailed) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidateFailed,
		Attributes: map[string]string{
			"liquidator": e.Liquidator.String(),
			"borrower":   e.Borrower.String(),
			"market":     e.Market.String(),
			"amount":     formatAmount(e.Amount),
			"reason":     e.Reason,
			"operation":  e.Operation,
		},
	}
}

// DepositFailed records a transfer-with-message whose command could not be
// honoured after the tokens already arrived on the market.
type DepositFailed struct {
	Sender crypto.Address
	Market crypto.Address
	Amount *big.Int
	Reason string
}

func (DepositFailed) EventType() string { return TypeDepositFailed }

func (e DepositFailed) Event() *types.Event {
	return &types.Event{
		Type: TypeDepositFailed,
		Attributes: map[string]string{
			"sender": e.Sender.String(),
			"market": e.Market.String(),
			"amount": formatAmount(e.Amount),
			"reason": e.Reason,
		},
	}
}

type ReserveIncreased struct {
	Sender crypto.Address
	Market crypto.Address
	Amount *big.Int
}

func (ReserveIncreased) EventType() string { return TypeReserveIncreased }

func (e ReserveIncreased) Event() *types.Event {
	return &types.Event{
		Type: TypeReserveIncreased,
		Attributes: map[string]string{
			"sender": e.Sender.String(),
			"market": e.Market.String(),
			"amount": formatAmount(e.Amount),
		},
	}
}

type PriceUpdated struct {
	Ticker         string
	Market         crypto.Address
	Value          *big.Int
	FractionDigits uint32
	Height         uint64
}

func (PriceUpdated) EventType() string { return TypePriceUpdated }

func (e PriceUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePriceUpdated,
		Attributes: map[string]string{
			"ticker":          e.Ticker,
			"market":          e.Market.String(),
			"value":           formatAmount(e.Value),
			"fraction_digits": strconv.FormatUint(uint64(e.FractionDigits), 10),
			"height":          strconv.FormatUint(e.Height, 10),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
