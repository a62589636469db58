package market

import (
	"math/big"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/common"
	"github.com/omomo-finance/omomo-protocol-sub001/native/ratio"
)

// ControllerClient is the market's view of the protocol controller. Every
// call is a cross-contract boundary: it can fail independently of the
// market's own state, and the saga machinery treats each one as a suspension
// point with an explicit compensation.
type ControllerClient interface {
	IncreaseSupplies(caller, account crypto.Address, amount *big.Int) error
	DecreaseSupplies(caller, account crypto.Address, amount *big.Int) error
	IncreaseBorrows(caller, account crypto.Address, amount *big.Int) error
	DecreaseBorrows(caller, account crypto.Address, amount *big.Int) error
	BorrowedBalance(market, account crypto.Address) *big.Int
	CheckAccountHealth(account crypto.Address) error
	IsLiquidationAllowed(borrower, borrowingMarket crypto.Address, amount *big.Int) (*big.Int, error)
	SeizeAmount(borrowingMarket, collateralMarket crypto.Address, repay *big.Int) (*big.Int, error)
	LiquidationRepayAndSwap(caller, borrower, liquidator, collateralMarket crypto.Address, repay, seize *big.Int) error
	SetAccountConsistency(caller, account crypto.Address, blocked bool) error
	IsBlocked(account crypto.Address) bool
	IsBorrowAllowlisted(market, account crypto.Address) bool
	UpdateRates(caller crypto.Address, borrow, supply ratio.Ratio) error
	IsPaused(action common.Action) bool
}

// Seizer moves already-settled collateral receipt tokens between accounts on
// another market after a liquidation. The controller has swapped the supplies
// by the time this runs; only the token balances follow.
type Seizer interface {
	SeizeReceipts(from, to crypto.Address, amount *big.Int) error
}

// MarketResolver maps a market principal to its Seizer, for cross-market
// liquidation settlement.
type MarketResolver func(crypto.Address) Seizer
