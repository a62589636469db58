package interest

import (
	"errors"
	"math/big"

	"github.com/omomo-finance/omomo-protocol-sub001/native/ratio"
)

var (
	ErrZeroDenominator  = errors.New("interest model: cash + borrows - reserves is zero")
	ErrReserveFactor    = errors.New("interest model: reserve factor should be less than 1.0")
	ErrNegativeInput    = errors.New("interest model: amounts must be non-negative")
	ErrReservesExceeded = errors.New("interest model: reserves exceed cash + borrows")
)

// Model is the kinked rate curve shared by every market: linear in
// utilization up to the kink, with an additional jump-multiplier slope above
// it so the cost of capital rises sharply near full utilization.
type Model struct {
	// Kink is the utilization point where the slope changes.
	Kink ratio.Ratio
	// BaseRate is the per-block borrow rate at zero utilization.
	BaseRate ratio.Ratio
	// Multiplier scales utilization below the kink.
	Multiplier ratio.Ratio
	// JumpMultiplier scales the excess utilization above the kink.
	JumpMultiplier ratio.Ratio
	// ReserveFactor is the interest fraction retained as protocol reserve.
	ReserveFactor ratio.Ratio
}

// Clone returns a copy of the model. Ratio values are immutable so a shallow
// copy suffices.
func (m Model) Clone() Model { return m }

// Utilization computes borrows / (cash + borrows - reserves). The denominator
// reaching zero is a checked invariant violation, never a silent zero.
func (m Model) Utilization(cash, borrows, reserves *big.Int) (ratio.Ratio, error) {
	cash = orZero(cash)
	borrows = orZero(borrows)
	reserves = orZero(reserves)
	if cash.Sign() < 0 || borrows.Sign() < 0 || reserves.Sign() < 0 {
		return ratio.Zero(), ErrNegativeInput
	}
	denom := new(big.Int).Add(cash, borrows)
	denom.Sub(denom, reserves)
	if denom.Sign() < 0 {
		return ratio.Zero(), ErrReservesExceeded
	}
	if denom.Sign() == 0 {
		return ratio.Zero(), ErrZeroDenominator
	}
	return ratio.FromFraction(borrows, denom)
}

// BorrowRate derives the per-block borrow rate from current utilization:
//
//	min(util, kink)*multiplier + max(0, util-kink)*jumpMultiplier + baseRate
func (m Model) BorrowRate(cash, borrows, reserves *big.Int) (ratio.Ratio, error) {
	util, err := m.Utilization(cash, borrows, reserves)
	if err != nil {
		return ratio.Zero(), err
	}
	return m.borrowRateAt(util)
}

func (m Model) borrowRateAt(util ratio.Ratio) (ratio.Ratio, error) {
	below := ratio.Min(util, m.Kink)
	rate, err := below.Mul(m.Multiplier)
	if err != nil {
		return ratio.Zero(), err
	}
	if util.Cmp(m.Kink) > 0 {
		excess, err := util.Sub(m.Kink)
		if err != nil {
			return ratio.Zero(), err
		}
		jump, err := excess.Mul(m.JumpMultiplier)
		if err != nil {
			return ratio.Zero(), err
		}
		rate, err = rate.Add(jump)
		if err != nil {
			return ratio.Zero(), err
		}
	}
	return rate.Add(m.BaseRate)
}

// SupplyRate is utilization * borrowRate * (1 - reserveFactor).
func (m Model) SupplyRate(cash, borrows, reserves *big.Int) (ratio.Ratio, error) {
	if m.ReserveFactor.Cmp(ratio.One()) > 0 {
		return ratio.Zero(), ErrReserveFactor
	}
	util, err := m.Utilization(cash, borrows, reserves)
	if err != nil {
		return ratio.Zero(), err
	}
	borrowRate, err := m.borrowRateAt(util)
	if err != nil {
		return ratio.Zero(), err
	}
	toPool, err := ratio.One().Sub(m.ReserveFactor)
	if err != nil {
		return ratio.Zero(), err
	}
	rate, err := util.Mul(borrowRate)
	if err != nil {
		return ratio.Zero(), err
	}
	return rate.Mul(toPool)
}

// Accrued tracks accumulated interest for one account on one market.
type Accrued struct {
	// LastBlock is the height of the previous recalculation.
	LastBlock uint64
	// Amount is the accumulated interest, monotonically non-decreasing until
	// explicitly reset after a claim.
	Amount *big.Int
}

// Accrue folds the elapsed-block interest into the record:
//
//	amount += totalBorrow * rate * (currentBlock - lastBlock)
//
// Calling twice at the same height is idempotent: zero elapsed blocks add
// zero interest.
func Accrue(prev Accrued, totalBorrow *big.Int, rate ratio.Ratio, currentBlock uint64) (Accrued, error) {
	next := Accrued{LastBlock: prev.LastBlock, Amount: orZero(prev.Amount)}
	if currentBlock <= prev.LastBlock {
		return next, nil
	}
	elapsed := currentBlock - prev.LastBlock
	perBlock, err := rate.MulInt(orZero(totalBorrow))
	if err != nil {
		return Accrued{}, err
	}
	delta := new(big.Int).Mul(perBlock, new(big.Int).SetUint64(elapsed))
	next.Amount = new(big.Int).Add(next.Amount, delta)
	next.LastBlock = currentBlock
	return next, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
