package controller

import (
	"errors"
	"math"
	"math/big"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/ratio"
)

// MaxHealthFactor is reported for accounts with no outstanding debt.
var MaxHealthFactor = ratio.FromRaw(math.MaxUint64)

// HealthFactor computes weighted collateral value over debt value across
// every market the account touches, using cached oracle prices. Any market
// holding a nonzero position without a cached price fails the whole
// computation; a stale valuation must never admit a borrow or a liquidation.
func (c *Controller) HealthFactor(account crypto.Address) (ratio.Ratio, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := accountKey(account)
	hf, err := c.healthFactorLocked(key)
	if err == nil {
		c.metrics.ObserveHealthFactor(key, hf.Float64())
	}
	return hf, err
}

func (c *Controller) healthFactorLocked(account string) (ratio.Ratio, error) {
	collateral := big.NewInt(0)
	debt := big.NewInt(0)
	for market := range c.markets {
		accounts, ok := c.balances[market]
		if !ok {
			continue
		}
		bal, ok := accounts[account]
		if !ok {
			continue
		}
		if bal.Supplied.Sign() == 0 && bal.Borrowed.Sign() == 0 {
			continue
		}
		price, err := c.priceLocked(market)
		if err != nil {
			return ratio.Zero(), err
		}
		collateral.Add(collateral, valueOf(bal.Supplied, price))
		owed := new(big.Int).Add(bal.Borrowed, c.pendingInterestLocked(market, account, bal))
		debt.Add(debt, valueOf(owed, price))
	}
	if debt.Sign() == 0 {
		return MaxHealthFactor, nil
	}
	weighted, err := c.params.LiquidationThreshold.MulInt(collateral)
	if err != nil {
		return ratio.Zero(), err
	}
	hf, err := ratio.FromFraction(weighted, debt)
	if errors.Is(err, ratio.ErrOverflow) || errors.Is(err, ratio.ErrOutOfRange) {
		return MaxHealthFactor, nil
	}
	if err != nil {
		return ratio.Zero(), err
	}
	return hf, nil
}

// ErrUnhealthy rejects an operation that would leave an account eligible for
// liquidation.
var ErrUnhealthy = errors.New("health factor below threshold")

// CheckAccountHealth fails when the account's health factor sits at or below
// the liquidation boundary. Markets call it after provisional balance
// mutations to decide whether to commit or compensate.
func (c *Controller) CheckAccountHealth(account crypto.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := accountKey(account)
	hf, err := c.healthFactorLocked(key)
	if err != nil {
		return err
	}
	c.metrics.ObserveHealthFactor(key, hf.Float64())
	if hf.Cmp(c.params.HealthFactorThreshold) <= 0 {
		return ErrUnhealthy
	}
	return nil
}

// IsLiquidationAllowed checks liquidation eligibility for the borrower and
// returns the permitted repay amount. The amount passes through unclamped;
// markets bound it against the borrower's actual debt themselves.
func (c *Controller) IsLiquidationAllowed(borrower, borrowingMarket crypto.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.markets[marketKey(borrowingMarket)]; !ok {
		return nil, errUnknownMarket
	}
	hf, err := c.healthFactorLocked(accountKey(borrower))
	if err != nil {
		return nil, err
	}
	if hf.Cmp(c.params.HealthFactorThreshold) > 0 {
		return nil, errNotLiquidatable
	}
	return new(big.Int).Set(amount), nil
}

// SeizeAmount converts a repaid debt amount into the collateral receipt
// units owed to the liquidator, applying the liquidation incentive:
// seize = repay * price_borrowed / price_collateral * (1 + incentive).
func (c *Controller) SeizeAmount(borrowingMarket, collateralMarket crypto.Address, repay *big.Int) (*big.Int, error) {
	if repay == nil || repay.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	borrowPrice, err := c.priceLocked(marketKey(borrowingMarket))
	if err != nil {
		return nil, err
	}
	collateralPrice, err := c.priceLocked(marketKey(collateralMarket))
	if err != nil {
		return nil, err
	}
	if collateralPrice.Value.Sign() == 0 {
		return nil, errNoPrice
	}
	value := valueOf(repay, borrowPrice)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(collateralPrice.FractionDigits)), nil)
	seized := new(big.Int).Mul(value, scale)
	seized.Quo(seized, collateralPrice.Value)
	bonus, err := c.params.LiquidationIncentive.MulInt(seized)
	if err != nil {
		return nil, err
	}
	return seized.Add(seized, bonus), nil
}

// LiquidationRepayAndSwap settles a liquidation in one atomic step: the
// borrower's debt on the borrowing market shrinks by the repaid amount and
// the seized collateral receipt units move from the borrower's supplies to
// the liquidator's on the collateral market. Only the borrowing market may
// invoke it, after the repay transfer has already landed there.
func (c *Controller) LiquidationRepayAndSwap(caller, borrower, liquidator crypto.Address, collateralMarket crypto.Address, repay, seize *big.Int) error {
	if repay == nil || repay.Sign() <= 0 || seize == nil || seize.Sign() <= 0 {
		return errInvalidAmount
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, err := c.requireMarket(caller)
	if err != nil {
		return err
	}
	borrowing := marketKey(ref.Address)
	collateral := marketKey(collateralMarket)
	if _, ok := c.markets[collateral]; !ok {
		return errUnknownMarket
	}
	borrowerKey := accountKey(borrower)

	debtBal := c.balance(borrowing, borrowerKey)
	// Fold interest first so a repay covering accrued interest passes the
	// debt bound. The fold itself is always-correct bookkeeping, safe to
	// keep even when a later check aborts the swap.
	if err := c.accrueFor(borrowing, borrowerKey, debtBal); err != nil {
		return err
	}
	if debtBal.Borrowed.Cmp(repay) < 0 {
		return errTooMuchBorrowed
	}
	collateralBal := c.balance(collateral, borrowerKey)
	if collateralBal.Supplied.Cmp(seize) < 0 {
		return errNotEnoughSupplies
	}

	debtBal.Borrowed = new(big.Int).Sub(debtBal.Borrowed, repay)
	collateralBal.Supplied = new(big.Int).Sub(collateralBal.Supplied, seize)
	liquidatorBal := c.balance(collateral, accountKey(liquidator))
	liquidatorBal.Supplied = new(big.Int).Add(liquidatorBal.Supplied, seize)
	return nil
}
