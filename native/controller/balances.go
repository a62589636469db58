package controller

import (
	"math/big"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/interest"
)

func (c *Controller) balance(market, account string) *Balance {
	accounts, ok := c.balances[market]
	if !ok {
		accounts = make(map[string]*Balance)
		c.balances[market] = accounts
	}
	bal, ok := accounts[account]
	if !ok {
		bal = newBalance()
		accounts[account] = bal
	}
	return bal
}

// accrueFor folds pending borrow interest into the account's debt before any
// balance mutation touches it. The accrued record keeps the cumulative
// interest ever charged; the delta since the last fold joins Borrowed so
// interest collateralises health checks and is repayable like principal.
// Accrual is idempotent within a block, so repeated mutations at one height
// fold interest exactly once.
func (c *Controller) accrueFor(market, account string, bal *Balance) error {
	records, ok := c.accrued[market]
	if !ok {
		records = make(map[string]interest.Accrued)
		c.accrued[market] = records
	}
	prev, ok := records[account]
	if !ok {
		prev = interest.Accrued{LastBlock: c.height, Amount: big.NewInt(0)}
	}
	next, err := interest.Accrue(prev, bal.Borrowed, c.rates[market].Borrow, c.height)
	if err != nil {
		return err
	}
	if delta := new(big.Int).Sub(next.Amount, prev.Amount); delta.Sign() > 0 {
		bal.Borrowed = new(big.Int).Add(bal.Borrowed, delta)
	}
	records[account] = next
	return nil
}

// pendingInterestLocked computes the interest accrued since the account's
// last fold without mutating anything. Read paths add it to Borrowed so
// views and health checks price the debt as of the current block.
func (c *Controller) pendingInterestLocked(market, account string, bal *Balance) *big.Int {
	prev, ok := c.accrued[market][account]
	if !ok {
		return big.NewInt(0)
	}
	next, err := interest.Accrue(prev, bal.Borrowed, c.rates[market].Borrow, c.height)
	if err != nil {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(next.Amount, prev.Amount)
}

// IncreaseSupplies credits receipt-token units to the account's supplied
// balance on the calling market.
func (c *Controller) IncreaseSupplies(caller, account crypto.Address, amount *big.Int) error {
	return c.mutate(caller, account, amount, func(bal *Balance, amt *big.Int) error {
		bal.Supplied = new(big.Int).Add(bal.Supplied, amt)
		return nil
	})
}

// DecreaseSupplies debits receipt-token units from the account's supplied
// balance on the calling market.
func (c *Controller) DecreaseSupplies(caller, account crypto.Address, amount *big.Int) error {
	return c.mutate(caller, account, amount, func(bal *Balance, amt *big.Int) error {
		if bal.Supplied.Cmp(amt) < 0 {
			return errNotEnoughSupplies
		}
		bal.Supplied = new(big.Int).Sub(bal.Supplied, amt)
		return nil
	})
}

// IncreaseBorrows records new debt for the account on the calling market.
func (c *Controller) IncreaseBorrows(caller, account crypto.Address, amount *big.Int) error {
	return c.mutate(caller, account, amount, func(bal *Balance, amt *big.Int) error {
		bal.Borrowed = new(big.Int).Add(bal.Borrowed, amt)
		return nil
	})
}

// DecreaseBorrows retires debt for the account on the calling market.
func (c *Controller) DecreaseBorrows(caller, account crypto.Address, amount *big.Int) error {
	return c.mutate(caller, account, amount, func(bal *Balance, amt *big.Int) error {
		if bal.Borrowed.Cmp(amt) < 0 {
			return errTooMuchBorrowed
		}
		bal.Borrowed = new(big.Int).Sub(bal.Borrowed, amt)
		return nil
	})
}

func (c *Controller) mutate(caller, account crypto.Address, amount *big.Int, apply func(*Balance, *big.Int) error) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, err := c.requireMarket(caller)
	if err != nil {
		return err
	}
	market := marketKey(ref.Address)
	bal := c.balance(market, accountKey(account))
	if err := c.accrueFor(market, accountKey(account), bal); err != nil {
		return err
	}
	return apply(bal, amount)
}

// SuppliedBalance returns the account's supplied receipt-token units on one
// market. A zero balance is returned for unknown accounts.
func (c *Controller) SuppliedBalance(market, account crypto.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if accounts, ok := c.balances[marketKey(market)]; ok {
		if bal, ok := accounts[accountKey(account)]; ok {
			return new(big.Int).Set(bal.Supplied)
		}
	}
	return big.NewInt(0)
}

// BorrowedBalance returns the account's outstanding debt on one market,
// including interest accrued since the last balance mutation. Repay flows
// cap against this figure; the pending portion folds into Borrowed when
// the retiring mutation lands at the same height.
func (c *Controller) BorrowedBalance(market, account crypto.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	mk := marketKey(market)
	ak := accountKey(account)
	if accounts, ok := c.balances[mk]; ok {
		if bal, ok := accounts[ak]; ok {
			out := new(big.Int).Set(bal.Borrowed)
			return out.Add(out, c.pendingInterestLocked(mk, ak, bal))
		}
	}
	return big.NewInt(0)
}

// AccruedInterest returns the folded borrow interest recorded for the
// account on one market.
func (c *Controller) AccruedInterest(market, account crypto.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if records, ok := c.accrued[marketKey(market)]; ok {
		if rec, ok := records[accountKey(account)]; ok && rec.Amount != nil {
			return new(big.Int).Set(rec.Amount)
		}
	}
	return big.NewInt(0)
}
