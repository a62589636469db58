package controller

import (
	"math/big"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/common"
	"github.com/omomo-finance/omomo-protocol-sub001/native/interest"
	"github.com/omomo-finance/omomo-protocol-sub001/state"
	"github.com/omomo-finance/omomo-protocol-sub001/storage"
)

// SnapshotVersion tags the persisted controller record shape.
const SnapshotVersion uint32 = 1

var snapshotKey = []byte("controller/state")

// SnapshotKey exposes the storage key so startup migration can target the
// record before the controller loads it.
func SnapshotKey() []byte { return snapshotKey }

type snapshotBalance struct {
	Supplied string `json:"supplied"`
	Borrowed string `json:"borrowed"`
}

type snapshotAccrued struct {
	LastBlock uint64 `json:"lastBlock"`
	Amount    string `json:"amount"`
}

type snapshotMarket struct {
	Ticker         string `json:"ticker"`
	Asset          string `json:"asset"`
	Address        string `json:"address"`
	FractionDigits uint32 `json:"fractionDigits"`
}

type snapshotPrice struct {
	Ticker         string `json:"ticker"`
	Value          string `json:"value"`
	FractionDigits uint32 `json:"fractionDigits"`
	Volatility     uint32 `json:"volatility"`
	UpdatedAt      uint64 `json:"updatedAt"`
}

type snapshot struct {
	Admin     string                                `json:"admin"`
	Oracle    string                                `json:"oracle"`
	Height    uint64                                `json:"height"`
	Pauses    map[string]bool                       `json:"pauses,omitempty"`
	Markets   map[string]snapshotMarket             `json:"markets,omitempty"`
	Balances  map[string]map[string]snapshotBalance `json:"balances,omitempty"`
	Accrued   map[string]map[string]snapshotAccrued `json:"accrued,omitempty"`
	Prices    map[string]snapshotPrice              `json:"prices,omitempty"`
	Blocked   []string                              `json:"blocked,omitempty"`
	Allowlist map[string][]string                   `json:"allowlist,omitempty"`
}

// Save persists the controller state as a versioned record.
func (c *Controller) Save(db storage.Database) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := snapshot{
		Admin:     c.admin.String(),
		Oracle:    c.oracle.String(),
		Height:    c.height,
		Pauses:    make(map[string]bool, len(c.pauses)),
		Markets:   make(map[string]snapshotMarket, len(c.markets)),
		Balances:  make(map[string]map[string]snapshotBalance, len(c.balances)),
		Accrued:   make(map[string]map[string]snapshotAccrued, len(c.accrued)),
		Prices:    make(map[string]snapshotPrice, len(c.prices)),
		Allowlist: make(map[string][]string, len(c.allowlist)),
	}
	for action, paused := range c.pauses {
		if paused {
			snap.Pauses[string(action)] = true
		}
	}
	for key, ref := range c.markets {
		snap.Markets[key] = snapshotMarket{
			Ticker:         ref.Ticker,
			Asset:          ref.Asset,
			Address:        ref.Address.String(),
			FractionDigits: ref.FractionDigits,
		}
	}
	for market, accounts := range c.balances {
		out := make(map[string]snapshotBalance, len(accounts))
		for account, bal := range accounts {
			if bal.Supplied.Sign() == 0 && bal.Borrowed.Sign() == 0 {
				continue
			}
			out[account] = snapshotBalance{
				Supplied: bal.Supplied.String(),
				Borrowed: bal.Borrowed.String(),
			}
		}
		if len(out) > 0 {
			snap.Balances[market] = out
		}
	}
	for market, records := range c.accrued {
		out := make(map[string]snapshotAccrued, len(records))
		for account, rec := range records {
			if rec.Amount == nil || rec.Amount.Sign() == 0 {
				continue
			}
			out[account] = snapshotAccrued{LastBlock: rec.LastBlock, Amount: rec.Amount.String()}
		}
		if len(out) > 0 {
			snap.Accrued[market] = out
		}
	}
	for market, price := range c.prices {
		snap.Prices[market] = snapshotPrice{
			Ticker:         price.Ticker,
			Value:          price.Value.String(),
			FractionDigits: price.FractionDigits,
			Volatility:     price.Volatility,
			UpdatedAt:      price.UpdatedAt,
		}
	}
	for account := range c.blocked {
		snap.Blocked = append(snap.Blocked, account)
	}
	for market, accounts := range c.allowlist {
		for account, allowed := range accounts {
			if allowed {
				snap.Allowlist[market] = append(snap.Allowlist[market], account)
			}
		}
	}
	return state.Save(db, snapshotKey, SnapshotVersion, snap)
}

// Load restores controller state from storage. A missing record leaves the
// freshly constructed controller untouched.
func (c *Controller) Load(db storage.Database) error {
	var snap snapshot
	if err := state.Load(db, snapshotKey, SnapshotVersion, &snap); err != nil {
		if err == state.ErrNoRecord {
			return nil
		}
		return err
	}
	admin, err := crypto.DecodeAddress(snap.Admin)
	if err != nil {
		return err
	}
	oracle, err := crypto.DecodeAddress(snap.Oracle)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.admin = admin
	c.oracle = oracle
	c.height = snap.Height
	c.pauses = make(map[common.Action]bool)
	for action, paused := range snap.Pauses {
		c.pauses[common.Action(action)] = paused
	}
	c.markets = make(map[string]MarketRef, len(snap.Markets))
	c.tickers = make(map[string]string, len(snap.Markets))
	for key, entry := range snap.Markets {
		addr, err := crypto.DecodeAddress(entry.Address)
		if err != nil {
			return err
		}
		ref := MarketRef{
			Ticker:         entry.Ticker,
			Asset:          entry.Asset,
			Address:        addr,
			FractionDigits: entry.FractionDigits,
		}
		c.markets[key] = ref
		c.tickers[ref.Ticker] = key
	}
	c.balances = make(map[string]map[string]*Balance, len(snap.Balances))
	for market, accounts := range snap.Balances {
		out := make(map[string]*Balance, len(accounts))
		for account, entry := range accounts {
			supplied, ok := new(big.Int).SetString(entry.Supplied, 10)
			if !ok {
				return errCorruptSnapshot
			}
			borrowed, ok := new(big.Int).SetString(entry.Borrowed, 10)
			if !ok {
				return errCorruptSnapshot
			}
			out[account] = &Balance{Supplied: supplied, Borrowed: borrowed}
		}
		c.balances[market] = out
	}
	c.accrued = make(map[string]map[string]interest.Accrued, len(snap.Accrued))
	for market, records := range snap.Accrued {
		out := make(map[string]interest.Accrued, len(records))
		for account, entry := range records {
			amount, ok := new(big.Int).SetString(entry.Amount, 10)
			if !ok {
				return errCorruptSnapshot
			}
			out[account] = interest.Accrued{LastBlock: entry.LastBlock, Amount: amount}
		}
		c.accrued[market] = out
	}
	c.prices = make(map[string]Price, len(snap.Prices))
	for market, entry := range snap.Prices {
		value, ok := new(big.Int).SetString(entry.Value, 10)
		if !ok {
			return errCorruptSnapshot
		}
		c.prices[market] = Price{
			Ticker:         entry.Ticker,
			Value:          value,
			FractionDigits: entry.FractionDigits,
			Volatility:     entry.Volatility,
			UpdatedAt:      entry.UpdatedAt,
		}
	}
	c.blocked = make(map[string]bool, len(snap.Blocked))
	for _, account := range snap.Blocked {
		c.blocked[account] = true
	}
	c.allowlist = make(map[string]map[string]bool, len(snap.Allowlist))
	for market, accounts := range snap.Allowlist {
		set := make(map[string]bool, len(accounts))
		for _, account := range accounts {
			set[account] = true
		}
		c.allowlist[market] = set
	}
	return nil
}
