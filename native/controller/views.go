package controller

import (
	"math/big"
	"sort"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
)

// MarketInfo is the registry view of one market.
type MarketInfo struct {
	Ticker         string `json:"ticker"`
	Asset          string `json:"asset"`
	Address        string `json:"address"`
	FractionDigits uint32 `json:"fractionDigits"`
	Price          string `json:"price,omitempty"`
	PriceUpdatedAt uint64 `json:"priceUpdatedAt,omitempty"`
}

// PositionInfo is one account's position on one market.
type PositionInfo struct {
	Market   string `json:"market"`
	Ticker   string `json:"ticker"`
	Supplied string `json:"supplied"`
	Borrowed string `json:"borrowed"`
	Accrued  string `json:"accrued"`
}

// AccountInfo aggregates an account across every market it touches.
type AccountInfo struct {
	Account      string         `json:"account"`
	HealthFactor string         `json:"healthFactor,omitempty"`
	Blocked      bool           `json:"blocked,omitempty"`
	Positions    []PositionInfo `json:"positions"`
}

// Markets lists registered markets with their cached prices, sorted by ticker.
func (c *Controller) Markets() []MarketInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MarketInfo, 0, len(c.markets))
	for key, ref := range c.markets {
		info := MarketInfo{
			Ticker:         ref.Ticker,
			Asset:          ref.Asset,
			Address:        ref.Address.String(),
			FractionDigits: ref.FractionDigits,
		}
		if price, ok := c.prices[key]; ok {
			info.Price = price.Value.String()
			info.PriceUpdatedAt = price.UpdatedAt
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Account returns the aggregated position view for one account. The health
// factor field is left empty when any touched market lacks a cached price.
func (c *Controller) Account(account crypto.Address) AccountInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := accountKey(account)
	info := AccountInfo{
		Account:   key,
		Blocked:   c.blocked[key],
		Positions: make([]PositionInfo, 0),
	}
	for market, ref := range c.markets {
		accounts, ok := c.balances[market]
		if !ok {
			continue
		}
		bal, ok := accounts[key]
		if !ok || (bal.Supplied.Sign() == 0 && bal.Borrowed.Sign() == 0) {
			continue
		}
		owed := new(big.Int).Add(bal.Borrowed, c.pendingInterestLocked(market, key, bal))
		pos := PositionInfo{
			Market:   market,
			Ticker:   ref.Ticker,
			Supplied: bal.Supplied.String(),
			Borrowed: owed.String(),
			Accrued:  "0",
		}
		if records, ok := c.accrued[market]; ok {
			if rec, ok := records[key]; ok && rec.Amount != nil {
				pos.Accrued = rec.Amount.String()
			}
		}
		info.Positions = append(info.Positions, pos)
	}
	sort.Slice(info.Positions, func(i, j int) bool { return info.Positions[i].Ticker < info.Positions[j].Ticker })
	if hf, err := c.healthFactorLocked(key); err == nil {
		info.HealthFactor = hf.String()
	}
	return info
}
