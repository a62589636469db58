package controller

import (
	"errors"
	"math/big"
	"strings"

	"github.com/omomo-finance/omomo-protocol-sub001/core/events"
	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
)

var errNotOracle = errors.New("controller: caller is not the oracle")

// ErrNotOracle rejects price pushes from anyone but the registered feed.
var ErrNotOracle = errNotOracle

// Price is one cached oracle observation for a market's underlying asset.
type Price struct {
	Ticker         string
	Value          *big.Int
	FractionDigits uint32
	// Volatility is the feed's reported deviation, in percent.
	Volatility uint32
	// UpdatedAt is the block height of the last accepted push.
	UpdatedAt uint64
}

// OnPriceData ingests an oracle batch. Only the configured oracle principal
// may push. Tickers with no registered market are skipped without error, so
// one shared feed can serve several deployments with different market sets.
func (c *Controller) OnPriceData(caller crypto.Address, batch []Price) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !caller.Equal(c.oracle) {
		return errNotOracle
	}
	for _, price := range batch {
		ticker := strings.ToUpper(strings.TrimSpace(price.Ticker))
		key, ok := c.tickers[ticker]
		if !ok {
			continue
		}
		if price.Value == nil || price.Value.Sign() <= 0 {
			continue
		}
		stored := Price{
			Ticker:         ticker,
			Value:          new(big.Int).Set(price.Value),
			FractionDigits: price.FractionDigits,
			Volatility:     price.Volatility,
			UpdatedAt:      c.height,
		}
		c.prices[key] = stored
		c.metrics.PriceUpdated(ticker)
		c.emitter.Emit(events.PriceUpdated{
			Ticker:         ticker,
			Market:         c.markets[key].Address,
			Value:          new(big.Int).Set(stored.Value),
			FractionDigits: stored.FractionDigits,
			Height:         c.height,
		})
	}
	return nil
}

// GetPrice returns the cached price for a market.
func (c *Controller) GetPrice(market crypto.Address) (Price, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.priceLocked(marketKey(market))
}

func (c *Controller) priceLocked(market string) (Price, error) {
	price, ok := c.prices[market]
	if !ok {
		return Price{}, errNoPrice
	}
	copied := price
	copied.Value = new(big.Int).Set(price.Value)
	return copied, nil
}

// GetPrices returns the cached prices for the requested tickers, skipping
// tickers with no cached observation.
func (c *Controller) GetPrices(tickers []string) []Price {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Price, 0, len(tickers))
	for _, ticker := range tickers {
		key, ok := c.tickers[strings.ToUpper(strings.TrimSpace(ticker))]
		if !ok {
			continue
		}
		price, err := c.priceLocked(key)
		if err != nil {
			continue
		}
		out = append(out, price)
	}
	return out
}

// valueOf converts an asset amount to its price-denominated value, truncating
// toward zero: amount * price / 10^fractionDigits.
func valueOf(amount *big.Int, price Price) *big.Int {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(price.FractionDigits)), nil)
	value := new(big.Int).Mul(amount, price.Value)
	return value.Quo(value, scale)
}
