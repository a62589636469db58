package controller

import (
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/omomo-finance/omomo-protocol-sub001/core/events"
	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/common"
	"github.com/omomo-finance/omomo-protocol-sub001/native/interest"
	"github.com/omomo-finance/omomo-protocol-sub001/native/ratio"
)

var (
	errUnauthorized      = errors.New("controller: caller is not the admin")
	errNotMarket         = errors.New("controller: caller is not a registered market")
	errUnknownMarket     = errors.New("controller: market not registered")
	errDuplicateMarket   = errors.New("controller: market already registered")
	errInvalidAmount     = errors.New("amount should be a positive number")
	errNotEnoughSupplies = errors.New("Not enough existing supplies")
	errTooMuchBorrowed   = errors.New("Too much borrowed assets trying to pay out")
	errNoPrice           = errors.New("controller: no cached price for market")
	errNotLiquidatable   = errors.New("can't be liquidated")
	errReserveFactor     = errors.New("Reserve factor should be less than 1.0")
	errCorruptSnapshot   = errors.New("controller: corrupt state snapshot")
)

// Exported sentinels callers branch on.
var (
	ErrNotEnoughSupplies = errNotEnoughSupplies
	ErrTooMuchBorrowed   = errTooMuchBorrowed
	ErrNotLiquidatable   = errNotLiquidatable
	ErrNoPrice           = errNoPrice
	ErrInvalidAmount     = errInvalidAmount
	ErrUnauthorized      = errUnauthorized
	ErrUnknownMarket     = errUnknownMarket
)

// Params groups the protocol-wide risk policy.
type Params struct {
	// ReserveFactor is the default interest share routed to reserves.
	ReserveFactor ratio.Ratio
	// LiquidationThreshold weights collateral value in the health factor.
	LiquidationThreshold ratio.Ratio
	// LiquidationIncentive is the collateral bonus granted to liquidators.
	LiquidationIncentive ratio.Ratio
	// HealthFactorThreshold is the eligibility boundary for liquidation.
	HealthFactorThreshold ratio.Ratio
}

// MarketRef is a registry entry binding a price ticker to a market contract.
type MarketRef struct {
	Ticker         string
	Asset          string
	Address        crypto.Address
	FractionDigits uint32
}

// Balance is the per-account position on one market. Supplied is denominated
// in receipt-token units, Borrowed in underlying-asset units.
type Balance struct {
	Supplied *big.Int
	Borrowed *big.Int
}

func newBalance() *Balance {
	return &Balance{Supplied: big.NewInt(0), Borrowed: big.NewInt(0)}
}

// Rates is the per-market rate pair pushed by markets after each accrual.
type Rates struct {
	Borrow ratio.Ratio
	Supply ratio.Ratio
}

// Controller is the protocol's accounting authority: market registry, price
// cache, per-account balances per market, accrued-interest records, pause
// flags and risk parameters. Markets mutate balances only through the
// dedicated increase/decrease entry points; each performs its bounds check
// and mutation within a single call, so the race surface is entirely between
// chained saga steps, never inside one.
type Controller struct {
	mu sync.Mutex

	self   crypto.Address
	admin  crypto.Address
	oracle crypto.Address
	params Params

	pauses  map[common.Action]bool
	markets map[string]MarketRef // keyed by market principal
	tickers map[string]string    // ticker -> market principal key

	balances  map[string]map[string]*Balance // market -> account
	accrued   map[string]map[string]interest.Accrued
	rates     map[string]Rates
	prices    map[string]Price
	blocked   map[string]bool
	allowlist map[string]map[string]bool // market -> accounts borrowing uncollateralized

	height  uint64
	emitter events.Emitter
	metrics Metrics
}

// Metrics receives controller-side observability signals. The prometheus
// registry in observability/metrics satisfies it.
type Metrics interface {
	PriceUpdated(ticker string)
	ObserveHealthFactor(account string, value float64)
}

// NoopMetrics discards all signals.
type NoopMetrics struct{}

func (NoopMetrics) PriceUpdated(string)                 {}
func (NoopMetrics) ObserveHealthFactor(string, float64) {}

func New(self, admin, oracle crypto.Address, params Params) *Controller {
	return &Controller{
		self:      self,
		admin:     admin,
		oracle:    oracle,
		params:    params,
		pauses:    make(map[common.Action]bool),
		markets:   make(map[string]MarketRef),
		tickers:   make(map[string]string),
		balances:  make(map[string]map[string]*Balance),
		accrued:   make(map[string]map[string]interest.Accrued),
		rates:     make(map[string]Rates),
		prices:    make(map[string]Price),
		blocked:   make(map[string]bool),
		allowlist: make(map[string]map[string]bool),
		emitter:   events.NoopEmitter{},
		metrics:   NoopMetrics{},
	}
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (c *Controller) SetEmitter(emitter events.Emitter) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

// SetMetrics configures the metrics sink. Passing nil resets to a no-op.
func (c *Controller) SetMetrics(metrics Metrics) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if metrics == nil {
		c.metrics = NoopMetrics{}
		return
	}
	c.metrics = metrics
}

// SetBlockHeight records the height used for accrual deltas and price stamps.
func (c *Controller) SetBlockHeight(height uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if height > c.height {
		c.height = height
	}
}

// Height returns the latest block height the controller has seen.
func (c *Controller) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Address returns the controller's own principal.
func (c *Controller) Address() crypto.Address { return c.self }

func (c *Controller) requireAdmin(caller crypto.Address) error {
	// Privileged self-calls originate from cross-contract continuations.
	if caller.Equal(c.admin) || caller.Equal(c.self) {
		return nil
	}
	return errUnauthorized
}

func (c *Controller) requireMarket(caller crypto.Address) (MarketRef, error) {
	if ref, ok := c.markets[marketKey(caller)]; ok {
		return ref, nil
	}
	if caller.Equal(c.self) {
		return MarketRef{Address: c.self}, nil
	}
	return MarketRef{}, errNotMarket
}

// AddMarket registers a market contract under its price ticker.
func (c *Controller) AddMarket(caller crypto.Address, ref MarketRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	ref.Ticker = strings.ToUpper(strings.TrimSpace(ref.Ticker))
	if ref.Ticker == "" {
		return errors.New("controller: market ticker required")
	}
	key := marketKey(ref.Address)
	if _, ok := c.markets[key]; ok {
		return errDuplicateMarket
	}
	c.markets[key] = ref
	c.tickers[ref.Ticker] = key
	return nil
}

// RemoveMarket drops a registry entry. Balances for the market are retained;
// only new operations are cut off.
func (c *Controller) RemoveMarket(caller, market crypto.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	key := marketKey(market)
	ref, ok := c.markets[key]
	if !ok {
		return errUnknownMarket
	}
	delete(c.markets, key)
	delete(c.tickers, ref.Ticker)
	return nil
}

// SetPaused toggles one action's pause flag.
func (c *Controller) SetPaused(caller crypto.Address, action common.Action, paused bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	if !action.Valid() {
		return errors.New("controller: unknown action")
	}
	c.pauses[action] = paused
	return nil
}

// IsPaused implements common.PauseView.
func (c *Controller) IsPaused(action common.Action) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauses[action]
}

// SetAdmin rotates the admin principal.
func (c *Controller) SetAdmin(caller, admin crypto.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	c.admin = admin
	return nil
}

// Admin returns the configured admin principal.
func (c *Controller) Admin() crypto.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.admin
}

// SetOracle rotates the oracle principal permitted to push prices.
func (c *Controller) SetOracle(caller, oracle crypto.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	c.oracle = oracle
	return nil
}

// SetReserveFactor updates the default reserve factor.
func (c *Controller) SetReserveFactor(caller crypto.Address, factor ratio.Ratio) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	if factor.Cmp(ratio.One()) > 0 {
		return errReserveFactor
	}
	c.params.ReserveFactor = factor
	return nil
}

// SetLiquidationIncentive updates the liquidator collateral bonus.
func (c *Controller) SetLiquidationIncentive(caller crypto.Address, incentive ratio.Ratio) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	c.params.LiquidationIncentive = incentive
	return nil
}

// SetHealthFactorThreshold updates the liquidation eligibility boundary.
func (c *Controller) SetHealthFactorThreshold(caller crypto.Address, threshold ratio.Ratio) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	c.params.HealthFactorThreshold = threshold
	return nil
}

// Params returns a copy of the current risk parameters.
func (c *Controller) Params() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// UpdateRates records the market's current rate pair, used when folding
// accrued interest into account records.
func (c *Controller) UpdateRates(caller crypto.Address, borrow, supply ratio.Ratio) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, err := c.requireMarket(caller)
	if err != nil {
		return err
	}
	c.rates[marketKey(ref.Address)] = Rates{Borrow: borrow, Supply: supply}
	return nil
}

// SetAccountConsistency marks an account as blocked or unblocked for
// consistency repair after a failed continuation chain.
func (c *Controller) SetAccountConsistency(caller, account crypto.Address, blocked bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.requireMarket(caller); err != nil {
		if adminErr := c.requireAdmin(caller); adminErr != nil {
			return err
		}
	}
	key := accountKey(account)
	if blocked {
		c.blocked[key] = true
		return nil
	}
	delete(c.blocked, key)
	return nil
}

// SetBorrowAllowlisted manages the per-market uncollateralized borrow set.
// Allowlisted accounts skip the collateral admission check when borrowing.
func (c *Controller) SetBorrowAllowlisted(caller, market, account crypto.Address, allowed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	key := marketKey(market)
	if _, ok := c.markets[key]; !ok {
		return errUnknownMarket
	}
	accounts, ok := c.allowlist[key]
	if !ok {
		accounts = make(map[string]bool)
		c.allowlist[key] = accounts
	}
	if allowed {
		accounts[accountKey(account)] = true
		return nil
	}
	delete(accounts, accountKey(account))
	return nil
}

// IsBorrowAllowlisted reports whether the account may borrow on the market
// without collateral backing.
func (c *Controller) IsBorrowAllowlisted(market, account crypto.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if accounts, ok := c.allowlist[marketKey(market)]; ok {
		return accounts[accountKey(account)]
	}
	return false
}

// IsBlocked reports the account consistency flag.
func (c *Controller) IsBlocked(account crypto.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocked[accountKey(account)]
}

func marketKey(addr crypto.Address) string  { return addr.String() }
func accountKey(addr crypto.Address) string { return addr.String() }
