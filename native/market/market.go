package market

import (
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"github.com/omomo-finance/omomo-protocol-sub001/core/events"
	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/interest"
	"github.com/omomo-finance/omomo-protocol-sub001/native/lock"
	"github.com/omomo-finance/omomo-protocol-sub001/native/ratio"
	"github.com/omomo-finance/omomo-protocol-sub001/native/token"
)

var (
	errNoController       = errors.New("market: controller client not configured")
	errNoTransport        = errors.New("market: token transport not configured")
	errInvalidAmount      = errors.New("amount should be a positive number")
	errNotEnoughLiquidity = errors.New("not enough liquidity in the market")
	errNotEnoughReceipts  = errors.New("not enough receipt tokens")
	errAccountBlocked     = errors.New("account requires consistency repair")
	errTransfersDisabled  = errors.New("receipt token transfers are disabled")
	errNothingToRepay     = errors.New("nothing to repay")
	errWrongMarket        = errors.New("liquidation sent to the wrong borrowing market")
	errMintTooSmall       = errors.New("supplied amount is too small to mint receipt tokens")
	errNoSeizer           = errors.New("no collateral market wired for receipt settlement")
	errCorruptSnapshot    = errors.New("market: corrupt state snapshot")
)

// Exported sentinels callers branch on.
var (
	ErrInvalidAmount      = errInvalidAmount
	ErrNotEnoughLiquidity = errNotEnoughLiquidity
	ErrNotEnoughReceipts  = errNotEnoughReceipts
	ErrAccountBlocked     = errAccountBlocked
	ErrTransfersDisabled  = errTransfersDisabled
	ErrNothingToRepay     = errNothingToRepay
)

// Config carries the static market parameters loaded from the deployment
// manifest.
type Config struct {
	Ticker         string
	Asset          string
	FractionDigits uint32
	Model          interest.Model
	// InitialExchangeRate applies while no receipt tokens exist.
	InitialExchangeRate ratio.Ratio
	// DisableTransfers forbids user-to-user receipt token transfers.
	DisableTransfers bool
	// LockTimeoutBlocks bounds how long a crashed flow can hold an account.
	LockTimeoutBlocks uint64
	// MarginEnabled admits Deposit transfers for the leverage-trading pool.
	MarginEnabled bool
}

func (c Config) withDefaults() Config {
	if c.InitialExchangeRate.IsZero() {
		c.InitialExchangeRate = ratio.One()
	}
	if c.LockTimeoutBlocks == 0 {
		c.LockTimeoutBlocks = lock.DefaultTimeoutBlocks
	}
	return c
}

// Market is one asset's lending pool: it owns the interest-bearing receipt
// token, tracks cash, borrows and reserves, and coordinates every multi-step
// flow against the controller with explicit compensations.
type Market struct {
	mu sync.Mutex

	self       crypto.Address
	cfg        Config
	controller ControllerClient
	transport  token.Transport
	resolve    MarketResolver
	locks      *lock.Mutex
	emitter    events.Emitter
	logger     *slog.Logger
	metrics    Metrics
	height     uint64

	balances       map[string]*big.Int
	receiptSupply  *big.Int
	cash           *big.Int
	totalBorrows   *big.Int
	totalReserves  *big.Int
	marginDeposits map[string]*big.Int
	accrued        interest.Accrued
}

func New(self crypto.Address, cfg Config, controller ControllerClient, transport token.Transport) *Market {
	cfg = cfg.withDefaults()
	return &Market{
		self:           self,
		cfg:            cfg,
		controller:     controller,
		transport:      transport,
		locks:          lock.NewMutex(cfg.LockTimeoutBlocks),
		emitter:        events.NoopEmitter{},
		logger:         slog.Default(),
		metrics:        NoopMetrics{},
		balances:       make(map[string]*big.Int),
		receiptSupply:  big.NewInt(0),
		cash:           big.NewInt(0),
		totalBorrows:   big.NewInt(0),
		totalReserves:  big.NewInt(0),
		marginDeposits: make(map[string]*big.Int),
		accrued:        interest.Accrued{Amount: big.NewInt(0)},
	}
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (m *Market) SetEmitter(emitter events.Emitter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

// SetLogger configures the structured logger.
func (m *Market) SetLogger(logger *slog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	m.logger = logger.With("market", m.cfg.Ticker)
}

// SetMetrics configures the operation metrics sink.
func (m *Market) SetMetrics(metrics Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if metrics == nil {
		m.metrics = NoopMetrics{}
		return
	}
	m.metrics = metrics
}

// SetMarketResolver wires cross-market liquidation settlement.
func (m *Market) SetMarketResolver(resolve MarketResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolve = resolve
}

// SetBlockHeight advances the market clock. Heights never move backwards.
func (m *Market) SetBlockHeight(height uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if height > m.height {
		m.height = height
	}
}

// Address returns the market's contract principal.
func (m *Market) Address() crypto.Address { return m.self }

// Ticker returns the market's price ticker.
func (m *Market) Ticker() string { return m.cfg.Ticker }

// Asset returns the underlying token identifier.
func (m *Market) Asset() string { return m.cfg.Asset }

func (m *Market) checkWiring() error {
	if m.controller == nil {
		return errNoController
	}
	if m.transport == nil {
		return errNoTransport
	}
	return nil
}

// accrueLocked folds pool-level borrow interest since the last touched block
// into total borrows and reserves, then pushes the refreshed rate pair to the
// controller. Rate push failures are logged, not fatal: stale per-account
// accrual is recoverable, a stuck market is not.
func (m *Market) accrueLocked() error {
	if m.accrued.LastBlock == m.height && m.accrued.Amount != nil {
		return nil
	}
	borrowRate, err := m.cfg.Model.BorrowRate(m.cash, m.totalBorrows, m.totalReserves)
	if err != nil {
		if errors.Is(err, interest.ErrZeroDenominator) {
			m.accrued.LastBlock = m.height
			return nil
		}
		return err
	}
	next, err := interest.Accrue(m.accrued, m.totalBorrows, borrowRate, m.height)
	if err != nil {
		return err
	}
	delta := new(big.Int).Sub(next.Amount, m.accrued.Amount)
	if delta.Sign() > 0 {
		m.totalBorrows = new(big.Int).Add(m.totalBorrows, delta)
		reserveCut, err := m.cfg.Model.ReserveFactor.MulInt(delta)
		if err != nil {
			return err
		}
		m.totalReserves = new(big.Int).Add(m.totalReserves, reserveCut)
	}
	m.accrued = next

	supplyRate, err := m.cfg.Model.SupplyRate(m.cash, m.totalBorrows, m.totalReserves)
	if err != nil {
		supplyRate = ratio.Zero()
	}
	if err := m.controller.UpdateRates(m.self, borrowRate, supplyRate); err != nil {
		m.logger.Warn("rate push failed", "error", err)
	}
	return nil
}

// exchangeRateLocked prices one receipt token in underlying units:
// (cash + borrows - reserves) / receipt supply, truncated toward zero.
func (m *Market) exchangeRateLocked() (ratio.Ratio, error) {
	if m.receiptSupply.Sign() == 0 {
		return m.cfg.InitialExchangeRate, nil
	}
	pool := new(big.Int).Add(m.cash, m.totalBorrows)
	pool.Sub(pool, m.totalReserves)
	return ratio.FromFraction(pool, m.receiptSupply)
}

// ExchangeRate returns the current receipt token price in underlying units.
func (m *Market) ExchangeRate() (ratio.Ratio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exchangeRateLocked()
}

// Snapshot is the market's aggregate view.
type Snapshot struct {
	Ticker        string `json:"ticker"`
	Asset         string `json:"asset"`
	Cash          string `json:"cash"`
	TotalBorrows  string `json:"totalBorrows"`
	TotalReserves string `json:"totalReserves"`
	ReceiptSupply string `json:"receiptSupply"`
	ExchangeRate  string `json:"exchangeRate"`
	BorrowRate    string `json:"borrowRate"`
	SupplyRate    string `json:"supplyRate"`
}

// State returns the aggregate pool view. Rates show as zero while the pool is
// empty.
func (m *Market) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		Ticker:        m.cfg.Ticker,
		Asset:         m.cfg.Asset,
		Cash:          m.cash.String(),
		TotalBorrows:  m.totalBorrows.String(),
		TotalReserves: m.totalReserves.String(),
		ReceiptSupply: m.receiptSupply.String(),
	}
	if rate, err := m.exchangeRateLocked(); err == nil {
		snap.ExchangeRate = rate.String()
	}
	if rate, err := m.cfg.Model.BorrowRate(m.cash, m.totalBorrows, m.totalReserves); err == nil {
		snap.BorrowRate = rate.String()
	} else {
		snap.BorrowRate = ratio.Zero().String()
	}
	if rate, err := m.cfg.Model.SupplyRate(m.cash, m.totalBorrows, m.totalReserves); err == nil {
		snap.SupplyRate = rate.String()
	} else {
		snap.SupplyRate = ratio.Zero().String()
	}
	return snap
}
