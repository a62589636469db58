package controller

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omomo-finance/omomo-protocol-sub001/core/events"
	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/common"
	"github.com/omomo-finance/omomo-protocol-sub001/native/ratio"
	"github.com/omomo-finance/omomo-protocol-sub001/storage"
)

func testAddr(t *testing.T, prefix crypto.AddressPrefix, tag byte) crypto.Address {
	t.Helper()
	raw := make([]byte, 20)
	raw[19] = tag
	return crypto.NewAddress(prefix, raw)
}

type fixture struct {
	ctrl        *Controller
	admin       crypto.Address
	oracle      crypto.Address
	marketWNEAR crypto.Address
	marketUSDT  crypto.Address
}

func defaultParams() Params {
	return Params{
		ReserveFactor:         ratio.FromBps(500),
		LiquidationThreshold:  ratio.FromBps(8_000),
		LiquidationIncentive:  ratio.FromBps(500),
		HealthFactorThreshold: ratio.One(),
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	self := testAddr(t, crypto.ContractPrefix, 1)
	admin := testAddr(t, crypto.AccountPrefix, 2)
	oracle := testAddr(t, crypto.AccountPrefix, 3)
	wnear := testAddr(t, crypto.ContractPrefix, 4)
	usdt := testAddr(t, crypto.ContractPrefix, 5)

	ctrl := New(self, admin, oracle, defaultParams())
	ctrl.SetBlockHeight(100)
	require.NoError(t, ctrl.AddMarket(admin, MarketRef{Ticker: "WNEAR", Asset: "wrap.near", Address: wnear, FractionDigits: 4}))
	require.NoError(t, ctrl.AddMarket(admin, MarketRef{Ticker: "USDT", Asset: "usdt.near", Address: usdt, FractionDigits: 4}))
	return &fixture{ctrl: ctrl, admin: admin, oracle: oracle, marketWNEAR: wnear, marketUSDT: usdt}
}

func (f *fixture) pushPrice(t *testing.T, ticker string, value int64) {
	t.Helper()
	err := f.ctrl.OnPriceData(f.oracle, []Price{{Ticker: ticker, Value: big.NewInt(value), FractionDigits: 4}})
	require.NoError(t, err)
}

func TestBalanceMutationsRoundTrip(t *testing.T) {
	f := newFixture(t)
	account := testAddr(t, crypto.AccountPrefix, 10)

	require.NoError(t, f.ctrl.IncreaseSupplies(f.marketWNEAR, account, big.NewInt(100)))
	require.NoError(t, f.ctrl.IncreaseBorrows(f.marketWNEAR, account, big.NewInt(40)))
	require.Equal(t, big.NewInt(100), f.ctrl.SuppliedBalance(f.marketWNEAR, account))
	require.Equal(t, big.NewInt(40), f.ctrl.BorrowedBalance(f.marketWNEAR, account))

	require.NoError(t, f.ctrl.DecreaseSupplies(f.marketWNEAR, account, big.NewInt(30)))
	require.NoError(t, f.ctrl.DecreaseBorrows(f.marketWNEAR, account, big.NewInt(40)))
	require.Equal(t, big.NewInt(70), f.ctrl.SuppliedBalance(f.marketWNEAR, account))
	require.Equal(t, big.NewInt(0), f.ctrl.BorrowedBalance(f.marketWNEAR, account))
}

func TestDecreaseBeyondBalance(t *testing.T) {
	f := newFixture(t)
	account := testAddr(t, crypto.AccountPrefix, 10)

	require.NoError(t, f.ctrl.IncreaseSupplies(f.marketWNEAR, account, big.NewInt(10)))
	err := f.ctrl.DecreaseSupplies(f.marketWNEAR, account, big.NewInt(11))
	require.ErrorIs(t, err, ErrNotEnoughSupplies)
	require.EqualError(t, err, "Not enough existing supplies")

	err = f.ctrl.DecreaseBorrows(f.marketWNEAR, account, big.NewInt(1))
	require.ErrorIs(t, err, ErrTooMuchBorrowed)
	require.EqualError(t, err, "Too much borrowed assets trying to pay out")
	require.Equal(t, big.NewInt(10), f.ctrl.SuppliedBalance(f.marketWNEAR, account))
}

func TestMutationRequiresRegisteredMarket(t *testing.T) {
	f := newFixture(t)
	account := testAddr(t, crypto.AccountPrefix, 10)
	stranger := testAddr(t, crypto.ContractPrefix, 99)

	err := f.ctrl.IncreaseSupplies(stranger, account, big.NewInt(1))
	require.ErrorIs(t, err, errNotMarket)
}

func TestMutationRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)
	account := testAddr(t, crypto.AccountPrefix, 10)

	require.ErrorIs(t, f.ctrl.IncreaseSupplies(f.marketWNEAR, account, big.NewInt(0)), ErrInvalidAmount)
	require.ErrorIs(t, f.ctrl.IncreaseBorrows(f.marketWNEAR, account, nil), ErrInvalidAmount)
}

func TestHealthFactor(t *testing.T) {
	f := newFixture(t)
	account := testAddr(t, crypto.AccountPrefix, 10)
	f.pushPrice(t, "WNEAR", 10_000)
	f.pushPrice(t, "USDT", 10_000)

	require.NoError(t, f.ctrl.IncreaseSupplies(f.marketWNEAR, account, big.NewInt(100)))
	require.NoError(t, f.ctrl.IncreaseBorrows(f.marketUSDT, account, big.NewInt(40)))

	// collateral 100 * 0.8 threshold over debt 40 = 2.0
	hf, err := f.ctrl.HealthFactor(account)
	require.NoError(t, err)
	require.Equal(t, 0, hf.Cmp(ratio.FromBps(20_000)))
}

func TestHealthFactorNoDebt(t *testing.T) {
	f := newFixture(t)
	account := testAddr(t, crypto.AccountPrefix, 10)
	f.pushPrice(t, "WNEAR", 10_000)

	require.NoError(t, f.ctrl.IncreaseSupplies(f.marketWNEAR, account, big.NewInt(100)))
	hf, err := f.ctrl.HealthFactor(account)
	require.NoError(t, err)
	require.Equal(t, 0, hf.Cmp(MaxHealthFactor))
}

func TestHealthFactorMissingPrice(t *testing.T) {
	f := newFixture(t)
	account := testAddr(t, crypto.AccountPrefix, 10)

	require.NoError(t, f.ctrl.IncreaseSupplies(f.marketWNEAR, account, big.NewInt(100)))
	_, err := f.ctrl.HealthFactor(account)
	require.ErrorIs(t, err, ErrNoPrice)
}

func TestLiquidationEligibilityFlipsOnPriceDrop(t *testing.T) {
	f := newFixture(t)
	borrower := testAddr(t, crypto.AccountPrefix, 10)
	f.pushPrice(t, "WNEAR", 10_000)
	f.pushPrice(t, "USDT", 10_000)

	require.NoError(t, f.ctrl.IncreaseSupplies(f.marketWNEAR, borrower, big.NewInt(100)))
	require.NoError(t, f.ctrl.IncreaseBorrows(f.marketUSDT, borrower, big.NewInt(60)))

	// hf = 100*0.8/60 = 1.33, still healthy
	_, err := f.ctrl.IsLiquidationAllowed(borrower, f.marketUSDT, big.NewInt(10))
	require.ErrorIs(t, err, ErrNotLiquidatable)
	require.EqualError(t, err, "can't be liquidated")

	// collateral halves: hf = 50*0.8/60 = 0.66
	f.pushPrice(t, "WNEAR", 5_000)
	permitted, err := f.ctrl.IsLiquidationAllowed(borrower, f.marketUSDT, big.NewInt(10))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10), permitted)
}

func TestLiquidationRepayAndSwap(t *testing.T) {
	f := newFixture(t)
	borrower := testAddr(t, crypto.AccountPrefix, 10)
	liquidator := testAddr(t, crypto.AccountPrefix, 11)
	f.pushPrice(t, "WNEAR", 5_000)
	f.pushPrice(t, "USDT", 10_000)

	require.NoError(t, f.ctrl.IncreaseSupplies(f.marketWNEAR, borrower, big.NewInt(100)))
	require.NoError(t, f.ctrl.IncreaseBorrows(f.marketUSDT, borrower, big.NewInt(60)))

	err := f.ctrl.LiquidationRepayAndSwap(f.marketUSDT, borrower, liquidator, f.marketWNEAR, big.NewInt(30), big.NewInt(50))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(30), f.ctrl.BorrowedBalance(f.marketUSDT, borrower))
	require.Equal(t, big.NewInt(50), f.ctrl.SuppliedBalance(f.marketWNEAR, borrower))
	require.Equal(t, big.NewInt(50), f.ctrl.SuppliedBalance(f.marketWNEAR, liquidator))
}

func TestLiquidationRepayAndSwapBounds(t *testing.T) {
	f := newFixture(t)
	borrower := testAddr(t, crypto.AccountPrefix, 10)
	liquidator := testAddr(t, crypto.AccountPrefix, 11)

	require.NoError(t, f.ctrl.IncreaseSupplies(f.marketWNEAR, borrower, big.NewInt(10)))
	require.NoError(t, f.ctrl.IncreaseBorrows(f.marketUSDT, borrower, big.NewInt(10)))

	err := f.ctrl.LiquidationRepayAndSwap(f.marketUSDT, borrower, liquidator, f.marketWNEAR, big.NewInt(11), big.NewInt(5))
	require.ErrorIs(t, err, ErrTooMuchBorrowed)
	err = f.ctrl.LiquidationRepayAndSwap(f.marketUSDT, borrower, liquidator, f.marketWNEAR, big.NewInt(5), big.NewInt(11))
	require.ErrorIs(t, err, ErrNotEnoughSupplies)
	require.Equal(t, big.NewInt(10), f.ctrl.BorrowedBalance(f.marketUSDT, borrower))
}

func TestSeizeAmountAppliesIncentive(t *testing.T) {
	f := newFixture(t)
	f.pushPrice(t, "WNEAR", 5_000)
	f.pushPrice(t, "USDT", 10_000)

	// repay 100 USDT = value 100; 100 / 0.5 = 200 WNEAR, +5% incentive = 210
	seize, err := f.ctrl.SeizeAmount(f.marketUSDT, f.marketWNEAR, big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(210), seize)
}

func TestOraclePushRejectsStrangers(t *testing.T) {
	f := newFixture(t)
	stranger := testAddr(t, crypto.AccountPrefix, 99)
	err := f.ctrl.OnPriceData(stranger, []Price{{Ticker: "WNEAR", Value: big.NewInt(1)}})
	require.ErrorIs(t, err, errNotOracle)
}

func TestOraclePushSkipsUnknownTickers(t *testing.T) {
	f := newFixture(t)
	bus := events.NewBus()
	f.ctrl.SetEmitter(bus)
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	err := f.ctrl.OnPriceData(f.oracle, []Price{
		{Ticker: "DOGE", Value: big.NewInt(1), FractionDigits: 4},
		{Ticker: "WNEAR", Value: big.NewInt(12_345), FractionDigits: 4},
	})
	require.NoError(t, err)

	price, err := f.ctrl.GetPrice(f.marketWNEAR)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(12_345), price.Value)

	evt := <-ch
	require.Equal(t, events.TypePriceUpdated, evt.EventType())
	require.Len(t, ch, 0)
}

func TestAdminSurfaceGating(t *testing.T) {
	f := newFixture(t)
	stranger := testAddr(t, crypto.AccountPrefix, 99)

	require.ErrorIs(t, f.ctrl.SetPaused(stranger, common.ActionSupply, true), errUnauthorized)
	require.NoError(t, f.ctrl.SetPaused(f.admin, common.ActionSupply, true))
	require.True(t, f.ctrl.IsPaused(common.ActionSupply))

	require.ErrorIs(t, f.ctrl.SetReserveFactor(stranger, ratio.FromBps(100)), errUnauthorized)
	err := f.ctrl.SetReserveFactor(f.admin, ratio.FromBps(10_001))
	require.EqualError(t, err, "Reserve factor should be less than 1.0")
	require.NoError(t, f.ctrl.SetReserveFactor(f.admin, ratio.FromBps(1_000)))
	require.Equal(t, 0, f.ctrl.Params().ReserveFactor.Cmp(ratio.FromBps(1_000)))
}

func TestBorrowAllowlist(t *testing.T) {
	f := newFixture(t)
	account := testAddr(t, crypto.AccountPrefix, 10)
	stranger := testAddr(t, crypto.AccountPrefix, 99)

	require.ErrorIs(t, f.ctrl.SetBorrowAllowlisted(stranger, f.marketWNEAR, account, true), errUnauthorized)
	require.False(t, f.ctrl.IsBorrowAllowlisted(f.marketWNEAR, account))

	require.NoError(t, f.ctrl.SetBorrowAllowlisted(f.admin, f.marketWNEAR, account, true))
	require.True(t, f.ctrl.IsBorrowAllowlisted(f.marketWNEAR, account))
	require.False(t, f.ctrl.IsBorrowAllowlisted(f.marketUSDT, account))

	require.NoError(t, f.ctrl.SetBorrowAllowlisted(f.admin, f.marketWNEAR, account, false))
	require.False(t, f.ctrl.IsBorrowAllowlisted(f.marketWNEAR, account))
}

func TestAccountConsistencyFlag(t *testing.T) {
	f := newFixture(t)
	account := testAddr(t, crypto.AccountPrefix, 10)

	require.NoError(t, f.ctrl.SetAccountConsistency(f.marketWNEAR, account, true))
	require.True(t, f.ctrl.IsBlocked(account))
	require.NoError(t, f.ctrl.SetAccountConsistency(f.admin, account, false))
	require.False(t, f.ctrl.IsBlocked(account))
}

func TestSnapshotRoundTrip(t *testing.T) {
	f := newFixture(t)
	account := testAddr(t, crypto.AccountPrefix, 10)
	f.pushPrice(t, "WNEAR", 10_000)
	require.NoError(t, f.ctrl.IncreaseSupplies(f.marketWNEAR, account, big.NewInt(100)))
	require.NoError(t, f.ctrl.IncreaseBorrows(f.marketWNEAR, account, big.NewInt(40)))
	require.NoError(t, f.ctrl.SetPaused(f.admin, common.ActionBorrow, true))
	require.NoError(t, f.ctrl.SetAccountConsistency(f.admin, account, true))

	db := storage.NewMemDB()
	require.NoError(t, f.ctrl.Save(db))

	restored := New(f.ctrl.Address(), f.admin, f.oracle, defaultParams())
	require.NoError(t, restored.Load(db))

	require.Equal(t, big.NewInt(100), restored.SuppliedBalance(f.marketWNEAR, account))
	require.Equal(t, big.NewInt(40), restored.BorrowedBalance(f.marketWNEAR, account))
	require.True(t, restored.IsPaused(common.ActionBorrow))
	require.True(t, restored.IsBlocked(account))
	price, err := restored.GetPrice(f.marketWNEAR)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10_000), price.Value)
}

func TestBorrowInterestJoinsDebt(t *testing.T) {
	f := newFixture(t)
	account := testAddr(t, crypto.AccountPrefix, 10)
	f.pushPrice(t, "WNEAR", 10_000)
	f.pushPrice(t, "USDT", 10_000)

	require.NoError(t, f.ctrl.UpdateRates(f.marketUSDT, ratio.FromBps(100), ratio.Zero()))
	require.NoError(t, f.ctrl.IncreaseSupplies(f.marketWNEAR, account, big.NewInt(10_000)))
	require.NoError(t, f.ctrl.IncreaseBorrows(f.marketUSDT, account, big.NewInt(1_000)))

	// 1% per block over 10 blocks on a 1000 debt
	f.ctrl.SetBlockHeight(110)
	require.Equal(t, big.NewInt(1_100), f.ctrl.BorrowedBalance(f.marketUSDT, account))

	// the grown debt prices into the health factor: 10000*0.8/1100 < 8.0
	hf, err := f.ctrl.HealthFactor(account)
	require.NoError(t, err)
	require.True(t, hf.Cmp(ratio.FromBps(80_000)) < 0, "health factor should shrink with interest, got %s", hf)

	// a repay covering principal plus interest retires the whole debt
	require.NoError(t, f.ctrl.DecreaseBorrows(f.marketUSDT, account, big.NewInt(1_100)))
	require.Equal(t, big.NewInt(0), f.ctrl.BorrowedBalance(f.marketUSDT, account))
	require.Equal(t, big.NewInt(100), f.ctrl.AccruedInterest(f.marketUSDT, account))
}

type recordingMetrics struct {
	prices []string
	health map[string]float64
}

func (r *recordingMetrics) PriceUpdated(ticker string) { r.prices = append(r.prices, ticker) }

func (r *recordingMetrics) ObserveHealthFactor(account string, value float64) {
	r.health[account] = value
}

func TestMetricsFollowOracleAndHealth(t *testing.T) {
	f := newFixture(t)
	rec := &recordingMetrics{health: make(map[string]float64)}
	f.ctrl.SetMetrics(rec)
	account := testAddr(t, crypto.AccountPrefix, 10)

	f.pushPrice(t, "WNEAR", 10_000)
	f.pushPrice(t, "USDT", 10_000)
	require.Equal(t, []string{"WNEAR", "USDT"}, rec.prices)

	require.NoError(t, f.ctrl.IncreaseSupplies(f.marketWNEAR, account, big.NewInt(100)))
	require.NoError(t, f.ctrl.IncreaseBorrows(f.marketUSDT, account, big.NewInt(40)))
	_, err := f.ctrl.HealthFactor(account)
	require.NoError(t, err)
	require.InDelta(t, 2.0, rec.health[account.String()], 0.001)
}

func TestAccountView(t *testing.T) {
	f := newFixture(t)
	account := testAddr(t, crypto.AccountPrefix, 10)
	f.pushPrice(t, "WNEAR", 10_000)
	require.NoError(t, f.ctrl.IncreaseSupplies(f.marketWNEAR, account, big.NewInt(100)))

	info := f.ctrl.Account(account)
	require.Len(t, info.Positions, 1)
	require.Equal(t, "WNEAR", info.Positions[0].Ticker)
	require.Equal(t, "100", info.Positions[0].Supplied)
	require.NotEmpty(t, info.HealthFactor)
}
