package margin

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/ratio"
)

type fixedDeposits map[string]*big.Int

func (f fixedDeposits) MarginDeposit(account crypto.Address) *big.Int {
	if v, ok := f[account.String()]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func testAddr(t *testing.T, prefix crypto.AddressPrefix, tag byte) crypto.Address {
	t.Helper()
	raw := make([]byte, 20)
	raw[19] = tag
	return crypto.NewAddress(prefix, raw)
}

func testPair(t *testing.T) TradePair {
	t.Helper()
	return TradePair{
		ID:          "WNEAR/USDT",
		SellTicker:  "WNEAR",
		BuyTicker:   "USDT",
		SellMarket:  testAddr(t, crypto.ContractPrefix, 1),
		BuyMarket:   testAddr(t, crypto.ContractPrefix, 2),
		MinLeverage: ratio.One(),
		MaxLeverage: ratio.FromBps(100_000), // 10x
		Fee:         ratio.FromBps(30),
	}
}

func TestCreateOrderValidation(t *testing.T) {
	admin := testAddr(t, crypto.AccountPrefix, 1)
	alice := testAddr(t, crypto.AccountPrefix, 10)
	engine := NewEngine(admin)
	deposits := fixedDeposits{alice.String(): big.NewInt(100)}
	require.NoError(t, engine.AddTradePair(admin, testPair(t), deposits))

	// 500 at 5x needs a 100 margin deposit
	order, err := engine.CreateOrder(alice, "WNEAR/USDT", big.NewInt(500), ratio.FromBps(50_000))
	require.NoError(t, err)
	require.Equal(t, OrderPending, order.Status)
	require.Equal(t, uint64(1), order.ID)

	// 600 at 5x needs 120
	_, err = engine.CreateOrder(alice, "WNEAR/USDT", big.NewInt(600), ratio.FromBps(50_000))
	require.ErrorIs(t, err, ErrNotEnoughMargin)
}

func TestCreateOrderLeverageBounds(t *testing.T) {
	admin := testAddr(t, crypto.AccountPrefix, 1)
	alice := testAddr(t, crypto.AccountPrefix, 10)
	engine := NewEngine(admin)
	require.NoError(t, engine.AddTradePair(admin, testPair(t), fixedDeposits{}))

	_, err := engine.CreateOrder(alice, "WNEAR/USDT", big.NewInt(10), ratio.FromBps(5_000))
	require.ErrorIs(t, err, ErrLeverageBounds)
	_, err = engine.CreateOrder(alice, "WNEAR/USDT", big.NewInt(10), ratio.FromBps(200_000))
	require.ErrorIs(t, err, ErrLeverageBounds)
}

func TestCancelOrderOwnership(t *testing.T) {
	admin := testAddr(t, crypto.AccountPrefix, 1)
	alice := testAddr(t, crypto.AccountPrefix, 10)
	bob := testAddr(t, crypto.AccountPrefix, 11)
	engine := NewEngine(admin)
	deposits := fixedDeposits{alice.String(): big.NewInt(1_000)}
	require.NoError(t, engine.AddTradePair(admin, testPair(t), deposits))

	order, err := engine.CreateOrder(alice, "WNEAR/USDT", big.NewInt(100), ratio.One())
	require.NoError(t, err)

	require.ErrorIs(t, engine.CancelOrder(bob, order.ID), errNotOrderOwner)
	require.NoError(t, engine.CancelOrder(alice, order.ID))
	got, err := engine.Order(order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderCancelled, got.Status)
}

func TestExecuteOrderUnavailable(t *testing.T) {
	admin := testAddr(t, crypto.AccountPrefix, 1)
	engine := NewEngine(admin)
	require.ErrorIs(t, engine.ExecuteOrder(admin, 1), ErrNotExecutable)
}

func TestAddTradePairGating(t *testing.T) {
	admin := testAddr(t, crypto.AccountPrefix, 1)
	stranger := testAddr(t, crypto.AccountPrefix, 2)
	engine := NewEngine(admin)

	require.ErrorIs(t, engine.AddTradePair(stranger, testPair(t), fixedDeposits{}), errUnauthorized)
	require.NoError(t, engine.AddTradePair(admin, testPair(t), fixedDeposits{}))
	require.ErrorIs(t, engine.AddTradePair(admin, testPair(t), fixedDeposits{}), errDuplicatePair)
}
