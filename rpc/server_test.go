package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omomo-finance/omomo-protocol-sub001/core/events"
	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/controller"
	"github.com/omomo-finance/omomo-protocol-sub001/native/interest"
	"github.com/omomo-finance/omomo-protocol-sub001/native/market"
	"github.com/omomo-finance/omomo-protocol-sub001/native/ratio"
	"github.com/omomo-finance/omomo-protocol-sub001/native/token"
)

var testSecret = []byte("rpc-test-secret")

func testAddr(t *testing.T, tag byte) crypto.Address {
	t.Helper()
	raw := make([]byte, 20)
	raw[19] = tag
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

type fixture struct {
	server     *httptest.Server
	controller *controller.Controller
	market     *market.Market
	ledger     *token.Ledger

	admin  crypto.Address
	oracle crypto.Address
	alice  crypto.Address
	bob    crypto.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		admin:  testAddr(t, 0x01),
		oracle: testAddr(t, 0x02),
		alice:  testAddr(t, 0x0a),
		bob:    testAddr(t, 0x0b),
	}
	ctrlAddr := testAddr(t, 0xc0)
	marketAddr := testAddr(t, 0xd0)

	f.controller = controller.New(ctrlAddr, f.admin, f.oracle, controller.Params{
		ReserveFactor:         ratio.FromBps(500),
		LiquidationThreshold:  ratio.FromBps(8_000),
		LiquidationIncentive:  ratio.FromBps(500),
		HealthFactorThreshold: ratio.One(),
	})

	f.ledger = token.NewLedger("wnear.near")
	model := interest.Model{
		Kink:           ratio.FromBps(8_000),
		BaseRate:       ratio.Zero(),
		Multiplier:     ratio.FromBps(100),
		JumpMultiplier: ratio.FromBps(1_000),
		ReserveFactor:  ratio.FromBps(500),
	}
	f.market = market.New(marketAddr, market.Config{
		Ticker:         "WNEAR",
		Asset:          "wnear.near",
		FractionDigits: 4,
		Model:          model,
	}, f.controller, f.ledger)
	f.ledger.RegisterReceiver(marketAddr, f.market)

	require.NoError(t, f.controller.AddMarket(f.admin, controller.MarketRef{
		Ticker:         "WNEAR",
		Asset:          "wnear.near",
		Address:        marketAddr,
		FractionDigits: 4,
	}))

	f.ledger.Mint(f.alice, big.NewInt(10_000))
	f.ledger.Mint(f.bob, big.NewInt(10_000))

	srv := NewServer(Options{
		Controller:    f.controller,
		Markets:       map[string]*market.Market{"WNEAR": f.market},
		Ledgers:       map[string]*token.Ledger{"wnear.near": f.ledger},
		Bus:           events.NewBus(),
		JWTSecret:     testSecret,
		RatePerSecond: 1_000,
		RateBurst:     1_000,
	})
	f.server = httptest.NewServer(srv.Router())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) supply(t *testing.T, account crypto.Address, amount int64) {
	t.Helper()
	msg, err := token.Command{Kind: token.CommandSupply}.Encode()
	require.NoError(t, err)
	used, err := f.ledger.TransferWithMessage(context.Background(), account, f.market.Address(), big.NewInt(amount), "", msg)
	require.NoError(t, err)
	require.Equal(t, amount, used.Int64())
}

func (f *fixture) price(t *testing.T, value int64) {
	t.Helper()
	require.NoError(t, f.controller.OnPriceData(f.oracle, []controller.Price{{
		Ticker:         "WNEAR",
		Value:          big.NewInt(value),
		FractionDigits: 4,
	}}))
}

func (f *fixture) token(t *testing.T, principal crypto.Address) string {
	t.Helper()
	tok, err := IssueToken(testSecret, principal, time.Minute)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, bearer string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestMarketViewsAreOpen(t *testing.T) {
	f := newFixture(t)
	f.supply(t, f.alice, 1_000)

	resp := f.do(t, http.MethodGet, "/v1/markets", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	views := decode[[]marketView](t, resp)
	require.Len(t, views, 1)
	require.Equal(t, "WNEAR", views[0].Ticker)
	require.Equal(t, "1000", views[0].Cash)

	resp = f.do(t, http.MethodGet, "/v1/markets/wnear", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[marketView](t, resp)
	require.Equal(t, "1000", view.ReceiptSupply)
}

func TestUnknownMarketIs404(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/v1/markets/DOGE", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAccountView(t *testing.T) {
	f := newFixture(t)
	f.supply(t, f.alice, 1_000)

	resp := f.do(t, http.MethodGet, "/v1/accounts/"+f.alice.String(), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[controller.AccountInfo](t, resp)
	require.Len(t, info.Positions, 1)
	require.Equal(t, "1000", info.Positions[0].Supplied)

	resp = f.do(t, http.MethodGet, "/v1/accounts/not-an-address", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestActionsRequireBearerToken(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/v1/markets/WNEAR/withdraw", "", withdrawRequest{Receipts: "10"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/markets/WNEAR/withdraw", "garbage", withdrawRequest{Receipts: "10"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWithdrawActsAsTokenSubject(t *testing.T) {
	f := newFixture(t)
	f.supply(t, f.alice, 1_000)
	f.price(t, 10_000)

	resp := f.do(t, http.MethodPost, "/v1/markets/WNEAR/withdraw", f.token(t, f.alice), withdrawRequest{Receipts: "400"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[map[string]string](t, resp)
	require.Equal(t, "400", out["redeemed"])
	require.Equal(t, int64(600), f.market.ReceiptBalance(f.alice).Int64())

	// Bob holds no receipts; his token cannot spend Alice's.
	resp = f.do(t, http.MethodPost, "/v1/markets/WNEAR/withdraw", f.token(t, f.bob), withdrawRequest{Receipts: "400"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestBorrowOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.supply(t, f.alice, 1_000)
	f.price(t, 10_000)

	resp := f.do(t, http.MethodPost, "/v1/markets/WNEAR/borrow", f.token(t, f.alice), borrowRequest{Amount: "100"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int64(100), f.controller.BorrowedBalance(f.market.Address(), f.alice).Int64())
}

func TestAdminEndpointsEnforceAdminPrincipal(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/admin/pause", f.token(t, f.alice), pauseRequest{Action: "supply", Paused: true})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/admin/pause", f.token(t, f.admin), pauseRequest{Action: "supply", Paused: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, f.controller.IsPaused("supply"))

	resp = f.do(t, http.MethodPost, "/v1/admin/pause", f.token(t, f.admin), pauseRequest{Action: "reboot", Paused: true})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminParamsUpdate(t *testing.T) {
	f := newFixture(t)
	incentive := uint64(750)
	resp := f.do(t, http.MethodPost, "/v1/admin/params", f.token(t, f.admin), paramsRequest{LiquidationIncentiveBps: &incentive})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 0, f.controller.Params().LiquidationIncentive.Cmp(ratio.FromBps(750)))
}

func TestOraclePushGatedByPrincipal(t *testing.T) {
	f := newFixture(t)
	push := oracleRequest{Prices: []pricePush{{Ticker: "wnear", Value: "12345", FractionDigits: 4}}}

	resp := f.do(t, http.MethodPost, "/v1/oracle/prices", f.token(t, f.alice), push)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/oracle/prices", f.token(t, f.oracle), push)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	priced := f.do(t, http.MethodGet, "/v1/prices?tickers=WNEAR", "", nil)
	require.Equal(t, http.StatusOK, priced.StatusCode)
	prices := decode[[]priceView](t, priced)
	require.Len(t, prices, 1)
	require.Equal(t, "12345", prices[0].Value)
}

func TestReceiptTransferOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.supply(t, f.alice, 1_000)
	f.price(t, 10_000)

	resp := f.do(t, http.MethodPost, "/v1/markets/WNEAR/transfer", f.token(t, f.alice), transferRequest{
		To:     f.bob.String(),
		Amount: "250",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int64(750), f.market.ReceiptBalance(f.alice).Int64())
	require.Equal(t, int64(250), f.market.ReceiptBalance(f.bob).Int64())
}

func TestSupplyOverHTTP(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/markets/WNEAR/supply", "", amountRequest{Amount: "1000"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/markets/WNEAR/supply", f.token(t, f.alice), amountRequest{Amount: "1000"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[map[string]string](t, resp)
	require.Equal(t, "1000", out["used"])
	require.Equal(t, "0", out["refunded"])
	require.Equal(t, int64(1_000), f.market.ReceiptBalance(f.alice).Int64())
	require.Equal(t, int64(1_000), f.controller.SuppliedBalance(f.market.Address(), f.alice).Int64())
}

func TestRepayOverHTTPRefundsExcess(t *testing.T) {
	f := newFixture(t)
	f.supply(t, f.alice, 1_000)
	f.price(t, 10_000)

	resp := f.do(t, http.MethodPost, "/v1/markets/WNEAR/borrow", f.token(t, f.alice), borrowRequest{Amount: "200"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// repay 500 against a 200 debt: the ledger keeps 200 and refunds 300
	resp = f.do(t, http.MethodPost, "/v1/markets/WNEAR/repay", f.token(t, f.alice), amountRequest{Amount: "500"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[map[string]string](t, resp)
	require.Equal(t, "200", out["used"])
	require.Equal(t, "300", out["refunded"])
	require.Equal(t, int64(0), f.controller.BorrowedBalance(f.market.Address(), f.alice).Int64())

	bal, err := f.ledger.BalanceOf(context.Background(), f.alice)
	require.NoError(t, err)
	require.Equal(t, int64(9_000), bal.Int64())
}

func TestLiquidateOverHTTPValidatesAddresses(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/v1/markets/WNEAR/liquidate", f.token(t, f.bob), liquidateRequest{
		Amount:           "100",
		Borrower:         "not-an-address",
		CollateralMarket: f.market.Address().String(),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimitRejectsBursts(t *testing.T) {
	f := newFixture(t)
	srv := NewServer(Options{
		Controller:    f.controller,
		Markets:       map[string]*market.Market{"WNEAR": f.market},
		JWTSecret:     testSecret,
		RatePerSecond: 0.001,
		RateBurst:     1,
	})
	limited := httptest.NewServer(srv.Router())
	defer limited.Close()

	first, err := http.Get(limited.URL + "/healthz")
	require.NoError(t, err)
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Get(limited.URL + "/healthz")
	require.NoError(t, err)
	second.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestBadAmountRejected(t *testing.T) {
	f := newFixture(t)
	for _, amount := range []string{"", "0", "-5", "1.5", "lots"} {
		resp := f.do(t, http.MethodPost, "/v1/markets/WNEAR/borrow", f.token(t, f.alice), borrowRequest{Amount: amount})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, fmt.Sprintf("amount %q", amount))
	}
}
