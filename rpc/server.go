package rpc

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/omomo-finance/omomo-protocol-sub001/core/events"
	"github.com/omomo-finance/omomo-protocol-sub001/native/controller"
	"github.com/omomo-finance/omomo-protocol-sub001/native/margin"
	"github.com/omomo-finance/omomo-protocol-sub001/native/market"
	"github.com/omomo-finance/omomo-protocol-sub001/native/token"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// Options wires the server to the protocol engines.
type Options struct {
	Controller *controller.Controller
	Markets    map[string]*market.Market
	// Ledgers maps asset identifiers to their token ledgers, for the
	// transfer-with-message ingress routes.
	Ledgers map[string]*token.Ledger
	Margin  *margin.Engine
	Bus     *events.Bus
	Logger  *slog.Logger

	// JWTSecret signs admin, oracle and action bearer tokens. An empty
	// secret disables every authenticated route.
	JWTSecret []byte

	RatePerSecond float64
	RateBurst     int
}

// Server exposes the protocol over HTTP: open views, authenticated actions
// and admin operations, the oracle ingestion endpoint and the websocket
// event stream.
type Server struct {
	controller *controller.Controller
	markets    map[string]*market.Market
	ledgers    map[string]*token.Ledger
	margin     *margin.Engine
	bus        *events.Bus
	logger     *slog.Logger
	jwtSecret  []byte
	router     chi.Router
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		controller: opts.Controller,
		markets:    opts.Markets,
		ledgers:    opts.Ledgers,
		margin:     opts.Margin,
		bus:        opts.Bus,
		logger:     logger.With("component", "rpc"),
		jwtSecret:  opts.JWTSecret,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(newRateLimiter(opts.RatePerSecond, opts.RateBurst).middleware)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "rpc")
	})

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/markets", s.handleListMarkets)
		r.Get("/markets/{ticker}", s.handleGetMarket)
		r.Get("/accounts/{address}", s.handleGetAccount)
		r.Get("/prices", s.handleGetPrices)
		r.Get("/events", s.handleEventStream)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/markets/{ticker}/supply", s.handleSupply)
			r.Post("/markets/{ticker}/repay", s.handleRepay)
			r.Post("/markets/{ticker}/reserve", s.handleReserve)
			r.Post("/markets/{ticker}/deposit", s.handleDeposit)
			r.Post("/markets/{ticker}/liquidate", s.handleLiquidate)
			r.Post("/markets/{ticker}/withdraw", s.handleWithdraw)
			r.Post("/markets/{ticker}/borrow", s.handleBorrow)
			r.Post("/markets/{ticker}/transfer", s.handleTransferReceipts)
			r.Post("/orders", s.handleCreateOrder)
			r.Delete("/orders/{id}", s.handleCancelOrder)
			r.Get("/orders", s.handleListOrders)
			r.Post("/oracle/prices", s.handleOraclePrices)
			r.Route("/admin", func(r chi.Router) {
				r.Post("/markets", s.handleAddMarket)
				r.Delete("/markets/{ticker}", s.handleRemoveMarket)
				r.Get("/roles", s.handleGetRoles)
				r.Post("/roles", s.handleSetRoles)
				r.Post("/pause", s.handleSetPaused)
				r.Post("/params", s.handleSetParams)
				r.Post("/allowlist", s.handleSetAllowlist)
				r.Post("/pairs", s.handleAddTradePair)
				r.Post("/consistency", s.handleSetConsistency)
			})
		})
	})

	s.router = r
	return s
}

// Router returns the configured HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) marketByTicker(ticker string) (*market.Market, bool) {
	mkt, ok := s.markets[ticker]
	return mkt, ok
}
