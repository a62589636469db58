package rpc

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
)

var errUnknownTicker = errors.New("no market with that ticker")

type marketView struct {
	Ticker         string `json:"ticker"`
	Asset          string `json:"asset"`
	Address        string `json:"address"`
	FractionDigits uint32 `json:"fractionDigits"`
	Price          string `json:"price,omitempty"`
	PriceUpdatedAt uint64 `json:"priceUpdatedAt,omitempty"`
	Cash           string `json:"cash"`
	TotalBorrows   string `json:"totalBorrows"`
	TotalReserves  string `json:"totalReserves"`
	ReceiptSupply  string `json:"receiptSupply"`
	ExchangeRate   string `json:"exchangeRate"`
	BorrowRate     string `json:"borrowRate"`
	SupplyRate     string `json:"supplyRate"`
}

func (s *Server) handleListMarkets(w http.ResponseWriter, _ *http.Request) {
	infos := s.controller.Markets()
	out := make([]marketView, 0, len(infos))
	for _, info := range infos {
		view := marketView{
			Ticker:         info.Ticker,
			Asset:          info.Asset,
			Address:        info.Address,
			FractionDigits: info.FractionDigits,
			Price:          info.Price,
			PriceUpdatedAt: info.PriceUpdatedAt,
		}
		if mkt, ok := s.marketByTicker(info.Ticker); ok {
			snap := mkt.State()
			view.Cash = snap.Cash
			view.TotalBorrows = snap.TotalBorrows
			view.TotalReserves = snap.TotalReserves
			view.ReceiptSupply = snap.ReceiptSupply
			view.ExchangeRate = snap.ExchangeRate
			view.BorrowRate = snap.BorrowRate
			view.SupplyRate = snap.SupplyRate
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(chi.URLParam(r, "ticker"))
	mkt, ok := s.marketByTicker(ticker)
	if !ok {
		writeError(w, http.StatusNotFound, errUnknownTicker)
		return
	}
	view := marketView{}
	for _, info := range s.controller.Markets() {
		if info.Ticker == ticker {
			view.Address = info.Address
			view.FractionDigits = info.FractionDigits
			view.Price = info.Price
			view.PriceUpdatedAt = info.PriceUpdatedAt
			break
		}
	}
	snap := mkt.State()
	view.Ticker = snap.Ticker
	view.Asset = snap.Asset
	view.Cash = snap.Cash
	view.TotalBorrows = snap.TotalBorrows
	view.TotalReserves = snap.TotalReserves
	view.ReceiptSupply = snap.ReceiptSupply
	view.ExchangeRate = snap.ExchangeRate
	view.BorrowRate = snap.BorrowRate
	view.SupplyRate = snap.SupplyRate
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Account(account))
}

type priceView struct {
	Ticker         string `json:"ticker"`
	Value          string `json:"value"`
	FractionDigits uint32 `json:"fractionDigits"`
	Volatility     uint32 `json:"volatility"`
	UpdatedAt      uint64 `json:"updatedAt"`
}

func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	var tickers []string
	if raw := strings.TrimSpace(r.URL.Query().Get("tickers")); raw != "" {
		tickers = strings.Split(raw, ",")
	} else {
		for _, info := range s.controller.Markets() {
			tickers = append(tickers, info.Ticker)
		}
	}
	prices := s.controller.GetPrices(tickers)
	out := make([]priceView, 0, len(prices))
	for _, p := range prices {
		out = append(out, priceView{
			Ticker:         p.Ticker,
			Value:          p.Value.String(),
			FractionDigits: p.FractionDigits,
			Volatility:     p.Volatility,
			UpdatedAt:      p.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
