package rpc

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/margin"
	"github.com/omomo-finance/omomo-protocol-sub001/native/market"
	"github.com/omomo-finance/omomo-protocol-sub001/native/ratio"
)

var errMarginDisabled = errors.New("leverage trading is not enabled")

func renderOrder(order margin.Order) orderView {
	return orderView{
		ID:       order.ID,
		Account:  order.Account.String(),
		Pair:     order.Pair,
		Amount:   order.Amount.String(),
		Leverage: order.Leverage.String(),
		Status:   string(order.Status),
	}
}

func (s *Server) actionMarket(w http.ResponseWriter, r *http.Request) (*market.Market, bool) {
	ticker := strings.ToUpper(chi.URLParam(r, "ticker"))
	mkt, ok := s.marketByTicker(ticker)
	if !ok {
		writeError(w, http.StatusNotFound, errUnknownTicker)
		return nil, false
	}
	return mkt, true
}

type withdrawRequest struct {
	Receipts string `json:"receipts"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	mkt, ok := s.actionMarket(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	receipts, err := parseAmount(req.Receipts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	redeemed, err := mkt.Withdraw(r.Context(), principal, receipts)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"receipts": receipts.String(),
		"redeemed": redeemed.String(),
	})
}

type borrowRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	mkt, ok := s.actionMarket(w, r)
	if !ok {
		return
	}
	var req borrowRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := mkt.Borrow(r.Context(), principal, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"borrowed": amount.String()})
}

type transferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleTransferReceipts(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	mkt, ok := s.actionMarket(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := crypto.DecodeAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := mkt.TransferReceipts(principal, to, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transferred": amount.String()})
}

type orderRequest struct {
	Pair        string `json:"pair"`
	Amount      string `json:"amount"`
	LeverageBps uint64 `json:"leverageBps"`
}

type orderView struct {
	ID       uint64 `json:"id"`
	Account  string `json:"account"`
	Pair     string `json:"pair"`
	Amount   string `json:"amount"`
	Leverage string `json:"leverage"`
	Status   string `json:"status"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if s.margin == nil {
		writeError(w, http.StatusNotImplemented, errMarginDisabled)
		return
	}
	var req orderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := s.margin.CreateOrder(principal, req.Pair, amount, ratio.FromBps(req.LeverageBps))
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderOrder(*order))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if s.margin == nil {
		writeError(w, http.StatusNotImplemented, errMarginDisabled)
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.margin.CancelOrder(principal, id); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if s.margin == nil {
		writeJSON(w, http.StatusOK, []orderView{})
		return
	}
	orders := s.margin.OrdersFor(principal)
	out := make([]orderView, 0, len(orders))
	for _, order := range orders {
		out = append(out, renderOrder(order))
	}
	writeJSON(w, http.StatusOK, out)
}
