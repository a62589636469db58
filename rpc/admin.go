package rpc

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/common"
	"github.com/omomo-finance/omomo-protocol-sub001/native/controller"
	"github.com/omomo-finance/omomo-protocol-sub001/native/margin"
	"github.com/omomo-finance/omomo-protocol-sub001/native/ratio"
)

var errUnknownAction = errors.New("unknown pausable action")

type addMarketRequest struct {
	Ticker         string `json:"ticker"`
	Asset          string `json:"asset"`
	Address        string `json:"address"`
	FractionDigits uint32 `json:"fractionDigits"`
}

// handleAddMarket registers an already-deployed market contract with the
// controller. Market construction itself happens at daemon startup from the
// manifest; this endpoint only extends the registry.
func (s *Server) handleAddMarket(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req addMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := crypto.DecodeAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ref := controller.MarketRef{
		Ticker:         strings.ToUpper(req.Ticker),
		Asset:          req.Asset,
		Address:        addr,
		FractionDigits: req.FractionDigits,
	}
	if err := s.controller.AddMarket(principal, ref); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"ticker": ref.Ticker})
}

func (s *Server) handleRemoveMarket(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	ticker := strings.ToUpper(chi.URLParam(r, "ticker"))
	var target crypto.Address
	found := false
	for _, info := range s.controller.Markets() {
		if info.Ticker == ticker {
			target, _ = crypto.DecodeAddress(info.Address)
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, errUnknownTicker)
		return
	}
	if err := s.controller.RemoveMarket(principal, target); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ticker": ticker})
}

func (s *Server) handleGetRoles(w http.ResponseWriter, r *http.Request) {
	if _, err := principalFrom(r.Context()); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"admin": s.controller.Admin().String()})
}

type rolesRequest struct {
	Admin  string `json:"admin,omitempty"`
	Oracle string `json:"oracle,omitempty"`
}

func (s *Server) handleSetRoles(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req rolesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// Oracle first: handing off the admin role revokes the caller.
	if req.Oracle != "" {
		oracle, err := crypto.DecodeAddress(req.Oracle)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.controller.SetOracle(principal, oracle); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	if req.Admin != "" {
		admin, err := crypto.DecodeAddress(req.Admin)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.controller.SetAdmin(principal, admin); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"admin": s.controller.Admin().String()})
}

type pauseRequest struct {
	Action string `json:"action"`
	Paused bool   `json:"paused"`
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	action := common.Action(strings.ToLower(req.Action))
	if !action.Valid() {
		writeError(w, http.StatusBadRequest, errUnknownAction)
		return
	}
	if err := s.controller.SetPaused(principal, action, req.Paused); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"action": string(action), "paused": req.Paused})
}

type paramsRequest struct {
	ReserveFactorBps         *uint64 `json:"reserveFactorBps"`
	LiquidationIncentiveBps  *uint64 `json:"liquidationIncentiveBps"`
	HealthFactorThresholdBps *uint64 `json:"healthFactorThresholdBps"`
}

func (s *Server) handleSetParams(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req paramsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ReserveFactorBps != nil {
		if err := s.controller.SetReserveFactor(principal, ratio.FromBps(*req.ReserveFactorBps)); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	if req.LiquidationIncentiveBps != nil {
		if err := s.controller.SetLiquidationIncentive(principal, ratio.FromBps(*req.LiquidationIncentiveBps)); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	if req.HealthFactorThresholdBps != nil {
		if err := s.controller.SetHealthFactorThreshold(principal, ratio.FromBps(*req.HealthFactorThresholdBps)); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	params := s.controller.Params()
	writeJSON(w, http.StatusOK, map[string]string{
		"reserveFactor":         params.ReserveFactor.String(),
		"liquidationThreshold":  params.LiquidationThreshold.String(),
		"liquidationIncentive":  params.LiquidationIncentive.String(),
		"healthFactorThreshold": params.HealthFactorThreshold.String(),
	})
}

type allowlistRequest struct {
	Market  string `json:"market"`
	Account string `json:"account"`
	Allowed bool   `json:"allowed"`
}

func (s *Server) handleSetAllowlist(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req allowlistRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	marketAddr, err := crypto.DecodeAddress(req.Market)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := crypto.DecodeAddress(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.controller.SetBorrowAllowlisted(principal, marketAddr, account, req.Allowed); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": req.Account, "allowed": req.Allowed})
}

type tradePairRequest struct {
	ID             string `json:"id"`
	SellTicker     string `json:"sellTicker"`
	BuyTicker      string `json:"buyTicker"`
	MinLeverageBps uint64 `json:"minLeverageBps"`
	MaxLeverageBps uint64 `json:"maxLeverageBps"`
	FeeBps         uint64 `json:"feeBps"`
}

func (s *Server) handleAddTradePair(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if s.margin == nil {
		writeError(w, http.StatusNotImplemented, errMarginDisabled)
		return
	}
	var req tradePairRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sell, ok := s.marketByTicker(strings.ToUpper(req.SellTicker))
	if !ok {
		writeError(w, http.StatusNotFound, errUnknownTicker)
		return
	}
	buy, ok := s.marketByTicker(strings.ToUpper(req.BuyTicker))
	if !ok {
		writeError(w, http.StatusNotFound, errUnknownTicker)
		return
	}
	pair := margin.TradePair{
		ID:          req.ID,
		SellTicker:  sell.Ticker(),
		BuyTicker:   buy.Ticker(),
		SellMarket:  sell.Address(),
		BuyMarket:   buy.Address(),
		MinLeverage: ratio.FromBps(req.MinLeverageBps),
		MaxLeverage: ratio.FromBps(req.MaxLeverageBps),
		Fee:         ratio.FromBps(req.FeeBps),
	}
	if err := s.margin.AddTradePair(principal, pair, sell); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": pair.ID})
}

type consistencyRequest struct {
	Account string `json:"account"`
	Blocked bool   `json:"blocked"`
}

func (s *Server) handleSetConsistency(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req consistencyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := crypto.DecodeAddress(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.controller.SetAccountConsistency(principal, account, req.Blocked); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": req.Account, "blocked": req.Blocked})
}
