package rpc

import (
	"errors"
	"math/big"
	"net/http"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/native/market"
	"github.com/omomo-finance/omomo-protocol-sub001/native/token"
)

var errNoLedger = errors.New("no token ledger wired for this market's asset")

// Token-command ingress. Each handler composes the transfer-with-message
// envelope the market engines consume and settles it through the asset
// ledger, so HTTP clients and direct ledger callers share one entry point
// into OnTransfer. The response reports how much the market kept and how
// much the ledger refunded.

func (s *Server) ledgerFor(mkt *market.Market) (*token.Ledger, bool) {
	ledger, ok := s.ledgers[mkt.Asset()]
	return ledger, ok
}

type amountRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	s.sendCommand(w, r, token.CommandSupply)
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	s.sendCommand(w, r, token.CommandRepay)
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	s.sendCommand(w, r, token.CommandReserve)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.sendCommand(w, r, token.CommandDeposit)
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request, kind token.CommandKind) {
	principal, err := principalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	mkt, ok := s.actionMarket(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.settle(w, r, mkt, principal, amount, token.Command{Kind: kind})
}

type liquidateRequest struct {
	Amount           string `json:"amount"`
	Borrower         string `json:"borrower"`
	CollateralMarket string `json:"collateralMarket"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	mkt, ok := s.actionMarket(w, r)
	if !ok {
		return
	}
	var req liquidateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := crypto.DecodeAddress(req.Borrower); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := crypto.DecodeAddress(req.CollateralMarket); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cmd := token.Command{
		Kind: token.CommandLiquidate,
		Liquidate: &token.LiquidateArgs{
			Borrower:         req.Borrower,
			BorrowingMarket:  mkt.Address().String(),
			CollateralMarket: req.CollateralMarket,
		},
	}
	s.settle(w, r, mkt, principal, amount, cmd)
}

func (s *Server) settle(w http.ResponseWriter, r *http.Request, mkt *market.Market, from crypto.Address, amount *big.Int, cmd token.Command) {
	ledger, ok := s.ledgerFor(mkt)
	if !ok {
		writeError(w, http.StatusNotImplemented, errNoLedger)
		return
	}
	msg, err := cmd.Encode()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	used, err := ledger.TransferWithMessage(r.Context(), from, mkt.Address(), amount, "", msg)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"used":     used.String(),
		"refunded": new(big.Int).Sub(amount, used).String(),
	})
}
