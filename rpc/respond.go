package rpc

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/omomo-finance/omomo-protocol-sub001/native/common"
	"github.com/omomo-finance/omomo-protocol-sub001/native/controller"
	"github.com/omomo-finance/omomo-protocol-sub001/native/margin"
	"github.com/omomo-finance/omomo-protocol-sub001/native/market"
	"github.com/omomo-finance/omomo-protocol-sub001/native/token"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// writeEngineError maps protocol sentinels onto HTTP statuses so clients can
// distinguish rejected requests from server faults.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrActionPaused):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, market.ErrInvalidAmount),
		errors.Is(err, controller.ErrInvalidAmount),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, token.ErrIncorrectCommand):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, controller.ErrUnauthorized),
		errors.Is(err, controller.ErrNotOracle),
		errors.Is(err, margin.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, controller.ErrUnknownMarket):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, market.ErrAccountBlocked),
		errors.Is(err, market.ErrNotEnoughLiquidity),
		errors.Is(err, market.ErrNotEnoughReceipts),
		errors.Is(err, market.ErrTransfersDisabled),
		errors.Is(err, controller.ErrNotEnoughSupplies),
		errors.Is(err, controller.ErrTooMuchBorrowed),
		errors.Is(err, controller.ErrUnhealthy),
		errors.Is(err, controller.ErrNoPrice),
		errors.Is(err, token.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, requestBodyLimit))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

var errBadAmount = errors.New("amount should be a positive number")

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, errBadAmount
	}
	return amount, nil
}
