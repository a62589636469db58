package rpc

import (
	"math/big"
	"net/http"
	"strings"

	"github.com/omomo-finance/omomo-protocol-sub001/native/controller"
)

type pricePush struct {
	Ticker         string `json:"ticker"`
	Value          string `json:"value"`
	FractionDigits uint32 `json:"fractionDigits"`
	Volatility     uint32 `json:"volatility"`
}

type oracleRequest struct {
	Prices []pricePush `json:"prices"`
}

// handleOraclePrices ingests a signed price batch. The controller enforces
// that the authenticated principal is the registered oracle; unknown tickers
// and unparseable values are skipped the same way malformed feed entries are.
func (s *Server) handleOraclePrices(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	var req oracleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	batch := make([]controller.Price, 0, len(req.Prices))
	for _, push := range req.Prices {
		value, ok := new(big.Int).SetString(push.Value, 10)
		if !ok {
			continue
		}
		batch = append(batch, controller.Price{
			Ticker:         strings.ToUpper(push.Ticker),
			Value:          value,
			FractionDigits: push.FractionDigits,
			Volatility:     push.Volatility,
		})
	}
	if err := s.controller.OnPriceData(principal, batch); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"accepted": len(batch)})
}
