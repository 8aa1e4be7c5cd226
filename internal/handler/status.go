package handler

import (
	"encoding/json"
	"net/http"

	"github.com/p2pdesk/sellbot/internal/position"
)

type statusResponse struct {
	MarketPrices map[string]float64 `json:"market_prices"`
	Signals      struct {
		Positive int64 `json:"positive"`
		Negative int64 `json:"negative"`
	} `json:"signals"`
}

// Status reports the latest stored market prices and the system-wide signal
// counters. Assets without a stored price yet are omitted.
func Status(s *position.Store, assets []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{MarketPrices: make(map[string]float64, len(assets))}

		for _, asset := range assets {
			price, ok, err := s.MarketPrice(r.Context(), asset)
			if err != nil {
				http.Error(w, `{"error":"store unavailable"}`, http.StatusInternalServerError)
				return
			}
			if ok {
				resp.MarketPrices[asset] = price
			}
		}

		pos, neg, err := s.SignalCounters(r.Context())
		if err != nil {
			http.Error(w, `{"error":"store unavailable"}`, http.StatusInternalServerError)
			return
		}
		resp.Signals.Positive = pos
		resp.Signals.Negative = neg

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
