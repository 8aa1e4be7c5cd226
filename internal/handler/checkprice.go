package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// Refresher runs one full price refresh cycle.
type Refresher interface {
	Run(ctx context.Context) error
}

// CheckPrice is the external trigger for a refresh cycle. A completed cycle
// answers 204 even when individual holders failed; only a failed price
// fetch is reported back to the caller.
func CheckPrice(r Refresher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := r.Run(req.Context()); err != nil {
			logger.Error("refresh cycle failed", "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
