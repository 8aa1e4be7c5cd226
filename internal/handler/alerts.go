package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/p2pdesk/sellbot/internal/history"
)

// AlertLister exposes the alert audit log.
type AlertLister interface {
	List(ctx context.Context, username string, limit int) ([]history.Alert, error)
}

// ListAlerts serves recent dispatched alerts, optionally filtered by
// username.
func ListAlerts(h AlertLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			l, err := strconv.Atoi(v)
			if err != nil || l <= 0 || l > 100 {
				http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
				return
			}
			limit = l
		}

		alerts, err := h.List(r.Context(), r.URL.Query().Get("username"), limit)
		if err != nil {
			http.Error(w, `{"error":"failed to list alerts"}`, http.StatusInternalServerError)
			return
		}
		if alerts == nil {
			alerts = []history.Alert{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(alerts)
	}
}
