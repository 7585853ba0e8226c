package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/bl8ckfz/stock-alert-engine/internal/store"
)

func (s *Server) handleTriggered(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TriggeredFilter{
		StockName: strings.TrimSpace(q.Get("stock")),
		AlertID:   strings.TrimSpace(q.Get("alert_id")),
		Limit:     clamp(toInt(q.Get("limit"), 100), 1, 1000),
	}
	if since := strings.TrimSpace(q.Get("since")); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid_query", "since must be RFC3339")
			return
		}
		filter.Since = t
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	events, err := s.catalog.Triggered(ctx, filter)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if events == nil {
		events = []alerts.TriggeredAlert{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		s.writeError(w, http.StatusServiceUnavailable, "price_cache_unavailable", "price cache not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	ticks, err := s.prices.Get(ctx, splitCSV(r.URL.Query().Get("stocks"))...)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Price cache read failed")
		s.writeError(w, http.StatusServiceUnavailable, "price_cache_unavailable", err.Error())
		return
	}
	if ticks == nil {
		ticks = []alerts.PriceTick{}
	}
	s.writeJSON(w, http.StatusOK, ticks)
}
