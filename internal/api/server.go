// Package api serves the alert catalog, the triggered-alert log and the live
// triggered-alert stream over HTTP and websockets.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bl8ckfz/stock-alert-engine/internal/alerts"
	"github.com/bl8ckfz/stock-alert-engine/internal/store"
	"github.com/bl8ckfz/stock-alert-engine/pkg/observability"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// PriceReader returns the latest cached prices
type PriceReader interface {
	Get(ctx context.Context, stocks ...string) ([]alerts.PriceTick, error)
}

// Config tunes the HTTP surface
type Config struct {
	CORSOrigins  []string
	RateLimitRPS int
	Backlog      int
}

// Server holds the HTTP handlers
type Server struct {
	catalog     *store.Catalog
	prices      PriceReader
	hub         *Hub
	health      *observability.HealthChecker
	logger      zerolog.Logger
	upgrader    websocket.Upgrader
	corsOrigins map[string]bool
	rateLimiter *rateLimiter
}

// NewServer wires the handlers. prices may be nil when no cache is configured.
func NewServer(cfg Config, catalog *store.Catalog, prices PriceReader, health *observability.HealthChecker, logger zerolog.Logger) *Server {
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	if health == nil {
		health = observability.NewHealthChecker()
	}

	origins := make(map[string]bool, len(cfg.CORSOrigins))
	for _, o := range cfg.CORSOrigins {
		origins[o] = true
	}

	s := &Server{
		catalog:     catalog,
		prices:      prices,
		hub:         NewHub(cfg.Backlog),
		health:      health,
		logger:      logger.With().Str("component", "api").Logger(),
		corsOrigins: origins,
		rateLimiter: newRateLimiter(cfg.RateLimitRPS, time.Second),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return s.originAllowed(r.Header.Get("Origin")) },
	}
	return s
}

// Hub returns the triggered-alert fan-out fed by the caller
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close stops background work and disconnects stream clients
func (s *Server) Close() {
	s.rateLimiter.stop()
	s.hub.Close()
}

// Routes returns the HTTP handler
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /health/live", s.health.LivenessHandler())
	mux.HandleFunc("GET /health/ready", s.health.ReadinessHandler())
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	s.handle(mux, "GET /api/alerts", s.handleListAlerts)
	s.handle(mux, "POST /api/alerts", s.handleCreateAlert)
	s.handle(mux, "GET /api/alerts/{id}", s.handleGetAlert)
	s.handle(mux, "PUT /api/alerts/{id}", s.handleUpdateAlert)
	s.handle(mux, "DELETE /api/alerts/{id}", s.handleDeleteAlert)
	s.handle(mux, "POST /api/alerts/{id}/toggle", s.handleToggleAlert)
	s.handle(mux, "GET /api/triggered", s.handleTriggered)
	s.handle(mux, "GET /api/prices", s.handlePrices)

	mux.HandleFunc("GET /ws/triggered", s.handleTriggeredWS)

	return s.cors(mux)
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	route := pattern
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		route = pattern[i+1:]
	}
	mux.HandleFunc(pattern, s.instrument(route, s.rateLimit(h)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := s.health.CheckHealth(ctx)
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"status":      status.Status,
		"checks":      status.Checks,
		"ws_clients":  s.hub.Clients(),
		"price_cache": s.prices != nil,
		"timestamp":   status.Timestamp,
	})
}

func (s *Server) originAllowed(origin string) bool {
	if origin == "" || len(s.corsOrigins) == 0 || s.corsOrigins["*"] {
		return true
	}
	return s.corsOrigins[origin]
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		if s.originAllowed(r.Header.Get("Origin")) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)
		if !s.rateLimiter.Allow(ip) {
			s.writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	}
}

// statusRecorder captures the response code for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		observability.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		observability.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// writeStoreError maps catalog errors onto HTTP statuses
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, alerts.ErrInvalidBounds):
		s.writeError(w, http.StatusBadRequest, "invalid_bounds", err.Error())
	case errors.Is(err, alerts.ErrInvalidAlert):
		s.writeError(w, http.StatusBadRequest, "invalid_alert", err.Error())
	case errors.Is(err, alerts.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		s.writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func toInt(val string, def int) int {
	v, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return v
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func splitCSV(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := alerts.NormalizeStock(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func extractIP(r *http.Request) string {
	// Proxy headers first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
