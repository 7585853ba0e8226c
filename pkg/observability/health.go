package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

// HealthChecker runs named dependency checks for the probe endpoints
type HealthChecker struct {
	checks  map[string]HealthCheck
	mu      sync.RWMutex
	started time.Time
}

// HealthStatus is the JSON body of the readiness and health probes
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a checker with no dependencies registered
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]HealthCheck),
		started: time.Now(),
	}
}

// AddCheck registers or replaces a named check
func (h *HealthChecker) AddCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// CheckHealth runs every check concurrently. One failure marks the whole
// status unhealthy.
func (h *HealthChecker) CheckHealth(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make(map[string]HealthCheck, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]string, len(checks))
		healthy = true
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check HealthCheck) {
			defer wg.Done()
			result := "ok"
			if err := check(ctx); err != nil {
				result = "error: " + err.Error()
			}

			mu.Lock()
			results[name] = result
			if result != "ok" {
				healthy = false
			}
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
		Checks:    results,
	}
	if !healthy {
		status.Status = "unhealthy"
	}
	return status
}

// LivenessHandler answers as long as the process is serving HTTP
func (h *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "alive",
			"timestamp": time.Now(),
			"uptime":    time.Since(h.started).Truncate(time.Second).String(),
		})
	}
}

// ReadinessHandler fails with 503 while any dependency check fails
func (h *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return h.statusHandler(5 * time.Second)
}

// HealthHandler is the detailed variant of the readiness probe
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return h.statusHandler(10 * time.Second)
}

func (h *HealthChecker) statusHandler(timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		status := h.CheckHealth(ctx)

		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	}
}

// NewOpsServer serves /metrics and the health probes for services whose
// main listener is not HTTP
func NewOpsServer(addr string, health *HealthChecker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health/live", health.LivenessHandler())
	mux.HandleFunc("/health/ready", health.ReadinessHandler())
	mux.HandleFunc("/health", health.HealthHandler())

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}
