// Package health serves liveness, readiness, counters and Prometheus-style
// metrics for the relay process.
package health

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is a health check function
type Check func() (Status, string)

// StatsProvider returns a JSON-encodable snapshot of counters.
type StatsProvider func() any

// Registry holds health checks and stats providers.
type Registry struct {
	logger    *slog.Logger
	namespace string

	mu     sync.RWMutex
	checks map[string]Check
	stats  map[string]StatsProvider

	startTime time.Time
}

// NewRegistry creates a Registry. namespace prefixes metric names.
func NewRegistry(logger *slog.Logger, namespace string) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:    logger,
		namespace: namespace,
		checks:    make(map[string]Check),
		stats:     make(map[string]StatsProvider),
		startTime: time.Now(),
	}
}

// RegisterCheck adds a health check
func (reg *Registry) RegisterCheck(name string, check Check) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.checks[name] = check
}

// RegisterStats adds a stats provider
func (reg *Registry) RegisterStats(name string, provider StatsProvider) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.stats[name] = provider
}

// Mount installs the health routes on r.
func (reg *Registry) Mount(r chi.Router) {
	r.Get("/health", reg.handleHealth)
	r.Get("/health/live", reg.handleLiveness)
	r.Get("/health/ready", reg.handleReadiness)
	r.Get("/metrics", reg.handleMetrics)
	r.Get("/stats", reg.handleStats)
}

func (reg *Registry) handleHealth(w http.ResponseWriter, r *http.Request) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	overall := StatusHealthy
	results := make(map[string]any)

	for name, check := range reg.checks {
		status, msg := check()
		results[name] = map[string]any{
			"status":  status,
			"message": msg,
		}

		if status == StatusUnhealthy {
			overall = StatusUnhealthy
		} else if status == StatusDegraded && overall == StatusHealthy {
			overall = StatusDegraded
		}
	}

	response := map[string]any{
		"status":    overall,
		"checks":    results,
		"uptime":    time.Since(reg.startTime).String(),
		"timestamp": time.Now().Format(time.RFC3339),
	}

	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	reg.writeJSON(w, code, response)
}

func (reg *Registry) handleLiveness(w http.ResponseWriter, r *http.Request) {
	reg.writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReadiness fails only on unhealthy checks; a degraded relay (for
// example one with no capture source yet) still accepts connections.
func (reg *Registry) handleReadiness(w http.ResponseWriter, r *http.Request) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	for _, name := range sortedKeys(reg.checks) {
		status, msg := reg.checks[name]()
		if status == StatusUnhealthy {
			reg.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":  "not_ready",
				"reason":  name,
				"message": msg,
			})
			return
		}
	}
	reg.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (reg *Registry) handleMetrics(w http.ResponseWriter, r *http.Request) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	// Prometheus-style metrics
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP %s_uptime_seconds Uptime in seconds\n", reg.namespace)
	fmt.Fprintf(w, "# TYPE %s_uptime_seconds gauge\n", reg.namespace)
	fmt.Fprintf(w, "%s_uptime_seconds %f\n", reg.namespace, time.Since(reg.startTime).Seconds())

	for _, name := range sortedKeys(reg.stats) {
		values, err := flatten(reg.stats[name]())
		if err != nil {
			reg.logger.Debug("health: stats not representable as metrics", "name", name, "err", err)
			continue
		}
		for _, key := range sortedKeys(values) {
			fmt.Fprintf(w, "%s_%s_%s %g\n", reg.namespace, name, key, values[key])
		}
	}
}

func (reg *Registry) handleStats(w http.ResponseWriter, r *http.Request) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	allStats := make(map[string]any)
	allStats["uptime"] = time.Since(reg.startTime).String()
	allStats["timestamp"] = time.Now().Format(time.RFC3339)

	for name, provider := range reg.stats {
		allStats[name] = provider()
	}
	reg.writeJSON(w, http.StatusOK, allStats)
}

func (reg *Registry) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		reg.logger.Debug("health: write response failed", "err", err)
	}
}

// flatten keeps the numeric fields of a stats snapshot.
func flatten(v any) (map[string]float64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(fields))
	for k, f := range fields {
		switch n := f.(type) {
		case float64:
			out[k] = n
		case bool:
			out[k] = lo.Ternary(n, 1.0, 0.0)
		}
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
