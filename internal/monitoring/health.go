// Package monitoring exposes liveness and readiness endpoints for the
// bridge.
package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lewisedginton/line_assistant_bridge/pkg/health"
	"github.com/lewisedginton/line_assistant_bridge/pkg/logger"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusReady     = "ready"
	statusNotReady  = "not_ready"
)

// HealthMonitor manages health checks and monitoring endpoints for the bridge.
type HealthMonitor struct {
	checker   *health.HealthChecker
	logger    logger.Logger
	startTime time.Time
}

// Config holds configuration for the health monitor
type Config struct {
	Logger           logger.Logger
	Pool             *pgxpool.Pool // Optional: database pool for readiness pings
	Timeout          time.Duration
	FailureThreshold int
}

// NewHealthMonitor creates a new health monitor with configured checks
func NewHealthMonitor(cfg Config) *HealthMonitor {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	failureThreshold := cfg.FailureThreshold
	if failureThreshold == 0 {
		failureThreshold = 3
	}

	checker := health.New(
		health.WithLogger(cfg.Logger),
		health.WithTimeout(timeout),
		health.WithFailureThreshold(failureThreshold),
	)

	checker.AddLivenessCheck(health.NewCheckFunc("process", func(_ context.Context) error {
		return nil
	}))

	if cfg.Pool != nil {
		pool := cfg.Pool
		checker.AddReadinessCheck(health.NewCheckFunc("database", func(ctx context.Context) error {
			return pool.Ping(ctx)
		}))
	}

	return &HealthMonitor{
		checker:   checker,
		logger:    cfg.Logger,
		startTime: time.Now(),
	}
}

// LivenessHandler returns an HTTP handler for liveness probes.
func (hm *HealthMonitor) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := hm.checker.CheckLiveness(r.Context())

		response := map[string]interface{}{
			"status":    statusHealthy,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(hm.startTime).String(),
			"checks":    status.Checks,
		}

		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			response["status"] = statusUnhealthy
			response["error"] = err.Error()
			w.WriteHeader(http.StatusServiceUnavailable)
			hm.logger.Error("Liveness check failed", logger.ErrorField(err))
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// ReadinessHandler returns an HTTP handler for readiness probes.
func (hm *HealthMonitor) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := hm.checker.CheckReadiness(r.Context())

		response := map[string]interface{}{
			"status":    statusReady,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    status.Checks,
		}

		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			response["status"] = statusNotReady
			response["error"] = err.Error()
			w.WriteHeader(http.StatusServiceUnavailable)
			hm.logger.Error("Readiness check failed", logger.ErrorField(err))
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// HealthHandler returns a combined health endpoint.
func (hm *HealthMonitor) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		livenessStatus, livenessErr := hm.checker.CheckLiveness(r.Context())
		readinessStatus, readinessErr := hm.checker.CheckReadiness(r.Context())

		liveness := map[string]interface{}{
			"status": statusHealthy,
			"checks": livenessStatus.Checks,
		}
		readiness := map[string]interface{}{
			"status": statusReady,
			"checks": readinessStatus.Checks,
		}
		response := map[string]interface{}{
			"status":    statusHealthy,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(hm.startTime).String(),
			"liveness":  liveness,
			"readiness": readiness,
		}

		healthy := true
		if livenessErr != nil {
			liveness["status"] = statusUnhealthy
			liveness["error"] = livenessErr.Error()
			healthy = false
		}
		if readinessErr != nil {
			readiness["status"] = statusNotReady
			readiness["error"] = readinessErr.Error()
			healthy = false
		}

		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			response["status"] = statusUnhealthy
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// RegisterHandlers registers all health check endpoints on the provided mux
func (hm *HealthMonitor) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health", hm.HealthHandler())
	mux.HandleFunc("/health/live", hm.LivenessHandler())
	mux.HandleFunc("/health/ready", hm.ReadinessHandler())
}
