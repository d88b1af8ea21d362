// Package middleware provides HTTP middleware components.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/lewisedginton/line_assistant_bridge/pkg/logger"
)

// RecoveryConfig holds configuration for the recovery middleware
type RecoveryConfig struct {
	Logger              logger.Logger
	EnableStackTrace    bool
	ResponseStatus      int
	ResponseMessage     string
	ResponseContentType string
}

// DefaultRecoveryConfig returns a sensible default configuration
func DefaultRecoveryConfig(log logger.Logger) RecoveryConfig {
	return RecoveryConfig{
		Logger:              log,
		EnableStackTrace:    true,
		ResponseStatus:      http.StatusInternalServerError,
		ResponseMessage:     `{"error":"Internal server error","code":"INTERNAL_ERROR"}`,
		ResponseContentType: "application/json",
	}
}

// WebhookRecoveryConfig returns a recovery configuration for the webhook
// route. The messaging platform retries failed deliveries, and a retried
// delivery would consume quota twice, so even a panic is acknowledged
// with 200.
func WebhookRecoveryConfig(log logger.Logger) RecoveryConfig {
	return RecoveryConfig{
		Logger:              log,
		EnableStackTrace:    true,
		ResponseStatus:      http.StatusOK,
		ResponseMessage:     "OK",
		ResponseContentType: "text/plain",
	}
}

// Recovery returns a middleware that recovers from panics and logs them
func Recovery(config RecoveryConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					handlePanic(w, r, err, config)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// handlePanic handles a recovered panic
func handlePanic(w http.ResponseWriter, r *http.Request, err interface{}, config RecoveryConfig) {
	var stackTrace string
	if config.EnableStackTrace {
		stackTrace = string(debug.Stack())
	}

	logPanic(r, err, stackTrace, config.Logger)

	w.Header().Set("Content-Type", config.ResponseContentType)
	w.WriteHeader(config.ResponseStatus)
	if config.ResponseMessage != "" {
		_, _ = w.Write([]byte(config.ResponseMessage))
	}
}

// logPanic logs panic information
func logPanic(r *http.Request, panicErr interface{}, stackTrace string, log logger.Logger) {
	if log == nil {
		fmt.Printf("PANIC: %v\nRequest: %s %s\nStack:\n%s\n",
			panicErr, r.Method, r.URL.Path, stackTrace)
		return
	}

	fields := []logger.LogField{
		logger.StringField("panic_error", fmt.Sprintf("%v", panicErr)),
		logger.HTTPMethodField(r.Method),
		logger.HTTPPathField(r.URL.Path),
		logger.ClientIPField(getClientIP(r)),
	}

	if stackTrace != "" {
		fields = append(fields, logger.StringField("stack_trace", stackTrace))
	}

	log.Error("HTTP request panic recovered", fields...)
}

// getClientIP extracts the real client IP from various headers
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for idx := 0; idx < len(xff); idx++ {
			if xff[idx] == ',' {
				return xff[:idx]
			}
		}
		return xff
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}

// MaxBytes limits the request body size.
func MaxBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
