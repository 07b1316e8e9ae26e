package main

import (
	"encoding/json"
	"net/http"

	"pingup/internal/metrics"
	"pingup/internal/tracing"
	"pingup/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

// handleMetrics returns current application metrics
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestInfo := tracing.GetRequestInfo(r.Context())

		metrics.SetGauge("registry_live_streams", float64(s.registry.Len()), nil, "Users with a registered live stream")
		metrics.SetGauge("ratelimit_tracked_users", float64(s.limiter.Len()), nil, "Users with an active send rate bucket")
		s.recordBreakerGauges()

		allMetrics := metrics.GetAllMetrics()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		if err := encoder.Encode(allMetrics); err != nil {
			s.logger.WithFields(logrus.Fields{
				"request_id": requestInfo.RequestID,
				"trace_id":   requestInfo.TraceID,
				"error":      err,
			}).Error("Failed to encode metrics response")

			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		s.logger.WithFields(logrus.Fields{
			"request_id": requestInfo.RequestID,
			"endpoint":   "/metrics",
		}).Debug("Metrics endpoint served")
	}
}

func (s *Server) recordBreakerGauges() {
	for _, b := range s.breakers {
		stats := b.Stats()
		labels := map[string]string{"service": stats.Name}

		open := 0.0
		if stats.State != circuitbreaker.StateClosed {
			open = 1
		}
		metrics.SetGauge("circuit_breaker_open", open, labels, "1 while the upstream breaker is not closed")
		metrics.SetGauge("circuit_breaker_failures", float64(stats.Failures), labels, "Consecutive upstream failures counted by the breaker")
	}
}
