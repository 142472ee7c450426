package metrics

import (
	"time"

	"github.com/quotagate/quotagate/internal/observability"
)

// Application-level metrics following Prometheus conventions
var (
	// Admission metrics
	GateDecisionsTotal = "app_gate_decisions_total"
	GateRejectsTotal   = "app_gate_rejects_total"

	// Forwarding metrics
	ForwardsTotal     = "app_forwards_total"
	ForwardDurationMs = "app_forward_duration_ms"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"
)

// RecordGateDecision records one admission decision and its outcome.
// Outcome is "allowed", "denied_burst", "denied_daily", or "error".
func RecordGateDecision(outcome string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			GateDecisionsTotal,
			1,
			map[string]string{
				"outcome": outcome,
			},
		)
	}
}

// RecordGateReject records a request refused before evaluation,
// e.g. a missing client identity header.
func RecordGateReject(reason string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			GateRejectsTotal,
			1,
			map[string]string{
				"reason": reason,
			},
		)
	}
}

// RecordForward records an admitted request forwarded to the origin.
func RecordForward(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ForwardsTotal,
			1,
			map[string]string{
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			ForwardDurationMs,
			duration,
			nil,
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}

// SetServerUptime records the server uptime in seconds
func SetServerUptime(seconds int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerUptime,
			float64(seconds),
			nil,
		)
	}
}
