package oru

import (
	"encoding/json"
	"net/http"
	"time"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	// Name is the name of the check.
	Name string `json:"name"`

	// Healthy indicates whether the check passed.
	Healthy bool `json:"healthy"`

	// Message provides additional context about the check result.
	Message string `json:"message,omitempty"`
}

// HealthStatus represents the overall health status of the node.
type HealthStatus struct {
	// Healthy indicates whether all checks passed.
	Healthy bool `json:"healthy"`

	// Checks contains the results of individual checks.
	Checks []CheckResult `json:"checks"`

	// Timestamp is when the health check was performed.
	Timestamp time.Time `json:"timestamp"`
}

// IsHealthy returns true while the node has not been closed.
// This is a quick check suitable for liveness probes.
func (n *Node) IsHealthy() bool {
	return !n.closed.Load()
}

// ReadinessChecks performs detailed health checks and returns the results.
//
// Checks performed:
//   - node_open: the node has not been closed
//   - bootstrapped: Connect has learned our public address
//   - reservation: the relay slot, if one was requested, was not refused
//   - connections: number of open connections (informational)
func (n *Node) ReadinessChecks() HealthStatus {
	status := HealthStatus{
		Healthy:   true,
		Checks:    make([]CheckResult, 0, 4),
		Timestamp: n.config.Clock.Now(),
	}
	add := func(c CheckResult) {
		status.Checks = append(status.Checks, c)
		if !c.Healthy {
			status.Healthy = false
		}
	}

	open := n.IsHealthy()
	add(CheckResult{
		Name:    "node_open",
		Healthy: open,
		Message: boolToMessage(open, "node is running", "node is closed"),
	})

	stats := n.Stats()

	bootstrapped := n.PublicAddr() != nil
	add(CheckResult{
		Name:    "bootstrapped",
		Healthy: bootstrapped,
		Message: boolToMessage(bootstrapped, "public address is known", "not bootstrapped"),
	})

	reservation := CheckResult{Name: "reservation", Healthy: true, Message: stats.Reservation.String()}
	if stats.Reservation == ReservationFailed {
		reservation.Healthy = false
		if stats.ReservationError != nil {
			reservation.Message = stats.ReservationError.Error()
		}
	}
	add(reservation)

	// Informational only.
	connMsg := "no active connections"
	if stats.ConnectedPeers > 0 {
		connMsg = "has active connections"
	}
	add(CheckResult{Name: "connections", Healthy: true, Message: connMsg})

	return status
}

func boolToMessage(b bool, trueMsg, falseMsg string) string {
	if b {
		return trueMsg
	}
	return falseMsg
}

// HealthHandler returns an http.Handler that serves readiness responses:
// 200 OK if every check passed, 503 Service Unavailable otherwise. The body
// is the JSON form of HealthStatus.
//
//	http.Handle("/health", oru.HealthHandler(node))
func HealthHandler(node *Node) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := node.ReadinessChecks()

		w.Header().Set("Content-Type", "application/json")
		if status.Healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(status)
	})
}

// LivenessHandler returns an http.Handler that serves liveness responses
// based on IsHealthy.
//
//	http.Handle("/live", oru.LivenessHandler(node))
func LivenessHandler(node *Node) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if node.IsHealthy() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"healthy":true}`))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"healthy":false}`))
		}
	})
}
