// Package metrics exposes prometheus counters for auth outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AuthAttempts counts auth operations by outcome. operation is one of
	// register, login, refresh, logout; result is ok, unauthorized, conflict,
	// invalid or error.
	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "psylence_auth_attempts_total",
		Help: "Auth operations by operation and result.",
	}, []string{"operation", "result"})

	// SessionResets counts destructive session clears by cause (logout,
	// expired, ip_mismatch, session_mismatch, login_overwrite).
	SessionResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "psylence_session_resets_total",
		Help: "Server-side session invalidations by cause.",
	}, []string{"cause"})
)

// Handler returns the /metrics handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
