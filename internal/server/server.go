// Package server assembles the HTTP router: auth routes, health probes,
// metrics, and the middleware chain (rate limiting, CORS, request logging).
package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/KiriEmpathy/psylence/internal/auth/handler"
	"github.com/KiriEmpathy/psylence/internal/config"
	"github.com/KiriEmpathy/psylence/internal/metrics"
)

// New builds the root handler. The rate limiter covers the credential
// endpoints only; refresh and access-token endpoints are self-limiting via
// token checks.
func New(log *slog.Logger, cfg *config.Config, db *sql.DB, auth *handler.Handler) http.Handler {
	mux := http.NewServeMux()

	limiter := NewRateLimiter(cfg.LoginRatePerMinute, cfg.LoginRateBurst)
	limited := http.NewServeMux()
	auth.Register(limited)
	mux.Handle("/auth/register", limiter.Wrap(limited))
	mux.Handle("/auth/login", limiter.Wrap(limited))
	mux.Handle("/auth/logout", limited)
	mux.Handle("/auth/refresh", limited)
	mux.Handle("/auth/me", limited)

	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				log.Info("readyz.db.not_ready", "err", err)
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOriginsList(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})

	return WithRequestLogging(c.Handler(mux), log)
}
