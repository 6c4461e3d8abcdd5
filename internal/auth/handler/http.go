// Package handler maps the session manager onto cookie HTTP endpoints.
package handler

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/KiriEmpathy/psylence/internal/auth/service"
	"github.com/KiriEmpathy/psylence/internal/metrics"
	"github.com/KiriEmpathy/psylence/internal/user/domain"
)

const maxBodyBytes = 1 << 20

// Handler wires HTTP auth endpoints to the auth service. Tokens travel only
// in cookies; the response bodies never carry them.
type Handler struct {
	log        *slog.Logger
	svc        *service.AuthService
	validate   *validator.Validate
	accessTTL  time.Duration
	refreshTTL time.Duration
	trustProxy bool
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, svc *service.AuthService, accessTTL, refreshTTL time.Duration, trustProxy bool) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:        log,
		svc:        svc,
		validate:   validator.New(),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		trustProxy: trustProxy,
	}
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/me", h.handleMe)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		metrics.AuthAttempts.WithLabelValues("register", "invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid_request", "missing or malformed fields")
		return
	}
	birthdate, err := parseBirthdate(req.Birthdate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "birthdate must be YYYY-MM-DD")
		return
	}

	ip := clientIP(r, h.trustProxy)
	user, profile, pair, err := h.svc.Register(r.Context(), service.RegisterParams{
		Email:     req.Email,
		Password:  req.Password,
		Fullname:  req.Fullname,
		Username:  req.Username,
		Birthdate: birthdate,
	}, ip)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailAlreadyRegistered):
			metrics.AuthAttempts.WithLabelValues("register", "conflict").Inc()
			writeError(w, http.StatusConflict, "email_taken", "email already registered")
		default:
			metrics.AuthAttempts.WithLabelValues("register", "error").Inc()
			h.log.Error("auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	metrics.AuthAttempts.WithLabelValues("register", "ok").Inc()
	h.setSessionCookies(w, pair.AccessToken, pair.RefreshToken)
	writeJSON(w, http.StatusCreated, userEnvelope{User: toUserResponse(user, profile)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		metrics.AuthAttempts.WithLabelValues("login", "invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ip := clientIP(r, h.trustProxy)
	user, profile, pair, err := h.svc.Login(r.Context(), req.Email, req.Password, ip)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			metrics.AuthAttempts.WithLabelValues("login", "unauthorized").Inc()
			h.log.Info("auth.login.rejected", "ip", ip)
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		default:
			metrics.AuthAttempts.WithLabelValues("login", "error").Inc()
			h.log.Error("auth.login.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	metrics.AuthAttempts.WithLabelValues("login", "ok").Inc()
	h.setSessionCookies(w, pair.AccessToken, pair.RefreshToken)
	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(user, profile)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	user, ok := h.requireAccess(w, r, "logout")
	if !ok {
		return
	}
	if err := h.svc.Logout(r.Context(), user.ID); err != nil {
		metrics.AuthAttempts.WithLabelValues("logout", "error").Inc()
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	metrics.AuthAttempts.WithLabelValues("logout", "ok").Inc()
	metrics.SessionResets.WithLabelValues("logout").Inc()
	h.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ip := clientIP(r, h.trustProxy)
	token := cookieValue(r, refreshCookieName)

	user, err := h.svc.ValidateRefresh(r.Context(), token, ip)
	if err != nil {
		if errors.Is(err, service.ErrUnauthorized) {
			reason := service.ReasonOf(err)
			metrics.AuthAttempts.WithLabelValues("refresh", "unauthorized").Inc()
			switch reason {
			case service.ReasonExpired, service.ReasonIPMismatch, service.ReasonSessionMismatch:
				metrics.SessionResets.WithLabelValues(string(reason)).Inc()
			}
			h.log.Info("auth.refresh.rejected", "reason", string(reason), "ip", ip)
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid refresh token")
			return
		}
		metrics.AuthAttempts.WithLabelValues("refresh", "error").Inc()
		h.log.Error("auth.refresh.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	pair, err := h.svc.Refresh(r.Context(), user, ip)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("refresh", "error").Inc()
		h.log.Error("auth.refresh.rotate.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	metrics.AuthAttempts.WithLabelValues("refresh", "ok").Inc()
	h.setSessionCookies(w, pair.AccessToken, pair.RefreshToken)
	writeJSON(w, http.StatusOK, messageResponse{Message: "token refreshed"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	user, ok := h.requireAccess(w, r, "me")
	if !ok {
		return
	}
	profile, err := h.svc.Profile(r.Context(), user.ID)
	if err != nil {
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(user, profile)})
}

// requireAccess authenticates the request via the access cookie. On failure it
// writes a generic 401 and logs the actual reason.
func (h *Handler) requireAccess(w http.ResponseWriter, r *http.Request, op string) (*domain.User, bool) {
	token := cookieValue(r, accessCookieName)
	u, err := h.svc.ValidateAccess(r.Context(), token)
	if err != nil {
		if errors.Is(err, service.ErrUnauthorized) {
			h.log.Info("auth."+op+".unauthorized", "reason", string(service.ReasonOf(err)))
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return nil, false
		}
		h.log.Error("auth."+op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return nil, false
	}
	return u, true
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip.String()
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
