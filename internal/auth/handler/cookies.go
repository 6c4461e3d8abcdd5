package handler

import (
	"net/http"
	"strings"
	"time"
)

// Cookie names and paths. The refresh cookie is scoped to the refresh endpoint
// only, so the long-lived token never travels with ordinary requests. Both are
// HttpOnly+Secure with SameSite=None to support a front end on another origin,
// which requires HTTPS in production.
const (
	accessCookieName  = "user_access_token"
	refreshCookieName = "user_refresh_token"
	accessCookiePath  = "/"
	refreshCookiePath = "/auth/refresh"
)

func (h *Handler) setSessionCookies(w http.ResponseWriter, accessToken, refreshToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    accessToken,
		Path:     accessCookiePath,
		MaxAge:   int(h.accessTTL.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    refreshToken,
		Path:     refreshCookiePath,
		MaxAge:   int(h.refreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

// clearSessionCookies deletes both cookies with the same path and flags they
// were set with, otherwise browsers keep the originals.
func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	for _, c := range []struct{ name, path string }{
		{accessCookieName, accessCookiePath},
		{refreshCookieName, refreshCookiePath},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			Expires:  time.Unix(0, 0).UTC(),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteNoneMode,
		})
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}
