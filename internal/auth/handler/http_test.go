package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KiriEmpathy/psylence/internal/auth/service"
	"github.com/KiriEmpathy/psylence/internal/security"
	"github.com/KiriEmpathy/psylence/internal/user/domain"
)

type fakeUserStore struct {
	mu       sync.Mutex
	byID     map[string]*domain.User
	byEmail  map[string]*domain.User
	profiles map[string]*domain.Profile
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		byID:     map[string]*domain.User{},
		byEmail:  map[string]*domain.User{},
		profiles: map[string]*domain.Profile{},
	}
}

func (s *fakeUserStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	u2 := *u
	return &u2, nil
}

func (s *fakeUserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byEmail[email]
	if !ok {
		return nil, nil
	}
	u2 := *u
	return &u2, nil
}

func (s *fakeUserStore) Create(ctx context.Context, u *domain.User, p *domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u2 := *u
	s.byID[u.ID] = &u2
	s.byEmail[u.Email] = &u2
	p2 := *p
	s.profiles[u.ID] = &p2
	return nil
}

func (s *fakeUserStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	p2 := *p
	return &p2, nil
}

func (s *fakeUserStore) UpdateSession(ctx context.Context, userID, jti, ip string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	u.CurrentRefreshJTI = &jti
	u.LastIP = &ip
	u.SessionExpiresAt = &expiresAt
	u.LastLoginAt = &now
	return nil
}

func (s *fakeUserStore) ResetSession(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return nil
	}
	u.CurrentRefreshJTI = nil
	u.LastIP = nil
	u.SessionExpiresAt = nil
	return nil
}

func newTestMux(t *testing.T) (*http.ServeMux, *fakeUserStore) {
	t.Helper()
	tokens, err := security.NewTokenProvider("HS256", []byte("access-secret"), []byte("refresh-secret"), 15*time.Minute, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenProvider: %v", err)
	}
	store := newFakeUserStore()
	svc := service.NewAuthService(store, security.NewHasher(4), tokens, 24*time.Hour)
	h := NewHandler(nil, svc, 15*time.Minute, 24*time.Hour, false)
	mux := http.NewServeMux()
	h.Register(mux)
	return mux, store
}

func doJSON(mux *http.ServeMux, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func cookiesByName(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

const registerBody = `{"email":"amy@example.com","password":"open sesame","fullname":"Amy Pond","username":"amy","birthdate":"1989-04-01"}`

func registerUser(t *testing.T, mux *http.ServeMux) map[string]*http.Cookie {
	t.Helper()
	rec := doJSON(mux, http.MethodPost, "/auth/register", registerBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want %d (body %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
	return cookiesByName(rec)
}

func TestRegister_SetsSessionCookies(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(mux, http.MethodPost, "/auth/register", registerBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}

	got := cookiesByName(rec)
	access, ok := got["user_access_token"]
	if !ok || access.Value == "" {
		t.Fatal("expected user_access_token cookie")
	}
	if !access.HttpOnly || !access.Secure || access.SameSite != http.SameSiteNoneMode {
		t.Errorf("access cookie flags = %+v, want HttpOnly Secure SameSite=None", access)
	}
	if access.Path != "/" {
		t.Errorf("access cookie path = %q, want /", access.Path)
	}
	refresh, ok := got["user_refresh_token"]
	if !ok || refresh.Value == "" {
		t.Fatal("expected user_refresh_token cookie")
	}
	if refresh.Path != "/auth/refresh" {
		t.Errorf("refresh cookie path = %q, want /auth/refresh", refresh.Path)
	}

	var resp struct {
		User struct {
			Email    string `json:"email"`
			Username string `json:"username"`
			Role     string `json:"role"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.User.Email != "amy@example.com" || resp.User.Username != "amy" || resp.User.Role != "user" {
		t.Errorf("user body = %+v", resp.User)
	}
	if strings.Contains(rec.Body.String(), access.Value) {
		t.Error("access token leaked into response body")
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	mux, _ := newTestMux(t)
	registerUser(t, mux)

	rec := doJSON(mux, http.MethodPost, "/auth/register", registerBody)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if !strings.Contains(rec.Body.String(), "email_taken") {
		t.Errorf("body = %s, want email_taken error code", rec.Body.String())
	}
}

func TestRegister_InvalidBody(t *testing.T) {
	mux, _ := newTestMux(t)

	cases := map[string]string{
		"not json":       `{"email":`,
		"unknown field":  `{"email":"a@b.com","password":"open sesame","fullname":"A","username":"a","birthdate":"1989-04-01","admin":true}`,
		"short password": `{"email":"a@b.com","password":"short","fullname":"A","username":"a","birthdate":"1989-04-01"}`,
		"bad birthdate":  `{"email":"a@b.com","password":"open sesame","fullname":"A","username":"a","birthdate":"01-04-1989"}`,
	}
	for name, body := range cases {
		rec := doJSON(mux, http.MethodPost, "/auth/register", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", name, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	mux, _ := newTestMux(t)
	registerUser(t, mux)

	rec := doJSON(mux, http.MethodPost, "/auth/login", `{"email":"amy@example.com","password":"wrong password"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	// Unknown email gets the same answer as a wrong password.
	rec = doJSON(mux, http.MethodPost, "/auth/login", `{"email":"nobody@example.com","password":"wrong password"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown email status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestLogin_SetsFreshSession(t *testing.T) {
	mux, _ := newTestMux(t)
	first := registerUser(t, mux)

	rec := doJSON(mux, http.MethodPost, "/auth/login", `{"email":"amy@example.com","password":"open sesame"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	second := cookiesByName(rec)
	if second["user_refresh_token"].Value == first["user_refresh_token"].Value {
		t.Error("login did not rotate the refresh token")
	}

	// The pre-login refresh token belongs to the overwritten session.
	rec = doJSON(mux, http.MethodPost, "/auth/refresh", "", first["user_refresh_token"])
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("stale refresh status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRefresh_RotatesAndInvalidatesOldToken(t *testing.T) {
	mux, _ := newTestMux(t)
	first := registerUser(t, mux)

	rec := doJSON(mux, http.MethodPost, "/auth/refresh", "", first["user_refresh_token"])
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	second := cookiesByName(rec)
	if second["user_refresh_token"].Value == first["user_refresh_token"].Value {
		t.Fatal("refresh did not rotate the refresh token")
	}
	if second["user_access_token"].Value == "" {
		t.Fatal("refresh did not set a new access cookie")
	}

	// Replaying the consumed token must fail and kill the rotated session too.
	rec = doJSON(mux, http.MethodPost, "/auth/refresh", "", first["user_refresh_token"])
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	rec = doJSON(mux, http.MethodPost, "/auth/refresh", "", second["user_refresh_token"])
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("post-replay refresh status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRefresh_MissingCookie(t *testing.T) {
	mux, _ := newTestMux(t)
	registerUser(t, mux)

	rec := doJSON(mux, http.MethodPost, "/auth/refresh", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(rec.Body.String(), "unauthorized") {
		t.Errorf("body = %s, want generic unauthorized error", rec.Body.String())
	}
}

func TestRefresh_IPMismatch(t *testing.T) {
	mux, _ := newTestMux(t)
	cookies := registerUser(t, mux)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.RemoteAddr = "203.0.113.9:4242"
	req.AddCookie(cookies["user_refresh_token"])
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	// The mismatch cleared the session, so the original IP cannot recover it.
	rec2 := doJSON(mux, http.MethodPost, "/auth/refresh", "", cookies["user_refresh_token"])
	if rec2.Code != http.StatusUnauthorized {
		t.Errorf("retry from original IP status = %d, want %d", rec2.Code, http.StatusUnauthorized)
	}
}

func TestLogout_ClearsCookiesAndSession(t *testing.T) {
	mux, _ := newTestMux(t)
	cookies := registerUser(t, mux)

	rec := doJSON(mux, http.MethodPost, "/auth/logout", "", cookies["user_access_token"])
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	cleared := cookiesByName(rec)
	for _, name := range []string{"user_access_token", "user_refresh_token"} {
		c, ok := cleared[name]
		if !ok {
			t.Fatalf("logout did not clear %s", name)
		}
		if c.MaxAge != -1 || c.Value != "" {
			t.Errorf("%s after logout: MaxAge=%d Value=%q, want deletion", name, c.MaxAge, c.Value)
		}
	}
	if cleared["user_refresh_token"].Path != "/auth/refresh" {
		t.Errorf("refresh deletion path = %q, want /auth/refresh", cleared["user_refresh_token"].Path)
	}

	rec = doJSON(mux, http.MethodPost, "/auth/refresh", "", cookies["user_refresh_token"])
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("refresh after logout status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	// Logout is idempotent while the access token is still valid.
	rec = doJSON(mux, http.MethodPost, "/auth/logout", "", cookies["user_access_token"])
	if rec.Code != http.StatusOK {
		t.Errorf("second logout status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestMe(t *testing.T) {
	mux, _ := newTestMux(t)
	cookies := registerUser(t, mux)

	rec := doJSON(mux, http.MethodGet, "/auth/me", "", cookies["user_access_token"])
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp struct {
		User struct {
			Email    string `json:"email"`
			Fullname string `json:"fullname"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.User.Email != "amy@example.com" || resp.User.Fullname != "Amy Pond" {
		t.Errorf("user body = %+v", resp.User)
	}
}

func TestMe_Unauthenticated(t *testing.T) {
	mux, _ := newTestMux(t)
	registerUser(t, mux)

	rec := doJSON(mux, http.MethodGet, "/auth/me", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no cookie status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	rec = doJSON(mux, http.MethodGet, "/auth/me", "", &http.Cookie{Name: "user_access_token", Value: "not-a-jwt"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux, _ := newTestMux(t)

	for _, path := range []string{"/auth/register", "/auth/login", "/auth/logout", "/auth/refresh"} {
		rec := doJSON(mux, http.MethodGet, path, "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s status = %d, want %d", path, rec.Code, http.StatusMethodNotAllowed)
		}
	}
	rec := doJSON(mux, http.MethodPost, "/auth/me", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /auth/me status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.7:1024"
	r.Header.Set("X-Forwarded-For", "203.0.113.50, 10.0.0.1")

	if got := clientIP(r, false); got != "198.51.100.7" {
		t.Errorf("untrusted proxy: got %q, want remote addr host", got)
	}
	if got := clientIP(r, true); got != "203.0.113.50" {
		t.Errorf("trusted proxy: got %q, want first forwarded hop", got)
	}

	r.Header.Del("X-Forwarded-For")
	r.Header.Set("X-Real-IP", "203.0.113.51")
	if got := clientIP(r, true); got != "203.0.113.51" {
		t.Errorf("X-Real-IP: got %q, want header value", got)
	}
}
