// Package service implements the session lifecycle: login, logout, validation
// and refresh-token rotation, with the IP-binding and reuse checks that guard
// refresh operations.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KiriEmpathy/psylence/internal/security"
	"github.com/KiriEmpathy/psylence/internal/user/domain"
)

// UserStore is the minimal persistence contract needed by the auth service.
// Session mutations must be atomic per user row.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User, p *domain.Profile) error
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	UpdateSession(ctx context.Context, userID, jti, ip string, expiresAt time.Time) error
	ResetSession(ctx context.Context, userID string) error
}

// TokenPair holds a freshly issued access/refresh token pair.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RegisterParams are the fields needed to create a user with a profile.
type RegisterParams struct {
	Email     string
	Password  string
	Fullname  string
	Username  string
	Birthdate time.Time
}

// AuthService orchestrates the credential verifier, token codec and user store.
// One refresh session per user: login and rotation unconditionally overwrite
// the stored session; logout, expiry and IP mismatch clear it.
type AuthService struct {
	store      UserStore
	hasher     *security.Hasher
	tokens     *security.TokenProvider
	refreshTTL time.Duration
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(store UserStore, hasher *security.Hasher, tokens *security.TokenProvider, refreshTTL time.Duration) *AuthService {
	return &AuthService{
		store:      store,
		hasher:     hasher,
		tokens:     tokens,
		refreshTTL: refreshTTL,
	}
}

// Register creates a user and profile, then logs the new user in (new session,
// token pair). Fails with ErrEmailAlreadyRegistered without any mutation when
// the email is taken.
func (s *AuthService) Register(ctx context.Context, params RegisterParams, clientIP string) (*domain.User, *domain.Profile, *TokenPair, error) {
	email := strings.TrimSpace(strings.ToLower(params.Email))
	existing, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return nil, nil, nil, err
	}
	if existing != nil {
		return nil, nil, nil, ErrEmailAlreadyRegistered
	}

	hashed, err := s.hasher.Hash([]byte(params.Password))
	if err != nil {
		return nil, nil, nil, err
	}
	now := time.Now().UTC()
	user := &domain.User{
		ID:             uuid.New().String(),
		Email:          email,
		HashedPassword: hashed,
		IsActive:       true,
		CreatedAt:      now,
	}
	if err := user.Validate(); err != nil {
		return nil, nil, nil, err
	}
	profile := &domain.Profile{
		UserID:    user.ID,
		Fullname:  strings.TrimSpace(params.Fullname),
		Username:  strings.TrimSpace(params.Username),
		Birthdate: params.Birthdate,
	}
	if err := profile.Validate(); err != nil {
		return nil, nil, nil, err
	}
	if err := s.store.Create(ctx, user, profile); err != nil {
		return nil, nil, nil, err
	}

	pair, err := s.startSession(ctx, user.ID, clientIP)
	if err != nil {
		return nil, nil, nil, err
	}
	return user, profile, pair, nil
}

// Login verifies credentials and starts a fresh session, invalidating any
// prior one. The response does not distinguish unknown email from wrong
// password, to avoid account enumeration.
func (s *AuthService) Login(ctx context.Context, email, password, clientIP string) (*domain.User, *domain.Profile, *TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, nil, nil, ErrInvalidCredentials
	}
	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return nil, nil, nil, err
	}
	if user == nil || !user.IsActive {
		return nil, nil, nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.HashedPassword, []byte(password)); err != nil {
		return nil, nil, nil, ErrInvalidCredentials
	}
	profile, err := s.store.GetProfile(ctx, user.ID)
	if err != nil {
		return nil, nil, nil, err
	}

	pair, err := s.startSession(ctx, user.ID, clientIP)
	if err != nil {
		return nil, nil, nil, err
	}
	return user, profile, pair, nil
}

// ValidateAccess verifies the access token and resolves its user. Stateless
// fast path: no session lookup, so access tokens stay valid until their own
// expiry even after logout.
func (s *AuthService) ValidateAccess(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, unauthorized(ReasonMissing)
	}
	claims, err := s.tokens.VerifyAccess(token)
	if err != nil {
		return nil, unauthorized(codecReason(err))
	}
	user, err := s.store.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, unauthorized(ReasonUserNotFound)
	}
	return user, nil
}

// ValidateRefresh verifies the refresh token against the stored session: the
// embedded jti must match the current one, the session must be unexpired and
// the client IP must equal the IP recorded at issuance. A stale jti, expiry or
// IP mismatch destroys the session before failing, so the whole lineage dies
// and the user must log in again.
func (s *AuthService) ValidateRefresh(ctx context.Context, token, clientIP string) (*domain.User, error) {
	if token == "" {
		return nil, unauthorized(ReasonMissing)
	}
	claims, err := s.tokens.VerifyRefresh(token)
	if err != nil {
		return nil, unauthorized(codecReason(err))
	}
	user, err := s.store.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, unauthorized(ReasonUserNotFound)
	}
	if !user.HasSession() {
		return nil, unauthorized(ReasonSessionMismatch)
	}
	// A token from an already-rotated lineage is a replay even when presented
	// from the recorded IP before expiry.
	if subtle.ConstantTimeCompare([]byte(claims.ID), []byte(*user.CurrentRefreshJTI)) != 1 {
		if err := s.store.ResetSession(ctx, user.ID); err != nil {
			return nil, err
		}
		return nil, unauthorized(ReasonSessionMismatch)
	}
	if time.Now().UTC().After(*user.SessionExpiresAt) {
		if err := s.store.ResetSession(ctx, user.ID); err != nil {
			return nil, err
		}
		return nil, unauthorized(ReasonExpired)
	}
	if user.LastIP == nil || *user.LastIP != clientIP {
		if err := s.store.ResetSession(ctx, user.ID); err != nil {
			return nil, err
		}
		return nil, unauthorized(ReasonIPMismatch)
	}
	return user, nil
}

// Refresh rotates the session after ValidateRefresh has succeeded: a new jti
// and expiry overwrite the stored ones atomically, making the old refresh
// token permanently unusable, and a new token pair is issued.
func (s *AuthService) Refresh(ctx context.Context, user *domain.User, clientIP string) (*TokenPair, error) {
	return s.startSession(ctx, user.ID, clientIP)
}

// Logout clears the stored session. Idempotent: logging out twice is safe.
// Unexpired access tokens are not revoked; they die at their own expiry.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	return s.store.ResetSession(ctx, userID)
}

// Profile returns the profile for the given user.
func (s *AuthService) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	return s.store.GetProfile(ctx, userID)
}

// startSession generates a new session id, persists (jti, ip, expiry) in one
// atomic update, and issues the token pair bound to it. If two calls race on
// the same user the store's last write wins; the loser's tokens reference an
// overwritten jti and fail the next validation, which forces a clean re-login.
func (s *AuthService) startSession(ctx context.Context, userID, clientIP string) (*TokenPair, error) {
	jti, err := security.NewSessionID()
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().UTC().Add(s.refreshTTL)
	if err := s.store.UpdateSession(ctx, userID, jti, clientIP, expiresAt); err != nil {
		return nil, err
	}
	accessToken, accessExp, err := s.tokens.IssueAccess(userID)
	if err != nil {
		return nil, err
	}
	refreshToken, refreshExp, err := s.tokens.IssueRefresh(userID, jti)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func codecReason(err error) Reason {
	if errors.Is(err, security.ErrExpiredToken) {
		return ReasonExpired
	}
	return ReasonMalformed
}
