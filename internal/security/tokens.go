package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token verification errors. VerifyAccess and VerifyRefresh return exactly one of these.
var (
	// ErrMalformedToken is returned when the signature or structure is invalid.
	ErrMalformedToken = errors.New("malformed token")
	// ErrExpiredToken is returned when the token is past its expiry.
	ErrExpiredToken = errors.New("expired token")
	// ErrMissingSubject is returned when the subject claim is absent.
	ErrMissingSubject = errors.New("missing subject claim")
)

// AccessClaims holds JWT claims for the access token.
type AccessClaims struct {
	jwt.RegisteredClaims
}

// RefreshClaims holds JWT claims for the refresh token (includes jti for rotation).
type RefreshClaims struct {
	jwt.RegisteredClaims
}

// TokenProvider issues and verifies JWT access and refresh tokens. The two
// domains are signed with independent secrets so compromise of one key does
// not forge tokens of the other. Signing and verification are pure; no I/O.
type TokenProvider struct {
	method        jwt.SigningMethod
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewTokenProvider returns a TokenProvider using the given HMAC algorithm
// ("HS256", "HS384" or "HS512") and the two independent signing secrets.
func NewTokenProvider(algorithm string, accessSecret, refreshSecret []byte, accessTTL, refreshTTL time.Duration) (*TokenProvider, error) {
	method := jwt.GetSigningMethod(algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.New("security: algorithm must be an HMAC method")
	}
	if len(accessSecret) == 0 || len(refreshSecret) == 0 {
		return nil, errors.New("security: signing secrets must be non-empty")
	}
	return &TokenProvider{
		method:        method,
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}, nil
}

// IssueAccess issues a short-lived access JWT with the given subject.
func (p *TokenProvider) IssueAccess(subject string) (token string, expiresAt time.Time, err error) {
	now := time.Now().UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err = jwt.NewWithClaims(p.method, claims).SignedString(p.accessSecret)
	return token, expiresAt, err
}

// IssueRefresh issues a long-lived refresh JWT bound to the given session
// identifier (jti). Caller stores the jti on the user row for rotation.
func (p *TokenProvider) IssueRefresh(subject, jti string) (token string, expiresAt time.Time, err error) {
	now := time.Now().UTC()
	expiresAt = now.Add(p.refreshTTL)
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err = jwt.NewWithClaims(p.method, claims).SignedString(p.refreshSecret)
	return token, expiresAt, err
}

// VerifyAccess parses and verifies an access token (signature, structure, exp, sub).
func (p *TokenProvider) VerifyAccess(tokenString string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := p.verify(tokenString, &claims, p.accessSecret); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return &claims, nil
}

// VerifyRefresh parses and verifies a refresh token (signature, structure, exp, sub).
// The embedded jti still has to be compared against the stored session by the caller.
func (p *TokenProvider) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := p.verify(tokenString, &claims, p.refreshSecret); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return &claims, nil
}

func (p *TokenProvider) verify(tokenString string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrMalformedToken
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrMalformedToken
	}
	if !token.Valid {
		return ErrMalformedToken
	}
	return nil
}

// NewSessionID generates an unguessable session identifier (jti) from 16
// random bytes, URL-safe base64 encoded.
func NewSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
