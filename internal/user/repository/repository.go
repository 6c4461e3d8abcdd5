package repository

import (
	"context"
	"time"

	"github.com/KiriEmpathy/psylence/internal/user/domain"
)

// Repository defines persistence for users, profiles and the embedded session.
// Session mutations (UpdateSession, ResetSession) must be atomic per user row:
// readers never observe a partially written session.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User, p *domain.Profile) error
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	// UpdateSession overwrites the user's session fields with a new jti, client
	// IP and expiry, and stamps last_login_at. One statement; unconditionally
	// replaces any prior session.
	UpdateSession(ctx context.Context, userID, jti, ip string, expiresAt time.Time) error
	// ResetSession clears jti, expiry and IP as a unit. Idempotent.
	ResetSession(ctx context.Context, userID string) error
}
