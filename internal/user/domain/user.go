package domain

import (
	"errors"
	"time"
)

// User is the core user entity. The refresh session lives on the user row:
// CurrentRefreshJTI, SessionExpiresAt and LastIP are nil as a unit when there
// is no active session, and are always written together in a single atomic
// update (one live session per user; a new login overwrites any prior one).
type User struct {
	ID             string
	Email          string
	HashedPassword string
	IsActive       bool
	CreatedAt      time.Time
	LastLoginAt    *time.Time

	CurrentRefreshJTI *string
	SessionExpiresAt  *time.Time
	LastIP            *string
}

// HasSession reports whether the user currently has a live refresh session.
func (u *User) HasSession() bool {
	return u != nil && u.CurrentRefreshJTI != nil && u.SessionExpiresAt != nil
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.HashedPassword == "" {
		return errors.New("hashed password is required")
	}
	return nil
}

// Role of a profile.
type Role string

const (
	RoleUser         Role = "user"
	RolePsychologist Role = "psychologist"
)

// SubscriptionLevel of a profile.
type SubscriptionLevel string

const (
	SubscriptionBase     SubscriptionLevel = "base"
	SubscriptionAdvanced SubscriptionLevel = "advanced"
)

// Profile holds the public-facing user fields, one-to-one with User.
type Profile struct {
	UserID            string
	Fullname          string
	Username          string
	Birthdate         time.Time
	Gender            string
	Country           string
	City              string
	SubscriptionLevel SubscriptionLevel
	Role              Role
	ImgSrc            string
}

// Validate validates the profile for persistence.
func (p *Profile) Validate() error {
	if p.Fullname == "" {
		return errors.New("fullname is required")
	}
	if p.Birthdate.IsZero() {
		return errors.New("birthdate is required")
	}
	if p.SubscriptionLevel == "" {
		p.SubscriptionLevel = SubscriptionBase
	}
	if p.Role == "" {
		p.Role = RoleUser
	}
	return nil
}
