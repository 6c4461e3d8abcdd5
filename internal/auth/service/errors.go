package service

import "errors"

// Sentinel errors for the auth service; the handler maps them to HTTP statuses.
var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	// ErrUnauthorized matches any UnauthorizedError via errors.Is. Clients only
	// ever see a generic 401; the reason is for server-side diagnostics.
	ErrUnauthorized = errors.New("unauthorized")
)

// Reason says which check an unauthorized request failed.
type Reason string

const (
	ReasonMissing         Reason = "missing"
	ReasonMalformed       Reason = "malformed"
	ReasonExpired         Reason = "expired"
	ReasonIPMismatch      Reason = "ip_mismatch"
	ReasonSessionMismatch Reason = "session_mismatch"
	ReasonUserNotFound    Reason = "user_not_found"
)

// UnauthorizedError carries the failed check for logging. It matches
// ErrUnauthorized so transport code does not branch on reasons.
type UnauthorizedError struct {
	Reason Reason
}

func (e *UnauthorizedError) Error() string {
	return "unauthorized: " + string(e.Reason)
}

func (e *UnauthorizedError) Is(target error) bool {
	return target == ErrUnauthorized
}

func unauthorized(r Reason) error {
	return &UnauthorizedError{Reason: r}
}

// ReasonOf extracts the reason from an unauthorized error, or "" for other errors.
func ReasonOf(err error) Reason {
	var ue *UnauthorizedError
	if errors.As(err, &ue) {
		return ue.Reason
	}
	return ""
}
