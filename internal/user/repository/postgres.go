package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/KiriEmpathy/psylence/internal/user/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, email, hashed_password, is_active, created_at, last_login_at, current_refresh_jti, expires_at, last_ip`

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// Create persists the user and its profile in one transaction. The user must
// have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User, p *domain.Profile) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, hashed_password, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Email, u.HashedPassword, u.IsActive, u.CreatedAt,
	)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO profiles (user_id, fullname, username, birthdate, gender, country, city, subscription_level, role, img_src)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, p.Fullname, nullString(p.Username), p.Birthdate,
		nullString(p.Gender), nullString(p.Country), nullString(p.City),
		string(p.SubscriptionLevel), string(p.Role), nullString(p.ImgSrc),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// GetProfile returns the profile for userID, or nil if not found.
func (r *PostgresRepository) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT user_id, fullname, username, birthdate, gender, country, city, subscription_level, role, img_src
		 FROM profiles WHERE user_id = $1`, userID)

	var (
		p        domain.Profile
		username sql.NullString
		gender   sql.NullString
		country  sql.NullString
		city     sql.NullString
		sub      string
		role     string
		imgSrc   sql.NullString
	)
	err := row.Scan(&p.UserID, &p.Fullname, &username, &p.Birthdate, &gender, &country, &city, &sub, &role, &imgSrc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.Username = username.String
	p.Gender = gender.String
	p.Country = country.String
	p.City = city.String
	p.SubscriptionLevel = domain.SubscriptionLevel(sub)
	p.Role = domain.Role(role)
	p.ImgSrc = imgSrc.String
	return &p, nil
}

// UpdateSession overwrites the session fields and last_login_at in a single
// UPDATE, so concurrent readers see either the old session or the new one,
// never a mix.
func (r *PostgresRepository) UpdateSession(ctx context.Context, userID, jti, ip string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET current_refresh_jti = $2, last_ip = $3, expires_at = $4, last_login_at = $5
		 WHERE id = $1`,
		userID, jti, ip, expiresAt, time.Now().UTC(),
	)
	return err
}

// ResetSession clears the session fields in a single UPDATE. Idempotent:
// clearing an already-empty session is a no-op.
func (r *PostgresRepository) ResetSession(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET current_refresh_jti = NULL, expires_at = NULL, last_ip = NULL
		 WHERE id = $1`,
		userID,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u           domain.User
		lastLoginAt sql.NullTime
		jti         sql.NullString
		expiresAt   sql.NullTime
		lastIP      sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &u.HashedPassword, &u.IsActive, &u.CreatedAt, &lastLoginAt, &jti, &expiresAt, &lastIP)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastLoginAt.Valid {
		u.LastLoginAt = &lastLoginAt.Time
	}
	if jti.Valid {
		u.CurrentRefreshJTI = &jti.String
	}
	if expiresAt.Valid {
		u.SessionExpiresAt = &expiresAt.Time
	}
	if lastIP.Valid {
		u.LastIP = &lastIP.String
	}
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
