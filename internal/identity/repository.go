package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id string) (User, error)
	FindByPhone(ctx context.Context, phone string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	UpdateDevice(ctx context.Context, id, deviceID string) error
	UpdateTokenVersion(ctx context.Context, id string, version int) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	// ClaimPlaceholder sets claimed_by on an unclaimed placeholder; it reports
	// false when the placeholder was already claimed.
	ClaimPlaceholder(ctx context.Context, placeholderID, userID string) (bool, error)
	ListClaimedBy(ctx context.Context, userID string) ([]User, error)
	// ListPlaceholders returns unclaimed placeholders provisioned for the
	// given phone or email. Empty arguments match nothing.
	ListPlaceholders(ctx context.Context, phone, email string) ([]User, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, COALESCE(phone, ''), COALESCE(email, ''), display_name, tier, pin_hash, device_id,
    placeholder, claimed_by, token_version, last_login, created_at`

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (id, phone, email, display_name, tier, pin_hash, device_id, placeholder, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		userID, nullable(user.Phone), nullable(user.Email), user.DisplayName, user.Tier, user.PINHash, user.DeviceID,
		user.Placeholder, user.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrUserExists
	}
	return err
}

func scanUser(row pgx.Row) (User, error) {
	var (
		id        uuid.UUID
		claimedBy *uuid.UUID
		user      User
	)
	if err := row.Scan(&id, &user.Phone, &user.Email, &user.DisplayName, &user.Tier, &user.PINHash, &user.DeviceID,
		&user.Placeholder, &claimedBy, &user.TokenVersion, &user.LastLogin, &user.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	user.ID = id.String()
	if claimedBy != nil {
		user.ClaimedBy = claimedBy.String()
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}

// FindByID fetches a user by id.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

// FindByPhone fetches a user by phone number, preferring a registered user
// over a placeholder provisioned for the same number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1 ORDER BY placeholder LIMIT 1`, phone))
}

// FindByEmail fetches a user by email address.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1 ORDER BY placeholder LIMIT 1`, email))
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	cmd, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateDevice stores the users bound device identifier.
func (r *PostgresRepository) UpdateDevice(ctx context.Context, id, deviceID string) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return err
	}
	return r.exec(ctx, `UPDATE users SET device_id = $1 WHERE id = $2`, deviceID, userID)
}

// UpdateTokenVersion bumps the version embedded in issued tokens.
func (r *PostgresRepository) UpdateTokenVersion(ctx context.Context, id string, version int) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return err
	}
	return r.exec(ctx, `UPDATE users SET token_version = $1 WHERE id = $2`, version, userID)
}

// UpdateLastLogin records a successful login.
func (r *PostgresRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return err
	}
	return r.exec(ctx, `UPDATE users SET last_login = $1 WHERE id = $2`, at.UTC(), userID)
}

// ClaimPlaceholder links a placeholder to userID exactly once.
func (r *PostgresRepository) ClaimPlaceholder(ctx context.Context, placeholderID, userID string) (bool, error) {
	pid, err := uuid.Parse(placeholderID)
	if err != nil {
		return false, ErrUserNotFound
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return false, ErrUserNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users SET claimed_by = $1
        WHERE id = $2 AND placeholder AND claimed_by IS NULL`, uid, pid)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// ListClaimedBy returns placeholders claimed by userID.
func (r *PostgresRepository) ListClaimedBy(ctx context.Context, userID string) ([]User, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, nil
	}
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE claimed_by = $1 ORDER BY created_at`, uid)
}

// ListPlaceholders returns unclaimed placeholders for phone or email.
func (r *PostgresRepository) ListPlaceholders(ctx context.Context, phone, email string) ([]User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users
        WHERE placeholder AND claimed_by IS NULL
          AND ((phone IS NOT NULL AND phone = $1) OR (email IS NOT NULL AND email = $2))
        ORDER BY created_at`, nullable(phone), nullable(email))
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
