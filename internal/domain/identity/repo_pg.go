package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medhealth/telemetry/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const userCols = `id, email, password_hash, role, is_active, created_at,
	updated_at, last_login_at, failed_login_attempts, locked_until`

func (r *userRepoPG) scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive,
		&u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt, &u.FailedLoginAttempts,
		&u.LockedUntil)
	return &u, err
}

func (r *userRepoPG) Create(ctx context.Context, email, passwordHash string) (*User, error) {
	return r.scanUser(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (email, password_hash, role)
		VALUES ($1, $2, 'viewer')
		RETURNING `+userCols, email, passwordHash))
}

func (r *userRepoPG) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	return exists, err
}

func (r *userRepoPG) GetActiveByEmail(ctx context.Context, email string) (*User, error) {
	u, err := r.scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE email = $1 AND is_active = true`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *userRepoPG) RecordLoginFailure(ctx context.Context, id uuid.UUID, maxAttempts, lockoutMinutes int) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE users SET
			failed_login_attempts = failed_login_attempts + 1,
			locked_until = CASE
				WHEN failed_login_attempts + 1 >= $2
				THEN NOW() + make_interval(mins => $3)
				ELSE locked_until
			END,
			updated_at = NOW()
		WHERE id = $1`, id, maxAttempts, lockoutMinutes)
	return err
}

func (r *userRepoPG) RecordLoginSuccess(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE users SET failed_login_attempts = 0, last_login_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id)
	return err
}
