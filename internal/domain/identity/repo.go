package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrUserNotFound is returned by lookups with no matching row.
var ErrUserNotFound = errors.New("user not found")

// UserRepository defines persistence operations for user accounts.
type UserRepository interface {
	// Create inserts a new viewer account and returns the stored row.
	Create(ctx context.Context, email, passwordHash string) (*User, error)
	// ExistsByEmail reports whether any account, active or not, holds the
	// address.
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// GetActiveByEmail fetches an active account for login. Returns
	// ErrUserNotFound when no active row matches.
	GetActiveByEmail(ctx context.Context, email string) (*User, error)
	// RecordLoginFailure increments the failure counter and, once it
	// reaches maxAttempts, locks the account for lockoutMinutes.
	RecordLoginFailure(ctx context.Context, id uuid.UUID, maxAttempts, lockoutMinutes int) error
	// RecordLoginSuccess clears the failure counter and stamps
	// last_login_at.
	RecordLoginSuccess(ctx context.Context, id uuid.UUID) error
}
