package identity

import (
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
)

// User maps to the users table. The password hash never appears in JSON
// output.
type User struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	Email               string     `db:"email" json:"email"`
	PasswordHash        string     `db:"password_hash" json:"-"`
	Role                string     `db:"role" json:"role"`
	IsActive            bool       `db:"is_active" json:"is_active"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
	LastLoginAt         *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	FailedLoginAttempts int        `db:"failed_login_attempts" json:"failed_login_attempts"`
	LockedUntil         *time.Time `db:"locked_until" json:"locked_until,omitempty"`
}

// UserResponse is the public projection of a User.
type UserResponse struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Role  string    `json:"role"`
}

// AuthResponse is the body returned by signup and login. The refresh token
// carries the same claims as the access token under its own token id.
type AuthResponse struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refresh_token"`
	User         UserResponse `json:"user"`
}

// SignupRequest is the POST /auth/signup body.
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *SignupRequest) Validate() error {
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return fmt.Errorf("email is not a valid address")
	}
	if len(r.Password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	return nil
}

// LoginRequest is the POST /auth/login body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Validate() error {
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return fmt.Errorf("email is not a valid address")
	}
	if r.Password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}
