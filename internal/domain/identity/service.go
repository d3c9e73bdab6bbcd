package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medhealth/telemetry/internal/platform/auth"
)

// Login and signup outcomes handlers branch on.
var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account temporarily locked")
)

// TokenRevoker marks a token id unusable at logout.
type TokenRevoker interface {
	Revoke(ctx context.Context, jti string, userID uuid.UUID, expiresAt time.Time) error
}

type Service struct {
	users           UserRepository
	tokens          *auth.TokenService
	revocations     TokenRevoker
	maxFailedLogins int
	lockoutMinutes  int
}

func NewService(users UserRepository, tokens *auth.TokenService, revocations TokenRevoker, maxFailedLogins, lockoutMinutes int) *Service {
	return &Service{
		users:           users,
		tokens:          tokens,
		revocations:     revocations,
		maxFailedLogins: maxFailedLogins,
		lockoutMinutes:  lockoutMinutes,
	}
}

// Signup registers a viewer account and signs it in. The email is
// normalized to lower case before any lookup.
func (s *Service) Signup(ctx context.Context, email, password string) (*AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if exists {
		return nil, ErrUserExists
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.users.Create(ctx, email, hash)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.issueTokens(u)
}

// Login authenticates an active account. The lockout window is checked
// before the password; failed attempts feed the lockout counter
// best-effort.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.users.GetActiveByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	if u.LockedUntil != nil && u.LockedUntil.After(time.Now()) {
		return nil, ErrAccountLocked
	}

	ok, err := auth.VerifyPassword(password, u.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		_ = s.users.RecordLoginFailure(ctx, u.ID, s.maxFailedLogins, s.lockoutMinutes)
		return nil, ErrInvalidCredentials
	}

	_ = s.users.RecordLoginSuccess(ctx, u.ID)
	return s.issueTokens(u)
}

// Logout revokes the presented token. Revocation is best-effort; an
// unreachable store does not fail the request.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return err
	}
	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	_ = s.revocations.Revoke(ctx, claims.ID, claims.UserID, expiresAt)
	return nil
}

func (s *Service) issueTokens(u *User) (*AuthResponse, error) {
	token, err := s.tokens.Issue(u.ID, u.Email, u.Role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	refresh, err := s.tokens.Issue(u.ID, u.Email, u.Role)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return &AuthResponse{
		Token:        token,
		RefreshToken: refresh,
		User:         UserResponse{ID: u.ID, Email: u.Email, Role: u.Role},
	}, nil
}
