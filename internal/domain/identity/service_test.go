package identity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medhealth/telemetry/internal/platform/auth"
)

const testJWTSecret = "test_secret_key_minimum_32_chars_long_for_security"

// -- Mock Repository --

type mockUserRepo struct {
	byEmail map[string]*User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{byEmail: make(map[string]*User)}
}

func (m *mockUserRepo) Create(_ context.Context, email, passwordHash string) (*User, error) {
	if _, ok := m.byEmail[email]; ok {
		return nil, fmt.Errorf("duplicate key")
	}
	now := time.Now()
	u := &User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         "viewer",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.byEmail[email] = u
	return u, nil
}

func (m *mockUserRepo) ExistsByEmail(_ context.Context, email string) (bool, error) {
	_, ok := m.byEmail[email]
	return ok, nil
}

func (m *mockUserRepo) GetActiveByEmail(_ context.Context, email string) (*User, error) {
	u, ok := m.byEmail[email]
	if !ok || !u.IsActive {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (m *mockUserRepo) RecordLoginFailure(_ context.Context, id uuid.UUID, maxAttempts, lockoutMinutes int) error {
	for _, u := range m.byEmail {
		if u.ID == id {
			u.FailedLoginAttempts++
			if u.FailedLoginAttempts >= maxAttempts {
				until := time.Now().Add(time.Duration(lockoutMinutes) * time.Minute)
				u.LockedUntil = &until
			}
			return nil
		}
	}
	return fmt.Errorf("not found")
}

func (m *mockUserRepo) RecordLoginSuccess(_ context.Context, id uuid.UUID) error {
	for _, u := range m.byEmail {
		if u.ID == id {
			u.FailedLoginAttempts = 0
			now := time.Now()
			u.LastLoginAt = &now
			return nil
		}
	}
	return fmt.Errorf("not found")
}

type stubRevoker struct {
	jtis []string
	err  error
}

func (s *stubRevoker) Revoke(_ context.Context, jti string, _ uuid.UUID, _ time.Time) error {
	if s.err != nil {
		return s.err
	}
	s.jtis = append(s.jtis, jti)
	return nil
}

func newTestService() (*Service, *mockUserRepo, *stubRevoker) {
	repo := newMockUserRepo()
	revoker := &stubRevoker{}
	svc := NewService(repo, auth.NewTokenService(testJWTSecret, 24), revoker, 5, 15)
	return svc, repo, revoker
}

// -- Service Tests --

func TestSignup_Success(t *testing.T) {
	svc, repo, _ := newTestService()

	resp, err := svc.Signup(context.Background(), "nurse@example.com", "s3cret-pass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Token == "" || resp.RefreshToken == "" {
		t.Error("expected both tokens to be issued")
	}
	if resp.Token == resp.RefreshToken {
		t.Error("refresh token should carry its own token id")
	}
	if resp.User.Email != "nurse@example.com" {
		t.Errorf("email = %q", resp.User.Email)
	}
	if resp.User.Role != "viewer" {
		t.Errorf("role = %q, want viewer", resp.User.Role)
	}

	stored := repo.byEmail["nurse@example.com"]
	if stored == nil {
		t.Fatal("user not persisted")
	}
	if stored.PasswordHash == "s3cret-pass" {
		t.Error("password stored in the clear")
	}
	if ok, err := auth.VerifyPassword("s3cret-pass", stored.PasswordHash); err != nil || !ok {
		t.Errorf("stored hash does not verify: ok=%v err=%v", ok, err)
	}
}

func TestSignup_NormalizesEmail(t *testing.T) {
	svc, repo, _ := newTestService()

	resp, err := svc.Signup(context.Background(), "  Nurse@Example.COM ", "s3cret-pass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.User.Email != "nurse@example.com" {
		t.Errorf("email = %q, want nurse@example.com", resp.User.Email)
	}
	if repo.byEmail["nurse@example.com"] == nil {
		t.Error("expected user stored under normalized email")
	}
}

func TestSignup_DuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.Signup(context.Background(), "nurse@example.com", "s3cret-pass"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := svc.Signup(context.Background(), "NURSE@example.com", "other-pass")
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("error = %v, want ErrUserExists", err)
	}
}

func TestLogin_Success(t *testing.T) {
	svc, repo, _ := newTestService()
	svc.Signup(context.Background(), "nurse@example.com", "s3cret-pass")

	resp, err := svc.Login(context.Background(), "nurse@example.com", "s3cret-pass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Error("expected a token")
	}
	u := repo.byEmail["nurse@example.com"]
	if u.LastLoginAt == nil {
		t.Error("expected last_login_at to be stamped")
	}
	if u.FailedLoginAttempts != 0 {
		t.Errorf("failed attempts = %d, want 0", u.FailedLoginAttempts)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, repo, _ := newTestService()
	svc.Signup(context.Background(), "nurse@example.com", "s3cret-pass")

	_, err := svc.Login(context.Background(), "nurse@example.com", "wrong-pass")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("error = %v, want ErrInvalidCredentials", err)
	}
	if got := repo.byEmail["nurse@example.com"].FailedLoginAttempts; got != 1 {
		t.Errorf("failed attempts = %d, want 1", got)
	}
}

func TestLogin_UnknownUser(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Login(context.Background(), "ghost@example.com", "whatever")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogin_InactiveUser(t *testing.T) {
	svc, repo, _ := newTestService()
	svc.Signup(context.Background(), "nurse@example.com", "s3cret-pass")
	repo.byEmail["nurse@example.com"].IsActive = false

	_, err := svc.Login(context.Background(), "nurse@example.com", "s3cret-pass")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogin_LocksAfterRepeatedFailures(t *testing.T) {
	svc, repo, _ := newTestService()
	svc.Signup(context.Background(), "nurse@example.com", "s3cret-pass")

	for i := 0; i < 5; i++ {
		if _, err := svc.Login(context.Background(), "nurse@example.com", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: error = %v, want ErrInvalidCredentials", i, err)
		}
	}
	if repo.byEmail["nurse@example.com"].LockedUntil == nil {
		t.Fatal("expected account to be locked after max failures")
	}

	// Even the correct password is refused while the lock holds.
	_, err := svc.Login(context.Background(), "nurse@example.com", "s3cret-pass")
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("error = %v, want ErrAccountLocked", err)
	}
}

func TestLogin_ExpiredLockAdmits(t *testing.T) {
	svc, repo, _ := newTestService()
	svc.Signup(context.Background(), "nurse@example.com", "s3cret-pass")
	past := time.Now().Add(-time.Minute)
	repo.byEmail["nurse@example.com"].LockedUntil = &past

	if _, err := svc.Login(context.Background(), "nurse@example.com", "s3cret-pass"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLogout_RevokesToken(t *testing.T) {
	svc, _, revoker := newTestService()
	resp, err := svc.Signup(context.Background(), "nurse@example.com", "s3cret-pass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.Logout(context.Background(), resp.Token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(revoker.jtis) != 1 || revoker.jtis[0] == "" {
		t.Errorf("revoked jtis = %v, want one non-empty id", revoker.jtis)
	}
}

func TestLogout_InvalidToken(t *testing.T) {
	svc, _, _ := newTestService()
	if err := svc.Logout(context.Background(), "not-a-jwt"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestLogout_RevocationFailureIsSwallowed(t *testing.T) {
	svc, _, revoker := newTestService()
	revoker.err = fmt.Errorf("store down")
	resp, _ := svc.Signup(context.Background(), "nurse@example.com", "s3cret-pass")

	if err := svc.Logout(context.Background(), resp.Token); err != nil {
		t.Fatalf("logout should succeed despite revocation failure, got %v", err)
	}
}
