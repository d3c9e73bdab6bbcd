package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrMissingToken is returned when the Authorization header is absent or not
// a "Bearer " credential.
var ErrMissingToken = errors.New("missing or invalid Authorization header")

// Claims carried by every issued token. The registered claims hold the
// subject (user email), expiry, issued-at, and the token id used for
// revocation.
type Claims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
}

// TokenService issues and validates HS256 bearer tokens. Validation checks
// signature and expiry only; revocation is a separate store lookup.
type TokenService struct {
	secret          []byte
	expirationHours int64
}

func NewTokenService(secret string, expirationHours int64) *TokenService {
	return &TokenService{
		secret:          []byte(secret),
		expirationHours: expirationHours,
	}
}

// Issue produces a signed token for the user with a fresh random token id.
func (s *TokenService) Issue(userID uuid.UUID, email, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.expirationHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		UserID: userID,
		Role:   role,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Validate verifies signature and expiry and returns the decoded claims.
func (s *TokenService) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("validate token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// ExtractBearer pulls the token out of an Authorization header value. Only
// the exact "Bearer " prefix is accepted.
func ExtractBearer(header string) (string, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrMissingToken
	}
	return strings.TrimPrefix(header, "Bearer "), nil
}
