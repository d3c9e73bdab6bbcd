package auth

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

// ClaimsKey is the request-context key holding the authenticated *Claims.
const ClaimsKey contextKey = "auth_claims"

// RevocationChecker is the part of the revocation store the middleware
// needs. Kept as an interface so handler tests can stub it.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Middleware authenticates requests with a bearer token. A token must be
// present, well formed, unexpired, and not revoked; store errors count as
// revoked.
func Middleware(tokens *TokenService, revocations RevocationChecker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := ExtractBearer(c.Request().Header.Get("Authorization"))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing token")
			}

			claims, err := tokens.Validate(tokenStr)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
			}

			revoked, err := revocations.IsRevoked(c.Request().Context(), claims.ID)
			if err != nil || revoked {
				return echo.NewHTTPError(http.StatusUnauthorized, "Token revoked")
			}

			ctx := context.WithValue(c.Request().Context(), ClaimsKey, claims)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// ClaimsFromContext returns the authenticated claims, or nil outside an
// authenticated request.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsKey).(*Claims)
	return claims
}

// UserIDFromContext returns the authenticated user id, or uuid.Nil.
func UserIDFromContext(ctx context.Context) uuid.UUID {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.UserID
	}
	return uuid.Nil
}

// SubjectFromContext returns the authenticated user email, or "".
func SubjectFromContext(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.Subject
	}
	return ""
}
