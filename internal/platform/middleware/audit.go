package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medhealth/telemetry/internal/platform/audit"
	"github.com/medhealth/telemetry/internal/platform/auth"
)

// TrailRecorder is the sink for request audit entries. Decoupled from the
// concrete audit.Recorder so tests can capture entries.
type TrailRecorder interface {
	Record(ctx context.Context, entry audit.Entry)
}

// AuditTrail emits compliance events after each request:
//
//   - every /api/* and /auth/* request gets an API_REQUEST entry
//   - /auth/* requests additionally get an AUTH_EVENT entry
//   - paths touching /vitals or /fhir additionally get a DATA_ACCESS entry
//
// Handler errors are also surfaced as a REQUEST_ERROR warning in the log.
func AuditTrail(logger zerolog.Logger, recorder TrailRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !strings.HasPrefix(path, "/api/") && !strings.HasPrefix(path, "/auth/") {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if httpErr, ok := err.(*echo.HTTPError); ok {
					status = httpErr.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			success := status < http.StatusBadRequest

			// The auth middleware swaps the request, so read identity from
			// the post-handler context.
			ctx := c.Request().Context()
			var userID *uuid.UUID
			if uid := auth.UserIDFromContext(ctx); uid != uuid.Nil {
				userID = &uid
			}
			ip := c.RealIP()

			recorder.Record(ctx, audit.Entry{
				EventType: audit.EventAPIRequest,
				UserID:    userID,
				Action:    req.Method + " " + path,
				IPAddress: ip,
				UserAgent: req.UserAgent(),
				Success:   success,
				Metadata: map[string]any{
					"status":      status,
					"duration_ms": time.Since(start).Milliseconds(),
				},
			})

			if strings.HasPrefix(path, "/auth/") {
				recorder.Record(ctx, audit.Entry{
					EventType: audit.EventAuth,
					UserID:    userID,
					Action:    strings.TrimPrefix(path, "/auth/"),
					IPAddress: ip,
					Success:   success,
					Metadata:  map[string]any{"status": status},
				})
			}

			if strings.Contains(path, "/vitals") || strings.Contains(path, "/fhir") {
				recorder.Record(ctx, audit.Entry{
					EventType:    audit.EventDataAccess,
					UserID:       userID,
					Action:       methodToAction(req.Method),
					ResourceType: resourceFromPath(path),
					ResourceID:   path,
					IPAddress:    ip,
					Success:      success,
				})
			}

			if err != nil {
				logger.Warn().
					Err(err).
					Str("method", req.Method).
					Str("path", path).
					Int("status", status).
					Msg("REQUEST_ERROR")
			}

			return err
		}
	}
}

func methodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

func resourceFromPath(path string) string {
	if strings.Contains(path, "/fhir") {
		return "fhir"
	}
	return "vitals"
}
