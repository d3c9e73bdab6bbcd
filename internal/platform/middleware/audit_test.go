package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medhealth/telemetry/internal/platform/audit"
	"github.com/medhealth/telemetry/internal/platform/auth"
)

// captureRecorder collects audit entries for assertions.
type captureRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *captureRecorder) Record(ctx context.Context, entry audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *captureRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *captureRecorder) byType(eventType string) (audit.Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.EventType == eventType {
			return entry, true
		}
	}
	return audit.Entry{}, false
}

func runAudited(t *testing.T, method, path string, handler echo.HandlerFunc, opts ...func(*http.Request)) *captureRecorder {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	recorder := &captureRecorder{}
	_ = AuditTrail(zerolog.Nop(), recorder)(handler)(c)
	return recorder
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func withClaims(userID uuid.UUID) func(*http.Request) {
	return func(req *http.Request) {
		claims := &auth.Claims{UserID: userID}
		ctx := context.WithValue(req.Context(), auth.ClaimsKey, claims)
		*req = *req.WithContext(ctx)
	}
}

func TestAuditTrail_SkipsUnmatchedPaths(t *testing.T) {
	recorder := runAudited(t, http.MethodGet, "/health", okHandler)

	if n := recorder.count(); n != 0 {
		t.Errorf("expected no entries for /health, got %d", n)
	}
}

func TestAuditTrail_APIRequest(t *testing.T) {
	recorder := runAudited(t, http.MethodGet, "/api/vitals/latest", okHandler)

	entry, ok := recorder.byType(audit.EventAPIRequest)
	if !ok {
		t.Fatal("expected an API_REQUEST entry")
	}
	if entry.Action != "GET /api/vitals/latest" {
		t.Errorf("unexpected action %q", entry.Action)
	}
	if !entry.Success {
		t.Error("expected success for a 200 response")
	}
	if entry.Metadata["status"] != http.StatusOK {
		t.Errorf("expected status 200 in metadata, got %v", entry.Metadata["status"])
	}
}

func TestAuditTrail_VitalsPathIsDataAccess(t *testing.T) {
	recorder := runAudited(t, http.MethodGet, "/api/vitals/latest", okHandler)

	entry, ok := recorder.byType(audit.EventDataAccess)
	if !ok {
		t.Fatal("expected a DATA_ACCESS entry for a vitals path")
	}
	if entry.ResourceType != "vitals" {
		t.Errorf("expected resource vitals, got %q", entry.ResourceType)
	}
	if entry.Action != "read" {
		t.Errorf("expected read action, got %q", entry.Action)
	}
	if entry.ResourceID != "/api/vitals/latest" {
		t.Errorf("unexpected resource id %q", entry.ResourceID)
	}
}

func TestAuditTrail_DeviceIngestIsDataAccess(t *testing.T) {
	recorder := runAudited(t, http.MethodPost, "/api/device/vitals", okHandler)

	entry, ok := recorder.byType(audit.EventDataAccess)
	if !ok {
		t.Fatal("expected a DATA_ACCESS entry for device ingestion")
	}
	if entry.Action != "create" {
		t.Errorf("expected create action, got %q", entry.Action)
	}
	if entry.ResourceType != "vitals" {
		t.Errorf("expected resource vitals, got %q", entry.ResourceType)
	}
}

func TestAuditTrail_FHIRExportIsDataAccess(t *testing.T) {
	recorder := runAudited(t, http.MethodGet, "/api/fhir/export", okHandler)

	entry, ok := recorder.byType(audit.EventDataAccess)
	if !ok {
		t.Fatal("expected a DATA_ACCESS entry for a fhir path")
	}
	if entry.ResourceType != "fhir" {
		t.Errorf("expected resource fhir, got %q", entry.ResourceType)
	}
}

func TestAuditTrail_AuthEvent(t *testing.T) {
	recorder := runAudited(t, http.MethodPost, "/auth/login", okHandler)

	entry, ok := recorder.byType(audit.EventAuth)
	if !ok {
		t.Fatal("expected an AUTH_EVENT entry")
	}
	if entry.Action != "login" {
		t.Errorf("expected login action, got %q", entry.Action)
	}

	if _, ok := recorder.byType(audit.EventAPIRequest); !ok {
		t.Error("auth requests should also produce an API_REQUEST entry")
	}
}

func TestAuditTrail_FailedRequest(t *testing.T) {
	failing := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid credentials")
	}
	recorder := runAudited(t, http.MethodPost, "/auth/login", failing)

	entry, ok := recorder.byType(audit.EventAuth)
	if !ok {
		t.Fatal("expected an AUTH_EVENT entry")
	}
	if entry.Success {
		t.Error("expected failure for a 401 response")
	}
	if entry.Metadata["status"] != http.StatusUnauthorized {
		t.Errorf("expected status 401 in metadata, got %v", entry.Metadata["status"])
	}
}

func TestAuditTrail_UserFromContext(t *testing.T) {
	userID := uuid.New()
	recorder := runAudited(t, http.MethodGet, "/api/vitals/latest", okHandler, withClaims(userID))

	entry, ok := recorder.byType(audit.EventAPIRequest)
	if !ok {
		t.Fatal("expected an API_REQUEST entry")
	}
	if entry.UserID == nil || *entry.UserID != userID {
		t.Errorf("expected user id %s on the entry, got %v", userID, entry.UserID)
	}
}

func TestAuditTrail_AnonymousRequestHasNoUser(t *testing.T) {
	recorder := runAudited(t, http.MethodPost, "/auth/signup", okHandler)

	entry, ok := recorder.byType(audit.EventAPIRequest)
	if !ok {
		t.Fatal("expected an API_REQUEST entry")
	}
	if entry.UserID != nil {
		t.Errorf("expected no user id before authentication, got %v", entry.UserID)
	}
}
