package identity

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/medhealth/telemetry/internal/platform/metrics"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _, _ := newTestService()
	h := NewHandler(svc, metrics.New())
	e := echo.New()
	return h, e
}

func postJSON(e *echo.Echo, path, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func httpErrCode(t *testing.T, err error) (int, string) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	msg, _ := he.Message.(string)
	return he.Code, msg
}

func TestSignupHandler_Success(t *testing.T) {
	h, e := newTestHandler()
	c, rec := postJSON(e, "/auth/signup", `{"email":"nurse@example.com","password":"s3cret-pass"}`)

	if err := h.Signup(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var resp AuthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if resp.Token == "" || resp.RefreshToken == "" {
		t.Error("expected tokens in response")
	}
	if resp.User.Email != "nurse@example.com" {
		t.Errorf("email = %q", resp.User.Email)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("response leaks password material")
	}
	if got := testutil.ToFloat64(h.metrics.ActiveSessions); got != 1 {
		t.Errorf("active_sessions = %v, want 1", got)
	}
}

func TestSignupHandler_InvalidEmail(t *testing.T) {
	h, e := newTestHandler()
	c, _ := postJSON(e, "/auth/signup", `{"email":"not-an-email","password":"s3cret-pass"}`)

	code, _ := httpErrCode(t, h.Signup(c))
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestSignupHandler_ShortPassword(t *testing.T) {
	h, e := newTestHandler()
	c, _ := postJSON(e, "/auth/signup", `{"email":"nurse@example.com","password":"short"}`)

	code, _ := httpErrCode(t, h.Signup(c))
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestSignupHandler_Duplicate(t *testing.T) {
	h, e := newTestHandler()
	c, _ := postJSON(e, "/auth/signup", `{"email":"nurse@example.com","password":"s3cret-pass"}`)
	if err := h.Signup(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, _ = postJSON(e, "/auth/signup", `{"email":"nurse@example.com","password":"s3cret-pass"}`)
	code, msg := httpErrCode(t, h.Signup(c))
	if code != http.StatusConflict {
		t.Errorf("status = %d, want 409", code)
	}
	if msg != "User already exists" {
		t.Errorf("message = %q", msg)
	}
}

func TestLoginHandler_Success(t *testing.T) {
	h, e := newTestHandler()
	c, _ := postJSON(e, "/auth/signup", `{"email":"nurse@example.com","password":"s3cret-pass"}`)
	if err := h.Signup(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, rec := postJSON(e, "/auth/login", `{"email":"nurse@example.com","password":"s3cret-pass"}`)
	if err := h.Login(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := testutil.ToFloat64(h.metrics.AuthAttemptsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("auth_attempts_total{success} = %v, want 1", got)
	}
}

func TestLoginHandler_WrongPassword(t *testing.T) {
	h, e := newTestHandler()
	c, _ := postJSON(e, "/auth/signup", `{"email":"nurse@example.com","password":"s3cret-pass"}`)
	if err := h.Signup(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, _ = postJSON(e, "/auth/login", `{"email":"nurse@example.com","password":"wrong-pass"}`)
	code, msg := httpErrCode(t, h.Login(c))
	if code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", code)
	}
	if msg != "Invalid credentials" {
		t.Errorf("message = %q", msg)
	}
	if got := testutil.ToFloat64(h.metrics.AuthAttemptsTotal.WithLabelValues("failure")); got != 1 {
		t.Errorf("auth_attempts_total{failure} = %v, want 1", got)
	}
}

func TestLoginHandler_LockedAccount(t *testing.T) {
	h, e := newTestHandler()
	c, _ := postJSON(e, "/auth/signup", `{"email":"nurse@example.com","password":"s3cret-pass"}`)
	if err := h.Signup(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		c, _ = postJSON(e, "/auth/login", `{"email":"nurse@example.com","password":"wrong-pass"}`)
		h.Login(c)
	}

	c, _ = postJSON(e, "/auth/login", `{"email":"nurse@example.com","password":"s3cret-pass"}`)
	code, msg := httpErrCode(t, h.Login(c))
	if code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", code)
	}
	if msg != "Account temporarily locked" {
		t.Errorf("message = %q", msg)
	}
}

func TestLogoutHandler_Success(t *testing.T) {
	h, e := newTestHandler()
	c, rec := postJSON(e, "/auth/signup", `{"email":"nurse@example.com","password":"s3cret-pass"}`)
	if err := h.Signup(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp AuthResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+resp.Token)
	rec = httptest.NewRecorder()
	if err := h.Logout(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "logged_out" {
		t.Errorf("status field = %q, want logged_out", body["status"])
	}
}

func TestLogoutHandler_MissingToken(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rec := httptest.NewRecorder()

	code, msg := httpErrCode(t, h.Logout(e.NewContext(req, rec)))
	if code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", code)
	}
	if msg != "Missing token" {
		t.Errorf("message = %q", msg)
	}
}

func TestLogoutHandler_InvalidToken(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer garbage")
	rec := httptest.NewRecorder()

	code, msg := httpErrCode(t, h.Logout(e.NewContext(req, rec)))
	if code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", code)
	}
	if msg != "Invalid token" {
		t.Errorf("message = %q", msg)
	}
}
