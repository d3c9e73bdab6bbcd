package identity

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medhealth/telemetry/internal/platform/auth"
	"github.com/medhealth/telemetry/internal/platform/metrics"
)

type Handler struct {
	svc     *Service
	metrics *metrics.Metrics
}

func NewHandler(svc *Service, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, metrics: m}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/signup", h.Signup)
	g.POST("/login", h.Login)
	g.POST("/logout", h.Logout)
}

func (h *Handler) Signup(c echo.Context) error {
	var req SignupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	resp, err := h.svc.Signup(c.Request().Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, ErrUserExists):
		return echo.NewHTTPError(http.StatusConflict, "User already exists")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "Database error: "+err.Error())
	}

	h.metrics.ActiveSessions.Inc()
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	resp, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		h.metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, ErrAccountLocked):
		h.metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
		return echo.NewHTTPError(http.StatusForbidden, "Account temporarily locked")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "Database error: "+err.Error())
	}

	h.metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()
	h.metrics.ActiveSessions.Inc()
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Logout(c echo.Context) error {
	token, err := auth.ExtractBearer(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Missing token")
	}
	if err := h.svc.Logout(c.Request().Context(), token); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
	}
	h.metrics.ActiveSessions.Dec()
	return c.JSON(http.StatusOK, map[string]string{"status": "logged_out"})
}
