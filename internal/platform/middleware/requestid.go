package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequestIDHeader carries the request id on both requests and responses.
const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with an id, stores it on the context for
// the logger chain, and echoes it in the response header. An inbound id
// from an upstream proxy is preserved; otherwise a fresh UUID is issued.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if rid == "" {
				rid = uuid.New().String()
			}
			c.Set("request_id", rid)
			c.Response().Header().Set(RequestIDHeader, rid)
			return next(c)
		}
	}
}
