// Package pagination parses result-window query parameters.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// Windows for the list endpoints.
const (
	RecentDefault = 20
	RecentMax     = 100

	ExportDefault = 100
	ExportMax     = 1000
)

// Limit reads the "limit" query parameter, applying a default and a cap.
// Missing, non-numeric, or non-positive values fall back to the default.
func Limit(c echo.Context, def, max int) int {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
