package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func limitFor(t *testing.T, rawQuery string, def, max int) int {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+rawQuery, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	return Limit(c, def, max)
}

func TestLimit_Default(t *testing.T) {
	if got := limitFor(t, "", RecentDefault, RecentMax); got != RecentDefault {
		t.Errorf("expected default %d, got %d", RecentDefault, got)
	}
}

func TestLimit_Explicit(t *testing.T) {
	if got := limitFor(t, "limit=50", RecentDefault, RecentMax); got != 50 {
		t.Errorf("expected 50, got %d", got)
	}
}

func TestLimit_Capped(t *testing.T) {
	if got := limitFor(t, "limit=5000", ExportDefault, ExportMax); got != ExportMax {
		t.Errorf("expected cap %d, got %d", ExportMax, got)
	}
}

func TestLimit_NonNumeric(t *testing.T) {
	if got := limitFor(t, "limit=abc", ExportDefault, ExportMax); got != ExportDefault {
		t.Errorf("expected default %d, got %d", ExportDefault, got)
	}
}

func TestLimit_NonPositive(t *testing.T) {
	for _, q := range []string{"limit=0", "limit=-5"} {
		if got := limitFor(t, q, RecentDefault, RecentMax); got != RecentDefault {
			t.Errorf("%s: expected default %d, got %d", q, RecentDefault, got)
		}
	}
}

func TestLimit_AtCap(t *testing.T) {
	if got := limitFor(t, "limit=1000", ExportDefault, ExportMax); got != 1000 {
		t.Errorf("expected 1000, got %d", got)
	}
}
