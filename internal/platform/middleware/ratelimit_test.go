package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRateLimit_AllowsWithinBurst(t *testing.T) {
	e := echo.New()
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 100, BurstSize: 5})
	handler := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	h := mw(handler)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if err := h(c); err != nil {
			t.Fatalf("request %d unexpectedly limited: %v", i, err)
		}
	}
}

func TestRateLimit_RejectsOverBurst(t *testing.T) {
	e := echo.New()
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 2})
	handler := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	h := mw(handler)

	var lastErr error
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
		req.RemoteAddr = "10.0.0.2:1234"
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		lastErr = h(c)
	}

	httpErr, ok := lastErr.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError on third request, got %v", lastErr)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("code = %d, want 429", httpErr.Code)
	}
}

func TestRateLimit_SeparateBucketsPerIP(t *testing.T) {
	e := echo.New()
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1})
	handler := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	h := mw(handler)

	for _, ip := range []string{"10.0.1.1:80", "10.0.1.2:80", "10.0.1.3:80"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
		req.RemoteAddr = ip
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if err := h(c); err != nil {
			t.Errorf("first request from %s limited: %v", ip, err)
		}
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 || cfg.BurstSize != 200 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}
