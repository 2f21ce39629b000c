package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// SyncSecretHeader carries the shared secret for scheduler-invoked endpoints.
const SyncSecretHeader = "X-Sync-Secret"

// SharedSecret returns middleware that authenticates scheduler and operator
// requests with a pre-shared secret header, compared in constant time. An
// empty configured secret rejects everything: the sync surface must never be
// open by accident.
func SharedSecret(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "sync secret not configured")
			}
			provided := c.Request().Header.Get(SyncSecretHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid sync secret")
			}
			return next(c)
		}
	}
}
