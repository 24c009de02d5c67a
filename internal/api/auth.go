package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// AdminTokenHeader authenticates admin API calls.
const AdminTokenHeader = "X-Admin-Token"

// adminAuth guards the admin API with a static token. An empty configured
// token disables the admin API entirely rather than leaving it open.
func (s *Server) adminAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		configured := s.cfg.Server.AdminToken
		if configured == "" {
			return c.JSON(http.StatusForbidden, map[string]string{
				"error": "admin api disabled: no admin token configured",
			})
		}

		provided := c.Request().Header.Get(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(configured)) != 1 {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error": "invalid admin token",
			})
		}

		return next(c)
	}
}
