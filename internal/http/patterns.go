package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// handlePatterns returns the formatted pattern library as plain text,
// the same rendering the oracle receives as learned context. An
// error_type query narrows it to one bucket.
func (s *Server) handlePatterns(c echo.Context) error {
	ctx := c.Request().Context()
	if errorType := c.QueryParam("error_type"); errorType != "" {
		return c.String(http.StatusOK, s.deps.Patterns.GetPatternsByErrorType(ctx, errorType))
	}
	return c.String(http.StatusOK, s.deps.Patterns.GetAllPatterns(ctx))
}

// handlePatternStats reports pattern library counts.
func (s *Server) handlePatternStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Patterns.Stats(c.Request().Context()))
}
