package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// GET /admin/stats
func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.repo.Stats(c.Request().Context())
	if err != nil {
		h.log.Error().Err(err).Msg("load stats")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not load stats"})
	}
	return c.JSON(http.StatusOK, stats)
}
