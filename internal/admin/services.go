package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sudo-init-do/meterhub/internal/marketplace"
)

// Handler serves the operator surface over the repository.
type Handler struct {
	repo *marketplace.Repository
	log  zerolog.Logger
}

func NewHandler(repo *marketplace.Repository, log zerolog.Logger) *Handler {
	return &Handler{repo: repo, log: log}
}

func operator(c echo.Context) string {
	actor, _ := c.Get("actor").(string)
	if actor == "" {
		return "operator"
	}
	return actor
}

// GET /admin/services/deleted
func (h *Handler) ListDeleted(c echo.Context) error {
	items, err := h.repo.ListDeleted(c.Request().Context())
	if err != nil {
		return marketplace.WriteError(c, h.log, err, "could not fetch deleted services")
	}
	return c.JSON(http.StatusOK, echo.Map{"services": items, "count": len(items)})
}

// GET /admin/services/:id reads the store, soft-deleted rows included.
func (h *Handler) GetService(c echo.Context) error {
	svc, err := h.repo.Lookup(c.Request().Context(), c.Param("id"))
	if err != nil {
		return marketplace.WriteError(c, h.log, err, "could not fetch service")
	}
	return c.JSON(http.StatusOK, echo.Map{"service": svc, "live": svc.DeletedAt == nil})
}

// POST /admin/services/:id/suspend
func (h *Handler) SuspendService(c echo.Context) error {
	id := c.Param("id")
	if err := h.repo.SoftDelete(c.Request().Context(), id, operator(c)); err != nil {
		return marketplace.WriteError(c, h.log, err, "failed to suspend service")
	}
	h.log.Info().Str("service_id", id).Msg("service suspended by operator")
	return c.JSON(http.StatusOK, echo.Map{"message": "service suspended", "service_id": id})
}

// POST /admin/services/:id/restore
func (h *Handler) RestoreService(c echo.Context) error {
	svc, err := h.repo.Restore(c.Request().Context(), c.Param("id"), operator(c))
	if err != nil {
		return marketplace.WriteError(c, h.log, err, "failed to restore service")
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "service restored", "service": svc})
}

// DELETE /admin/services/:id/purge removes the row for good. Its audit
// history is kept.
func (h *Handler) PurgeService(c echo.Context) error {
	id := c.Param("id")
	if err := h.repo.Purge(c.Request().Context(), id); err != nil {
		return marketplace.WriteError(c, h.log, err, "failed to purge service")
	}
	h.log.Warn().Str("service_id", id).Str("actor", operator(c)).Msg("service purged")
	return c.JSON(http.StatusOK, echo.Map{"message": "service purged", "service_id": id})
}

// GET /admin/audit/:id
func (h *Handler) ServiceAudit(c echo.Context) error {
	entries, err := h.repo.ListAudit(c.Request().Context(), c.Param("id"))
	if err != nil {
		return marketplace.WriteError(c, h.log, err, "could not fetch audit log")
	}
	return c.JSON(http.StatusOK, echo.Map{"entries": entries, "count": len(entries)})
}
