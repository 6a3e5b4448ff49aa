package marketplace

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Handler exposes the repository over HTTP.
type Handler struct {
	repo *Repository
	log  zerolog.Logger
}

func NewHandler(repo *Repository, log zerolog.Logger) *Handler {
	return &Handler{repo: repo, log: log}
}

func actorFrom(c echo.Context) string {
	actor, _ := c.Get("actor").(string)
	return actor
}

// CreateService registers a new service owned by the calling actor
func (h *Handler) CreateService(c echo.Context) error {
	actor := actorFrom(c)
	if actor == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req ServiceDraft
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	// The caller always owns what it registers; a provider_id in the body
	// cannot hand the service to someone else.
	req.ProviderID = actor

	svc, err := h.repo.Register(c.Request().Context(), req, actor)
	if err != nil {
		return WriteError(c, h.log, err, "could not create service")
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"service": svc,
		"message": "service created successfully",
	})
}

// SearchServices returns live services filtered by capability, price and rating
func (h *Handler) SearchServices(c echo.Context) error {
	q := Query{
		Text:  strings.TrimSpace(c.QueryParam("q")),
		Limit: 20,
	}

	for _, raw := range c.QueryParams()["capability"] {
		q.Capabilities = append(q.Capabilities, splitList(raw)...)
	}
	q.Capabilities = append(q.Capabilities, splitList(c.QueryParam("capabilities"))...)

	if v := c.QueryParam("max_price"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid max_price"})
		}
		q.MaxPrice = &d
	}
	if v := c.QueryParam("min_rating"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 5 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid min_rating"})
		}
		q.MinRating = &f
	}
	sortBy, ok := ParseSortBy(c.QueryParam("sort"))
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "sort must be price, rating or popularity"})
	}
	q.SortBy = sortBy

	if l := c.QueryParam("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			q.Limit = v
		}
	}
	if o := c.QueryParam("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			q.Offset = v
		}
	}

	services := h.repo.Search(q)
	return c.JSON(http.StatusOK, echo.Map{"services": services, "count": len(services)})
}

// GetService returns one live service
func (h *Handler) GetService(c echo.Context) error {
	svc, err := h.repo.Get(c.Param("id"))
	if err != nil {
		return WriteError(c, h.log, err, "could not fetch service")
	}
	return c.JSON(http.StatusOK, echo.Map{"service": svc})
}

// UpdateService patches a live service. Only its provider may change it.
func (h *Handler) UpdateService(c echo.Context) error {
	actor := actorFrom(c)
	if actor == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")
	if err := h.ownedBy(id, actor); err != nil {
		return WriteError(c, h.log, err, "could not update service")
	}

	var patch ServicePatch
	if err := c.Bind(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	svc, err := h.repo.Update(c.Request().Context(), id, patch, actor)
	if err != nil {
		return WriteError(c, h.log, err, "could not update service")
	}
	return c.JSON(http.StatusOK, echo.Map{"service": svc})
}

// DeleteService soft-deletes a service owned by the caller
func (h *Handler) DeleteService(c echo.Context) error {
	actor := actorFrom(c)
	if actor == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")
	if err := h.ownedBy(id, actor); err != nil {
		return WriteError(c, h.log, err, "could not delete service")
	}

	if err := h.repo.SoftDelete(c.Request().Context(), id, actor); err != nil {
		return WriteError(c, h.log, err, "could not delete service")
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "service deleted", "service_id": id})
}

// ownedBy passes through not-found so soft-deleted ids still reach the
// repository and report their precondition.
func (h *Handler) ownedBy(id, actor string) error {
	svc, err := h.repo.Get(id)
	if err != nil {
		return nil
	}
	if svc.ProviderID != actor && svc.CreatedBy != actor {
		return ErrForbidden
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
