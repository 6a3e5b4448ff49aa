package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	// HeaderActor names the caller on actor-identified routes.
	HeaderActor = "X-Actor-ID"
	// ActorKey is the echo context key handlers read the actor from.
	ActorKey = "actor"
)

// RequireActor rejects requests that do not name an actor and stores the
// actor for handlers and audit entries.
func RequireActor(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor := strings.TrimSpace(c.Request().Header.Get(HeaderActor))
		if actor == "" {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "actor missing"})
		}
		if len(actor) > 128 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "actor too long"})
		}
		c.Set(ActorKey, actor)
		return next(c)
	}
}
