package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

// HeaderOperatorKey carries the operator key on /admin requests.
const HeaderOperatorKey = "X-Operator-Key"

// OperatorActor is recorded as the actor of operator actions.
const OperatorActor = "operator"

// OperatorGuard admits requests whose operator key matches the bcrypt
// keyHash. An empty keyHash closes the routes entirely.
func OperatorGuard(keyHash string) echo.MiddlewareFunc {
	hash := []byte(keyHash)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(hash) == 0 {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "operator access disabled"})
			}
			key := c.Request().Header.Get(HeaderOperatorKey)
			if key == "" || bcrypt.CompareHashAndPassword(hash, []byte(key)) != nil {
				return c.JSON(http.StatusForbidden, echo.Map{
					"error": "operator access only",
				})
			}
			c.Set(ActorKey, OperatorActor)
			return next(c)
		}
	}
}
