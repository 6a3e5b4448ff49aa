package marketplace

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// GetTransaction returns a transaction to its buyer or seller
func (h *Handler) GetTransaction(c echo.Context) error {
	actor := actorFrom(c)
	if actor == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	t, err := h.repo.GetTransaction(c.Request().Context(), c.Param("id"))
	if err != nil {
		return WriteError(c, h.log, err, "failed to fetch transaction")
	}
	if t.BuyerID != actor && t.SellerID != actor {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "transaction not found or not yours"})
	}
	return c.JSON(http.StatusOK, echo.Map{"transaction": t})
}

// GetUserTransactions lists transactions where the caller is buyer or seller
func (h *Handler) GetUserTransactions(c echo.Context) error {
	actor := actorFrom(c)
	if actor == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	txs, err := h.repo.ListTransactions(c.Request().Context(), actor)
	if err != nil {
		return WriteError(c, h.log, err, "could not fetch transactions")
	}
	return c.JSON(http.StatusOK, echo.Map{"transactions": txs})
}
