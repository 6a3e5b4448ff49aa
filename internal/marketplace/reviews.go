package marketplace

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type rateRequest struct {
	Score  int    `json:"score"`
	Review string `json:"review"`
}

// RatingCounts is the per-score breakdown of a service's ratings.
type RatingCounts struct {
	FiveStar  int `json:"five_star"`
	FourStar  int `json:"four_star"`
	ThreeStar int `json:"three_star"`
	TwoStar   int `json:"two_star"`
	OneStar   int `json:"one_star"`
}

// RateTransaction lets the buyer rate a completed transaction
func (h *Handler) RateTransaction(c echo.Context) error {
	actor := actorFrom(c)
	if actor == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req rateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	rating, svc, err := h.repo.SubmitRating(c.Request().Context(), RatingDraft{
		TransactionID: c.Param("id"),
		RaterID:       actor,
		Score:         req.Score,
		Review:        req.Review,
	})
	if err != nil {
		return WriteError(c, h.log, err, "failed to create rating")
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"rating":     rating,
		"reputation": svc.Reputation,
		"message":    "rating created successfully",
	})
}

// ListServiceRatings returns a service's ratings with a score breakdown
func (h *Handler) ListServiceRatings(c echo.Context) error {
	id := c.Param("id")
	svc, err := h.repo.Get(id)
	if err != nil {
		return WriteError(c, h.log, err, "failed to fetch service")
	}

	page, limit := 1, 10
	if p, err := strconv.Atoi(c.QueryParam("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 50 {
		limit = l
	}

	ratings, err := h.repo.ListRatings(c.Request().Context(), id)
	if err != nil {
		return WriteError(c, h.log, err, "failed to fetch ratings")
	}

	var counts RatingCounts
	for _, r := range ratings {
		switch r.Score {
		case 5:
			counts.FiveStar++
		case 4:
			counts.FourStar++
		case 3:
			counts.ThreeStar++
		case 2:
			counts.TwoStar++
		case 1:
			counts.OneStar++
		}
	}

	start := (page - 1) * limit
	if start > len(ratings) {
		start = len(ratings)
	}
	end := start + limit
	if end > len(ratings) {
		end = len(ratings)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"service_id":    id,
		"rating":        svc.Reputation.Rating,
		"review_count":  svc.Reputation.ReviewCount,
		"rating_counts": counts,
		"ratings":       ratings[start:end],
		"page":          page,
		"limit":         limit,
	})
}
