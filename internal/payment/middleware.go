package payment

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ContextKey is the echo context key the receipt is stored under.
const ContextKey = "payment_receipt"

// Resolver computes what the current request must pay. Returning an
// *echo.HTTPError short-circuits with that status.
type Resolver func(c echo.Context) (Requirement, error)

type MiddlewareConfig struct {
	Authorizer Authorizer
	Resolve    Resolver
	Metrics    *Metrics
	Logger     zerolog.Logger
}

// Middleware guards a metered route. The handler runs only after the
// authorizer has verified and recorded the claim; it finds the Receipt with
// ReceiptFrom or under ContextKey.
func Middleware(cfg MiddlewareConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req, err := cfg.Resolve(c)
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					return c.JSON(he.Code, echo.Map{"error": he.Message})
				}
				cfg.Logger.Error().Err(err).Msg("resolve payment requirement")
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not price request"})
			}
			if req.Resource == "" {
				req.Resource = c.Request().URL.Path
			}

			strategy := cfg.Authorizer.Name()
			start := time.Now()
			receipt, err := cfg.Authorizer.Authorize(c.Request().Context(), c.Request().Header, req)
			elapsed := time.Since(start).Seconds()

			if err != nil {
				perr, ok := AsError(err)
				if !ok {
					cfg.Metrics.observe(strategy, "error", "internal", elapsed)
					cfg.Logger.Error().Err(err).Str("service_id", req.ServiceID).Msg("payment ledger unavailable")
					return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "payment verification unavailable"})
				}
				return writeRejection(c, cfg, strategy, req, perr, elapsed)
			}

			cfg.Metrics.observe(strategy, "forwarded", "", elapsed)
			cfg.Logger.Info().
				Str("strategy", strategy).
				Str("service_id", req.ServiceID).
				Str("claim_id", receipt.ClaimID).
				Str("payer", receipt.Payer).
				Msg("payment authorized")

			c.Set(ContextKey, receipt)
			c.SetRequest(c.Request().WithContext(WithReceipt(c.Request().Context(), receipt)))
			return next(c)
		}
	}
}

func writeRejection(c echo.Context, cfg MiddlewareConfig, strategy string, req Requirement, perr *Error, elapsed float64) error {
	outcome := "rejected"
	if perr.Kind == KindPaymentRequired {
		outcome = "challenged"
	}
	cfg.Metrics.observe(strategy, outcome, perr.Reason, elapsed)

	ev := cfg.Logger.Info()
	if perr.Kind == KindReplay {
		ev = cfg.Logger.Warn()
	}
	ev.Str("strategy", strategy).
		Str("service_id", req.ServiceID).
		Str("kind", string(perr.Kind)).
		Str("reason", perr.Reason).
		Str("detail", perr.Detail).
		Msg("payment " + outcome)

	status := StatusCode(perr.Kind)
	switch perr.Kind {
	case KindPaymentRequired, KindAuthorization:
		body := cfg.Authorizer.Challenge(req)
		if perr.Kind == KindAuthorization {
			body.Error = perr.Reason
		}
		return c.JSON(status, body)
	}
	return c.JSON(status, echo.Map{"error": perr.Reason, "kind": perr.Kind})
}
