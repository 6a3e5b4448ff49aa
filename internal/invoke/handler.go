package invoke

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sudo-init-do/meterhub/internal/marketplace"
	"github.com/sudo-init-do/meterhub/internal/payment"
)

// HeaderPaymentResponse carries the settled receipt back to the caller.
const HeaderPaymentResponse = "X-PAYMENT-RESPONSE"

const maxRequestBytes = 1 << 20

// Store is the part of the repository a metered call touches.
type Store interface {
	Get(id string) (marketplace.Service, error)
	CreateTransaction(ctx context.Context, d marketplace.TransactionDraft) (marketplace.Transaction, error)
	CompleteTransaction(ctx context.Context, id string, response json.RawMessage) (marketplace.Transaction, error)
	FailTransaction(ctx context.Context, id, reason string) (marketplace.Transaction, error)
	RecordFailedTransaction(ctx context.Context, d marketplace.TransactionDraft, reason string) (marketplace.Transaction, error)
	RecordJob(ctx context.Context, id string, success bool, elapsed time.Duration) (marketplace.Service, bool, error)
}

type Handler struct {
	store   Store
	invoker Invoker
	log     zerolog.Logger
	now     func() time.Time
}

func NewHandler(store Store, invoker Invoker, log zerolog.Logger) *Handler {
	return &Handler{store: store, invoker: invoker, log: log, now: time.Now}
}

// Resolver prices a call from the :id path parameter. Unknown and
// soft-deleted services are a 404 before any claim is examined.
func Resolver(store Store) payment.Resolver {
	return func(c echo.Context) (payment.Requirement, error) {
		svc, err := store.Get(c.Param("id"))
		if errors.Is(err, marketplace.ErrNotFound) {
			return payment.Requirement{}, echo.NewHTTPError(http.StatusNotFound, "service not found")
		}
		if err != nil {
			return payment.Requirement{}, err
		}
		return payment.Requirement{
			ServiceID:   svc.ID,
			Description: svc.Name,
			Price:       svc.Pricing.Amount,
		}, nil
	}
}

const payloadKey = "invoke.payload"

// RequirePayload reads and checks the JSON body ahead of the payment
// gateway, so a malformed call is refused before its claim is spent.
func RequirePayload(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		payload, err := readPayload(c.Request())
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		c.Set(payloadKey, payload)
		return next(c)
	}
}

var errBodyNotJSON = errors.New("request body must be JSON")

// readPayload returns the body exactly as sent, or {} when it is empty.
func readPayload(r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return body, errors.New("could not read request body")
	}
	if len(body) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(body) {
		return body, errBodyNotJSON
	}
	return body, nil
}

// Invoke runs one paid call: it opens a pending transaction for the payer,
// forwards the payload and settles the transaction with the outcome. Once
// the claim is spent, every early exit leaves a failed transaction behind.
func (h *Handler) Invoke(c echo.Context) error {
	receipt, ok := payment.ReceiptFrom(c.Request().Context())
	if !ok {
		h.log.Error().Str("path", c.Path()).Msg("metered route reached without a receipt")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	ctx := c.Request().Context()

	hash := receipt.Signature
	if hash == "" {
		hash = receipt.ClaimID
	}
	draft := marketplace.TransactionDraft{
		ServiceID:   c.Param("id"),
		BuyerID:     receipt.Payer,
		Amount:      receipt.Amount,
		PaymentHash: hash,
	}

	payload, ok := c.Get(payloadKey).(json.RawMessage)
	if !ok {
		var err error
		if payload, err = readPayload(c.Request()); err != nil {
			draft.RequestPayload = payload
			h.recordUnserved(ctx, draft, err.Error())
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
	}
	draft.RequestPayload = payload

	svc, err := h.store.Get(draft.ServiceID)
	if err != nil {
		h.recordUnserved(ctx, draft, err.Error())
		return marketplace.WriteError(c, h.log, err, "could not load service")
	}

	tx, err := h.store.CreateTransaction(ctx, draft)
	if err != nil {
		h.recordUnserved(ctx, draft, err.Error())
		return marketplace.WriteError(c, h.log, err, "could not open transaction")
	}

	start := h.now()
	result, callErr := h.invoker.Invoke(ctx, svc, payload)
	elapsed := h.now().Sub(start)

	// Settlement outlives a caller that hung up mid-call.
	settleCtx := context.WithoutCancel(ctx)
	if callErr != nil {
		if _, err := h.store.FailTransaction(settleCtx, tx.ID, callErr.Error()); err != nil {
			h.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("fail transaction")
		}
		h.recordJob(settleCtx, svc.ID, false, elapsed)
		h.log.Warn().Err(callErr).
			Str("service_id", svc.ID).
			Str("transaction_id", tx.ID).
			Msg("service invocation failed")
		return c.JSON(http.StatusBadGateway, echo.Map{
			"error":          "service invocation failed",
			"transaction_id": tx.ID,
		})
	}

	settled, err := h.store.CompleteTransaction(settleCtx, tx.ID, result)
	if err != nil {
		return marketplace.WriteError(c, h.log, err, "could not settle transaction")
	}
	h.recordJob(settleCtx, svc.ID, true, elapsed)

	if v, err := encodeReceipt(receipt, tx.ID); err == nil {
		c.Response().Header().Set(HeaderPaymentResponse, v)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"transaction": settled,
		"result":      settled.ResponsePayload,
	})
}

// recordUnserved keeps a paid call that never reached the service on the
// books, so the spent claim can be matched to a transaction.
func (h *Handler) recordUnserved(ctx context.Context, d marketplace.TransactionDraft, reason string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := h.store.RecordFailedTransaction(ctx, d, reason); err != nil {
		h.log.Error().Err(err).
			Str("service_id", d.ServiceID).
			Str("payer", d.BuyerID).
			Str("payment_hash", d.PaymentHash).
			Msg("record unserved payment")
	}
}

func (h *Handler) recordJob(ctx context.Context, id string, success bool, elapsed time.Duration) {
	if _, applied, err := h.store.RecordJob(ctx, id, success, elapsed); err != nil {
		h.log.Error().Err(err).Str("service_id", id).Msg("record job")
	} else if !applied {
		h.log.Debug().Str("service_id", id).Msg("job not recorded, service no longer live")
	}
}

func encodeReceipt(r *payment.Receipt, txID string) (string, error) {
	b, err := json.Marshal(map[string]any{
		"success":        true,
		"strategy":       r.Strategy,
		"claim_id":       r.ClaimID,
		"payer":          r.Payer,
		"network":        r.Network,
		"transaction_id": txID,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
