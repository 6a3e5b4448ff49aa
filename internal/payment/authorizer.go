// Package payment is the authorization gateway in front of metered
// services. A request is admitted only after one Authorizer has verified
// its payment claim and recorded the claim in a Ledger, so each claim buys
// exactly one call.
package payment

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Requirement is what a metered request must pay.
type Requirement struct {
	ServiceID   string
	Resource    string
	Description string
	MimeType    string
	// Price is in major units of the configured asset.
	Price decimal.Decimal
}

// Receipt is the verified claim handed to the handler behind the gateway.
type Receipt struct {
	Strategy   string          `json:"strategy"`
	ClaimID    string          `json:"claim_id"`
	ServiceID  string          `json:"service_id"`
	Payer      string          `json:"payer"`
	Payee      string          `json:"payee,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Asset      string          `json:"asset,omitempty"`
	Network    string          `json:"network,omitempty"`
	Signature  string          `json:"signature,omitempty"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	VerifiedAt time.Time       `json:"verified_at"`
}

// Authorizer verifies the payment presented with a request.
//
// Authorize returns a *Error for every rejection. A missing claim yields
// KindPaymentRequired. Any other error is an infrastructure failure (the
// ledger could not be reached) and must not be reported as a rejection.
type Authorizer interface {
	Name() string
	Authorize(ctx context.Context, h http.Header, req Requirement) (*Receipt, error)
	Challenge(req Requirement) PaymentRequired
}

// PaymentRequired is the machine-readable 402 body.
type PaymentRequired struct {
	ProtocolVersion int             `json:"protocolVersion"`
	Accepts         []PaymentOption `json:"accepts"`
	Error           string          `json:"error,omitempty"`
	Instructions    string          `json:"instructions,omitempty"`
	Issuer          string          `json:"issuer,omitempty"`
}

// PaymentOption describes one accepted way to pay.
type PaymentOption struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Asset             string         `json:"asset"`
	Extra             map[string]any `json:"extra,omitempty"`
}

type receiptKey struct{}

// WithReceipt attaches r to ctx.
func WithReceipt(ctx context.Context, r *Receipt) context.Context {
	return context.WithValue(ctx, receiptKey{}, r)
}

// ReceiptFrom returns the receipt the gateway attached, if any.
func ReceiptFrom(ctx context.Context) (*Receipt, bool) {
	r, ok := ctx.Value(receiptKey{}).(*Receipt)
	return r, ok && r != nil
}

// toMinor converts a major-unit price into integer minor units, rounding up
// so a challenge never asks for less than the price.
func toMinor(price decimal.Decimal, decimals int32) decimal.Decimal {
	return price.Shift(decimals).Ceil()
}
