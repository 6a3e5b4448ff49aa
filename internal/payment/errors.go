package payment

import (
	"errors"
	"net/http"
)

// Kind classifies an authorization failure.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindPaymentRequired Kind = "payment_required"
	KindAuthorization   Kind = "authorization"
	KindReplay          Kind = "replay"
)

// Stable reason strings. Callers branch on these; never change them.
const (
	ReasonMissingPayment     = "payment_required"
	ReasonMalformedClaim     = "malformed_claim"
	ReasonInvalidNetwork     = "invalid_network"
	ReasonInvalidPayee       = "invalid_payee"
	ReasonInvalidPayer       = "invalid_payer"
	ReasonInsufficientAmount = "insufficient_amount"
	ReasonInvalidAsset       = "invalid_asset"
	ReasonClaimAlreadyUsed   = "claim_already_used"
	ReasonInvalidSignature   = "invalid_signature"
	ReasonTokenExpired       = "token_expired"
	ReasonMalformedToken     = "malformed_token"
	ReasonMissingClaim       = "missing_claim"
	ReasonServiceMismatch    = "service_mismatch"
)

// Error is the typed outcome of a rejected authorization.
type Error struct {
	Kind   Kind
	Reason string
	// Detail is for logs only; it is not sent to callers.
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return string(e.Kind) + ": " + e.Reason + ": " + e.Detail
	}
	return string(e.Kind) + ": " + e.Reason
}

// Is matches the kind sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == "" && t.Kind == e.Kind
}

var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrPaymentRequired = &Error{Kind: KindPaymentRequired}
	ErrAuthorization   = &Error{Kind: KindAuthorization}
	ErrReplay          = &Error{Kind: KindReplay}
)

func reject(kind Kind, reason, detail string) *Error {
	return &Error{Kind: kind, Reason: reason, Detail: detail}
}

// AsError extracts the typed failure from err.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// StatusCode maps a failure kind onto an HTTP status.
func StatusCode(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindPaymentRequired, KindAuthorization:
		return http.StatusPaymentRequired
	case KindReplay:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
