package payment

import (
	"context"
	"crypto"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/meterhub/internal/address"
	"github.com/sudo-init-do/meterhub/internal/config"
)

const StrategyToken = "token"

// TokenClaims are the claims a central issuer signs for one paid request.
// Price is in major units.
type TokenClaims struct {
	ServiceID           string           `json:"serviceId"`
	RequestID           string           `json:"requestId"`
	SettlementSignature string           `json:"settlementSignature"`
	PayerWallet         string           `json:"payerWallet"`
	Price               *decimal.Decimal `json:"price"`
	jwt.RegisteredClaims
}

// TokenAuthorizer admits requests carrying an EdDSA-signed bearer token from
// the central issuer. Each request id is admitted once until the token
// expires.
type TokenAuthorizer struct {
	cfg    config.PaymentConfig
	chain  address.Chain
	key    crypto.PublicKey
	ledger Ledger
	now    func() time.Time
}

func NewTokenAuthorizer(cfg config.PaymentConfig, publicKeyPEM []byte, ledger Ledger) (*TokenAuthorizer, error) {
	chain, err := address.ParseChain(cfg.Chain)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseEdPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return &TokenAuthorizer{cfg: cfg, chain: chain, key: key, ledger: ledger, now: time.Now}, nil
}

func (a *TokenAuthorizer) Name() string { return StrategyToken }

func (a *TokenAuthorizer) Authorize(ctx context.Context, h http.Header, req Requirement) (*Receipt, error) {
	raw, ok := bearer(h.Get("Authorization"))
	if !ok {
		return nil, reject(KindPaymentRequired, ReasonMissingPayment, "")
	}

	var claims TokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return a.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	switch {
	case claims.ServiceID == "":
		return nil, reject(KindValidation, ReasonMissingClaim, "serviceId")
	case claims.RequestID == "":
		return nil, reject(KindValidation, ReasonMissingClaim, "requestId")
	case claims.SettlementSignature == "":
		return nil, reject(KindValidation, ReasonMissingClaim, "settlementSignature")
	case claims.PayerWallet == "":
		return nil, reject(KindValidation, ReasonMissingClaim, "payerWallet")
	case claims.Price == nil:
		return nil, reject(KindValidation, ReasonMissingClaim, "price")
	}
	if err := address.Validate(a.chain, claims.PayerWallet); err != nil {
		return nil, reject(KindValidation, ReasonInvalidPayer, err.Error())
	}

	if req.ServiceID != "" && claims.ServiceID != req.ServiceID {
		return nil, reject(KindAuthorization, ReasonServiceMismatch, claims.ServiceID)
	}
	if claims.Price.LessThan(req.Price) {
		return nil, reject(KindAuthorization, ReasonInsufficientAmount,
			claims.Price.String()+" < "+req.Price.String())
	}

	now := a.now().UTC()
	exp := claims.ExpiresAt.Time.UTC()
	fresh, err := a.ledger.Record(ctx, UsedClaim{
		ClaimID:   claims.RequestID,
		ServiceID: claims.ServiceID,
		Signature: claims.SettlementSignature,
		UsedAt:    now,
		ExpiresAt: &exp,
	})
	if err != nil {
		return nil, err
	}
	if !fresh {
		return nil, reject(KindReplay, ReasonClaimAlreadyUsed, claims.RequestID)
	}

	payer, _ := address.Normalize(a.chain, claims.PayerWallet)
	return &Receipt{
		Strategy:   StrategyToken,
		ClaimID:    claims.RequestID,
		ServiceID:  claims.ServiceID,
		Payer:      payer,
		Amount:     *claims.Price,
		Signature:  claims.SettlementSignature,
		ExpiresAt:  &exp,
		VerifiedAt: now,
	}, nil
}

func (a *TokenAuthorizer) Challenge(req Requirement) PaymentRequired {
	mime := req.MimeType
	if mime == "" {
		mime = "application/json"
	}
	return PaymentRequired{
		ProtocolVersion: a.cfg.ProtocolVersion,
		Accepts: []PaymentOption{{
			Scheme:            "bearer",
			Network:           a.cfg.Network,
			MaxAmountRequired: toMinor(req.Price, a.cfg.AssetDecimals).String(),
			Resource:          req.Resource,
			Description:       req.Description,
			MimeType:          mime,
			PayTo:             a.cfg.PayTo,
			MaxTimeoutSeconds: a.cfg.MaxTimeoutSeconds,
			Asset:             a.cfg.Asset,
			Extra: map[string]any{
				"serviceId": req.ServiceID,
				"price":     req.Price.String(),
			},
		}},
		Instructions: "Settle the price with the issuer, then retry with the issued token in an Authorization: Bearer header.",
		Issuer:       a.cfg.IssuerURL,
	}
}

func bearer(h string) (string, bool) {
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}

func classifyTokenError(err error) *Error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return reject(KindAuthorization, ReasonTokenExpired, err.Error())
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return reject(KindAuthorization, ReasonInvalidSignature, err.Error())
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return reject(KindValidation, ReasonMissingClaim, err.Error())
	}
	return reject(KindValidation, ReasonMalformedToken, err.Error())
}
