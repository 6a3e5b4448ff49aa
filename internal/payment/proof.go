package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/meterhub/internal/address"
	"github.com/sudo-init-do/meterhub/internal/config"
)

// HeaderPayment carries the self-contained payment proof.
const HeaderPayment = "X-PAYMENT"

const StrategyProof = "proof"

// ProofClaim is the payload of the X-PAYMENT header. Amount is in minor
// units of the asset.
type ProofClaim struct {
	Network string          `json:"network"`
	TxID    string          `json:"txId"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Amount  decimal.Decimal `json:"amount"`
	Asset   string          `json:"asset"`
}

// ProofAuthorizer admits requests that carry a settled on-chain transfer to
// the configured payee. Each transaction id is admitted once.
type ProofAuthorizer struct {
	cfg    config.PaymentConfig
	chain  address.Chain
	ledger Ledger
	now    func() time.Time
}

func NewProofAuthorizer(cfg config.PaymentConfig, ledger Ledger) (*ProofAuthorizer, error) {
	chain, err := address.ParseChain(cfg.Chain)
	if err != nil {
		return nil, err
	}
	payTo, err := address.Normalize(chain, cfg.PayTo)
	if err != nil {
		return nil, err
	}
	cfg.PayTo = payTo
	return &ProofAuthorizer{cfg: cfg, chain: chain, ledger: ledger, now: time.Now}, nil
}

func (a *ProofAuthorizer) Name() string { return StrategyProof }

func (a *ProofAuthorizer) Authorize(ctx context.Context, h http.Header, req Requirement) (*Receipt, error) {
	raw := strings.TrimSpace(h.Get(HeaderPayment))
	if raw == "" {
		return nil, reject(KindPaymentRequired, ReasonMissingPayment, "")
	}

	claim, err := decodeProof(raw)
	if err != nil {
		return nil, reject(KindValidation, ReasonMalformedClaim, err.Error())
	}
	if claim.TxID == "" || claim.From == "" || claim.To == "" || claim.Network == "" || claim.Asset == "" {
		return nil, reject(KindValidation, ReasonMalformedClaim, "network, txId, from, to and asset are required")
	}
	if claim.Amount.IsNegative() || !claim.Amount.IsInteger() {
		return nil, reject(KindValidation, ReasonMalformedClaim, "amount must be a non-negative integer of minor units")
	}
	if err := address.Validate(a.chain, claim.From); err != nil {
		return nil, reject(KindValidation, ReasonInvalidPayer, err.Error())
	}

	if claim.Network != a.cfg.Network {
		return nil, reject(KindAuthorization, ReasonInvalidNetwork, claim.Network)
	}
	if !address.Equal(a.chain, claim.To, a.cfg.PayTo) {
		return nil, reject(KindAuthorization, ReasonInvalidPayee, claim.To)
	}
	paid := claim.Amount.Shift(-a.cfg.AssetDecimals)
	if paid.LessThan(req.Price) {
		return nil, reject(KindAuthorization, ReasonInsufficientAmount,
			paid.String()+" < "+req.Price.String())
	}
	if !a.assetMatches(claim.Asset) {
		return nil, reject(KindAuthorization, ReasonInvalidAsset, claim.Asset)
	}

	now := a.now().UTC()
	used := UsedClaim{
		ClaimID:   claim.TxID,
		ServiceID: req.ServiceID,
		Signature: claim.TxID,
		UsedAt:    now,
	}
	if a.cfg.ClaimTTL > 0 {
		exp := now.Add(a.cfg.ClaimTTL)
		used.ExpiresAt = &exp
	}
	fresh, err := a.ledger.Record(ctx, used)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return nil, reject(KindReplay, ReasonClaimAlreadyUsed, claim.TxID)
	}

	payer, _ := address.Normalize(a.chain, claim.From)
	return &Receipt{
		Strategy:   StrategyProof,
		ClaimID:    claim.TxID,
		ServiceID:  req.ServiceID,
		Payer:      payer,
		Payee:      a.cfg.PayTo,
		Amount:     paid,
		Asset:      claim.Asset,
		Network:    claim.Network,
		Signature:  claim.TxID,
		ExpiresAt:  used.ExpiresAt,
		VerifiedAt: now,
	}, nil
}

// assetMatches compares an asset under the chain's address rules when the
// configured asset is an address on that chain, and exactly otherwise.
// Solana mints are base58 and keep their case.
func (a *ProofAuthorizer) assetMatches(asset string) bool {
	if address.Validate(a.chain, a.cfg.Asset) == nil {
		return address.Equal(a.chain, asset, a.cfg.Asset)
	}
	return asset == a.cfg.Asset
}

func (a *ProofAuthorizer) Challenge(req Requirement) PaymentRequired {
	mime := req.MimeType
	if mime == "" {
		mime = "application/json"
	}
	return PaymentRequired{
		ProtocolVersion: a.cfg.ProtocolVersion,
		Accepts: []PaymentOption{{
			Scheme:            "exact",
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
				"decimals":  a.cfg.AssetDecimals,
			},
		}},
	}
}

// decodeProof accepts raw JSON or base64 (standard or URL alphabet) JSON.
func decodeProof(raw string) (ProofClaim, error) {
	body := []byte(raw)
	if !strings.HasPrefix(raw, "{") {
		var err error
		body, err = base64.StdEncoding.DecodeString(raw)
		if err != nil {
			if body, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "=")); err != nil {
				return ProofClaim{}, err
			}
		}
	}
	var c ProofClaim
	if err := json.Unmarshal(body, &c); err != nil {
		return ProofClaim{}, err
	}
	return c, nil
}
