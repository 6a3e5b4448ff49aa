package payment

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/meterhub/internal/config"
)

var tokenNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type issuer struct {
	priv ed25519.PrivateKey
	pem  []byte
}

func newIssuer(t *testing.T) issuer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	return issuer{priv: priv, pem: pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})}
}

func (i issuer) sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(i.priv)
	require.NoError(t, err)
	return s
}

func validTokenClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"serviceId":           "svc-1",
		"requestId":           "req-1",
		"settlementSignature": "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW",
		"payerWallet":         payer,
		"price":               "0.05",
		"exp":                 tokenNow.Add(time.Minute).Unix(),
		"iat":                 tokenNow.Unix(),
	}
}

func newToken(t *testing.T, iss issuer, ledger Ledger) *TokenAuthorizer {
	t.Helper()
	cfg := proofConfig()
	cfg.Strategy = config.StrategyToken
	cfg.IssuerURL = "https://issuer.example/onboard"
	a, err := NewTokenAuthorizer(cfg, iss.pem, ledger)
	require.NoError(t, err)
	a.now = func() time.Time { return tokenNow }
	return a
}

func bearerHeader(tok string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)
	return h
}

func TestToken_Accepts(t *testing.T) {
	iss := newIssuer(t)
	ledger := NewMemoryLedger()
	a := newToken(t, iss, ledger)

	r, err := a.Authorize(context.Background(), bearerHeader(iss.sign(t, validTokenClaims())), fivecents)
	require.NoError(t, err)
	assert.Equal(t, StrategyToken, r.Strategy)
	assert.Equal(t, "req-1", r.ClaimID)
	assert.Equal(t, "svc-1", r.ServiceID)
	assert.True(t, decimal.RequireFromString("0.05").Equal(r.Amount))
	require.NotNil(t, r.ExpiresAt)
	assert.Equal(t, tokenNow.Add(time.Minute), *r.ExpiresAt)
	assert.Equal(t, 1, ledger.Len())
}

func TestToken_MissingToken(t *testing.T) {
	a := newToken(t, newIssuer(t), NewMemoryLedger())

	for _, h := range []http.Header{{}, {"Authorization": {"Basic abc"}}, {"Authorization": {"Bearer "}}} {
		_, err := a.Authorize(context.Background(), h, fivecents)
		assert.ErrorIs(t, err, ErrPaymentRequired)
	}

	ch := a.Challenge(fivecents)
	assert.Equal(t, "https://issuer.example/onboard", ch.Issuer)
	assert.NotEmpty(t, ch.Instructions)
	assert.Equal(t, "50000", ch.Accepts[0].MaxAmountRequired)
}

func TestToken_Rejections(t *testing.T) {
	iss := newIssuer(t)
	other := newIssuer(t)

	without := func(key string) jwt.MapClaims {
		c := validTokenClaims()
		delete(c, key)
		return c
	}
	with := func(key string, v any) jwt.MapClaims {
		c := validTokenClaims()
		c[key] = v
		return c
	}

	tests := []struct {
		name   string
		token  string
		kind   error
		reason string
	}{
		{"expired", iss.sign(t, with("exp", tokenNow.Add(-time.Second).Unix())), ErrAuthorization, ReasonTokenExpired},
		{"wrong key", other.sign(t, validTokenClaims()), ErrAuthorization, ReasonInvalidSignature},
		{"garbage", "not.a.jwt", ErrValidation, ReasonMalformedToken},
		{"no exp", iss.sign(t, without("exp")), ErrValidation, ReasonMissingClaim},
		{"no service", iss.sign(t, without("serviceId")), ErrValidation, ReasonMissingClaim},
		{"no request id", iss.sign(t, without("requestId")), ErrValidation, ReasonMissingClaim},
		{"no settlement", iss.sign(t, without("settlementSignature")), ErrValidation, ReasonMissingClaim},
		{"no payer", iss.sign(t, without("payerWallet")), ErrValidation, ReasonMissingClaim},
		{"no price", iss.sign(t, without("price")), ErrValidation, ReasonMissingClaim},
		{"bad payer", iss.sign(t, with("payerWallet", "0x12")), ErrValidation, ReasonInvalidPayer},
		{"other service", iss.sign(t, with("serviceId", "svc-2")), ErrAuthorization, ReasonServiceMismatch},
		{"underpaid", iss.sign(t, with("price", "0.01")), ErrAuthorization, ReasonInsufficientAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := NewMemoryLedger()
			a := newToken(t, iss, ledger)

			_, err := a.Authorize(context.Background(), bearerHeader(tt.token), fivecents)
			require.ErrorIs(t, err, tt.kind)
			perr, ok := AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.reason, perr.Reason)
			assert.Equal(t, 0, ledger.Len())
		})
	}
}

func TestToken_HMACRejected(t *testing.T) {
	a := newToken(t, newIssuer(t), NewMemoryLedger())
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validTokenClaims()).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = a.Authorize(context.Background(), bearerHeader(tok), fivecents)
	perr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonInvalidSignature, perr.Reason)
}

func TestToken_Replay(t *testing.T) {
	iss := newIssuer(t)
	a := newToken(t, iss, NewMemoryLedger())
	h := bearerHeader(iss.sign(t, validTokenClaims()))

	_, err := a.Authorize(context.Background(), h, fivecents)
	require.NoError(t, err)
	_, err = a.Authorize(context.Background(), h, fivecents)
	assert.ErrorIs(t, err, ErrReplay)
}

func TestNewTokenAuthorizer_BadKey(t *testing.T) {
	_, err := NewTokenAuthorizer(proofConfig(), []byte("not pem"), NewMemoryLedger())
	assert.Error(t, err)
}
