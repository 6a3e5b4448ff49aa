package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/meterhub/internal/payment"
)

// issue_token acts as the central issuer for the token strategy: it signs a
// bearer token for one paid request, or generates the issuer key pair.
// Usage:
//
//	go run cmd/adminutil/issue_token/main.go -genkey -out ./keys
//	go run cmd/adminutil/issue_token/main.go -key ./keys/issuer.pem -service <id> \
//	    -payer <wallet> -price 0.05 -settlement <signature>
func main() {
	genkey := flag.Bool("genkey", false, "Generate an Ed25519 key pair and exit")
	out := flag.String("out", ".", "Directory for -genkey output")
	keyPath := flag.String("key", "", "Path to the issuer's PKCS#8 private key PEM")
	service := flag.String("service", "", "Service ID the token pays for")
	request := flag.String("request", "", "Request ID (default: random UUID)")
	settlement := flag.String("settlement", "", "Settlement transaction signature")
	payer := flag.String("payer", "", "Payer wallet address")
	price := flag.String("price", "", "Price paid, in major units")
	ttl := flag.Duration("ttl", 5*time.Minute, "Token lifetime")
	issuer := flag.String("issuer", "meterhub-issuer", "Issuer claim")
	flag.Parse()

	if *genkey {
		if err := generateKeys(*out); err != nil {
			log.Fatalf("failed to generate keys: %v", err)
		}
		return
	}

	if *keyPath == "" || *service == "" || *settlement == "" || *payer == "" || *price == "" {
		log.Fatalf("usage: go run cmd/adminutil/issue_token/main.go -key issuer.pem -service <id> -payer <wallet> -price <amount> -settlement <signature>")
	}
	amount, err := decimal.NewFromString(*price)
	if err != nil || amount.IsNegative() {
		log.Fatalf("invalid price %q", *price)
	}
	if *request == "" {
		*request = uuid.NewString()
	}

	raw, err := os.ReadFile(*keyPath)
	if err != nil {
		log.Fatalf("read key: %v", err)
	}
	key, err := jwt.ParseEdPrivateKeyFromPEM(raw)
	if err != nil {
		log.Fatalf("parse key: %v", err)
	}

	now := time.Now()
	claims := payment.TokenClaims{
		ServiceID:           *service,
		RequestID:           *request,
		SettlementSignature: *settlement,
		PayerWallet:         *payer,
		Price:               &amount,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    *issuer,
			Subject:   *payer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(signed)
}

func generateKeys(dir string) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	files := []struct {
		name  string
		block *pem.Block
		mode  os.FileMode
	}{
		{"issuer.pem", &pem.Block{Type: "PRIVATE KEY", Bytes: privDER}, 0o600},
		{"issuer.pub.pem", &pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}, 0o644},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, pem.EncodeToMemory(f.block), f.mode); err != nil {
			return err
		}
		fmt.Println("wrote", path)
	}
	return nil
}
