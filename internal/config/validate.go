package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sudo-init-do/meterhub/internal/address"
)

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}

	if err := c.Payment.validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Invoke.PerHostRate < 0 {
		errs = append(errs, errors.New("invoke.per_host_rate must not be negative"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (p *PaymentConfig) validate() error {
	var errs []error

	switch p.Strategy {
	case StrategyProof, StrategyToken:
	default:
		errs = append(errs, fmt.Errorf("payment.strategy %q is not supported", p.Strategy))
	}

	switch p.Ledger {
	case LedgerMemory, LedgerSQL, LedgerRedis:
	default:
		errs = append(errs, fmt.Errorf("payment.ledger %q is not supported", p.Ledger))
	}

	chain, err := address.ParseChain(p.Chain)
	if err != nil {
		errs = append(errs, fmt.Errorf("payment.chain: %w", err))
	}

	if p.Strategy == StrategyProof {
		if p.Network == "" {
			errs = append(errs, errors.New("payment.network is required"))
		}
		if p.Asset == "" {
			errs = append(errs, errors.New("payment.asset is required"))
		}
		if chain != "" {
			if err := address.Validate(chain, p.PayTo); err != nil {
				errs = append(errs, fmt.Errorf("payment.pay_to: %w", err))
			}
		}
	}

	if p.Strategy == StrategyToken && strings.TrimSpace(p.TokenPublicKey) == "" && p.TokenPublicKeyPath == "" {
		errs = append(errs, errors.New("payment.token_public_key or payment.token_public_key_path is required for the token strategy"))
	}

	if p.AssetDecimals <= 0 {
		errs = append(errs, errors.New("payment.asset_decimals must be positive"))
	}
	if p.ClaimTTL < 0 {
		errs = append(errs, errors.New("payment.claim_ttl must not be negative"))
	}

	return errors.Join(errs...)
}

// PublicKeyPEM returns the token verification key, reading it from
// TokenPublicKeyPath when no inline key is configured.
func (p *PaymentConfig) PublicKeyPEM() ([]byte, error) {
	if strings.TrimSpace(p.TokenPublicKey) != "" {
		return []byte(p.TokenPublicKey), nil
	}
	b, err := os.ReadFile(p.TokenPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read token public key: %w", err)
	}
	return b, nil
}
