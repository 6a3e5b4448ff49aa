package payment

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sudo-init-do/meterhub/internal/config"
	"github.com/sudo-init-do/meterhub/internal/db"
)

// NewAuthorizer builds the strategy selected by cfg.Strategy.
func NewAuthorizer(cfg config.PaymentConfig, ledger Ledger) (Authorizer, error) {
	switch cfg.Strategy {
	case config.StrategyProof:
		return NewProofAuthorizer(cfg, ledger)
	case config.StrategyToken:
		pem, err := cfg.PublicKeyPEM()
		if err != nil {
			return nil, err
		}
		return NewTokenAuthorizer(cfg, pem, ledger)
	}
	return nil, fmt.Errorf("payment: unsupported strategy %q", cfg.Strategy)
}

// NewLedger builds the replay ledger selected by kind. The SQL ledger needs
// a; the redis ledger needs rdb.
func NewLedger(kind string, a db.Adapter, rdb *redis.Client) (Ledger, error) {
	switch kind {
	case config.LedgerMemory:
		return NewMemoryLedger(), nil
	case config.LedgerSQL:
		if a == nil {
			return nil, errors.New("payment: sql ledger needs a database")
		}
		return NewSQLLedger(a), nil
	case config.LedgerRedis:
		if rdb == nil {
			return nil, errors.New("payment: redis ledger needs a redis client")
		}
		return NewRedisLedger(rdb), nil
	}
	return nil, fmt.Errorf("payment: unsupported ledger %q", kind)
}
