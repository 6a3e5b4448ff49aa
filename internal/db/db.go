// Package db is the persistence adapter: one execute/query contract over
// an embedded SQLite file or a pooled PostgreSQL server.
//
// Every statement is written with "?" placeholders; each backend rewrites
// them (and its parameters) into its native form.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/sudo-init-do/meterhub/internal/config"
)

// Backend names the storage engine behind an Adapter.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

var (
	// ErrNoRows is returned by QueryOne when the statement yields nothing.
	ErrNoRows = errors.New("db: no rows in result set")
	// ErrConflict wraps unique and primary key violations from either backend.
	ErrConflict = errors.New("db: unique constraint violated")
)

// Adapter is the uniform contract over a relational backend. Errors from the
// backend are returned as-is (wrapped); nothing is retried here.
type Adapter interface {
	// Initialize creates all tables and indexes if they are absent. Idempotent.
	Initialize(ctx context.Context) error
	// Exec runs a mutating statement and reports the number of affected rows.
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	QueryOne(ctx context.Context, query string, args ...any) (Row, error)
	QueryAll(ctx context.Context, query string, args ...any) ([]Row, error)
	// InTx runs fn in a single transaction. Adapter calls made with the
	// context passed to fn join it. fn returning an error rolls back.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	Ping(ctx context.Context) error
	Backend() Backend
	Close() error
}

// Open connects to the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Adapter, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		p, err := OpenPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
}

type txKey struct{}
