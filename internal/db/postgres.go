package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/sudo-init-do/meterhub/internal/config"
)

// PgxPool is the slice of *pgxpool.Pool the adapter uses. pgxmock satisfies it.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres is the pooled server backend.
type Postgres struct {
	pool           PgxPool
	acquireTimeout time.Duration
	migrate        func(ctx context.Context) error
}

// OpenPostgres builds a pool from cfg and pings it before returning.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := NewPostgres(pool, cfg.AcquireTimeout)
	p.migrate = func(ctx context.Context) error {
		sqlDB := stdlib.OpenDBFromPool(pool)
		defer func() { _ = sqlDB.Close() }()
		return migrate(ctx, goose.DialectPostgres, sqlDB, "migrations/postgres")
	}
	return p, nil
}

// NewPostgres wraps an existing pool. acquireTimeout bounds each statement
// issued outside a transaction; zero disables the bound.
func NewPostgres(pool PgxPool, acquireTimeout time.Duration) *Postgres {
	return &Postgres{pool: pool, acquireTimeout: acquireTimeout}
}

func (p *Postgres) Backend() Backend { return BackendPostgres }

func (p *Postgres) Initialize(ctx context.Context) error {
	if p.migrate == nil {
		return errors.New("postgres: no migrator configured")
	}
	return p.migrate(ctx)
}

func (p *Postgres) querier(ctx context.Context) (pgQuerier, context.Context, context.CancelFunc) {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx, ctx, func() {}
	}
	if p.acquireTimeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
		return p.pool, ctx, cancel
	}
	return p.pool, ctx, func() {}
}

func (p *Postgres) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	q, err := sq.Dollar.ReplacePlaceholders(query)
	if err != nil {
		return 0, fmt.Errorf("postgres placeholders: %w", err)
	}
	db, ctx, cancel := p.querier(ctx)
	defer cancel()

	tag, err := db.Exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres exec: %w", mapPgError(err))
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) QueryOne(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := p.QueryAll(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows[0], nil
}

func (p *Postgres) QueryAll(ctx context.Context, query string, args ...any) ([]Row, error) {
	q, err := sq.Dollar.ReplacePlaceholders(query)
	if err != nil {
		return nil, fmt.Errorf("postgres placeholders: %w", err)
	}
	db, ctx, cancel := p.querier(ctx)
	defer cancel()

	rows, err := db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres query: %w", mapPgError(err))
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("postgres values: %w", err)
		}
		row := make(Row, len(fields))
		for i, f := range fields {
			if i < len(vals) {
				row[f.Name] = vals[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres rows: %w", mapPgError(err))
	}
	return out, nil
}

func (p *Postgres) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// mapPgError wraps unique_violation in ErrConflict. Context errors and
// everything else pass through.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}
