// Package postgres implements core.Backend on PostgreSQL through a pgx
// connection pool. Change channels use LISTEN/NOTIFY; see notify.sql for
// the triggers that feed them.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/fluent/internal/config"
	"github.com/JonMunkholm/fluent/internal/core"
)

// SQLSTATE raised by procedures when their target does not exist.
const codeNoDataFound = "P0002"

// Backend is a core.Backend backed by a PostgreSQL pool.
type Backend struct {
	pool   *pgxpool.Pool
	prefix string
}

// New wraps an open pool. prefix namespaces the notification channels.
func New(pool *pgxpool.Pool, prefix string) *Backend {
	return &Backend{pool: pool, prefix: prefix}
}

// Connect opens and pings a pool configured from cfg.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Query runs a SELECT for the request.
func (b *Backend) Query(ctx context.Context, entity core.Entity, columns []string, filters []core.Filter) ([]core.Row, error) {
	query, args := selectSQL(entity, columns, filters)

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", entity, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	oids := make([]uint32, len(fields))
	for i, f := range fields {
		names[i] = f.Name
		oids[i] = f.DataTypeOID
	}

	var result []core.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		result = append(result, scanRow(names, oids, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return result, nil
}

// Mutate runs an UPDATE and reports core.ErrNoRows when nothing matched.
func (b *Backend) Mutate(ctx context.Context, entity core.Entity, changes map[string]any, match []core.Filter) error {
	if len(changes) == 0 {
		return fmt.Errorf("update %s: no changes", entity)
	}

	query, args := updateSQL(entity, changes, match)
	tag, err := b.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", entity, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s: %w", entity, core.ErrNoRows)
	}

	slog.Debug("rows updated", "entity", entity, "rows", tag.RowsAffected())
	return nil
}

// CallProcedure calls a database function with named arguments and returns
// its single result value.
func (b *Backend) CallProcedure(ctx context.Context, name string, args map[string]any) (any, error) {
	query, values := procedureSQL(name, args)

	rows, err := b.pool.Query(ctx, query, values...)
	if err != nil {
		return nil, procedureError(name, err)
	}
	defer rows.Close()

	var result any
	if rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, procedureError(name, err)
		}
		if len(vals) > 0 {
			result = fromDB(vals[0], rows.FieldDescriptions()[0].DataTypeOID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, procedureError(name, err)
	}
	return result, nil
}

func procedureError(name string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeNoDataFound {
		return fmt.Errorf("%s: %s: %w", name, pgErr.Message, core.ErrNoRows)
	}
	return fmt.Errorf("%s: %w", name, err)
}

// Pool returns the underlying pool.
func (b *Backend) Pool() *pgxpool.Pool {
	return b.pool
}
