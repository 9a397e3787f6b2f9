// Package postgres is the PostgreSQL storage backend.
//
// A unit of work is a pgx.Tx carried in the context. Store methods run
// against that transaction when one is present and against the pool
// otherwise. Import batches open one transaction and isolate each row with
// a savepoint.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/recordkeeper/internal/entity"
	"github.com/JonMunkholm/recordkeeper/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Store implements the storage contracts over a connection pool.
type Store struct {
	pool     *pgxpool.Pool
	registry *entity.Registry
	logger   *slog.Logger
}

var (
	_ storage.RecordStore = (*Store)(nil)
	_ storage.Transactor  = (*Store)(nil)
	_ storage.Batcher     = (*Store)(nil)
)

// New wraps pool. The registry supplies the table layout of documents and
// their children.
func New(pool *pgxpool.Pool, reg *entity.Registry, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, registry: reg, logger: logger}
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Schema returns the bootstrap DDL applied by Migrate.
func Schema() string { return schemaSQL }

// Migrate creates any missing tables. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks connectivity for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type txKey struct{}

// txState is the transaction of one unit of work. savepoints counts the
// savepoints opened so far so each gets a unique name.
type txState struct {
	tx         pgx.Tx
	savepoints int
}

func txFrom(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st
}

// db returns the transaction in ctx, or the pool.
func (s *Store) db(ctx context.Context) DBTX {
	if st := txFrom(ctx); st != nil {
		return st.tx
	}
	return s.pool
}

// WithinTx runs fn in a transaction, joining the one already in ctx.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", translate(err))
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Error("transaction rollback failed", "error", rbErr)
			}
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, &txState{tx: tx})); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", translate(err))
	}
	return nil
}

// BeginBatch opens the transaction of an import.
func (s *Store) BeginBatch(ctx context.Context) (context.Context, storage.Batch, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin batch: %w", translate(err))
	}
	st := &txState{tx: tx}
	return context.WithValue(ctx, txKey{}, st), &batch{st: st, logger: s.logger}, nil
}

type batch struct {
	st     *txState
	logger *slog.Logger
	done   bool
}

// Row runs fn under a savepoint. A failed row rolls back to it, which also
// clears the aborted-transaction state Postgres enters after an error.
func (b *batch) Row(ctx context.Context, fn func(ctx context.Context) error) error {
	b.st.savepoints++
	name := fmt.Sprintf("sp_%d", b.st.savepoints)

	if _, err := b.st.tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("%w: open savepoint: %w", storage.ErrBatchAborted, err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, b.st)); err != nil {
		if _, rbErr := b.st.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("%w: rollback savepoint after %v: %w", storage.ErrBatchAborted, err, rbErr)
		}
		return err
	}
	if _, err := b.st.tx.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("%w: release savepoint: %w", storage.ErrBatchAborted, err)
	}
	return nil
}

func (b *batch) Commit(ctx context.Context) error {
	if b.done {
		return nil
	}
	b.done = true
	if err := b.st.tx.Commit(ctx); err != nil {
		return translate(err)
	}
	return nil
}

func (b *batch) Rollback(ctx context.Context) error {
	if b.done {
		return nil
	}
	b.done = true
	if err := b.st.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// translate maps Postgres errors onto the storage sentinels. Class 23 is an
// integrity violation and class 22 a data exception such as a NUL byte in
// text or a value out of range.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == "23505":
		return fmt.Errorf("%w: %s", storage.ErrDuplicate, pgErr.Detail)
	case len(pgErr.Code) == 5 && pgErr.Code[:2] == "23":
		return fmt.Errorf("%w: %s", storage.ErrConstraint, pgErr.Message)
	case len(pgErr.Code) == 5 && pgErr.Code[:2] == "22":
		return fmt.Errorf("%w: %s", storage.ErrInvalidValue, pgErr.Message)
	default:
		return err
	}
}
