package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx operations repositories issue. It is
// satisfied by both *pgxpool.Conn and pgx.Tx, so the same repository code
// runs inside and outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Scope wraps one request-scoped connection. Each inbound request acquires a
// scope, carries it through context, and releases it when the request ends.
// While a transaction opened by InTx is active, Q routes statements through
// it; otherwise statements run on the plain connection.
type Scope struct {
	Conn *pgxpool.Conn
	tx   pgx.Tx
}

// Q returns the querier statements should run on.
func (s *Scope) Q() Querier {
	if s.tx != nil {
		return s.tx
	}
	return s.Conn
}

// InTx runs fn inside a transaction on the scoped connection: commit when fn
// returns nil, rollback when it returns an error or panics. Scopes are
// single-goroutine; nesting is a programming error.
func (s *Scope) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx != nil {
		return fmt.Errorf("transaction already open on scope")
	}

	tx, err := s.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx

	defer func() {
		s.tx = nil
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close releases the connection back to the pool.
// It MUST be called when the request scope ends.
func (s *Scope) Close() {
	if s.Conn == nil {
		return
	}
	s.Conn.Release()
}

// AcquireScope acquires a connection for one request scope.
// The returned Scope MUST be closed with defer scope.Close().
func (db *DB) AcquireScope(ctx context.Context) (*Scope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Scope{Conn: conn}, nil
}
