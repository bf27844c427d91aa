// Package sqlite carries SQLite transactions through context so repositories
// can join a unit of work opened by an application service.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/retry"
	"github.com/garyjia/receipt-ledger/pkg/database"
	"go.uber.org/zap"
)

type txKey struct{}

// DB is the port.TransactionManager for the draft store. A unit of work that
// fails on busy/locked contention is rolled back and run again from the start
// under the retry policy.
type DB struct {
	*sql.DB
	policy retry.Policy
	logger *zap.Logger
}

var _ port.TransactionManager = (*DB)(nil)

// NewDB wraps an opened store
func NewDB(sqlDB *sql.DB, policy retry.Policy, logger *zap.Logger) *DB {
	return &DB{DB: sqlDB, policy: policy, logger: logger}
}

// WithTransaction runs fn inside a transaction carried by the context passed
// to fn. A call made while ctx already carries one joins it, so only the
// outermost call commits or retries.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	attempt := 0
	return db.policy.Do(ctx, database.IsContention, func() error {
		attempt++
		err := db.unitOfWork(ctx, fn)
		if err != nil && database.IsContention(err) {
			db.logger.Warn("Draft store busy, unit of work rolled back",
				zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
}

func (db *DB) unitOfWork(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	done := false
	defer func() {
		if done {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			db.logger.Error("Failed to roll back unit of work", zap.Error(rbErr))
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	done = true
	return nil
}

// TxFromContext returns the transaction carried by ctx, or nil
func TxFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// Executor is the query surface shared by *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ExecutorFor picks the transaction carried by ctx, falling back to db
func ExecutorFor(ctx context.Context, db *sql.DB) Executor {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return db
}
