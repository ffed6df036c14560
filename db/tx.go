package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/matchpoint-app/results-engine/repositories"
)

// TxRunner owns the transaction boundary for aggregate mutations. The batch
// processor depends on this interface instead of *sql.DB so its logic can be
// exercised without a live database.
type TxRunner interface {
	// WithinSerializableTx runs fn inside a serializable transaction,
	// committing on nil and rolling back on error or panic.
	WithinSerializableTx(ctx context.Context, fn func(exec repositories.SQLExecutor) error) error
}

type sqlTxRunner struct {
	db *sql.DB
}

func NewTxRunner(database *sql.DB) TxRunner {
	return &sqlTxRunner{db: database}
}

func (r *sqlTxRunner) WithinSerializableTx(ctx context.Context, fn func(exec repositories.SQLExecutor) error) (err error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cErr)
		}
	}()

	err = fn(tx)
	return err
}
