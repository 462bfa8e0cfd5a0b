package sqlrun

import (
	"context"
	"database/sql"
	"errors"

	u "github.com/araddon/gou"
)

type txKey struct{}

// Transact runs fn inside a transaction. fn receives a Runner bound to
// the transaction; it commits when fn returns nil and rolls back when fn
// fails, panics or the context is done. A Transact nested in fn's context
// joins the outer transaction. Providers that cannot begin a transaction
// run fn directly.
func (r *Runner) Transact(ctx context.Context, fn func(ctx context.Context, tx *Runner) error) (err error) {
	if outer, ok := ctx.Value(txKey{}).(*Runner); ok {
		return fn(ctx, outer)
	}
	b, ok := r.provider.(Beginner)
	if !ok {
		return fn(ctx, r)
	}
	tx, err := b.BeginTx(ctx, nil)
	if err != nil {
		return driverErr("begin", err)
	}
	txr := r.with(FromTx(tx, r.provider.DriverName()))
	ctx = context.WithValue(ctx, txKey{}, txr)

	defer func() {
		if p := recover(); p != nil {
			if rerr := rollback(tx); rerr != nil {
				u.Errorf("rollback after panic: %v", rerr)
			}
			panic(p)
		}
		switch {
		case err != nil:
			err = suppress(err, rollback(tx))
		case ctx.Err() != nil:
			err = suppress(ctx.Err(), rollback(tx))
		default:
			err = driverErr("commit", tx.Commit())
		}
	}()
	return fn(ctx, txr)
}

func rollback(tx *sql.Tx) error {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return driverErr("rollback", err)
	}
	return nil
}
