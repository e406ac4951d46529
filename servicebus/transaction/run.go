package transaction

import (
	"context"
	"errors"

	"github.com/LerianStudio/lib-servicebus/servicebus/transport"
)

// Run creates a scope over the transaction context, runs fn against it, and
// finalizes: commit when fn returns nil, rollback when it returns an error
// or panics (the panic is re-raised after the rollback attempt).
//
// When both fn and the rollback fail, the two errors are joined so neither
// failure is lost.
func Run(ctx context.Context, txc transport.TxContext, fn func(ctx context.Context, scope *Scope) error, opts ...ScopeOption) error {
	scope, err := NewScope(txc, opts...)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}

	defer func() {
		if r := recover(); r != nil {
			_ = scope.Rollback(ctx)

			panic(r)
		}
	}()

	if err := fn(ctx, scope); err != nil {
		if rbErr := scope.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}

		return err
	}

	return scope.Commit(ctx)
}
