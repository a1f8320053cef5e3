package store

import (
	"context"
	"database/sql"
)

// Query hooks for the stubs below. A nil hook answers with zero values.
type (
	getFunc    func(ctx context.Context, dest any, query string, args ...any) error
	selectFunc func(ctx context.Context, dest any, query string, args ...any) error
	execFunc   func(ctx context.Context, query string, args ...any) (sql.Result, error)
)

func (f getFunc) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	if f == nil {
		return nil
	}
	return f(ctx, dest, query, args...)
}

func (f selectFunc) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	if f == nil {
		return nil
	}
	return f(ctx, dest, query, args...)
}

func (f execFunc) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if f == nil {
		return stubResult{}, nil
	}
	return f(ctx, query, args...)
}

type stubDB struct {
	getFn    getFunc
	selectFn selectFunc
	execFn   execFunc
}

func (s stubDB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return s.getFn.GetContext(ctx, dest, query, args...)
}

func (s stubDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return s.selectFn.SelectContext(ctx, dest, query, args...)
}

func (s stubDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.execFn.ExecContext(ctx, query, args...)
}

// stubTx records how the transaction ended.
type stubTx struct {
	stubDB
	committed  *bool
	rolledBack *bool
}

func (s stubTx) Commit() error {
	if s.committed != nil {
		*s.committed = true
	}
	return nil
}

func (s stubTx) Rollback() error {
	if s.rolledBack != nil {
		*s.rolledBack = true
	}
	return nil
}

func beginWith(tx Tx) func(context.Context) (Tx, error) {
	return func(context.Context) (Tx, error) { return tx, nil }
}

// stubExecer and stubGetter stand in for the *sqlx.Tx a caller passes to a
// write inside its transaction.
type stubExecer struct {
	execFn execFunc
}

func (s stubExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.execFn.ExecContext(ctx, query, args...)
}

type stubGetter struct {
	getFn getFunc
}

func (s stubGetter) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return s.getFn.GetContext(ctx, dest, query, args...)
}

type stubResult struct {
	rows int64
	err  error
}

func (stubResult) LastInsertId() (int64, error) { return 0, nil }

func (r stubResult) RowsAffected() (int64, error) { return r.rows, r.err }
