package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repositories groups the repositories bound to one connection or transaction.
type Repositories struct {
	Accounts      AccountRepository
	Departments   DepartmentRepository
	RefreshTokens RefreshTokenRepository
}

// NewRepositories binds every repository to db.
func NewRepositories(db DBTX) Repositories {
	return Repositories{
		Accounts:      NewAccountRepository(db),
		Departments:   NewDepartmentRepository(db),
		RefreshTokens: NewRefreshTokenRepository(db),
	}
}

// UnitOfWork runs fn against repositories sharing one transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(Repositories) error) error
}

type pgUnitOfWork struct {
	pool *pgxpool.Pool
}

// NewUnitOfWork returns a pgx transaction runner over pool.
func NewUnitOfWork(pool *pgxpool.Pool) UnitOfWork {
	return &pgUnitOfWork{pool: pool}
}

func (u *pgUnitOfWork) Do(ctx context.Context, fn func(Repositories) error) error {
	return pgx.BeginFunc(ctx, u.pool, func(tx pgx.Tx) error {
		return fn(NewRepositories(tx))
	})
}
