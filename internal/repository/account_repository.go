package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/research-auth/internal/domain"
)

// AccountRepository defines persistence access for signed-in accounts.
type AccountRepository interface {
	// FindByEmail returns nil when no account uses the email.
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	// Upsert creates the account or brings name, role and department in line
	// with the given values. ID and timestamps are filled in from the row.
	Upsert(ctx context.Context, account *domain.Account) error
}

type accountRepository struct {
	db DBTX
}

// NewAccountRepository returns a Postgres-backed implementation.
func NewAccountRepository(db DBTX) AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `id, email, display_name, role, department_id, created_at, updated_at`

func (r *accountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE email=$1`

	account, err := scanAccount(r.db.QueryRow(ctx, query, domain.NormalizeEmail(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return account, err
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id=$1`
	return scanAccount(r.db.QueryRow(ctx, query, id))
}

func (r *accountRepository) Upsert(ctx context.Context, account *domain.Account) error {
	const query = `
        INSERT INTO accounts (email, display_name, role, department_id)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (email) DO UPDATE SET
            display_name  = EXCLUDED.display_name,
            role          = EXCLUDED.role,
            department_id = EXCLUDED.department_id,
            updated_at    = CASE
                WHEN (accounts.display_name, accounts.role, accounts.department_id)
                     IS DISTINCT FROM (EXCLUDED.display_name, EXCLUDED.role, EXCLUDED.department_id)
                THEN NOW()
                ELSE accounts.updated_at
            END
        RETURNING id, created_at, updated_at`

	account.Email = domain.NormalizeEmail(account.Email)
	return r.db.QueryRow(ctx, query,
		account.Email,
		account.DisplayName,
		account.Role.String(),
		account.DepartmentID,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account domain.Account
		role    string
	)
	if err := row.Scan(
		&account.ID,
		&account.Email,
		&account.DisplayName,
		&role,
		&account.DepartmentID,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		return nil, err
	}
	account.Role = domain.Role(role)
	return &account, nil
}
