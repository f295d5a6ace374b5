package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/research-auth/internal/domain"
)

// DepartmentRepository reads departments. Departments are managed elsewhere.
type DepartmentRepository interface {
	// FindByID returns nil when the department does not exist.
	FindByID(ctx context.Context, id int64) (*domain.Department, error)
}

type departmentRepository struct {
	db DBTX
}

// NewDepartmentRepository builds the repository.
func NewDepartmentRepository(db DBTX) DepartmentRepository {
	return &departmentRepository{db: db}
}

func (r *departmentRepository) FindByID(ctx context.Context, id int64) (*domain.Department, error) {
	const query = `SELECT id, name FROM departments WHERE id=$1`

	var dept domain.Department
	if err := r.db.QueryRow(ctx, query, id).Scan(&dept.ID, &dept.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &dept, nil
}
