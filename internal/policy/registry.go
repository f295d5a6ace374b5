package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/research-auth/internal/domain"
)

// registryFile mirrors the privileged users YAML document.
type registryFile struct {
	SuperAdmins      []string             `yaml:"super_admins"`
	Teachers         []string             `yaml:"teachers"`
	DepartmentAdmins []departmentAdminRow `yaml:"department_admins"`
}

type departmentAdminRow struct {
	Email        string `yaml:"email"`
	DepartmentID *int64 `yaml:"department_id"`
}

// Registry is an immutable, normalized allow-list of privileged emails.
type Registry struct {
	superAdmins      map[string]struct{}
	teachers         map[string]struct{}
	departmentAdmins map[string]int64
}

// EmptyRegistry grants no elevated roles.
func EmptyRegistry() *Registry {
	return &Registry{
		superAdmins:      map[string]struct{}{},
		teachers:         map[string]struct{}{},
		departmentAdmins: map[string]int64{},
	}
}

// LoadRegistry reads and validates the registry at path. An empty path yields
// an empty registry.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return EmptyRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read privileged users: %v", domain.ErrConfigInvalid, err)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes and validates a registry document.
func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parse privileged users: %v", domain.ErrConfigInvalid, err)
	}

	reg := EmptyRegistry()
	var problems []error

	for i, email := range file.SuperAdmins {
		normalized := domain.NormalizeEmail(email)
		if normalized == "" {
			problems = append(problems, fmt.Errorf("super_admins[%d]: empty email", i))
			continue
		}
		reg.superAdmins[normalized] = struct{}{}
	}
	for i, email := range file.Teachers {
		normalized := domain.NormalizeEmail(email)
		if normalized == "" {
			problems = append(problems, fmt.Errorf("teachers[%d]: empty email", i))
			continue
		}
		reg.teachers[normalized] = struct{}{}
	}
	for i, row := range file.DepartmentAdmins {
		normalized := domain.NormalizeEmail(row.Email)
		if normalized == "" || row.DepartmentID == nil {
			problems = append(problems, fmt.Errorf("department_admins[%d]: entry missing email or department_id", i))
			continue
		}
		if existing, ok := reg.departmentAdmins[normalized]; ok && existing != *row.DepartmentID {
			problems = append(problems, fmt.Errorf("department_admins[%d]: %s assigned to departments %d and %d", i, normalized, existing, *row.DepartmentID))
			continue
		}
		reg.departmentAdmins[normalized] = *row.DepartmentID
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigInvalid, errors.Join(problems...))
	}
	return reg, nil
}

// IsPrivileged reports whether the email appears in any list.
func (r *Registry) IsPrivileged(email string) bool {
	normalized := domain.NormalizeEmail(email)
	if _, ok := r.superAdmins[normalized]; ok {
		return true
	}
	if _, ok := r.teachers[normalized]; ok {
		return true
	}
	_, ok := r.departmentAdmins[normalized]
	return ok
}

// ResolveRole applies super admin > teacher > department admin > student.
func (r *Registry) ResolveRole(email string) domain.Role {
	normalized := domain.NormalizeEmail(email)
	if _, ok := r.superAdmins[normalized]; ok {
		return domain.RoleSuperAdmin
	}
	if _, ok := r.teachers[normalized]; ok {
		return domain.RoleTeacher
	}
	if _, ok := r.departmentAdmins[normalized]; ok {
		return domain.RoleDepartmentAdmin
	}
	return domain.RoleStudent
}

// ResolveDepartment returns the department configured for a department admin.
func (r *Registry) ResolveDepartment(email string) (int64, bool) {
	id, ok := r.departmentAdmins[domain.NormalizeEmail(email)]
	return id, ok
}

// DepartmentIDs lists the distinct departments referenced by the registry.
func (r *Registry) DepartmentIDs() []int64 {
	seen := make(map[int64]struct{}, len(r.departmentAdmins))
	ids := make([]int64, 0, len(r.departmentAdmins))
	for _, id := range r.departmentAdmins {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Size returns the number of distinct privileged emails.
func (r *Registry) Size() int {
	emails := make(map[string]struct{})
	for email := range r.superAdmins {
		emails[email] = struct{}{}
	}
	for email := range r.teachers {
		emails[email] = struct{}{}
	}
	for email := range r.departmentAdmins {
		emails[email] = struct{}{}
	}
	return len(emails)
}

// RegistryHolder publishes the current registry. Reloads replace the whole
// value; a registry is never modified after it is published.
type RegistryHolder struct {
	current atomic.Pointer[Registry]
}

// NewRegistryHolder wraps an initial registry.
func NewRegistryHolder(initial *Registry) *RegistryHolder {
	if initial == nil {
		initial = EmptyRegistry()
	}
	h := &RegistryHolder{}
	h.current.Store(initial)
	return h
}

// Current returns the registry snapshot in effect.
func (h *RegistryHolder) Current() *Registry {
	return h.current.Load()
}

// RegistryCheck validates a loaded registry before it is published.
type RegistryCheck func(ctx context.Context, reg *Registry) error

// Reload loads path, runs checks and swaps the result in. On error the
// previous registry stays active.
func (h *RegistryHolder) Reload(ctx context.Context, path string, checks ...RegistryCheck) (*Registry, error) {
	next, err := LoadRegistry(path)
	if err != nil {
		return nil, err
	}
	for _, check := range checks {
		if err := check(ctx, next); err != nil {
			return nil, err
		}
	}
	h.current.Store(next)
	return next, nil
}

// DepartmentLookup resolves departments by id, returning nil when absent.
type DepartmentLookup interface {
	FindByID(ctx context.Context, id int64) (*domain.Department, error)
}

// DepartmentsExist fails with ErrConfigInvalid when a department admin points
// at a department the lookup does not know.
func DepartmentsExist(lookup DepartmentLookup) RegistryCheck {
	return func(ctx context.Context, reg *Registry) error {
		var missing []int64
		for _, id := range reg.DepartmentIDs() {
			dept, err := lookup.FindByID(ctx, id)
			if err != nil {
				return fmt.Errorf("lookup department %d: %w", id, err)
			}
			if dept == nil {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: department_admins reference unknown departments %v", domain.ErrConfigInvalid, missing)
		}
		return nil
	}
}
