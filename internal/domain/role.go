package domain

import (
	"fmt"
	"strings"
)

// Role enumerates account roles. Callers branch on the predicates below
// instead of comparing raw strings.
type Role string

const (
	RoleStudent         Role = "STUDENT"
	RoleTeacher         Role = "TEACHER"
	RoleDepartmentAdmin Role = "DEPARTMENT_ADMIN"
	RoleSuperAdmin      Role = "SUPER_ADMIN"
)

// ParseRole converts a claim or column value into a Role.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(value)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", value)
	}
	return role, nil
}

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleDepartmentAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsAdmin reports whether the role administers papers or requests.
func (r Role) IsAdmin() bool {
	return r == RoleDepartmentAdmin || r == RoleSuperAdmin
}

// IsStaff reports whether the role belongs to faculty or administration.
func (r Role) IsStaff() bool {
	return r == RoleTeacher || r.IsAdmin()
}

// RequiresDepartment reports whether accounts with this role must carry a department.
func (r Role) RequiresDepartment() bool {
	return r == RoleDepartmentAdmin
}

// CanManageDepartment reports whether the role may administer the given department.
// Super admins manage every department; department admins only their own.
func (r Role) CanManageDepartment(own *int64, target int64) bool {
	switch r {
	case RoleSuperAdmin:
		return true
	case RoleDepartmentAdmin:
		return own != nil && *own == target
	}
	return false
}

func (r Role) String() string {
	return string(r)
}
