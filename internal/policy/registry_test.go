package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spec-kit/research-auth/internal/domain"
)

const sampleRegistry = `
super_admins:
  - Root@Example.com
teachers:
  - prof@example.com
  - " Mixed@Case.ORG "
department_admins:
  - email: head@example.com
    department_id: 3
  - email: chair@example.com
    department_id: 5
`

func TestParseRegistryNormalizes(t *testing.T) {
	reg, err := ParseRegistry([]byte(sampleRegistry))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if !reg.IsPrivileged("ROOT@example.COM") {
		t.Fatal("expected case-insensitive super admin lookup")
	}
	if got := reg.ResolveRole("mixed@case.org"); got != domain.RoleTeacher {
		t.Fatalf("expected trimmed teacher entry, got %s", got)
	}
	if id, ok := reg.ResolveDepartment("HEAD@example.com"); !ok || id != 3 {
		t.Fatalf("expected department 3, got %d %v", id, ok)
	}
	if _, ok := reg.ResolveDepartment("prof@example.com"); ok {
		t.Fatal("teachers carry no department")
	}
	if reg.IsPrivileged("nobody@example.com") {
		t.Fatal("unexpected privileged email")
	}
	if got := reg.DepartmentIDs(); len(got) != 2 || got[0] != 3 || got[1] != 5 {
		t.Fatalf("unexpected department ids %v", got)
	}
	if reg.Size() != 5 {
		t.Fatalf("expected 5 privileged emails, got %d", reg.Size())
	}
}

func TestParseRegistryRejectsInvalidEntries(t *testing.T) {
	tests := map[string]string{
		"missing department": "department_admins:\n  - email: a@example.com\n",
		"missing email":      "department_admins:\n  - department_id: 2\n",
		"empty teacher":      "teachers:\n  - \"  \"\n",
		"conflicting department": "department_admins:\n  - email: a@example.com\n    department_id: 1\n" +
			"  - email: A@example.com\n    department_id: 2\n",
		"malformed yaml": "super_admins: [unterminated",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(doc))
			if !errors.Is(err, domain.ErrConfigInvalid) {
				t.Fatalf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestLoadRegistryEmptyPath(t *testing.T) {
	reg, err := LoadRegistry("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reg.Size() != 0 {
		t.Fatalf("expected empty registry, got %d entries", reg.Size())
	}
}

func TestLoadRegistryMissingFile(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, domain.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

type stubDepartments map[int64]string

func (s stubDepartments) FindByID(_ context.Context, id int64) (*domain.Department, error) {
	name, ok := s[id]
	if !ok {
		return nil, nil
	}
	return &domain.Department{ID: id, Name: name}, nil
}

func TestRegistryHolderReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "privileged.yaml")
	writeFile(t, path, "teachers:\n  - one@example.com\n")

	initial, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	holder := NewRegistryHolder(initial)
	before := holder.Current()

	writeFile(t, path, "super_admins:\n  - one@example.com\n")
	if _, err := holder.Reload(context.Background(), path); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := holder.Current().ResolveRole("one@example.com"); got != domain.RoleSuperAdmin {
		t.Fatalf("expected reloaded role, got %s", got)
	}
	if got := before.ResolveRole("one@example.com"); got != domain.RoleTeacher {
		t.Fatalf("previous snapshot must stay unchanged, got %s", got)
	}

	writeFile(t, path, "department_admins:\n  - email: x@example.com\n")
	if _, err := holder.Reload(context.Background(), path); err == nil {
		t.Fatal("expected invalid reload to fail")
	}
	if got := holder.Current().ResolveRole("one@example.com"); got != domain.RoleSuperAdmin {
		t.Fatalf("failed reload must keep current registry, got %s", got)
	}

	writeFile(t, path, "department_admins:\n  - email: x@example.com\n    department_id: 9\n")
	_, err = holder.Reload(context.Background(), path, DepartmentsExist(stubDepartments{1: "Physics"}))
	if !errors.Is(err, domain.ErrConfigInvalid) || !strings.Contains(err.Error(), "9") {
		t.Fatalf("expected unknown department error, got %v", err)
	}
	if holder.Current().IsPrivileged("x@example.com") {
		t.Fatal("rejected registry must not be published")
	}
}

func TestDepartmentsExist(t *testing.T) {
	reg, err := ParseRegistry([]byte(sampleRegistry))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	check := DepartmentsExist(stubDepartments{3: "Biology", 5: "Chemistry"})
	if err := check(context.Background(), reg); err != nil {
		t.Fatalf("expected known departments to pass, got %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
