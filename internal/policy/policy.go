package policy

import (
	"fmt"
	"strings"

	"github.com/spec-kit/research-auth/internal/domain"
)

// DomainRule decides which non-privileged emails may sign in.
type DomainRule struct {
	// Production enforces OrgDomain; otherwise RelaxedSuffixes apply.
	Production      bool
	OrgDomain       string
	RelaxedSuffixes []string
}

// Allows reports whether email satisfies the rule.
func (r DomainRule) Allows(email string) bool {
	email = domain.NormalizeEmail(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	host := email[at+1:]

	if r.Production {
		org := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(r.OrgDomain), "@"))
		if org == "" {
			return false
		}
		return host == org || strings.HasSuffix(host, "."+org)
	}
	for _, suffix := range r.RelaxedSuffixes {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix != "" && strings.HasSuffix(host, strings.TrimPrefix(suffix, "@")) {
			return true
		}
	}
	return false
}

// RegistrySource yields the registry snapshot to evaluate against.
type RegistrySource interface {
	Current() *Registry
}

// Policy maps verified identities to roles and enforces the domain rule.
type Policy struct {
	registry RegistrySource
	rule     DomainRule
}

// NewPolicy builds a policy over the registry source and domain rule.
func NewPolicy(registry RegistrySource, rule DomainRule) *Policy {
	return &Policy{registry: registry, rule: rule}
}

// Authorize returns the role and department for identity, or ErrDomainNotAllowed.
func (p *Policy) Authorize(identity domain.VerifiedIdentity) (domain.Decision, error) {
	return Evaluate(identity, p.registry.Current(), p.rule)
}

// Evaluate is the pure decision function behind Authorize.
func Evaluate(identity domain.VerifiedIdentity, reg *Registry, rule DomainRule) (domain.Decision, error) {
	if reg == nil {
		reg = EmptyRegistry()
	}
	email := domain.NormalizeEmail(identity.Email)
	if email == "" {
		return domain.Decision{}, fmt.Errorf("%w: empty email", domain.ErrDomainNotAllowed)
	}

	if !reg.IsPrivileged(email) && !rule.Allows(email) {
		return domain.Decision{}, fmt.Errorf("%w: %s", domain.ErrDomainNotAllowed, emailDomain(email))
	}

	decision := domain.Decision{Role: reg.ResolveRole(email)}
	if decision.Role.RequiresDepartment() {
		id, ok := reg.ResolveDepartment(email)
		if !ok {
			return domain.Decision{}, fmt.Errorf("%w: department admin %s has no department", domain.ErrConfigInvalid, email)
		}
		decision.DepartmentID = &id
	}
	return decision, nil
}

func emailDomain(email string) string {
	if at := strings.LastIndex(email, "@"); at >= 0 {
		return email[at:]
	}
	return email
}
