package domain

import (
	"strings"
	"time"
)

// Account is the persisted user created on first successful login.
type Account struct {
	ID           string
	Email        string
	DisplayName  string
	Role         Role
	DepartmentID *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// VerifiedIdentity is the provider assertion after signature and email checks.
type VerifiedIdentity struct {
	Email             string
	DisplayName       string
	ProviderSubjectID string
}

// Decision is the outcome of the authorization policy for an identity.
type Decision struct {
	Role         Role
	DepartmentID *int64
}

// NormalizeEmail lower-cases and trims an address for comparison and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
