package dto

import (
	"time"

	"github.com/spec-kit/research-auth/internal/domain"
)

// GoogleLoginRequest payload for login with a provider authorization code.
type GoogleLoginRequest struct {
	Code string `json:"code" validate:"required,max=4096"`
}

// UserResponse describes the signed-in account.
type UserResponse struct {
	ID           string      `json:"id"`
	Email        string      `json:"email"`
	FullName     string      `json:"fullName"`
	Role         domain.Role `json:"role"`
	DepartmentID *int64      `json:"departmentId,omitempty"`
}

// LoginResponse returned by the login endpoint. The refresh token travels
// only in its cookie.
type LoginResponse struct {
	AccessToken string       `json:"accessToken"`
	ExpiresAt   time.Time    `json:"expiresAt"`
	User        UserResponse `json:"user"`
}

// RefreshResponse returned by the refresh endpoint.
type RefreshResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// AuthorizeURLResponse carries the provider consent URL and its state value.
type AuthorizeURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// RegistryReloadResponse reports the registry now in effect.
type RegistryReloadResponse struct {
	PrivilegedUsers int     `json:"privilegedUsers"`
	DepartmentIDs   []int64 `json:"departmentIds"`
}

// NewUserResponse maps an account.
func NewUserResponse(account *domain.Account) UserResponse {
	return UserResponse{
		ID:           account.ID,
		Email:        account.Email,
		FullName:     account.DisplayName,
		Role:         account.Role,
		DepartmentID: account.DepartmentID,
	}
}
