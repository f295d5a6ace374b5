package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/research-auth/internal/auth"
	"github.com/spec-kit/research-auth/internal/domain"
	"github.com/spec-kit/research-auth/internal/events"
	"github.com/spec-kit/research-auth/internal/repository"
)

// IdentityVerifier turns an authorization code into a verified identity.
type IdentityVerifier interface {
	Exchange(ctx context.Context, code string) (domain.VerifiedIdentity, error)
}

// Authorizer maps a verified identity to a role and department.
type Authorizer interface {
	Authorize(identity domain.VerifiedIdentity) (domain.Decision, error)
}

// AccessTokens issues and verifies signed access tokens.
type AccessTokens interface {
	Issue(account *domain.Account) (string, time.Time, error)
	Verify(token string) (*auth.Claims, error)
}

// OutcomeRecorder counts auth results by flow.
type OutcomeRecorder interface {
	RecordAuthOutcome(flow, outcome string)
	RecordSessionsPurged(n int64)
}

// AuthService coordinates login, refresh and logout flows.
type AuthService struct {
	verifier   IdentityVerifier
	policy     Authorizer
	tokens     AccessTokens
	refresh    *RefreshTokenManager
	uow        repository.UnitOfWork
	dispatcher events.Dispatcher
	metrics    OutcomeRecorder
	logger     *zap.Logger
	now        func() time.Time
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	Verifier   IdentityVerifier
	Policy     Authorizer
	Tokens     AccessTokens
	Refresh    *RefreshTokenManager
	UnitOfWork repository.UnitOfWork
	Dispatcher events.Dispatcher
	Metrics    OutcomeRecorder
	Logger     *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NewInMemoryDispatcher()
	}
	return &AuthService{
		verifier:   deps.Verifier,
		policy:     deps.Policy,
		tokens:     deps.Tokens,
		refresh:    deps.Refresh,
		uow:        deps.UnitOfWork,
		dispatcher: dispatcher,
		metrics:    deps.Metrics,
		logger:     logger.Named("auth"),
		now:        time.Now,
	}
}

// LoginResult carries the credentials minted by a successful login.
type LoginResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Account          *domain.Account
}

// RefreshResult carries the credentials minted by a rotation.
type RefreshResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Account          *domain.Account
}

// Login exchanges code with the provider, applies the authorization policy
// and opens a session. Either every write commits or none does.
func (s *AuthService) Login(ctx context.Context, code string) (*LoginResult, error) {
	identity, err := s.verifier.Exchange(ctx, code)
	if err != nil {
		s.rejectLogin(ctx, "", err)
		return nil, err
	}

	decision, err := s.policy.Authorize(identity)
	if err != nil {
		s.rejectLogin(ctx, identity.Email, err)
		return nil, err
	}

	var (
		result     LoginResult
		firstLogin bool
	)
	err = s.uow.Do(ctx, func(repos repository.Repositories) error {
		if decision.Role.RequiresDepartment() {
			if decision.DepartmentID == nil {
				return fmt.Errorf("%w: department admin %s has no department", domain.ErrConfigInvalid, identity.Email)
			}
			dept, err := repos.Departments.FindByID(ctx, *decision.DepartmentID)
			if err != nil {
				return fmt.Errorf("lookup department: %w", err)
			}
			if dept == nil {
				return fmt.Errorf("%w: department %d does not exist", domain.ErrConfigInvalid, *decision.DepartmentID)
			}
		}

		existing, err := repos.Accounts.FindByEmail(ctx, identity.Email)
		if err != nil {
			return fmt.Errorf("find account: %w", err)
		}
		firstLogin = existing == nil

		account := &domain.Account{
			Email:       identity.Email,
			DisplayName: identity.DisplayName,
			Role:        decision.Role,
		}
		if decision.Role.RequiresDepartment() {
			account.DepartmentID = decision.DepartmentID
		}
		if err := repos.Accounts.Upsert(ctx, account); err != nil {
			return fmt.Errorf("upsert account: %w", err)
		}

		issued, err := s.refresh.IssueFor(ctx, repos.RefreshTokens, account.ID)
		if err != nil {
			return err
		}

		accessToken, accessExp, err := s.tokens.Issue(account)
		if err != nil {
			return fmt.Errorf("issue access token: %w", err)
		}

		result = LoginResult{
			AccessToken:      accessToken,
			AccessExpiresAt:  accessExp,
			RefreshToken:     issued.Value,
			RefreshExpiresAt: issued.ExpiresAt,
			Account:          account,
		}
		return nil
	})
	if err != nil {
		s.rejectLogin(ctx, identity.Email, err)
		return nil, err
	}

	s.record("login", "success")
	s.publish(ctx, events.EventLoginSucceeded, result.Account.ID, events.LoginSucceededPayload{
		Email:        result.Account.Email,
		Role:         result.Account.Role,
		DepartmentID: result.Account.DepartmentID,
		FirstLogin:   firstLogin,
	})
	return &result, nil
}

// Refresh rotates the refresh token and mints a new access token for the
// account that owns it.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		s.record("refresh", "revoked")
		return nil, domain.ErrRefreshTokenRevoked
	}

	var (
		result RefreshResult
		// consumed is reported after the transaction commits the deletion
		// of a value that can no longer be used.
		consumed error
	)
	err := s.uow.Do(ctx, func(repos repository.Repositories) error {
		accountID, issued, err := s.refresh.Rotate(ctx, repos.RefreshTokens, refreshToken)
		if errors.Is(err, errExpiredRefreshToken) {
			consumed = err
			return nil
		}
		if err != nil {
			return err
		}

		account, err := repos.Accounts.GetByID(ctx, accountID)
		if errors.Is(err, pgx.ErrNoRows) {
			if _, err := s.refresh.Revoke(ctx, repos.RefreshTokens, issued.Value); err != nil {
				return err
			}
			consumed = fmt.Errorf("%w: account %s no longer exists", domain.ErrRefreshTokenRevoked, accountID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}

		accessToken, accessExp, err := s.tokens.Issue(account)
		if err != nil {
			return fmt.Errorf("issue access token: %w", err)
		}

		result = RefreshResult{
			AccessToken:      accessToken,
			AccessExpiresAt:  accessExp,
			RefreshToken:     issued.Value,
			RefreshExpiresAt: issued.ExpiresAt,
			Account:          account,
		}
		return nil
	})
	if err == nil && consumed != nil {
		err = consumed
	}
	if err != nil {
		if errors.Is(err, domain.ErrRefreshTokenRevoked) {
			s.record("refresh", "revoked")
		} else {
			s.record("refresh", "error")
			s.logger.Error("refresh failed", zap.Error(err))
		}
		return nil, err
	}

	s.record("refresh", "success")
	s.publish(ctx, events.EventSessionRefreshed, result.Account.ID, nil)
	return &result, nil
}

// Logout revokes the session behind refreshToken. Unknown or empty values
// succeed so logout is idempotent.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		s.record("logout", "noop")
		return nil
	}

	var revoked *domain.RefreshToken
	err := s.uow.Do(ctx, func(repos repository.Repositories) error {
		var err error
		revoked, err = s.refresh.Revoke(ctx, repos.RefreshTokens, refreshToken)
		return err
	})
	if err != nil {
		s.record("logout", "error")
		s.logger.Error("logout failed", zap.Error(err))
		return err
	}

	if revoked == nil {
		s.record("logout", "noop")
		return nil
	}
	s.record("logout", "success")
	s.publish(ctx, events.EventSessionRevoked, revoked.AccountID, nil)
	return nil
}

// VerifyAccessToken validates an access token and returns its claims.
func (s *AuthService) VerifyAccessToken(token string) (*auth.Claims, error) {
	return s.tokens.Verify(token)
}

// PurgeExpiredSessions deletes every expired refresh session.
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	var purged int64
	err := s.uow.Do(ctx, func(repos repository.Repositories) error {
		var err error
		purged, err = s.refresh.PurgeExpired(ctx, repos.RefreshTokens)
		return err
	})
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.RecordSessionsPurged(purged)
	}
	return purged, nil
}

func (s *AuthService) rejectLogin(ctx context.Context, email string, err error) {
	reason := rejectionReason(err)
	s.record("login", reason)

	fields := []zap.Field{zap.String("reason", reason), zap.Error(err)}
	if email != "" {
		fields = append(fields, zap.String("email", email))
	}
	switch reason {
	case "provider_unavailable":
		s.logger.Warn("identity provider call failed", fields...)
	case "error", "config_invalid":
		s.logger.Error("login failed", fields...)
	default:
		s.logger.Info("login rejected", fields...)
	}

	s.publish(ctx, events.EventLoginRejected, "", events.LoginRejectedPayload{Email: email, Reason: reason})
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrProviderCommunication):
		return "provider_unavailable"
	case errors.Is(err, domain.ErrInvalidIdentityToken):
		return "invalid_identity"
	case errors.Is(err, domain.ErrUnverifiedEmail):
		return "unverified_email"
	case errors.Is(err, domain.ErrDomainNotAllowed):
		return "domain_not_allowed"
	case errors.Is(err, domain.ErrConfigInvalid):
		return "config_invalid"
	default:
		return "error"
	}
}

func (s *AuthService) record(flow, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordAuthOutcome(flow, outcome)
	}
}

func (s *AuthService) publish(ctx context.Context, eventType events.EventType, accountID string, payload interface{}) {
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		AccountID: accountID,
		Timestamp: s.now().UTC(),
		Payload:   payload,
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event", string(eventType)), zap.Error(err))
	}
}
