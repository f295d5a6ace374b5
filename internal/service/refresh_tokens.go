package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spec-kit/research-auth/internal/domain"
	"github.com/spec-kit/research-auth/internal/repository"
)

const refreshTokenBytes = 32

// errExpiredRefreshToken marks a rotation that consumed an expired row. The
// deletion must still be committed.
var errExpiredRefreshToken = fmt.Errorf("%w: expired", domain.ErrRefreshTokenRevoked)

// IssuedRefreshToken is the opaque value handed to the client once.
type IssuedRefreshToken struct {
	Value     string
	ExpiresAt time.Time
}

// RefreshTokenManager issues, rotates and revokes opaque refresh tokens.
// Every method works on the repository it is given so callers control the
// transaction.
type RefreshTokenManager struct {
	ttl    time.Duration
	policy domain.SessionPolicy
	now    func() time.Time
	random io.Reader
}

// RefreshOption customizes a RefreshTokenManager.
type RefreshOption func(*RefreshTokenManager)

// WithRefreshClock overrides the time source.
func WithRefreshClock(now func() time.Time) RefreshOption {
	return func(m *RefreshTokenManager) { m.now = now }
}

// WithRandomSource overrides the entropy source for token values.
func WithRandomSource(r io.Reader) RefreshOption {
	return func(m *RefreshTokenManager) { m.random = r }
}

// NewRefreshTokenManager builds a manager issuing tokens valid for ttl.
func NewRefreshTokenManager(ttl time.Duration, policy domain.SessionPolicy, opts ...RefreshOption) *RefreshTokenManager {
	if policy == "" {
		policy = domain.SessionPolicyMulti
	}
	m := &RefreshTokenManager{ttl: ttl, policy: policy, now: time.Now, random: rand.Reader}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the refresh token lifetime.
func (m *RefreshTokenManager) TTL() time.Duration {
	return m.ttl
}

// IssueFor creates a new session for accountID after applying the session
// policy to the account's existing rows.
func (m *RefreshTokenManager) IssueFor(ctx context.Context, tokens repository.RefreshTokenRepository, accountID string) (*IssuedRefreshToken, error) {
	now := m.now().UTC()
	switch m.policy {
	case domain.SessionPolicySingle:
		if _, err := tokens.DeleteAllForAccount(ctx, accountID); err != nil {
			return nil, fmt.Errorf("clear sessions: %w", err)
		}
	default:
		if _, err := tokens.DeleteExpiredForAccount(ctx, accountID, now); err != nil {
			return nil, fmt.Errorf("purge expired sessions: %w", err)
		}
	}
	return m.create(ctx, tokens, accountID, now, nil)
}

// Rotate consumes value and issues its replacement. Unknown, already rotated
// and expired values all yield domain.ErrRefreshTokenRevoked. An expired value
// is still deleted; callers must commit before reporting the error.
func (m *RefreshTokenManager) Rotate(ctx context.Context, tokens repository.RefreshTokenRepository, value string) (string, *IssuedRefreshToken, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil, domain.ErrRefreshTokenRevoked
	}

	consumed, err := tokens.DeleteByHash(ctx, hashRefreshToken(value))
	if err != nil {
		return "", nil, fmt.Errorf("consume refresh token: %w", err)
	}
	if consumed == nil {
		return "", nil, domain.ErrRefreshTokenRevoked
	}

	now := m.now().UTC()
	if consumed.Expired(now) {
		return consumed.AccountID, nil, errExpiredRefreshToken
	}

	issued, err := m.create(ctx, tokens, consumed.AccountID, now, &now)
	if err != nil {
		return "", nil, err
	}
	return consumed.AccountID, issued, nil
}

// Revoke deletes the session behind value. A missing session is not an
// error; the returned row is nil then.
func (m *RefreshTokenManager) Revoke(ctx context.Context, tokens repository.RefreshTokenRepository, value string) (*domain.RefreshToken, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	revoked, err := tokens.DeleteByHash(ctx, hashRefreshToken(value))
	if err != nil {
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}
	return revoked, nil
}

// PurgeExpired removes every expired session.
func (m *RefreshTokenManager) PurgeExpired(ctx context.Context, tokens repository.RefreshTokenRepository) (int64, error) {
	n, err := tokens.DeleteExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired sessions: %w", err)
	}
	return n, nil
}

func (m *RefreshTokenManager) create(ctx context.Context, tokens repository.RefreshTokenRepository, accountID string, now time.Time, lastUsed *time.Time) (*IssuedRefreshToken, error) {
	value, err := m.newValue()
	if err != nil {
		return nil, err
	}
	row := &domain.RefreshToken{
		AccountID:  accountID,
		TokenHash:  hashRefreshToken(value),
		IssuedAt:   now,
		ExpiresAt:  now.Add(m.ttl),
		LastUsedAt: lastUsed,
	}
	if err := tokens.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return &IssuedRefreshToken{Value: value, ExpiresAt: row.ExpiresAt}, nil
}

func (m *RefreshTokenManager) newValue() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := io.ReadFull(m.random, buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashRefreshToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
