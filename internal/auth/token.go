package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/research-auth/internal/domain"
)

// TokenManager issues and verifies HS512 access tokens.
type TokenManager struct {
	issuer     string
	ttl        time.Duration
	signingKID string
	keys       map[string][]byte
	now        func() time.Time
}

// TokenOption customizes a TokenManager.
type TokenOption func(*TokenManager)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) TokenOption {
	return func(tm *TokenManager) { tm.now = now }
}

// WithPreviousSecrets keeps retired secrets valid for verification only.
func WithPreviousSecrets(secrets ...string) TokenOption {
	return func(tm *TokenManager) {
		for _, secret := range secrets {
			tm.keys[keyID(secret)] = []byte(secret)
		}
	}
}

// NewTokenManager builds a new manager signing with secret.
func NewTokenManager(secret, issuer string, ttl time.Duration, opts ...TokenOption) *TokenManager {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	kid := keyID(secret)
	tm := &TokenManager{
		issuer:     issuer,
		ttl:        ttl,
		signingKID: kid,
		keys:       map[string][]byte{kid: []byte(secret)},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// Claims describes the access token payload.
type Claims struct {
	Email        string      `json:"email"`
	FullName     string      `json:"fullName"`
	Role         domain.Role `json:"role"`
	DepartmentID *int64      `json:"departmentId,omitempty"`
	jwt.RegisteredClaims
}

// AccountID returns the subject the token was issued for.
func (c *Claims) AccountID() string {
	return c.Subject
}

// Issue builds and signs an access token for the account.
func (tm *TokenManager) Issue(account *domain.Account) (string, time.Time, error) {
	if account == nil || account.ID == "" {
		return "", time.Time{}, errors.New("account id required")
	}
	now := tm.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(tm.ttl)
	claims := &Claims{
		Email:        account.Email,
		FullName:     account.DisplayName,
		Role:         account.Role,
		DepartmentID: account.DepartmentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			Issuer:    tm.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	token.Header["kid"] = tm.signingKID
	tokenString, err := token.SignedString(tm.keys[tm.signingKID])
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// Verify validates signature, issuer and expiry and returns the claims.
func (tm *TokenManager) Verify(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, tm.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", domain.ErrTokenInvalid)
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: incomplete claims", domain.ErrTokenInvalid)
	}
	return claims, nil
}

// TTL reports the configured access token lifetime.
func (tm *TokenManager) TTL() time.Duration {
	return tm.ttl
}

func (tm *TokenManager) keyFunc(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	key, ok := tm.keys[kid]
	if !ok {
		return nil, errors.New("unknown signing key")
	}
	return key, nil
}

// keyID derives a stable, non-reversible identifier for a signing secret.
func keyID(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}
