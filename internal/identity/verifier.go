package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/spec-kit/research-auth/internal/domain"
)

const defaultExchangeTimeout = 10 * time.Second

// KeySource verifies a compact JWS against the provider's signing keys and
// returns its payload. *oidc.RemoteKeySet implements it.
type KeySource interface {
	VerifySignature(ctx context.Context, jwt string) ([]byte, error)
}

// Config describes the OAuth client registered with the provider.
type Config struct {
	ClientID        string
	ClientSecret    string
	RedirectURI     string
	AuthURL         string
	TokenURL        string
	Scopes          []string
	Issuers         []string
	ExchangeTimeout time.Duration
}

// Verifier exchanges authorization codes and verifies the returned ID token.
type Verifier struct {
	oauth    *oauth2.Config
	keys     KeySource
	client   *http.Client
	issuers  map[string]struct{}
	clientID string
	claims   *jwt.Validator
	timeout  time.Duration
	now      func() time.Time
}

// Option customizes a Verifier.
type Option func(*Verifier)

// WithHTTPClient routes token endpoint calls through client.
func WithHTTPClient(client *http.Client) Option {
	return func(v *Verifier) { v.client = client }
}

// WithClock overrides the time source used for ID token validation.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier builds a verifier for the given client configuration.
func NewVerifier(cfg Config, keys KeySource, opts ...Option) *Verifier {
	issuers := make(map[string]struct{}, len(cfg.Issuers))
	for _, iss := range cfg.Issuers {
		issuers[strings.TrimSpace(iss)] = struct{}{}
	}
	timeout := cfg.ExchangeTimeout
	if timeout <= 0 {
		timeout = defaultExchangeTimeout
	}

	v := &Verifier{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
				// A fixed style keeps the exchange to a single request.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		keys:     keys,
		issuers:  issuers,
		clientID: cfg.ClientID,
		timeout:  timeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.claims = jwt.NewValidator(
		jwt.WithAudience(cfg.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	return v
}

// AuthCodeURL returns the provider consent URL for state.
func (v *Verifier) AuthCodeURL(state string) string {
	return v.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for a verified identity.
func (v *Verifier) Exchange(ctx context.Context, code string) (domain.VerifiedIdentity, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: empty authorization code", domain.ErrInvalidIdentityToken)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	if v.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, v.client)
	}

	token, err := v.oauth.Exchange(ctx, code)
	if err != nil {
		return domain.VerifiedIdentity{}, classifyExchangeError(err)
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: token response has no id_token", domain.ErrInvalidIdentityToken)
	}
	return v.VerifyIDToken(ctx, rawIDToken)
}

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}

// VerifyIDToken checks signature, audience, issuer and expiry of a provider ID
// token and extracts the identity.
func (v *Verifier) VerifyIDToken(ctx context.Context, raw string) (domain.VerifiedIdentity, error) {
	payload, err := v.keys.VerifySignature(ctx, raw)
	if err != nil {
		if providerUnreachable(err) {
			return domain.VerifiedIdentity{}, fmt.Errorf("%w: provider keys: %v", domain.ErrProviderCommunication, err)
		}
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: %v", domain.ErrInvalidIdentityToken, err)
	}

	header, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: %v", domain.ErrInvalidIdentityToken, err)
	}
	if header.Method.Alg() != jwt.SigningMethodRS256.Alg() {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: unexpected signing method %s", domain.ErrInvalidIdentityToken, header.Method.Alg())
	}

	claims := &idTokenClaims{}
	if err := json.Unmarshal(payload, claims); err != nil {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: decode claims: %v", domain.ErrInvalidIdentityToken, err)
	}
	if err := v.claims.Validate(claims); err != nil {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: %v", domain.ErrInvalidIdentityToken, err)
	}

	if _, ok := v.issuers[claims.Issuer]; !ok {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: unexpected issuer %q", domain.ErrInvalidIdentityToken, claims.Issuer)
	}

	email := domain.NormalizeEmail(claims.Email)
	if email == "" || claims.Subject == "" {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: missing email or subject", domain.ErrInvalidIdentityToken)
	}
	if !emailVerified(claims.EmailVerified) {
		return domain.VerifiedIdentity{}, domain.ErrUnverifiedEmail
	}

	name := strings.TrimSpace(claims.Name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	return domain.VerifiedIdentity{
		Email:             email,
		DisplayName:       name,
		ProviderSubjectID: claims.Subject,
	}, nil
}

func emailVerified(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return strings.EqualFold(val, "true")
	}
	return false
}

func providerUnreachable(err error) bool {
	var urlErr *url.Error
	return errors.Is(err, domain.ErrProviderCommunication) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &urlErr)
}

// classifyExchangeError separates rejected codes from provider outages.
func classifyExchangeError(err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) && retrieve.Response != nil {
		status := retrieve.Response.StatusCode
		if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
			return fmt.Errorf("%w: provider rejected code: %s", domain.ErrInvalidIdentityToken, retrieve.ErrorCode)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrProviderCommunication, err)
}
