package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spec-kit/research-auth/internal/auth"
	"github.com/spec-kit/research-auth/internal/domain"
	"github.com/spec-kit/research-auth/internal/events"
	"github.com/spec-kit/research-auth/internal/policy"
)

var testSecret = strings.Repeat("k", 64)

type stubVerifier map[string]domain.VerifiedIdentity

func (s stubVerifier) Exchange(_ context.Context, code string) (domain.VerifiedIdentity, error) {
	switch code {
	case "outage":
		return domain.VerifiedIdentity{}, domain.ErrProviderCommunication
	case "unverified":
		return domain.VerifiedIdentity{}, domain.ErrUnverifiedEmail
	}
	identity, ok := s[code]
	if !ok {
		return domain.VerifiedIdentity{}, domain.ErrInvalidIdentityToken
	}
	return identity, nil
}

type fixture struct {
	store      *memStore
	service    *AuthService
	registry   *policy.RegistryHolder
	tokens     *auth.TokenManager
	dispatcher events.Dispatcher
	now        *time.Time

	mu     sync.Mutex
	events []events.Event
}

func newFixture(t *testing.T, registryDoc string, sessionPolicy domain.SessionPolicy) *fixture {
	t.Helper()
	reg, err := policy.ParseRegistry([]byte(registryDoc))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	now := time.Now()
	f := &fixture{
		store:      newMemStore(),
		registry:   policy.NewRegistryHolder(reg),
		tokens:     auth.NewTokenManager(testSecret, "research-repo", 15*time.Minute),
		dispatcher: events.NewInMemoryDispatcher(),
		now:        &now,
	}
	f.store.departments[7] = "Physics"

	for _, eventType := range events.AllEventTypes {
		f.dispatcher.Subscribe(eventType, func(_ context.Context, e events.Event) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.events = append(f.events, e)
			return nil
		})
	}

	verifier := stubVerifier{
		"C1":    {Email: "a@dept.org", DisplayName: "Ada", ProviderSubjectID: "sub-a"},
		"C2":    {Email: "head@dept.org", DisplayName: "Head", ProviderSubjectID: "sub-h"},
		"C3":    {Email: "outsider@gmail.com", DisplayName: "Out", ProviderSubjectID: "sub-o"},
		"GUEST": {Email: "guest@gmail.com", DisplayName: "Guest", ProviderSubjectID: "sub-g"},
	}
	clock := func() time.Time { return *f.now }
	f.service = NewAuthService(AuthDependencies{
		Verifier:   verifier,
		Policy:     policy.NewPolicy(f.registry, policy.DomainRule{Production: true, OrgDomain: "dept.org"}),
		Tokens:     f.tokens,
		Refresh:    NewRefreshTokenManager(30*24*time.Hour, sessionPolicy, WithRefreshClock(clock)),
		UnitOfWork: f.store,
		Dispatcher: f.dispatcher,
	})
	return f
}

func (f *fixture) eventTypes() []events.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.EventType, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

func TestLoginRefreshReplayLogout(t *testing.T) {
	f := newFixture(t, "", domain.SessionPolicyMulti)
	ctx := context.Background()

	login, err := f.service.Login(ctx, "C1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.Account.Email != "a@dept.org" || login.Account.Role != domain.RoleStudent || login.Account.DepartmentID != nil {
		t.Fatalf("unexpected account %+v", login.Account)
	}
	claims, err := f.service.VerifyAccessToken(login.AccessToken)
	if err != nil {
		t.Fatalf("verify access token: %v", err)
	}
	if claims.AccountID() != login.Account.ID || claims.Role != domain.RoleStudent || claims.DepartmentID != nil {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if f.store.tokensFor(login.Account.ID) != 1 {
		t.Fatal("expected one refresh session after login")
	}

	refreshed, err := f.service.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.RefreshToken == login.RefreshToken {
		t.Fatal("refresh must rotate the token")
	}
	if _, err := f.service.VerifyAccessToken(refreshed.AccessToken); err != nil {
		t.Fatalf("verify refreshed access token: %v", err)
	}

	if _, err := f.service.Refresh(ctx, login.RefreshToken); !errors.Is(err, domain.ErrRefreshTokenRevoked) {
		t.Fatalf("replayed token must be revoked, got %v", err)
	}

	if err := f.service.Logout(ctx, refreshed.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := f.service.Refresh(ctx, refreshed.RefreshToken); !errors.Is(err, domain.ErrRefreshTokenRevoked) {
		t.Fatalf("logged out token must be revoked, got %v", err)
	}
	if err := f.service.Logout(ctx, refreshed.RefreshToken); err != nil {
		t.Fatalf("second logout must succeed, got %v", err)
	}
	if err := f.service.Logout(ctx, ""); err != nil {
		t.Fatalf("empty logout must succeed, got %v", err)
	}
	if f.store.tokenCount() != 0 {
		t.Fatalf("expected no sessions left, got %d", f.store.tokenCount())
	}

	want := []events.EventType{events.EventLoginSucceeded, events.EventSessionRefreshed, events.EventSessionRevoked}
	got := f.eventTypes()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestLoginDepartmentAdmin(t *testing.T) {
	f := newFixture(t, "department_admins:\n  - email: head@dept.org\n    department_id: 7\n", domain.SessionPolicyMulti)

	login, err := f.service.Login(context.Background(), "C2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.Account.Role != domain.RoleDepartmentAdmin || login.Account.DepartmentID == nil || *login.Account.DepartmentID != 7 {
		t.Fatalf("unexpected account %+v", login.Account)
	}
	claims, err := f.tokens.Verify(login.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.DepartmentID == nil || *claims.DepartmentID != 7 {
		t.Fatalf("expected department claim 7, got %v", claims.DepartmentID)
	}
}

func TestLoginUnknownDepartmentLeavesNoState(t *testing.T) {
	f := newFixture(t, "department_admins:\n  - email: head@dept.org\n    department_id: 99\n", domain.SessionPolicyMulti)

	_, err := f.service.Login(context.Background(), "C2")
	if !errors.Is(err, domain.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
	if f.store.accountCount() != 0 || f.store.tokenCount() != 0 {
		t.Fatalf("failed login left state: %d accounts, %d tokens", f.store.accountCount(), f.store.tokenCount())
	}
}

func TestLoginStorageFailureRollsBack(t *testing.T) {
	f := newFixture(t, "", domain.SessionPolicyMulti)
	f.store.failTokenCreate = errors.New("disk full")

	if _, err := f.service.Login(context.Background(), "C1"); err == nil {
		t.Fatal("expected login to fail")
	}
	if f.store.accountCount() != 0 {
		t.Fatal("account must not be persisted when the session cannot be created")
	}
}

func TestLoginRejections(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"C3", domain.ErrDomainNotAllowed},
		{"outage", domain.ErrProviderCommunication},
		{"unverified", domain.ErrUnverifiedEmail},
		{"bogus", domain.ErrInvalidIdentityToken},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			f := newFixture(t, "", domain.SessionPolicyMulti)
			_, err := f.service.Login(context.Background(), tc.code)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if f.store.accountCount() != 0 {
				t.Fatal("rejected login must not create an account")
			}
			if got := f.eventTypes(); len(got) != 1 || got[0] != events.EventLoginRejected {
				t.Fatalf("expected one login_rejected event, got %v", got)
			}
		})
	}
}

func TestLoginPrivilegedOutsideDomain(t *testing.T) {
	f := newFixture(t, "teachers:\n  - guest@gmail.com\n", domain.SessionPolicyMulti)
	login, err := f.service.Login(context.Background(), "GUEST")
	if err != nil {
		t.Fatalf("privileged login: %v", err)
	}
	if login.Account.Role != domain.RoleTeacher {
		t.Fatalf("expected TEACHER, got %s", login.Account.Role)
	}
}

func TestLoginAppliesRoleDrift(t *testing.T) {
	f := newFixture(t, "", domain.SessionPolicyMulti)
	ctx := context.Background()

	first, err := f.service.Login(ctx, "C1")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "privileged.yaml")
	writeRegistry(t, path, "super_admins:\n  - a@dept.org\n")
	if _, err := f.registry.Reload(ctx, path); err != nil {
		t.Fatalf("reload: %v", err)
	}

	second, err := f.service.Login(ctx, "C1")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if second.Account.ID != first.Account.ID {
		t.Fatal("login must reuse the existing account")
	}
	if second.Account.Role != domain.RoleSuperAdmin {
		t.Fatalf("expected updated role, got %s", second.Account.Role)
	}
	if f.store.accountCount() != 1 {
		t.Fatalf("expected a single account, got %d", f.store.accountCount())
	}
}

func TestRefreshExpiredTokenIsConsumed(t *testing.T) {
	f := newFixture(t, "", domain.SessionPolicyMulti)
	ctx := context.Background()

	login, err := f.service.Login(ctx, "C1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	*f.now = f.now.Add(31 * 24 * time.Hour)

	if _, err := f.service.Refresh(ctx, login.RefreshToken); !errors.Is(err, domain.ErrRefreshTokenRevoked) {
		t.Fatalf("expected ErrRefreshTokenRevoked, got %v", err)
	}
	if f.store.tokenCount() != 0 {
		t.Fatal("expired session must be deleted")
	}
}

func TestRefreshForDeletedAccountConsumesToken(t *testing.T) {
	f := newFixture(t, "", domain.SessionPolicyMulti)
	ctx := context.Background()

	login, err := f.service.Login(ctx, "C1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	// The in-memory store has no cascade, so the session outlives its account.
	f.store.mu.Lock()
	delete(f.store.accounts, login.Account.ID)
	f.store.mu.Unlock()

	if _, err := f.service.Refresh(ctx, login.RefreshToken); !errors.Is(err, domain.ErrRefreshTokenRevoked) {
		t.Fatalf("expected ErrRefreshTokenRevoked, got %v", err)
	}
	if n := f.store.tokenCount(); n != 0 {
		t.Fatalf("consumed and replacement sessions must both be gone, %d left", n)
	}
	if _, err := f.service.Refresh(ctx, login.RefreshToken); !errors.Is(err, domain.ErrRefreshTokenRevoked) {
		t.Fatalf("replay: expected ErrRefreshTokenRevoked, got %v", err)
	}
}

func TestRefreshEmptyValue(t *testing.T) {
	f := newFixture(t, "", domain.SessionPolicyMulti)
	if _, err := f.service.Refresh(context.Background(), "  "); !errors.Is(err, domain.ErrRefreshTokenRevoked) {
		t.Fatalf("expected ErrRefreshTokenRevoked, got %v", err)
	}
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	f := newFixture(t, "", domain.SessionPolicyMulti)
	ctx := context.Background()
	login, err := f.service.Login(ctx, "C1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	const attempts = 16
	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		revoked atomic.Int32
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Refresh(ctx, login.RefreshToken)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrRefreshTokenRevoked):
				revoked.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || revoked.Load() != attempts-1 {
		t.Fatalf("expected 1 winner and %d revoked, got %d and %d", attempts-1, wins.Load(), revoked.Load())
	}
	if f.store.tokensFor(login.Account.ID) != 1 {
		t.Fatalf("expected exactly one live session, got %d", f.store.tokensFor(login.Account.ID))
	}
}

func TestSingleSessionPolicyRevokesOtherDevices(t *testing.T) {
	f := newFixture(t, "", domain.SessionPolicySingle)
	ctx := context.Background()

	first, err := f.service.Login(ctx, "C1")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	if _, err := f.service.Login(ctx, "C1"); err != nil {
		t.Fatalf("second login: %v", err)
	}
	if _, err := f.service.Refresh(ctx, first.RefreshToken); !errors.Is(err, domain.ErrRefreshTokenRevoked) {
		t.Fatalf("earlier session must be gone, got %v", err)
	}
}

func TestPurgeExpiredSessions(t *testing.T) {
	f := newFixture(t, "", domain.SessionPolicyMulti)
	ctx := context.Background()
	if _, err := f.service.Login(ctx, "C1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	*f.now = f.now.Add(31 * 24 * time.Hour)

	n, err := f.service.PurgeExpiredSessions(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one purged session, got %d %v", n, err)
	}
}

func writeRegistry(t *testing.T, path, doc string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
}
