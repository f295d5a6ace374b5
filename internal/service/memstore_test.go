package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/research-auth/internal/domain"
	"github.com/spec-kit/research-auth/internal/repository"
)

// memStore is an in-memory UnitOfWork. Do holds the store lock for the whole
// callback and restores a snapshot when the callback fails, which gives the
// same all-or-nothing and serialized-rotation behavior as a Postgres tx.
type memStore struct {
	mu          sync.Mutex
	seq         int
	accounts    map[string]*domain.Account
	departments map[int64]string
	tokens      map[string]*domain.RefreshToken

	// failTokenCreate, when set, is returned by RefreshTokens.Create.
	failTokenCreate error
}

func newMemStore() *memStore {
	return &memStore{
		accounts:    map[string]*domain.Account{},
		departments: map[int64]string{},
		tokens:      map[string]*domain.RefreshToken{},
	}
}

type memSnapshot struct {
	seq      int
	accounts map[string]domain.Account
	tokens   map[string]domain.RefreshToken
}

func (s *memStore) Do(_ context.Context, fn func(repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	err := fn(repository.Repositories{
		Accounts:      memAccounts{s},
		Departments:   memDepartments{s},
		RefreshTokens: memTokens{s},
	})
	if err != nil {
		s.restore(snap)
	}
	return err
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		seq:      s.seq,
		accounts: make(map[string]domain.Account, len(s.accounts)),
		tokens:   make(map[string]domain.RefreshToken, len(s.tokens)),
	}
	for id, a := range s.accounts {
		snap.accounts[id] = *a
	}
	for hash, t := range s.tokens {
		snap.tokens[hash] = *t
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.seq = snap.seq
	s.accounts = make(map[string]*domain.Account, len(snap.accounts))
	for id, a := range snap.accounts {
		a := a
		s.accounts[id] = &a
	}
	s.tokens = make(map[string]*domain.RefreshToken, len(snap.tokens))
	for hash, t := range snap.tokens {
		t := t
		s.tokens[hash] = &t
	}
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *memStore) accountCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

func (s *memStore) tokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *memStore) tokensFor(accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tokens {
		if t.AccountID == accountID {
			n++
		}
	}
	return n
}

type memAccounts struct{ s *memStore }

func (r memAccounts) FindByEmail(_ context.Context, email string) (*domain.Account, error) {
	email = domain.NormalizeEmail(email)
	for _, a := range r.s.accounts {
		if a.Email == email {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (r memAccounts) GetByID(_ context.Context, id string) (*domain.Account, error) {
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *a
	return &copied, nil
}

func (r memAccounts) Upsert(ctx context.Context, account *domain.Account) error {
	account.Email = domain.NormalizeEmail(account.Email)
	now := time.Now().UTC()
	existing, _ := r.FindByEmail(ctx, account.Email)
	if existing == nil {
		account.ID = r.s.nextID("acc")
		account.CreatedAt = now
		account.UpdatedAt = now
	} else {
		account.ID = existing.ID
		account.CreatedAt = existing.CreatedAt
		account.UpdatedAt = existing.UpdatedAt
		if existing.DisplayName != account.DisplayName || existing.Role != account.Role || !sameDepartment(existing.DepartmentID, account.DepartmentID) {
			account.UpdatedAt = now
		}
	}
	stored := *account
	r.s.accounts[account.ID] = &stored
	return nil
}

func sameDepartment(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type memDepartments struct{ s *memStore }

func (r memDepartments) FindByID(_ context.Context, id int64) (*domain.Department, error) {
	name, ok := r.s.departments[id]
	if !ok {
		return nil, nil
	}
	return &domain.Department{ID: id, Name: name}, nil
}

type memTokens struct{ s *memStore }

func (r memTokens) Create(_ context.Context, token *domain.RefreshToken) error {
	if r.s.failTokenCreate != nil {
		return r.s.failTokenCreate
	}
	if _, dup := r.s.tokens[token.TokenHash]; dup {
		return fmt.Errorf("duplicate token hash")
	}
	token.ID = r.s.nextID("rt")
	stored := *token
	r.s.tokens[token.TokenHash] = &stored
	return nil
}

func (r memTokens) DeleteByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	t, ok := r.s.tokens[hash]
	if !ok {
		return nil, nil
	}
	delete(r.s.tokens, hash)
	copied := *t
	return &copied, nil
}

func (r memTokens) DeleteExpiredForAccount(_ context.Context, accountID string, now time.Time) (int64, error) {
	var n int64
	for hash, t := range r.s.tokens {
		if t.AccountID == accountID && t.Expired(now) {
			delete(r.s.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (r memTokens) DeleteAllForAccount(_ context.Context, accountID string) (int64, error) {
	var n int64
	for hash, t := range r.s.tokens {
		if t.AccountID == accountID {
			delete(r.s.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (r memTokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for hash, t := range r.s.tokens {
		if t.Expired(now) {
			delete(r.s.tokens, hash)
			n++
		}
	}
	return n, nil
}
