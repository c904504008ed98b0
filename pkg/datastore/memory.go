package datastore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AleksandrAfonin/console-chat/pkg/model"
)

// MemoryStore provides an in-memory DataStore implementation for tests.
// It mirrors SQLite behavior for validation and error handling.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextID int64

	accountsByLogin    map[string]*model.Account
	accountsByUsername map[string]*model.Account
	rolesByUsername    map[string]*model.RoleSet
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:                now,
		nextID:             1,
		accountsByLogin:    make(map[string]*model.Account),
		accountsByUsername: make(map[string]*model.Account),
		rolesByUsername:    make(map[string]*model.RoleSet),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// CreateAccount persists a new account and returns it with the assigned ID.
func (s *MemoryStore) CreateAccount(login string, passwordHash, salt []byte, username string) (*model.Account, error) {
	if err := model.ValidateLogin(login); err != nil {
		return nil, fmt.Errorf("datastore: create account: %w", err)
	}
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: create account: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accountsByLogin[login]; exists {
		return nil, fmt.Errorf("datastore: create account: constraint failed: UNIQUE constraint failed: users.login")
	}
	if _, exists := s.accountsByUsername[username]; exists {
		return nil, fmt.Errorf("datastore: create account: constraint failed: UNIQUE constraint failed: users.username")
	}
	account := &model.Account{
		ID:           s.nextID,
		Login:        login,
		PasswordHash: append([]byte(nil), passwordHash...),
		Salt:         append([]byte(nil), salt...),
		Username:     username,
		CreatedAt:    s.now().UTC(),
	}
	s.nextID++
	s.accountsByLogin[login] = account
	s.accountsByUsername[username] = account
	copyAccount := *account
	return &copyAccount, nil
}

// GetAccountByLogin retrieves an account by login.
func (s *MemoryStore) GetAccountByLogin(login string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accountsByLogin[login]
	if !ok {
		return nil, nil
	}
	copyAccount := *account
	return &copyAccount, nil
}

// GetAccountByUsername retrieves an account by display name.
func (s *MemoryStore) GetAccountByUsername(username string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accountsByUsername[username]
	if !ok {
		return nil, nil
	}
	copyAccount := *account
	return &copyAccount, nil
}

// ListAccounts returns all accounts ordered by ID.
func (s *MemoryStore) ListAccounts() ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := make([]model.Account, 0, len(s.accountsByLogin))
	for _, a := range s.accountsByLogin {
		accounts = append(accounts, *a)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].ID < accounts[j].ID
	})
	return accounts, nil
}

// LoginExists reports whether any account holds the login.
func (s *MemoryStore) LoginExists(login string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accountsByLogin[login]
	return ok, nil
}

// UsernameExists reports whether any account holds the display name.
func (s *MemoryStore) UsernameExists(username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accountsByUsername[username]
	return ok, nil
}

// SoftDeleteAccount marks an account as deleted without removing it.
func (s *MemoryStore) SoftDeleteAccount(login string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accountsByLogin[login]
	if !ok {
		return ErrAccountMissing
	}
	account.Deleted = true
	return nil
}

// RolesByUsername returns the roles assigned to the account with the given
// display name.
func (s *MemoryStore) RolesByUsername(username string) (model.RoleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.rolesByUsername[username]
	if !ok {
		return model.RoleSet{}, nil
	}
	return model.NewRoleSet(set.All()...), nil
}

// GrantRole assigns a role to the account with the given display name.
func (s *MemoryStore) GrantRole(username string, role model.Role) error {
	if !role.Valid() {
		return model.ErrInvalidRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accountsByUsername[username]; !ok {
		return ErrAccountMissing
	}
	set, ok := s.rolesByUsername[username]
	if !ok {
		set = &model.RoleSet{}
		s.rolesByUsername[username] = set
	}
	if set.Has(role) {
		return ErrRoleAlreadyGranted
	}
	set.Add(role)
	return nil
}

// RevokeRole removes a role from the account with the given display name.
func (s *MemoryStore) RevokeRole(username string, role model.Role) error {
	if !role.Valid() {
		return model.ErrInvalidRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accountsByUsername[username]; !ok {
		return ErrAccountMissing
	}
	set, ok := s.rolesByUsername[username]
	if !ok || !set.Has(role) {
		return ErrRoleNotGranted
	}
	set.Remove(role)
	return nil
}

// Compile-time check: *MemoryStore implements DataStore.
var _ DataStore = (*MemoryStore)(nil)
