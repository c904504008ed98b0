package datastore

import (
	"github.com/AleksandrAfonin/console-chat/pkg/model"
)

// DataStore defines the persistence interface for chat accounts and roles.
// Implementations include the default SQLite store and an in-memory store
// for testing.
type DataStore interface {
	// Close closes the underlying storage connection.
	Close() error

	// ---- Accounts ----

	// CreateAccount persists a new account and returns it with the assigned ID.
	// Fails if the login or username is already taken.
	CreateAccount(login string, passwordHash, salt []byte, username string) (*model.Account, error)

	// GetAccountByLogin retrieves an account by login. Returns (nil, nil) if not found.
	// Soft-deleted accounts are returned with Deleted set; callers decide how to treat them.
	GetAccountByLogin(login string) (*model.Account, error)

	// GetAccountByUsername retrieves an account by display name. Returns (nil, nil) if not found.
	GetAccountByUsername(username string) (*model.Account, error)

	// ListAccounts returns all accounts ordered by ID.
	ListAccounts() ([]model.Account, error)

	// LoginExists reports whether any account (deleted or not) holds the login.
	LoginExists(login string) (bool, error)

	// UsernameExists reports whether any account (deleted or not) holds the display name.
	UsernameExists(username string) (bool, error)

	// SoftDeleteAccount marks an account as deleted without removing its row.
	SoftDeleteAccount(login string) error

	// ---- Roles ----

	// RolesByUsername returns the set of roles assigned to the account with
	// the given display name. An unknown name yields an empty set.
	RolesByUsername(username string) (model.RoleSet, error)

	// GrantRole assigns a role to the account with the given display name.
	// Granting an already-held role is an error.
	GrantRole(username string, role model.Role) error

	// RevokeRole removes a role from the account with the given display name.
	// Revoking a role the account does not hold is an error.
	RevokeRole(username string, role model.Role) error
}
