// Package auth implements the authentication gateway: credential checks,
// account registration, and role management against the credential store.
//
// The gateway resolves identities only. Placing a resolved identity into the
// chat (the uniqueness check against currently connected users) is the
// registry's job, so that "check unique + insert" stays one atomic step.
package auth

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleksandrAfonin/console-chat/pkg/crypto"
	"github.com/AleksandrAfonin/console-chat/pkg/datastore"
	"github.com/AleksandrAfonin/console-chat/pkg/model"
)

// User-facing rejection reasons. The session layer relays these verbatim.
var (
	ErrBadCredentials  = errors.New("invalid login/password or the user does not exist")
	ErrWeakCredentials = fmt.Errorf("login must be %d+ characters, password %d+ characters, username 1+ character",
		model.MinLoginLength, model.MinPasswordLength)
	ErrLoginTaken    = errors.New("the specified login is already taken")
	ErrUsernameTaken = errors.New("the specified username is already taken")
)

// Identity is a resolved chat identity: the display name and role set an
// authenticated or freshly registered account carries into the chat.
type Identity struct {
	Username string
	Roles    model.RoleSet
}

// Provider is the authentication gateway contract consumed by the server core.
type Provider interface {
	// Initialize prepares the gateway. Called once at server start.
	Initialize() error

	// Authenticate resolves login/password to an identity. On failure the
	// returned error carries a single user-facing explanation.
	Authenticate(login, password string) (*Identity, error)

	// Register creates a new account with the base USER role and resolves
	// its identity. On failure the returned error carries a single
	// user-facing explanation and no account is persisted.
	Register(login, password, username string) (*Identity, error)

	// GrantRole assigns a role to an account and returns its updated role
	// set, so a live session can be refreshed.
	GrantRole(username string, role model.Role) (model.RoleSet, error)

	// RevokeRole removes a role from an account and returns its updated
	// role set.
	RevokeRole(username string, role model.Role) (model.RoleSet, error)
}

// DBProvider is the credential-store-backed gateway implementation.
type DBProvider struct {
	store datastore.DataStore
}

// NewDBProvider creates a gateway backed by the given store.
func NewDBProvider(store datastore.DataStore) *DBProvider {
	return &DBProvider{store: store}
}

// Initialize logs gateway readiness. Schema setup happens when the store opens.
func (p *DBProvider) Initialize() error {
	slog.Info("authentication service started", "mode", "database")
	return nil
}

// Authenticate resolves login/password to an identity.
// Soft-deleted accounts are indistinguishable from unknown logins.
func (p *DBProvider) Authenticate(login, password string) (*Identity, error) {
	account, err := p.store.GetAccountByLogin(login)
	if err != nil {
		slog.Error("credential lookup failed", "login", login, "err", err)
		return nil, ErrBadCredentials
	}
	if account == nil || account.Deleted {
		return nil, ErrBadCredentials
	}
	if !crypto.VerifyPassword(password, account.Salt, account.PasswordHash) {
		return nil, ErrBadCredentials
	}

	roles, err := p.store.RolesByUsername(account.Username)
	if err != nil {
		slog.Error("role lookup failed", "username", account.Username, "err", err)
		return nil, ErrBadCredentials
	}
	return &Identity{Username: account.Username, Roles: roles}, nil
}

// Register creates a new account with the base USER role.
func (p *DBProvider) Register(login, password, username string) (*Identity, error) {
	if model.ValidateLogin(login) != nil || model.ValidatePassword(password) != nil || len(username) == 0 {
		return nil, ErrWeakCredentials
	}
	if err := model.ValidateUsername(username); err != nil {
		return nil, err
	}

	taken, err := p.store.LoginExists(login)
	if err != nil {
		return nil, fmt.Errorf("could not check login: %w", err)
	}
	if taken {
		return nil, ErrLoginTaken
	}
	taken, err = p.store.UsernameExists(username)
	if err != nil {
		return nil, fmt.Errorf("could not check username: %w", err)
	}
	if taken {
		return nil, ErrUsernameTaken
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("could not create the account: %w", err)
	}
	hash := crypto.HashPassword(password, salt)

	account, err := p.store.CreateAccount(login, hash, salt, username)
	if err != nil {
		return nil, fmt.Errorf("could not add the user to the database: %w", err)
	}
	if err := p.store.GrantRole(account.Username, model.RoleUser); err != nil {
		return nil, fmt.Errorf("could not assign the base role: %w", err)
	}

	slog.Info("account registered", "login", login, "username", username)
	return &Identity{Username: username, Roles: model.NewRoleSet(model.RoleUser)}, nil
}

// GrantRole assigns a role to an account and returns its updated role set.
func (p *DBProvider) GrantRole(username string, role model.Role) (model.RoleSet, error) {
	if err := p.store.GrantRole(username, role); err != nil {
		switch {
		case errors.Is(err, datastore.ErrAccountMissing):
			return model.RoleSet{}, fmt.Errorf("no user %s in the database", username)
		case errors.Is(err, datastore.ErrRoleAlreadyGranted):
			return model.RoleSet{}, fmt.Errorf("user %s already has the role '%s'", username, role)
		default:
			return model.RoleSet{}, fmt.Errorf("could not grant role: %w", err)
		}
	}
	slog.Info("role granted", "username", username, "role", role.String())
	return p.store.RolesByUsername(username)
}

// RevokeRole removes a role from an account and returns its updated role set.
func (p *DBProvider) RevokeRole(username string, role model.Role) (model.RoleSet, error) {
	if err := p.store.RevokeRole(username, role); err != nil {
		switch {
		case errors.Is(err, datastore.ErrAccountMissing):
			return model.RoleSet{}, fmt.Errorf("no user %s in the database", username)
		case errors.Is(err, datastore.ErrRoleNotGranted):
			return model.RoleSet{}, fmt.Errorf("user %s does not have the role '%s'", username, role)
		default:
			return model.RoleSet{}, fmt.Errorf("could not revoke role: %w", err)
		}
	}
	slog.Info("role revoked", "username", username, "role", role.String())
	return p.store.RolesByUsername(username)
}

// Compile-time check: *DBProvider implements Provider.
var _ Provider = (*DBProvider)(nil)
