package auth

import (
	"errors"
	"strings"
	"testing"

	"github.com/AleksandrAfonin/console-chat/pkg/datastore"
	"github.com/AleksandrAfonin/console-chat/pkg/model"
)

func newTestProvider(t *testing.T) *DBProvider {
	t.Helper()
	return NewDBProvider(datastore.NewMemory())
}

func TestRegisterAndAuthenticate(t *testing.T) {
	p := newTestProvider(t)

	identity, err := p.Register("alice1", "secret1", "Alice")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if identity.Username != "Alice" {
		t.Fatalf("Register: want username Alice got %q", identity.Username)
	}
	if !identity.Roles.Has(model.RoleUser) {
		t.Fatalf("Register: base USER role missing")
	}
	if identity.Roles.Has(model.RoleAdmin) {
		t.Fatalf("Register: fresh account has ADMIN")
	}

	identity, err = p.Authenticate("alice1", "secret1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.Username != "Alice" || !identity.Roles.Has(model.RoleUser) {
		t.Fatalf("Authenticate: unexpected identity %+v", identity)
	}
}

func TestAuthenticateRejections(t *testing.T) {
	p := newTestProvider(t)
	if _, err := p.Register("alice1", "secret1", "Alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := p.Authenticate("alice1", "wrong!!"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("Authenticate wrong password: want ErrBadCredentials got %v", err)
	}
	if _, err := p.Authenticate("nobody", "secret1"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("Authenticate unknown login: want ErrBadCredentials got %v", err)
	}
}

func TestAuthenticateSoftDeleted(t *testing.T) {
	st := datastore.NewMemory()
	p := NewDBProvider(st)

	if _, err := p.Register("alice1", "secret1", "Alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := st.SoftDeleteAccount("alice1"); err != nil {
		t.Fatalf("SoftDeleteAccount: %v", err)
	}

	// A deleted account looks exactly like an unknown one.
	if _, err := p.Authenticate("alice1", "secret1"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("Authenticate deleted: want ErrBadCredentials got %v", err)
	}
}

func TestRegisterRejections(t *testing.T) {
	p := newTestProvider(t)
	if _, err := p.Register("alice1", "secret1", "Alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name     string
		login    string
		password string
		username string
		wantErr  error
	}{
		{"short login", "ab", "secret1", "Nick", ErrWeakCredentials},
		{"short password", "bob12", "12345", "Nick", ErrWeakCredentials},
		{"empty username", "bob12", "secret1", "", ErrWeakCredentials},
		{"login taken", "alice1", "secret1", "Nick", ErrLoginTaken},
		{"username taken", "bob12", "secret1", "Alice", ErrUsernameTaken},
	}
	for _, tt := range tests {
		if _, err := p.Register(tt.login, tt.password, tt.username); !errors.Is(err, tt.wantErr) {
			t.Fatalf("%s: Register want %v got %v", tt.name, tt.wantErr, err)
		}
	}
}

func TestGrantAndRevokeRole(t *testing.T) {
	p := newTestProvider(t)
	if _, err := p.Register("alice1", "secret1", "Alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	roles, err := p.GrantRole("Alice", model.RoleAdmin)
	if err != nil {
		t.Fatalf("GrantRole: %v", err)
	}
	if !roles.Has(model.RoleAdmin) || !roles.Has(model.RoleUser) {
		t.Fatalf("GrantRole: want USER+ADMIN got %v", roles.Strings())
	}

	if _, err := p.GrantRole("Alice", model.RoleAdmin); err == nil ||
		!strings.Contains(err.Error(), "already has the role") {
		t.Fatalf("GrantRole dup: unexpected error %v", err)
	}
	if _, err := p.GrantRole("Nobody", model.RoleAdmin); err == nil ||
		!strings.Contains(err.Error(), "no user Nobody in the database") {
		t.Fatalf("GrantRole miss: unexpected error %v", err)
	}

	roles, err = p.RevokeRole("Alice", model.RoleAdmin)
	if err != nil {
		t.Fatalf("RevokeRole: %v", err)
	}
	if roles.Has(model.RoleAdmin) {
		t.Fatalf("RevokeRole: ADMIN still present")
	}
	if _, err := p.RevokeRole("Alice", model.RoleAdmin); err == nil ||
		!strings.Contains(err.Error(), "does not have the role") {
		t.Fatalf("RevokeRole repeat: unexpected error %v", err)
	}
}
