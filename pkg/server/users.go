package server

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AleksandrAfonin/console-chat/pkg/auth"
	"github.com/AleksandrAfonin/console-chat/pkg/datastore"
	"github.com/AleksandrAfonin/console-chat/pkg/model"
)

// UserSeed is one account entry in a YAML seed file.
type UserSeed struct {
	Login    string   `yaml:"login"`
	Password string   `yaml:"password"`
	Username string   `yaml:"username"`
	Roles    []string `yaml:"roles,omitempty"` // extra roles beyond USER
}

// UsersFile is the on-disk YAML layout for seeding and export.
type UsersFile struct {
	Users []UserSeed `yaml:"users"`
}

// SeedUsersFromYAML registers the accounts listed in a YAML file through
// the gateway. Accounts whose login is already taken are skipped, so the
// file can be applied on every start. Returns the number of accounts
// created.
func SeedUsersFromYAML(path string, gw auth.Provider) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("server: read users file: %w", err)
	}

	var file UsersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("server: parse users file: %w", err)
	}

	created := 0
	for _, u := range file.Users {
		_, err := gw.Register(u.Login, u.Password, u.Username)
		if err != nil {
			if errors.Is(err, auth.ErrLoginTaken) || errors.Is(err, auth.ErrUsernameTaken) {
				continue
			}
			return created, fmt.Errorf("server: seed user %q: %w", u.Login, err)
		}
		created++

		for _, name := range u.Roles {
			role, err := model.ParseRole(name)
			if err != nil {
				return created, fmt.Errorf("server: seed user %q: %w", u.Login, err)
			}
			if role == model.RoleUser {
				continue // granted by Register already
			}
			if _, err := gw.GrantRole(u.Username, role); err != nil {
				return created, fmt.Errorf("server: seed user %q: %w", u.Login, err)
			}
		}
	}
	return created, nil
}

// ExportUsersYAML renders all non-deleted accounts and their roles as
// YAML. Password hashes are not exported; the password fields are left
// empty and must be filled in before the output can be used as a seed.
func ExportUsersYAML(st datastore.DataStore) ([]byte, error) {
	accounts, err := st.ListAccounts()
	if err != nil {
		return nil, fmt.Errorf("server: export users: %w", err)
	}

	var file UsersFile
	for _, a := range accounts {
		if a.Deleted {
			continue
		}
		roles, err := st.RolesByUsername(a.Username)
		if err != nil {
			return nil, fmt.Errorf("server: export users: %w", err)
		}
		file.Users = append(file.Users, UserSeed{
			Login:    a.Login,
			Username: a.Username,
			Roles:    roles.Strings(),
		})
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return nil, fmt.Errorf("server: export users: %w", err)
	}
	return data, nil
}
