package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AleksandrAfonin/console-chat/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

var ErrAccountMissing = errors.New("datastore: account not found")
var ErrRoleAlreadyGranted = errors.New("datastore: role already granted")
var ErrRoleNotGranted = errors.New("datastore: role not granted")

// Store provides SQLite-backed persistence for accounts and role assignments.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: enable FK: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		login         TEXT    NOT NULL UNIQUE CHECK(length(login) >= 3),
		password_hash BLOB    NOT NULL,
		salt          BLOB    NOT NULL,
		username      TEXT    NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 32),
		created_at    TEXT    NOT NULL DEFAULT (datetime('now')),
		is_deleted    INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS roles (
		id   INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT    NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS roles_to_users (
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		UNIQUE(user_id, role_id)
	);
	`

	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version: 1,
			statements: []string{
				schema,
				"INSERT OR IGNORE INTO roles (name) VALUES ('USER'), ('ADMIN')",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("datastore: migrate: %w", err)
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *Store) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Accounts ----

// CreateAccount persists a new account and returns it with the assigned ID.
// It validates login and username format before inserting; the UNIQUE
// constraints reject duplicate logins and display names.
func (s *Store) CreateAccount(login string, passwordHash, salt []byte, username string) (*model.Account, error) {
	if err := model.ValidateLogin(login); err != nil {
		return nil, fmt.Errorf("datastore: create account: %w", err)
	}
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: create account: %w", err)
	}
	res, err := s.db.ExecContext(context.Background(),
		"INSERT INTO users (login, password_hash, salt, username) VALUES (?, ?, ?, ?)",
		login, passwordHash, salt, username)
	if err != nil {
		return nil, fmt.Errorf("datastore: create account: %w", err)
	}
	id, _ := res.LastInsertId()
	return &model.Account{
		ID:           id,
		Login:        login,
		PasswordHash: passwordHash,
		Salt:         salt,
		Username:     username,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (s *Store) scanAccount(row *sql.Row) (*model.Account, error) {
	a := &model.Account{}
	var createdAt string
	var deletedInt int
	err := row.Scan(&a.ID, &a.Login, &a.PasswordHash, &a.Salt, &a.Username, &createdAt, &deletedInt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get account: %w", err)
	}
	a.Deleted = deletedInt != 0
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("datastore: get account: %w", err)
	}
	a.CreatedAt = parsed
	return a, nil
}

// GetAccountByLogin retrieves an account by login.
func (s *Store) GetAccountByLogin(login string) (*model.Account, error) {
	row := s.db.QueryRowContext(context.Background(),
		"SELECT id, login, password_hash, salt, username, created_at, is_deleted FROM users WHERE login = ?", login)
	return s.scanAccount(row)
}

// GetAccountByUsername retrieves an account by display name.
func (s *Store) GetAccountByUsername(username string) (*model.Account, error) {
	row := s.db.QueryRowContext(context.Background(),
		"SELECT id, login, password_hash, salt, username, created_at, is_deleted FROM users WHERE username = ?", username)
	return s.scanAccount(row)
}

// ListAccounts returns all accounts ordered by ID.
func (s *Store) ListAccounts() ([]model.Account, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT id, login, password_hash, salt, username, created_at, is_deleted FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var createdAt string
		var deletedInt int
		if err := rows.Scan(&a.ID, &a.Login, &a.PasswordHash, &a.Salt, &a.Username, &createdAt, &deletedInt); err != nil {
			return nil, fmt.Errorf("datastore: scan account: %w", err)
		}
		a.Deleted = deletedInt != 0
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan account: %w", err)
		}
		a.CreatedAt = parsed
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// LoginExists reports whether any account holds the login.
func (s *Store) LoginExists(login string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM users WHERE login = ?", login).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("datastore: check login: %w", err)
	}
	return count > 0, nil
}

// UsernameExists reports whether any account holds the display name.
func (s *Store) UsernameExists(username string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("datastore: check username: %w", err)
	}
	return count > 0, nil
}

// SoftDeleteAccount marks an account as deleted without removing its row.
func (s *Store) SoftDeleteAccount(login string) error {
	res, err := s.db.ExecContext(context.Background(),
		"UPDATE users SET is_deleted = 1 WHERE login = ?", login)
	if err != nil {
		return fmt.Errorf("datastore: soft-delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountMissing
	}
	return nil
}

// ---- Roles ----

// RolesByUsername returns the roles assigned to the account with the given
// display name. An unknown name yields an empty set.
func (s *Store) RolesByUsername(username string) (model.RoleSet, error) {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT roles.name FROM roles, roles_to_users, users
		WHERE roles_to_users.role_id = roles.id
		  AND roles_to_users.user_id = users.id
		  AND users.username = ?
		ORDER BY roles.id`, username)
	if err != nil {
		return model.RoleSet{}, fmt.Errorf("datastore: roles by username: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var set model.RoleSet
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return model.RoleSet{}, fmt.Errorf("datastore: scan role: %w", err)
		}
		role, err := model.ParseRole(name)
		if err != nil {
			return model.RoleSet{}, fmt.Errorf("datastore: roles by username: %w", err)
		}
		set.Add(role)
	}
	return set, rows.Err()
}

func (s *Store) roleAssignmentIDs(username string, role model.Role) (userID, roleID int64, err error) {
	err = s.db.QueryRowContext(context.Background(),
		"SELECT id FROM users WHERE username = ?", username).Scan(&userID)
	if err == sql.ErrNoRows {
		return 0, 0, ErrAccountMissing
	}
	if err != nil {
		return 0, 0, fmt.Errorf("datastore: find account: %w", err)
	}
	err = s.db.QueryRowContext(context.Background(),
		"SELECT id FROM roles WHERE name = ?", role.String()).Scan(&roleID)
	if err == sql.ErrNoRows {
		return 0, 0, model.ErrInvalidRole
	}
	if err != nil {
		return 0, 0, fmt.Errorf("datastore: find role: %w", err)
	}
	return userID, roleID, nil
}

// GrantRole assigns a role to the account with the given display name.
func (s *Store) GrantRole(username string, role model.Role) error {
	userID, roleID, err := s.roleAssignmentIDs(username, role)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(context.Background(),
		"INSERT OR IGNORE INTO roles_to_users (user_id, role_id) VALUES (?, ?)", userID, roleID)
	if err != nil {
		return fmt.Errorf("datastore: grant role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoleAlreadyGranted
	}
	return nil
}

// RevokeRole removes a role from the account with the given display name.
func (s *Store) RevokeRole(username string, role model.Role) error {
	userID, roleID, err := s.roleAssignmentIDs(username, role)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(context.Background(),
		"DELETE FROM roles_to_users WHERE user_id = ? AND role_id = ?", userID, roleID)
	if err != nil {
		return fmt.Errorf("datastore: revoke role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoleNotGranted
	}
	return nil
}

// Compile-time check: *Store implements DataStore.
var _ DataStore = (*Store)(nil)
