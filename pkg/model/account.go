// Package model defines the core domain types for the console chat.
package model

import (
	"errors"
	"fmt"
	"time"
)

const (
	MinLoginLength    = 3
	MinPasswordLength = 6
	MaxUsernameLength = 32
)

var ErrLoginTooShort = fmt.Errorf("login must be at least %d characters", MinLoginLength)
var ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters, underscores, or hyphens")

// Account represents a registered chat account.
type Account struct {
	ID           int64     `json:"id"`
	Login        string    `json:"login"`
	PasswordHash []byte    `json:"-"` // Argon2id digest, never serialized
	Salt         []byte    `json:"-"`
	Username     string    `json:"username"` // display name shown in the chat
	CreatedAt    time.Time `json:"created_at"`
	Deleted      bool      `json:"deleted"` // soft-delete flag; deleted accounts cannot authenticate
}

// ValidateLogin checks the minimum login length.
func ValidateLogin(login string) error {
	if len(login) < MinLoginLength {
		return ErrLoginTooShort
	}
	return nil
}

// ValidatePassword checks the minimum password length.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

// ValidateUsername checks that a display name is 1-32 ASCII alphanumeric,
// underscore, or hyphen characters. Returns nil on success or a descriptive error.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}
