package model

import (
	"errors"
	"strings"
)

// Role represents a permission level assigned to an account.
type Role int

const (
	RoleUser  Role = iota // Default role, can chat and send private messages
	RoleAdmin             // Can ban users, manage roles, and shut the server down
)

var ErrInvalidRole = errors.New("invalid role: must be USER (0) or ADMIN (1)")

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "USER"
	case RoleAdmin:
		return "ADMIN"
	default:
		return "UNKNOWN"
	}
}

// ParseRole converts a role name to a Role. The match is case-insensitive.
// Returns an error for unrecognized names.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "USER":
		return RoleUser, nil
	case "ADMIN":
		return RoleAdmin, nil
	default:
		return RoleUser, ErrInvalidRole
	}
}

// Valid returns true if the role is a recognised value.
func (r Role) Valid() bool {
	return r >= RoleUser && r <= RoleAdmin
}

// RoleSet is a small ordered collection of roles. Membership checks are a
// linear scan; the set never holds more than a handful of entries.
type RoleSet struct {
	roles []Role
}

// NewRoleSet builds a set from the given roles, dropping duplicates.
func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s.Add(r)
	}
	return s
}

// Has reports whether the set contains r.
func (s RoleSet) Has(r Role) bool {
	for _, have := range s.roles {
		if have == r {
			return true
		}
	}
	return false
}

// Add inserts r if not already present.
func (s *RoleSet) Add(r Role) {
	if !s.Has(r) {
		s.roles = append(s.roles, r)
	}
}

// Remove deletes r from the set if present.
func (s *RoleSet) Remove(r Role) {
	for i, have := range s.roles {
		if have == r {
			s.roles = append(s.roles[:i], s.roles[i+1:]...)
			return
		}
	}
}

// Len returns the number of roles in the set.
func (s RoleSet) Len() int {
	return len(s.roles)
}

// All returns the roles in insertion order.
func (s RoleSet) All() []Role {
	out := make([]Role, len(s.roles))
	copy(out, s.roles)
	return out
}

// Strings returns the role names in insertion order.
func (s RoleSet) Strings() []string {
	out := make([]string, len(s.roles))
	for i, r := range s.roles {
		out[i] = r.String()
	}
	return out
}
