// Package auth verifies client logins against bcrypt password hashes.
package auth

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUserNotFound is returned when a user doesn't exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidPassword is returned when password doesn't match.
	ErrInvalidPassword = errors.New("invalid password")
)

// bcrypt cost to use for new password hashes.
const bcryptCost = 12

// Users is a fixed set of accounts keyed by username. A nil or empty set
// admits everyone.
type Users struct {
	mu     sync.RWMutex
	hashes map[string]string
}

// NewUsers builds the account set from username -> bcrypt hash pairs.
// Every hash is checked to be a well-formed bcrypt hash.
func NewUsers(hashes map[string]string) (*Users, error) {
	u := &Users{hashes: make(map[string]string, len(hashes))}
	for name, hash := range hashes {
		if name == "" {
			return nil, errors.New("empty username")
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("user %s: invalid bcrypt hash: %w", name, err)
		}
		u.hashes[name] = hash
	}
	return u, nil
}

// HashPassword creates a bcrypt hash suitable for the pg_users config.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("generate bcrypt hash: %w", err)
	}
	return string(hash), nil
}

// Enabled reports whether logins must present a password.
func (u *Users) Enabled() bool {
	if u == nil {
		return false
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.hashes) > 0
}

// Set adds or replaces an account.
func (u *Users) Set(username, hash string) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("invalid bcrypt hash: %w", err)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.hashes[username] = hash
	return nil
}

// Authenticate verifies username and password.
func (u *Users) Authenticate(username, password string) error {
	if !u.Enabled() {
		return nil
	}

	u.mu.RLock()
	hash, ok := u.hashes[username]
	u.mu.RUnlock()
	if !ok {
		return ErrUserNotFound
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}

// Names returns all usernames, sorted.
func (u *Users) Names() []string {
	if u == nil {
		return nil
	}
	u.mu.RLock()
	defer u.mu.RUnlock()

	names := make([]string, 0, len(u.hashes))
	for name := range u.hashes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
