// Package identity stores user accounts and per-user activity logs in Redis
// and provides the HTTP basic auth middleware built on top of them.
package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/redis/go-redis/v9"
)

var (
	ErrUserExists      = errors.New("user already exists")
	ErrInvalidUsername = errors.New("username must be 4-32 latin letters or digits")
	ErrInvalidPassword = errors.New("password must be 4-32 latin letters, digits or punctuation")
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9]{4,32}$`)
	passwordPattern = regexp.MustCompile(`^[a-zA-Z0-9!@#$%^&*()_+\-=\[\]{}|;:,.<>?/]{4,32}$`)
)

// UserStore keeps one Redis string per account under "user:<name>".
type UserStore struct {
	client *redis.Client
}

func NewUserStore(client *redis.Client) *UserStore {
	return &UserStore{client: client}
}

func userKey(username string) string {
	return "user:" + username
}

// Create registers a new account. It fails with ErrUserExists if the
// username is already taken.
func (s *UserStore) Create(ctx context.Context, username, password string) error {
	if !usernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	if !passwordPattern.MatchString(password) {
		return ErrInvalidPassword
	}

	// SETNX keeps the existence check and the write atomic.
	ok, err := s.client.SetNX(ctx, userKey(username), password, 0).Result()
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if !ok {
		return ErrUserExists
	}
	return nil
}

// Validate reports whether the username/password pair matches a stored
// account. An unknown username is not an error, just a false result.
func (s *UserStore) Validate(ctx context.Context, username, password string) (bool, error) {
	if !usernamePattern.MatchString(username) || !passwordPattern.MatchString(password) {
		return false, nil
	}

	stored, err := s.client.Get(ctx, userKey(username)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("validate user: %w", err)
	}
	return stored == password, nil
}
