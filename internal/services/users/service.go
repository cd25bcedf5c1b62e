// Package users handles account registration and credential checks.
package users

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/pricemate/service/internal/domain/user"
	"github.com/pricemate/service/internal/storage"
	"github.com/pricemate/service/pkg/logger"
)

// ErrInvalidCredentials is returned when an email or password does not match
// a known account. The same error covers both cases so callers cannot tell
// which emails are registered.
var ErrInvalidCredentials = errors.New("users: invalid credentials")

// ErrInvalidEmail rejects registrations without a plausible address.
var ErrInvalidEmail = errors.New("users: valid email required")

// ErrPasswordTooShort rejects passwords below minPasswordLength.
var ErrPasswordTooShort = errors.New("users: password too short")

const minPasswordLength = 8

// Service manages accounts. Passwords are stored as bcrypt digests.
type Service struct {
	users storage.UserStore
	log   *logger.Logger
}

// New creates the user service.
func New(users storage.UserStore, log *logger.Logger) (*Service, error) {
	if users == nil {
		return nil, errors.New("users: user store required")
	}
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{users: users, log: log}, nil
}

// Register creates an account. ErrDuplicate surfaces when the email is taken.
func (s *Service) Register(ctx context.Context, email, password string) (user.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return user.User{}, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return user.User{}, ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return user.User{}, err
	}

	created, err := s.users.CreateUser(ctx, user.User{Email: email, PasswordHash: string(hash)})
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", created.ID).Info("account registered")
	return created, nil
}

// Authenticate verifies a credential pair and returns the account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (user.User, error) {
	u, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if errors.Is(err, storage.ErrNotFound) {
		return user.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return user.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return user.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// Get returns one account by ID.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	return s.users.GetUser(ctx, id)
}
