package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"tessera/api/internal/store"
	"tessera/api/internal/util"
)

type RegisterUserInput struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

func (s *Service) RegisterUser(ctx context.Context, input RegisterUserInput) (store.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || !strings.Contains(email, "@") {
		return store.User{}, validationError("a valid email is required")
	}
	if len(input.Password) < 8 {
		return store.User{}, validationError("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := store.User{
		ID:           util.NewID("usr"),
		Email:        email,
		DisplayName:  input.DisplayName,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if store.IsUniqueViolation(err) {
			return store.User{}, domainError(http.StatusConflict, "DUPLICATE_EMAIL", "an account with this email already exists", nil)
		}
		return store.User{}, err
	}
	user.PasswordHash = ""
	return user, nil
}

// VerifyCredentials checks an email/password pair. Token issuance is the
// API gateway's job; this only answers yes or no.
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
	}
	if err != nil {
		return store.User{}, fmt.Errorf("get user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return store.User{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, notFound("user", userID)
	}
	if err != nil {
		return store.User{}, fmt.Errorf("get user: %w", err)
	}
	user.PasswordHash = ""
	return user, nil
}
