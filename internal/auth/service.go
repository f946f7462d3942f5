package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

type Service struct {
	repo   *Repository
	tokens *TokenService
}

func NewService(repo *Repository, tokens *TokenService) *Service {
	return &Service{repo: repo, tokens: tokens}
}

func (s *Service) Tokens() *TokenService {
	return s.tokens
}

func (s *Service) Signup(ctx context.Context, input SignupInput) (User, error) {
	email := normalizeEmail(input.Email)

	exists, err := s.repo.EmailExists(ctx, email)
	if err != nil {
		return User{}, err
	}
	if exists {
		return User{}, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	return s.repo.Create(ctx, strings.TrimSpace(input.FirstName), strings.TrimSpace(input.LastName), email, string(hash))
}

// Login deliberately collapses "no such email" and "wrong password" into the
// same error so the response gives no account-existence oracle.
func (s *Service) Login(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}

	return user, nil
}

// Refresh verifies the refresh token and re-loads the user by subject id.
// Profile claims are never trusted from the token itself, so a renamed user
// gets a fresh access token with current fields.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (User, error) {
	claims, err := s.tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		return User{}, ErrInvalidRefreshToken
	}

	user, err := s.repo.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrInvalidRefreshToken
		}
		return User{}, err
	}

	return user, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
