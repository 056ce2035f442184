package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/finance-ledger/internal/apperror"
	"github.com/Dan9191/finance-ledger/internal/fixtures"
	"github.com/Dan9191/finance-ledger/internal/models"
	"github.com/Dan9191/finance-ledger/internal/money"
	"github.com/Dan9191/finance-ledger/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// tokenTTL is the lifetime of a login token
const tokenTTL = 24 * time.Hour

// Register creates a new user with hashed password and seeds the category
// tree and starter accounts
func (s *Service) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" {
		return nil, apperror.Required("username")
	}
	if email == "" {
		return nil, apperror.Required("email")
	}
	if !strings.Contains(email, "@") {
		return nil, apperror.Invalid("email", "email.invalid", nil)
	}
	if password == "" {
		return nil, apperror.Required("password")
	}

	seed, err := fixtures.Default()
	if err != nil {
		return nil, apperror.Internal(err)
	}
	tree, err := seed.Tree()
	if err != nil {
		return nil, apperror.Internal(err)
	}

	// Hash password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to hash password: %w", err))
	}

	now := s.now()
	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
		CreatedAt:    now,
	}

	err = s.update(ctx, func(l repository.Ledger) error {
		if err := l.InsertUser(ctx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperror.Conflict("email.taken", err)
			}
			return err
		}
		if err := initCategoryTree(ctx, l, user.ID, tree); err != nil {
			return err
		}
		for _, a := range seed.Accounts {
			currency, ok := money.Lookup(a.Currency)
			if !ok {
				return apperror.Internalf("seed account %s has unknown currency %s", a.Name, a.Currency)
			}
			err := l.InsertAccount(ctx, &models.Account{
				ID:        uuid.NewString(),
				UserID:    user.ID,
				Name:      a.Name,
				Currency:  currency.Code,
				Status:    models.AccountActive,
				Kind:      a.Kind,
				Order:     a.Order,
				CreatedAt: now,
				UpdatedAt: now,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("User registered: %s", user.Email)
	return user, nil
}

// Login authenticates a user and returns a JWT token
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user *models.User
	err := s.view(ctx, func(l repository.Ledger) error {
		var err error
		user, err = l.GetUserByEmail(ctx, email)
		if errors.Is(err, repository.ErrNotFound) {
			return apperror.Unauthorized("credentials.invalid")
		}
		return err
	})
	if err != nil {
		return "", err
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", apperror.Unauthorized("credentials.invalid")
	}

	// Generate JWT
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(s.now()),
		ExpiresAt: jwt.NewNumericDate(s.now().Add(tokenTTL)),
	})
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", apperror.Internal(fmt.Errorf("failed to generate token: %w", err))
	}

	s.log.Infof("User logged in: %s", user.Email)
	return tokenString, nil
}
