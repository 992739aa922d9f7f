package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/you/course-marketplace/pkg/auth"
	"github.com/you/course-marketplace/services/marketplace/internal/domain"
	"github.com/you/course-marketplace/services/marketplace/internal/repository"
)

const minPasswordLen = 6

type AuthSvc struct {
	accounts *repository.AccountRepo
	tokens   *auth.Issuer
}

func NewAuthSvc(r *repository.AccountRepo, tokens *auth.Issuer) *AuthSvc {
	return &AuthSvc{accounts: r, tokens: tokens}
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
	ImageURL string
	Role     string
}

// Register creates a student or educator account. Admins are never self-assigned.
func (s *AuthSvc) Register(ctx context.Context, in RegisterInput) (*domain.Account, string, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLen {
		return nil, "", fmt.Errorf("%w: password too short", ErrInvalidInput)
	}
	role := domain.Role(strings.ToLower(in.Role))
	switch role {
	case "":
		role = domain.RoleStudent
	case domain.RoleStudent, domain.RoleEducator:
	default:
		return nil, "", fmt.Errorf("%w: role", ErrInvalidInput)
	}

	if _, err := s.accounts.ByEmail(ctx, email); err == nil {
		return nil, "", ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}
	a := &domain.Account{
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		ImageURL:     in.ImageURL,
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, "", ErrEmailTaken
		}
		return nil, "", err
	}
	tok, err := s.tokens.CreateAccessToken(a.ID, string(a.Role), a.Email)
	if err != nil {
		return nil, "", err
	}
	return a, tok, nil
}

func (s *AuthSvc) Login(ctx context.Context, email, password string) (*domain.Account, string, error) {
	a, err := s.accounts.ByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}
	now := time.Now().UTC()
	if err := s.accounts.TouchLogin(ctx, a.ID, now); err != nil {
		return nil, "", err
	}
	a.LastLogin = &now
	tok, err := s.tokens.CreateAccessToken(a.ID, string(a.Role), a.Email)
	if err != nil {
		return nil, "", err
	}
	return a, tok, nil
}

func (s *AuthSvc) Profile(ctx context.Context, accountID string) (*domain.Account, error) {
	a, err := s.accounts.ByID(ctx, accountID)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// BecomeEducator upgrades a student. Admins keep their role.
func (s *AuthSvc) BecomeEducator(ctx context.Context, accountID string) (*domain.Account, error) {
	a, err := s.accounts.ByID(ctx, accountID)
	if err != nil {
		return nil, notFound(err)
	}
	if a.Role == domain.RoleStudent {
		if err := s.accounts.UpdateRole(ctx, a.ID, domain.RoleEducator); err != nil {
			return nil, notFound(err)
		}
		a.Role = domain.RoleEducator
	}
	return a, nil
}
