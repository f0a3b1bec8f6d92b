package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/connectly/internal/apperr"
	"github.com/connectly/internal/auth"
	"github.com/connectly/internal/logger"
	"github.com/connectly/internal/model"
	"github.com/connectly/internal/repository"
)

const searchLimit = 10

// UserService registers and authenticates users and searches the directory.
type UserService struct {
	users  UserStore
	tokens TokenIssuer
	clock  func() time.Time
}

func NewUserService(users UserStore, tokens TokenIssuer) *UserService {
	return &UserService{users: users, tokens: tokens, clock: now}
}

// Session is what register and login hand back to the client.
type Session struct {
	Token string           `json:"token"`
	User  model.UserPublic `json:"user"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *UserService) Register(ctx context.Context, name, email, password string) (*Session, error) {
	defer logger.DeferLogDuration("user.Register", time.Now())()
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" || email == "" || password == "" {
		return nil, apperr.Validation("name, email and password are required")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("user.Register hash: %w", err)
	}
	u := &model.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.clock(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict("email already registered")
		}
		return nil, fmt.Errorf("user.Register: %w", err)
	}
	return s.session(u)
}

func (s *UserService) Login(ctx context.Context, email, password string) (*Session, error) {
	defer logger.DeferLogDuration("user.Login", time.Now())()
	u, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Unauthorized("invalid email or password")
	}
	if err != nil {
		return nil, fmt.Errorf("user.Login: %w", err)
	}
	ok, err := auth.ComparePassword(password, u.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("user.Login compare: %w", err)
	}
	if !ok {
		return nil, apperr.Unauthorized("invalid email or password")
	}
	return s.session(u)
}

// Search matches emails partially, never returning the caller.
func (s *UserService) Search(ctx context.Context, callerID, query string) ([]model.UserPublic, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.UserPublic{}, nil
	}
	users, err := s.users.SearchByEmail(ctx, query, callerID, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("user.Search: %w", err)
	}
	return users, nil
}

func (s *UserService) Me(ctx context.Context, userID string) (*model.UserPublic, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "user not found")
	}
	pub := u.ToPublic()
	return &pub, nil
}

func (s *UserService) session(u *model.User) (*Session, error) {
	tok, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, fmt.Errorf("user.session: %w", err)
	}
	return &Session{Token: tok, User: u.ToPublic()}, nil
}
