package users

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

// Service orchestrates account management.
type Service struct {
	store    Store
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService constructs a Service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, validate: validator.New()}
}

// CreateInput carries the payload for Create.
type CreateInput struct {
	Email    string `validate:"required,email"`
	Name     string `validate:"required,min=2,max=200"`
	Password string `validate:"required,min=10"`
	IsAdmin  bool   `validate:"-"`
}

// Create registers a new active account with a bcrypt password hash.
func (s *Service) Create(ctx context.Context, input CreateInput) (User, error) {
	if err := s.validate.Struct(input); err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	user := User{
		Email:    strings.ToLower(strings.TrimSpace(input.Email)),
		Name:     strings.TrimSpace(input.Name),
		IsActive: true,
		IsAdmin:  input.IsAdmin,
	}
	return s.store.Create(ctx, user, string(hash))
}

// UpdateInput carries the payload for Update. Nil pointers leave the current
// value unchanged.
type UpdateInput struct {
	Name       *string `validate:"omitempty,min=2,max=200"`
	IsActive   *bool   `validate:"-"`
	IsAdmin    *bool   `validate:"-"`
	MFAEnabled *bool   `validate:"-"`
}

// Update mutates an account.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (User, error) {
	if err := s.validate.Struct(input); err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	user, err := s.store.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	if input.Name != nil {
		user.Name = strings.TrimSpace(*input.Name)
	}
	if input.IsActive != nil {
		user.IsActive = *input.IsActive
	}
	if input.IsAdmin != nil {
		user.IsAdmin = *input.IsAdmin
	}
	if input.MFAEnabled != nil {
		user.MFAEnabled = *input.MFAEnabled
	}
	return s.store.Update(ctx, user)
}

// Get fetches a user by ID.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.store.Get(ctx, id)
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.store.List(ctx)
}

// SecurityCounts returns the aggregate account figures for the assessment engine.
func (s *Service) SecurityCounts(ctx context.Context) (SecurityCounts, error) {
	return s.store.SecurityCounts(ctx)
}
