package invoices

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Service implements invoice business operations.
type Service struct {
	store    Store
	validate *validator.Validate
	clock    func() time.Time
}

// NewService constructs a Service.
func NewService(store Store) *Service {
	return &Service{
		store:    store,
		validate: validator.New(),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// CreateInput describes a new invoice.
type CreateInput struct {
	Number      string     `json:"number" validate:"required,max=40"`
	CustomerID  int64      `json:"customerId" validate:"required,gt=0"`
	AmountCents int64      `json:"amountCents" validate:"required,gt=0"`
	Currency    string     `json:"currency" validate:"required,len=3"`
	DueAt       *time.Time `json:"dueAt"`
}

// Create stores a new draft invoice.
func (s *Service) Create(ctx context.Context, actorID int64, input CreateInput) (Invoice, error) {
	if err := s.validate.Struct(input); err != nil {
		return Invoice{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	now := s.clock()
	inv := Invoice{
		Number:      input.Number,
		CustomerID:  input.CustomerID,
		AmountCents: input.AmountCents,
		Currency:    input.Currency,
		Status:      StatusDraft,
		DueAt:       input.DueAt,
		CreatedBy:   actorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	id, err := s.store.Insert(ctx, inv)
	if err != nil {
		return Invoice{}, err
	}
	inv.ID = id
	return inv, nil
}

// Get returns one invoice.
func (s *Service) Get(ctx context.Context, id int64) (Invoice, error) {
	return s.store.Get(ctx, id)
}

// List returns a filtered page of invoices with the total count.
func (s *Service) List(ctx context.Context, status Status, limit, offset int) ([]Invoice, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.store.List(ctx, status, limit, offset)
}

// Transition moves an invoice to a new status, enforcing the lifecycle.
// It returns the invoice before and after the change for audit trails.
func (s *Service) Transition(ctx context.Context, id int64, to Status) (Invoice, Invoice, error) {
	if !to.Valid() {
		return Invoice{}, Invoice{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}
	before, err := s.store.Get(ctx, id)
	if err != nil {
		return Invoice{}, Invoice{}, err
	}
	if !canTransition(before.Status, to) {
		return Invoice{}, Invoice{}, fmt.Errorf("%w: cannot move %s invoice to %s", ErrInvalidInput, before.Status, to)
	}
	after := before
	after.Status = to
	after.UpdatedAt = s.clock()
	if to == StatusIssued {
		issuedAt := after.UpdatedAt
		after.IssuedAt = &issuedAt
	}
	if err := s.store.UpdateStatus(ctx, after, before.Status); err != nil {
		return Invoice{}, Invoice{}, err
	}
	return before, after, nil
}
