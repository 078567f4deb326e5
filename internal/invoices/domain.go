// Package invoices is a thin business module demonstrating how feature code
// consumes the permission middleware and the audit recorder.
package invoices

import (
	"fmt"
	"time"

	"github.com/meridian-admin/meridian/internal/shared"
)

var (
	ErrNotFound     = fmt.Errorf("invoices: %w", shared.ErrNotFound)
	ErrInvalidInput = fmt.Errorf("invoices: %w", shared.ErrValidation)
)

// Status is the invoice lifecycle state.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusIssued Status = "issued"
	StatusPaid   Status = "paid"
	StatusVoided Status = "voided"
)

// Valid reports whether the status is a known state.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusIssued, StatusPaid, StatusVoided:
		return true
	}
	return false
}

// Invoice is a customer invoice header. Amounts are stored in cents.
type Invoice struct {
	ID          int64      `json:"id"`
	Number      string     `json:"number"`
	CustomerID  int64      `json:"customerId"`
	AmountCents int64      `json:"amountCents"`
	Currency    string     `json:"currency"`
	Status      Status     `json:"status"`
	IssuedAt    *time.Time `json:"issuedAt,omitempty"`
	DueAt       *time.Time `json:"dueAt,omitempty"`
	CreatedBy   int64      `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// transitions holds the allowed status moves.
var transitions = map[Status][]Status{
	StatusDraft:  {StatusIssued, StatusVoided},
	StatusIssued: {StatusPaid, StatusVoided},
}

// canTransition reports whether an invoice may move from one status to another.
func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
