package users

import (
	"fmt"
	"time"

	"github.com/meridian-admin/meridian/internal/shared"
)

var (
	// ErrNotFound indicates the user does not exist.
	ErrNotFound = fmt.Errorf("users: %w", shared.ErrNotFound)
	// ErrInvalidInput indicates a malformed account payload.
	ErrInvalidInput = fmt.Errorf("users: %w", shared.ErrValidation)
)

// User represents an account. IsAdmin and MFAEnabled feed the security
// assessment's authentication and authorization ratios.
type User struct {
	ID         int64
	Email      string
	Name       string
	IsActive   bool
	IsAdmin    bool
	MFAEnabled bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SecurityCounts aggregates the account figures the assessment engine reads.
type SecurityCounts struct {
	ActiveUsers      int
	MFAEnabled       int
	Admins           int
	AdminsWithoutMFA int
}
