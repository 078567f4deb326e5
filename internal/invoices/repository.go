package invoices

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-admin/meridian/internal/platform/db"
)

// Store abstracts invoice persistence.
type Store interface {
	Insert(ctx context.Context, inv Invoice) (int64, error)
	Get(ctx context.Context, id int64) (Invoice, error)
	List(ctx context.Context, status Status, limit, offset int) ([]Invoice, int, error)
	UpdateStatus(ctx context.Context, inv Invoice, expected Status) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const invoiceColumns = `id, number, customer_id, amount_cents, currency, status, issued_at, due_at, created_by, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &inv.AmountCents, &inv.Currency,
		&inv.Status, &inv.IssuedAt, &inv.DueAt, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	return inv, err
}

// Insert stores a new invoice.
func (r *Repository) Insert(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO invoices (number, customer_id, amount_cents, currency, status, due_at, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 RETURNING id`,
		inv.Number, inv.CustomerID, inv.AmountCents, inv.Currency, inv.Status, inv.DueAt, inv.CreatedBy, inv.CreatedAt).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("%w: invoice number already exists", ErrInvalidInput)
		}
		return 0, err
	}
	return id, nil
}

// Get returns one invoice by ID.
func (r *Repository) Get(ctx context.Context, id int64) (Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	return scanInvoice(row)
}

// List returns a page of invoices, newest first, with the total count.
func (r *Repository) List(ctx context.Context, status Status, limit, offset int) ([]Invoice, int, error) {
	where := ``
	args := []any{}
	if status != "" {
		where = ` WHERE status = $1`
		args = append(args, status)
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT `+invoiceColumns+` FROM invoices`+where+` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		len(args)+1, len(args)+2)
	rows, err := r.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, total, rows.Err()
}

// UpdateStatus persists a status change. The row is locked and the current
// status compared against expected so concurrent transitions cannot both win.
func (r *Repository) UpdateStatus(ctx context.Context, inv Invoice, expected Status) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var current Status
		err := tx.QueryRow(ctx, `SELECT status FROM invoices WHERE id = $1 FOR UPDATE`, inv.ID).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if current != expected {
			return fmt.Errorf("%w: invoice status changed to %s", ErrInvalidInput, current)
		}
		_, err = tx.Exec(ctx,
			`UPDATE invoices SET status = $1, issued_at = $2, updated_at = $3 WHERE id = $4`,
			inv.Status, inv.IssuedAt, inv.UpdatedAt, inv.ID)
		return err
	})
}
