package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/floroz/marketalloc/internal/domain/borrows"
	pkgdb "github.com/floroz/marketalloc/pkg/database"
)

// PostgresBorrowableRepository implements borrows.Repository using pgx.
// daily_rate travels as text so NUMERIC keeps its exact decimal value.
type PostgresBorrowableRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresBorrowableRepository creates a new PostgreSQL borrowable repository
func NewPostgresBorrowableRepository(pool *pgxpool.Pool) *PostgresBorrowableRepository {
	return &PostgresBorrowableRepository{pool: pool}
}

// CreateBorrowable inserts a new borrowable
func (r *PostgresBorrowableRepository) CreateBorrowable(ctx context.Context, b *borrows.Borrowable) error {
	query := `
		INSERT INTO borrowables (id, seller_id, title, daily_rate, borrow_start, borrow_end, is_borrowed, borrower_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		b.ID,
		b.SellerID,
		b.Title,
		b.DailyRate.String(),
		b.BorrowStart,
		b.BorrowEnd,
		b.IsBorrowed,
		b.BorrowerID,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert borrowable: %w", err)
	}
	return nil
}

// GetBorrowableByID retrieves a borrowable (non-transactional read)
func (r *PostgresBorrowableRepository) GetBorrowableByID(ctx context.Context, id uuid.UUID) (*borrows.Borrowable, error) {
	return r.getBorrowableByID(ctx, r.pool, id, false)
}

// GetBorrowableByIDForUpdate retrieves a borrowable and locks its row
func (r *PostgresBorrowableRepository) GetBorrowableByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*borrows.Borrowable, error) {
	return r.getBorrowableByID(ctx, tx, id, true)
}

func (r *PostgresBorrowableRepository) getBorrowableByID(ctx context.Context, db pkgdb.DBTX, id uuid.UUID, forUpdate bool) (*borrows.Borrowable, error) {
	query := `
		SELECT id, seller_id, title, daily_rate::text, borrow_start, borrow_end, is_borrowed, borrower_id, created_at, updated_at
		FROM borrowables
		WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		b    borrows.Borrowable
		rate string
	)
	err := db.QueryRow(ctx, query, id).Scan(
		&b.ID,
		&b.SellerID,
		&b.Title,
		&rate,
		&b.BorrowStart,
		&b.BorrowEnd,
		&b.IsBorrowed,
		&b.BorrowerID,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, borrows.ErrBorrowableNotFound
		}
		return nil, fmt.Errorf("failed to get borrowable: %w", err)
	}

	b.DailyRate, err = decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse daily rate %q: %w", rate, err)
	}
	return &b, nil
}

// UpdateBorrow writes the assignment fields within a transaction
func (r *PostgresBorrowableRepository) UpdateBorrow(ctx context.Context, tx pgx.Tx, b *borrows.Borrowable) error {
	query := `
		UPDATE borrowables
		SET borrow_start = $1, borrow_end = $2, is_borrowed = $3, borrower_id = $4, updated_at = $5
		WHERE id = $6
	`
	result, err := tx.Exec(ctx, query,
		b.BorrowStart,
		b.BorrowEnd,
		b.IsBorrowed,
		b.BorrowerID,
		b.UpdatedAt,
		b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update borrow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return borrows.ErrBorrowableNotFound
	}
	return nil
}

// ListElapsed returns borrowed items whose period ended at or before now
func (r *PostgresBorrowableRepository) ListElapsed(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id
		FROM borrowables
		WHERE is_borrowed AND borrow_end <= $1
		ORDER BY borrow_end ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query elapsed borrows: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to scan elapsed borrows: %w", err)
	}
	return ids, nil
}
