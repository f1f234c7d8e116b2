package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/floroz/marketalloc/internal/domain/waitlist"
	pkgdb "github.com/floroz/marketalloc/pkg/database"
)

const uniqueViolation = "23505"

const waitlistColumns = `id, user_id, resource_id, joined_at, preferred_end_date, seq`

// PostgresWaitlistRepository implements waitlist.Repository using pgx
type PostgresWaitlistRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresWaitlistRepository creates a new PostgreSQL waitlist repository
func NewPostgresWaitlistRepository(pool *pgxpool.Pool) *PostgresWaitlistRepository {
	return &PostgresWaitlistRepository{pool: pool}
}

// conn returns tx, or the pool when tx is nil
func (r *PostgresWaitlistRepository) conn(tx pgx.Tx) pkgdb.DBTX {
	if tx == nil {
		return r.pool
	}
	return tx
}

// Insert appends an entry and stores the generated sequence number on it
func (r *PostgresWaitlistRepository) Insert(ctx context.Context, tx pgx.Tx, entry *waitlist.Entry) error {
	query := `
		INSERT INTO waitlist_entries (id, user_id, resource_id, joined_at, preferred_end_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq
	`
	err := r.conn(tx).QueryRow(ctx, query,
		entry.ID,
		entry.UserID,
		entry.ResourceID,
		entry.JoinedAt,
		entry.PreferredEndDate,
	).Scan(&entry.Seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return waitlist.ErrAlreadyQueued
		}
		return fmt.Errorf("failed to insert waitlist entry: %w", err)
	}
	return nil
}

// Exists reports whether the user is queued for the resource
func (r *PostgresWaitlistRepository) Exists(ctx context.Context, tx pgx.Tx, userID, resourceID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM waitlist_entries WHERE user_id = $1 AND resource_id = $2)`
	var exists bool
	if err := r.conn(tx).QueryRow(ctx, query, userID, resourceID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check waitlist entry: %w", err)
	}
	return exists, nil
}

// CountAhead counts entries strictly before (joinedAt, seq) for the resource
func (r *PostgresWaitlistRepository) CountAhead(ctx context.Context, tx pgx.Tx, resourceID uuid.UUID, joinedAt time.Time, seq int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM waitlist_entries
		WHERE resource_id = $1 AND (joined_at, seq) < ($2, $3)
	`
	var n int
	if err := r.conn(tx).QueryRow(ctx, query, resourceID, joinedAt, seq).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count waitlist entries: %w", err)
	}
	return n, nil
}

// PopHead deletes and returns the head of the resource's waitlist
func (r *PostgresWaitlistRepository) PopHead(ctx context.Context, tx pgx.Tx, resourceID uuid.UUID) (*waitlist.Entry, error) {
	query := `
		DELETE FROM waitlist_entries
		WHERE id = (
			SELECT id
			FROM waitlist_entries
			WHERE resource_id = $1
			ORDER BY joined_at ASC, seq ASC
			LIMIT 1
			FOR UPDATE
		)
		RETURNING ` + waitlistColumns
	entry, err := scanEntry(r.conn(tx).QueryRow(ctx, query, resourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop waitlist head: %w", err)
	}
	return entry, nil
}

// GetEntry returns the user's entry for the resource, or nil
func (r *PostgresWaitlistRepository) GetEntry(ctx context.Context, userID, resourceID uuid.UUID) (*waitlist.Entry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE user_id = $1 AND resource_id = $2`
	entry, err := scanEntry(r.pool.QueryRow(ctx, query, userID, resourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get waitlist entry: %w", err)
	}
	return entry, nil
}

// Delete removes the user's entry for the resource
func (r *PostgresWaitlistRepository) Delete(ctx context.Context, userID, resourceID uuid.UUID) (bool, error) {
	result, err := r.pool.Exec(ctx,
		`DELETE FROM waitlist_entries WHERE user_id = $1 AND resource_id = $2`,
		userID, resourceID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete waitlist entry: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// Count returns the number of entries for the resource
func (r *PostgresWaitlistRepository) Count(ctx context.Context, resourceID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM waitlist_entries WHERE resource_id = $1`, resourceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count waitlist entries: %w", err)
	}
	return n, nil
}

// ListByResource returns the resource's waitlist in queue order
func (r *PostgresWaitlistRepository) ListByResource(ctx context.Context, resourceID uuid.UUID) ([]*waitlist.Entry, error) {
	query := `
		SELECT ` + waitlistColumns + `
		FROM waitlist_entries
		WHERE resource_id = $1
		ORDER BY joined_at ASC, seq ASC
	`
	return r.list(ctx, query, resourceID)
}

// ListByUser returns every entry of a user, oldest first
func (r *PostgresWaitlistRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*waitlist.Entry, error) {
	query := `
		SELECT ` + waitlistColumns + `
		FROM waitlist_entries
		WHERE user_id = $1
		ORDER BY joined_at ASC, seq ASC
	`
	return r.list(ctx, query, userID)
}

func (r *PostgresWaitlistRepository) list(ctx context.Context, query string, arg uuid.UUID) ([]*waitlist.Entry, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query waitlist: %w", err)
	}
	defer rows.Close()

	var result []*waitlist.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan waitlist entry: %w", err)
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating waitlist: %w", err)
	}
	return result, nil
}

func scanEntry(row pgx.Row) (*waitlist.Entry, error) {
	var e waitlist.Entry
	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.ResourceID,
		&e.JoinedAt,
		&e.PreferredEndDate,
		&e.Seq,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
