package waitlist

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository defines the interface for waitlist persistence.
// Methods taking a tx accept nil to read outside a transaction.
type Repository interface {
	// Insert appends an entry and assigns its Seq.
	// Returns ErrAlreadyQueued if the user is already queued for the resource.
	Insert(ctx context.Context, tx pgx.Tx, entry *Entry) error

	// Exists reports whether the user is queued for the resource
	Exists(ctx context.Context, tx pgx.Tx, userID, resourceID uuid.UUID) (bool, error)

	// CountAhead counts entries for the resource strictly before (joinedAt, seq)
	CountAhead(ctx context.Context, tx pgx.Tx, resourceID uuid.UUID, joinedAt time.Time, seq int64) (int, error)

	// PopHead deletes and returns the first entry for the resource, or nil when empty
	PopHead(ctx context.Context, tx pgx.Tx, resourceID uuid.UUID) (*Entry, error)

	// GetEntry returns the user's entry for the resource, or nil
	GetEntry(ctx context.Context, userID, resourceID uuid.UUID) (*Entry, error)

	// Delete removes the user's entry and reports whether one existed
	Delete(ctx context.Context, userID, resourceID uuid.UUID) (bool, error)

	// Count returns the number of entries for the resource
	Count(ctx context.Context, resourceID uuid.UUID) (int, error)

	// ListByResource returns the resource's entries in queue order
	ListByResource(ctx context.Context, resourceID uuid.UUID) ([]*Entry, error)

	// ListByUser returns every entry of a user, oldest first
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Entry, error)
}
