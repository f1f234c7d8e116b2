package waitlist

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/marketalloc/pkg/apperrors"
	"github.com/floroz/marketalloc/pkg/clock"
)

// NotQueued is the position reported for a user without an entry
const NotQueued = -1

var (
	ErrMissingID     = apperrors.Validation("MISSING_ID", "user id and resource id are required")
	ErrAlreadyQueued = apperrors.Conflict("ALREADY_QUEUED", "user is already on the waitlist for this resource")
	ErrNotQueued     = apperrors.NotFound("NOT_QUEUED", "user is not on the waitlist for this resource")
)

// Queue is the FIFO waitlist of claimants per resource
type Queue struct {
	repo  Repository
	clock clock.Clock
}

// NewQueue creates a new waitlist queue
func NewQueue(repo Repository, clk clock.Clock) *Queue {
	return &Queue{repo: repo, clock: clk}
}

// Enqueue appends the user to the resource's waitlist with JoinedAt = now.
// The caller should hold the resource row lock in tx. It returns the new
// entry and the number of entries ahead of it.
func (q *Queue) Enqueue(ctx context.Context, tx pgx.Tx, userID, resourceID uuid.UUID, preferredEnd *time.Time) (*Entry, int, error) {
	if userID == uuid.Nil || resourceID == uuid.Nil {
		return nil, 0, ErrMissingID
	}

	exists, err := q.repo.Exists(ctx, tx, userID, resourceID)
	if err != nil {
		return nil, 0, apperrors.Persistence("failed to check waitlist", err)
	}
	if exists {
		return nil, 0, ErrAlreadyQueued
	}

	entry := &Entry{
		ID:               uuid.New(),
		UserID:           userID,
		ResourceID:       resourceID,
		JoinedAt:         q.clock.Now(),
		PreferredEndDate: preferredEnd,
	}

	if err := q.repo.Insert(ctx, tx, entry); err != nil {
		if errors.Is(err, ErrAlreadyQueued) {
			return nil, 0, ErrAlreadyQueued
		}
		return nil, 0, apperrors.Persistence("failed to join waitlist", err)
	}

	ahead, err := q.repo.CountAhead(ctx, tx, resourceID, entry.JoinedAt, entry.Seq)
	if err != nil {
		return nil, 0, apperrors.Persistence("failed to compute waitlist position", err)
	}
	return entry, ahead, nil
}

// DequeueHead removes and returns the longest-waiting entry, or nil when the queue is empty
func (q *Queue) DequeueHead(ctx context.Context, tx pgx.Tx, resourceID uuid.UUID) (*Entry, error) {
	entry, err := q.repo.PopHead(ctx, tx, resourceID)
	if err != nil {
		return nil, apperrors.Persistence("failed to dequeue waitlist head", err)
	}
	return entry, nil
}

// Position returns the zero-based position of the user, or NotQueued
func (q *Queue) Position(ctx context.Context, userID, resourceID uuid.UUID) (int, error) {
	if userID == uuid.Nil || resourceID == uuid.Nil {
		return NotQueued, ErrMissingID
	}

	entry, err := q.repo.GetEntry(ctx, userID, resourceID)
	if err != nil {
		return NotQueued, apperrors.Persistence("failed to get waitlist entry", err)
	}
	if entry == nil {
		return NotQueued, nil
	}

	ahead, err := q.repo.CountAhead(ctx, nil, resourceID, entry.JoinedAt, entry.Seq)
	if err != nil {
		return NotQueued, apperrors.Persistence("failed to compute waitlist position", err)
	}
	return ahead, nil
}

// Size returns the number of users waiting for the resource
func (q *Queue) Size(ctx context.Context, resourceID uuid.UUID) (int, error) {
	n, err := q.repo.Count(ctx, resourceID)
	if err != nil {
		return 0, apperrors.Persistence("failed to count waitlist", err)
	}
	return n, nil
}

// ListOrdered returns the resource's waitlist, head first
func (q *Queue) ListOrdered(ctx context.Context, resourceID uuid.UUID) ([]*Entry, error) {
	entries, err := q.repo.ListByResource(ctx, resourceID)
	if err != nil {
		return nil, apperrors.Persistence("failed to list waitlist", err)
	}
	return entries, nil
}

// ListForUser returns every waitlist entry the user holds
func (q *Queue) ListForUser(ctx context.Context, userID uuid.UUID) ([]*Entry, error) {
	if userID == uuid.Nil {
		return nil, ErrMissingID
	}
	entries, err := q.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Persistence("failed to list user waitlists", err)
	}
	return entries, nil
}

// Leave removes the user from the resource's waitlist
func (q *Queue) Leave(ctx context.Context, userID, resourceID uuid.UUID) error {
	if userID == uuid.Nil || resourceID == uuid.Nil {
		return ErrMissingID
	}
	removed, err := q.repo.Delete(ctx, userID, resourceID)
	if err != nil {
		return apperrors.Persistence("failed to leave waitlist", err)
	}
	if !removed {
		return ErrNotQueued
	}
	return nil
}

// IsQueued reports whether the user is waiting for the resource
func (q *Queue) IsQueued(ctx context.Context, userID, resourceID uuid.UUID) (bool, error) {
	exists, err := q.repo.Exists(ctx, nil, userID, resourceID)
	if err != nil {
		return false, apperrors.Persistence("failed to check waitlist", err)
	}
	return exists, nil
}
