package borrows

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	domainevents "github.com/floroz/marketalloc/internal/domain/events"
	"github.com/floroz/marketalloc/internal/domain/waitlist"
	"github.com/floroz/marketalloc/pkg/apperrors"
	"github.com/floroz/marketalloc/pkg/database"
)

// AllocationOutcome describes what TryAssignNext did
type AllocationOutcome string

const (
	// OutcomeBusy means the current borrow period is still running; nothing changed
	OutcomeBusy AllocationOutcome = "busy"
	// OutcomeAssigned means the waitlist head now holds the item
	OutcomeAssigned AllocationOutcome = "assigned"
	// OutcomeCleared means the item is free and nobody is waiting
	OutcomeCleared AllocationOutcome = "cleared"
)

// Assignment is the borrow state after an allocation attempt
type Assignment struct {
	ResourceID  uuid.UUID
	Outcome     AllocationOutcome
	BorrowerID  *uuid.UUID
	BorrowStart *time.Time
	BorrowEnd   *time.Time
}

// Allocator assigns a free borrowable to the head of its waitlist
type Allocator struct {
	txManager  database.TransactionManager
	repo       Repository
	queue      *waitlist.Queue
	outboxRepo OutboxRepository
	opts       options
}

// NewAllocator creates a new allocator
func NewAllocator(
	txManager database.TransactionManager,
	repo Repository,
	queue *waitlist.Queue,
	outboxRepo OutboxRepository,
	opts ...Option,
) *Allocator {
	return &Allocator{
		txManager:  txManager,
		repo:       repo,
		queue:      queue,
		outboxRepo: outboxRepo,
		opts:       buildOptions(opts),
	}
}

// TryAssignNext runs one allocation step in its own transaction.
// It is safe to call repeatedly: a busy item is left untouched and a free
// item with an empty waitlist stays cleared.
func (a *Allocator) TryAssignNext(ctx context.Context, resourceID uuid.UUID) (*Assignment, error) {
	if resourceID == uuid.Nil {
		return nil, ErrMissingID
	}

	tx, err := a.txManager.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Persistence("failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	b, err := lockBorrowable(ctx, a.repo, tx, resourceID)
	if err != nil {
		return nil, err
	}

	assignment, changed, err := a.assignLocked(ctx, tx, b)
	if err != nil {
		return nil, err
	}
	if !changed {
		return assignment, nil
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return nil, apperrors.Persistence("failed to commit transaction", commitErr)
	}
	a.record(assignment)
	return assignment, nil
}

// assignLocked requires b's row to be locked by tx. It reports whether
// anything was written.
func (a *Allocator) assignLocked(ctx context.Context, tx pgx.Tx, b *Borrowable) (*Assignment, bool, error) {
	now := a.opts.clock.Now()
	if b.IsBusy(now) {
		return snapshot(b, OutcomeBusy), false, nil
	}

	previous := b.BorrowerID
	hadBorrow := b.hasBorrowFields()

	head, err := a.queue.DequeueHead(ctx, tx, b.ID)
	if err != nil {
		return nil, false, err
	}

	var event domainevents.Event
	outcome := OutcomeCleared
	if head == nil {
		if !hadBorrow {
			return snapshot(b, OutcomeCleared), false, nil
		}
		b.clear()
		event = domainevents.BorrowReleased{
			ResourceID:         b.ID,
			PreviousBorrowerID: previous,
			ReleasedAt:         now,
		}
	} else {
		b.assign(head, a.opts.borrowDays)
		outcome = OutcomeAssigned
		event = domainevents.BorrowAssigned{
			ResourceID:  b.ID,
			BorrowerID:  head.UserID,
			BorrowStart: *b.BorrowStart,
			BorrowEnd:   *b.BorrowEnd,
			AssignedAt:  now,
		}
	}
	b.UpdatedAt = now

	if err := a.repo.UpdateBorrow(ctx, tx, b); err != nil {
		return nil, false, apperrors.Persistence("failed to update borrow", err)
	}
	if err := saveEvent(ctx, a.outboxRepo, tx, event); err != nil {
		return nil, false, err
	}
	return snapshot(b, outcome), true, nil
}

func (a *Allocator) record(assignment *Assignment) {
	switch assignment.Outcome {
	case OutcomeAssigned:
		a.opts.metrics.BorrowAssigned()
		a.opts.logger.Info("Borrowable assigned",
			"resource_id", assignment.ResourceID,
			"borrower_id", assignment.BorrowerID,
			"borrow_end", assignment.BorrowEnd,
		)
	case OutcomeCleared:
		a.opts.metrics.BorrowReleased()
		a.opts.logger.Info("Borrowable released", "resource_id", assignment.ResourceID)
	}
}

func snapshot(b *Borrowable, outcome AllocationOutcome) *Assignment {
	return &Assignment{
		ResourceID:  b.ID,
		Outcome:     outcome,
		BorrowerID:  b.BorrowerID,
		BorrowStart: b.BorrowStart,
		BorrowEnd:   b.BorrowEnd,
	}
}

func lockBorrowable(ctx context.Context, repo Repository, tx pgx.Tx, id uuid.UUID) (*Borrowable, error) {
	b, err := repo.GetBorrowableByIDForUpdate(ctx, tx, id)
	if err != nil {
		if errors.Is(err, ErrBorrowableNotFound) {
			return nil, ErrBorrowableNotFound
		}
		return nil, apperrors.Persistence("failed to lock borrowable", err)
	}
	return b, nil
}

func saveEvent(ctx context.Context, repo OutboxRepository, tx pgx.Tx, event domainevents.Event) error {
	outboxEvent, err := domainevents.NewOutboxEvent(event)
	if err != nil {
		return apperrors.Persistence("failed to encode event", err)
	}
	if err := repo.SaveEvent(ctx, tx, outboxEvent); err != nil {
		return apperrors.Persistence("failed to save outbox event", err)
	}
	return nil
}
