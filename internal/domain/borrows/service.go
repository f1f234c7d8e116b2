package borrows

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domainevents "github.com/floroz/marketalloc/internal/domain/events"
	"github.com/floroz/marketalloc/internal/domain/waitlist"
	"github.com/floroz/marketalloc/pkg/apperrors"
	"github.com/floroz/marketalloc/pkg/database"
)

var (
	ErrMissingID          = apperrors.Validation("MISSING_ID", "resource id and user id are required")
	ErrInvalidDateRange   = apperrors.Validation("INVALID_DATE_RANGE", "end date must be after start date")
	ErrInvalidDailyRate   = apperrors.Validation("INVALID_DAILY_RATE", "daily rate must be greater than 0")
	ErrInvalidTitle       = apperrors.Validation("INVALID_TITLE", "title is required")
	ErrBorrowableNotFound = apperrors.NotFound("BORROWABLE_NOT_FOUND", "borrowable not found")
)

type RequestBorrowCommand struct {
	ResourceID uuid.UUID
	UserID     uuid.UUID
	StartDate  time.Time
	EndDate    time.Time
}

// RequestResult reports how a borrow request was handled
type RequestResult struct {
	Entry      *waitlist.Entry
	Ahead      int
	Assignment *Assignment
}

type CreateBorrowableCommand struct {
	SellerID  uuid.UUID
	Title     string
	DailyRate decimal.Decimal
}

// Service handles borrow requests against the waitlist and the allocator
type Service struct {
	txManager  database.TransactionManager
	repo       Repository
	queue      *waitlist.Queue
	allocator  *Allocator
	outboxRepo OutboxRepository
	opts       options
}

// NewService creates a new borrow service
func NewService(
	txManager database.TransactionManager,
	repo Repository,
	queue *waitlist.Queue,
	allocator *Allocator,
	outboxRepo OutboxRepository,
	opts ...Option,
) *Service {
	return &Service{
		txManager:  txManager,
		repo:       repo,
		queue:      queue,
		allocator:  allocator,
		outboxRepo: outboxRepo,
		opts:       buildOptions(opts),
	}
}

// CreateBorrowable persists a new, unassigned borrowable
func (s *Service) CreateBorrowable(ctx context.Context, cmd CreateBorrowableCommand) (*Borrowable, error) {
	if cmd.SellerID == uuid.Nil {
		return nil, ErrMissingID
	}
	if cmd.Title == "" {
		return nil, ErrInvalidTitle
	}
	if !cmd.DailyRate.IsPositive() {
		return nil, ErrInvalidDailyRate
	}

	now := s.opts.clock.Now()
	b := &Borrowable{
		ID:        uuid.New(),
		SellerID:  cmd.SellerID,
		Title:     cmd.Title,
		DailyRate: cmd.DailyRate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateBorrowable(ctx, b); err != nil {
		return nil, apperrors.Persistence("failed to create borrowable", err)
	}
	return b, nil
}

// GetBorrowable retrieves a borrowable by ID
func (s *Service) GetBorrowable(ctx context.Context, id uuid.UUID) (*Borrowable, error) {
	if id == uuid.Nil {
		return nil, ErrMissingID
	}
	b, err := s.repo.GetBorrowableByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBorrowableNotFound) {
			return nil, ErrBorrowableNotFound
		}
		return nil, apperrors.Persistence("failed to get borrowable", err)
	}
	return b, nil
}

// RequestBorrow queues the user and immediately runs the allocator, all in
// one transaction under the borrowable row lock. A free item is claimed by
// the head of the waitlist, which is the new user when nobody else waits.
func (s *Service) RequestBorrow(ctx context.Context, cmd RequestBorrowCommand) (*RequestResult, error) {
	if cmd.ResourceID == uuid.Nil || cmd.UserID == uuid.Nil {
		return nil, ErrMissingID
	}
	if !cmd.EndDate.After(cmd.StartDate) {
		return nil, ErrInvalidDateRange
	}

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Persistence("failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	b, err := lockBorrowable(ctx, s.repo, tx, cmd.ResourceID)
	if err != nil {
		return nil, err
	}

	preferredEnd := cmd.EndDate
	entry, ahead, err := s.queue.Enqueue(ctx, tx, cmd.UserID, cmd.ResourceID, &preferredEnd)
	if err != nil {
		return nil, err
	}

	joined := domainevents.WaitlistJoined{
		ResourceID:       entry.ResourceID,
		UserID:           entry.UserID,
		Position:         ahead,
		PreferredEndDate: entry.PreferredEndDate,
		JoinedAt:         entry.JoinedAt,
	}
	if err := saveEvent(ctx, s.outboxRepo, tx, joined); err != nil {
		return nil, err
	}

	assignment, changed, err := s.allocator.assignLocked(ctx, tx, b)
	if err != nil {
		return nil, err
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return nil, apperrors.Persistence("failed to commit transaction", commitErr)
	}

	s.opts.metrics.WaitlistJoined()
	if changed {
		s.allocator.record(assignment)
	}
	s.opts.logger.Info("Borrow requested",
		"resource_id", cmd.ResourceID,
		"user_id", cmd.UserID,
		"ahead", ahead,
		"outcome", assignment.Outcome,
	)

	return &RequestResult{
		Entry:      entry,
		Ahead:      ahead,
		Assignment: assignment,
	}, nil
}

// ListElapsed returns borrowed items whose period has ended
func (s *Service) ListElapsed(ctx context.Context, limit int) ([]uuid.UUID, error) {
	ids, err := s.repo.ListElapsed(ctx, s.opts.clock.Now(), limit)
	if err != nil {
		return nil, apperrors.Persistence("failed to list elapsed borrows", err)
	}
	return ids, nil
}

// TryAssignNext runs the allocator for one borrowable
func (s *Service) TryAssignNext(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	return s.allocator.TryAssignNext(ctx, id)
}
