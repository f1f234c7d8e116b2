package borrows

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/marketalloc/pkg/clock"
	"github.com/floroz/marketalloc/pkg/events"
)

// Repository defines the interface for borrowable persistence
type Repository interface {
	// CreateBorrowable saves a new borrowable
	CreateBorrowable(ctx context.Context, b *Borrowable) error

	// GetBorrowableByID returns ErrBorrowableNotFound when no row exists
	GetBorrowableByID(ctx context.Context, id uuid.UUID) (*Borrowable, error)

	// GetBorrowableByIDForUpdate locks the row until tx ends.
	// The waitlist of the resource is only mutated while this lock is held.
	GetBorrowableByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Borrowable, error)

	// UpdateBorrow persists the assignment fields within a transaction
	UpdateBorrow(ctx context.Context, tx pgx.Tx, b *Borrowable) error

	// ListElapsed returns borrowed items whose period ended at or before now
	ListElapsed(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// OutboxRepository writes events in the same transaction as the state change
type OutboxRepository interface {
	SaveEvent(ctx context.Context, tx pgx.Tx, event *events.OutboxEvent) error
}

// Metrics records borrow allocation outcomes
type Metrics interface {
	WaitlistJoined()
	BorrowAssigned()
	BorrowReleased()
}

type nopMetrics struct{}

func (nopMetrics) WaitlistJoined() {}
func (nopMetrics) BorrowAssigned() {}
func (nopMetrics) BorrowReleased() {}

type options struct {
	clock      clock.Clock
	metrics    Metrics
	logger     *slog.Logger
	borrowDays int
}

// Option configures an Allocator or a Service
type Option func(*options)

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBorrowDays sets the borrow period length in days
func WithBorrowDays(days int) Option {
	return func(o *options) {
		if days > 0 {
			o.borrowDays = days
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:      clock.Real{},
		metrics:    nopMetrics{},
		logger:     slog.Default(),
		borrowDays: DefaultBorrowDays,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
