package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/floroz/marketalloc/internal/domain/auctions"
	"github.com/floroz/marketalloc/internal/domain/borrows"
)

// Auctions is the part of the auction service the sweeper drives
type Auctions interface {
	ListExpired(ctx context.Context, limit int) ([]uuid.UUID, error)
	FinalizeIfExpired(ctx context.Context, auctionID uuid.UUID) (*auctions.Outcome, error)
}

// Borrows is the part of the borrow service the sweeper drives
type Borrows interface {
	ListElapsed(ctx context.Context, limit int) ([]uuid.UUID, error)
	TryAssignNext(ctx context.Context, resourceID uuid.UUID) (*borrows.Assignment, error)
}

// FailureRecorder counts failed sweep steps
type FailureRecorder interface {
	SweepFailed(target string)
}

type nopRecorder struct{}

func (nopRecorder) SweepFailed(string) {}

// Result summarizes one sweep
type Result struct {
	Finalized int
	Assigned  int
	Cleared   int
	Failed    int
}

// Sweeper periodically finalizes expired auctions and hands elapsed borrows
// to the next waitlist claimant. It backs up the in-process countdowns,
// which are lost on restart.
type Sweeper struct {
	auctions  Auctions
	borrows   Borrows
	failures  FailureRecorder
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// New creates a sweeper. A nil recorder disables failure counting.
func New(a Auctions, b Borrows, failures FailureRecorder, interval time.Duration, batchSize int, logger *slog.Logger) *Sweeper {
	if failures == nil {
		failures = nopRecorder{}
	}
	return &Sweeper{
		auctions:  a,
		borrows:   b,
		failures:  failures,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run sweeps until ctx is cancelled. It returns nil on cancellation.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over expired auctions and elapsed borrows.
// Failures are logged and retried on the next pass.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	var res Result
	s.sweepAuctions(ctx, &res)
	s.sweepBorrows(ctx, &res)

	if res.Finalized+res.Assigned+res.Cleared+res.Failed > 0 {
		s.logger.Info("Sweep completed",
			"finalized", res.Finalized,
			"assigned", res.Assigned,
			"cleared", res.Cleared,
			"failed", res.Failed,
		)
	}
	return res
}

func (s *Sweeper) sweepAuctions(ctx context.Context, res *Result) {
	ids, err := s.auctions.ListExpired(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("Failed to list expired auctions", "error", err)
		s.failures.SweepFailed("auction")
		res.Failed++
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		outcome, err := s.auctions.FinalizeIfExpired(ctx, id)
		if err != nil {
			s.logger.Error("Failed to finalize auction", "auction_id", id, "error", err)
			s.failures.SweepFailed("auction")
			res.Failed++
			continue
		}
		if outcome.Finalized {
			res.Finalized++
		}
	}
}

func (s *Sweeper) sweepBorrows(ctx context.Context, res *Result) {
	ids, err := s.borrows.ListElapsed(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("Failed to list elapsed borrows", "error", err)
		s.failures.SweepFailed("borrowable")
		res.Failed++
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		assignment, err := s.borrows.TryAssignNext(ctx, id)
		if err != nil {
			s.logger.Error("Failed to reassign borrowable", "resource_id", id, "error", err)
			s.failures.SweepFailed("borrowable")
			res.Failed++
			continue
		}
		switch assignment.Outcome {
		case borrows.OutcomeAssigned:
			res.Assigned++
		case borrows.OutcomeCleared:
			res.Cleared++
		}
	}
}
