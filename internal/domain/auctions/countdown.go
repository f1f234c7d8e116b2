package auctions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/floroz/marketalloc/pkg/clock"
)

// DefaultTickInterval is how often a countdown recomputes the remaining time
const DefaultTickInterval = time.Second

// Finalizer ends an auction once its deadline passes
type Finalizer interface {
	FinalizeIfExpired(ctx context.Context, auctionID uuid.UUID) (*Outcome, error)
}

// TickFunc receives the remaining time of an auction on every tick
type TickFunc func(auctionID uuid.UUID, remaining time.Duration)

// Countdown drives one open auction to finalization
type Countdown struct {
	auctionID uuid.UUID
	finalizer Finalizer
	clock     clock.Clock
	interval  time.Duration
	onTick    TickFunc
	logger    *slog.Logger

	mu        sync.Mutex
	endTime   time.Time
	remaining time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewCountdown creates a stopped countdown for an auction ending at endTime
func NewCountdown(
	auctionID uuid.UUID,
	endTime time.Time,
	finalizer Finalizer,
	clk clock.Clock,
	interval time.Duration,
	onTick TickFunc,
	logger *slog.Logger,
) *Countdown {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Countdown{
		auctionID: auctionID,
		finalizer: finalizer,
		clock:     clk,
		interval:  interval,
		onTick:    onTick,
		logger:    logger,
		endTime:   endTime,
		remaining: endTime.Sub(clk.Now()),
		done:      make(chan struct{}),
	}
}

// Start begins ticking until the auction ends, Stop is called or ctx is cancelled
func (c *Countdown) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx)
}

func (c *Countdown) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.tick(ctx) {
				return
			}
		}
	}
}

// tick returns true once the auction has been finalized
func (c *Countdown) tick(ctx context.Context) bool {
	now := c.clock.Now()

	c.mu.Lock()
	remaining := c.endTime.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	c.remaining = remaining
	c.mu.Unlock()

	if c.onTick != nil {
		c.onTick(c.auctionID, remaining)
	}
	if remaining > 0 {
		return false
	}

	outcome, err := c.finalizer.FinalizeIfExpired(ctx, c.auctionID)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("Failed to finalize auction", "auction_id", c.auctionID, "error", err)
		}
		return false
	}

	if !outcome.Ended {
		// a late bid pushed the deadline out
		c.Extend(outcome.EndTime)
		return false
	}
	return true
}

// Extend moves the deadline the countdown is waiting for
func (c *Countdown) Extend(endTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endTime = endTime
}

// Remaining returns the remaining time computed on the last tick
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// EndTime returns the deadline the countdown is waiting for
func (c *Countdown) EndTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endTime
}

// Stop cancels the countdown without waiting for it to exit.
// It is safe to call from the finalizer and more than once.
func (c *Countdown) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed once the countdown has stopped ticking
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}

// Scheduler owns one countdown per open auction
type Scheduler struct {
	finalizer Finalizer
	clock     clock.Clock
	interval  time.Duration
	onTick    TickFunc
	logger    *slog.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.Mutex
	countdowns map[uuid.UUID]*Countdown
	wg         sync.WaitGroup
}

// NewScheduler creates a scheduler. onTick may be nil.
func NewScheduler(finalizer Finalizer, clk clock.Clock, interval time.Duration, onTick TickFunc, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		finalizer:  finalizer,
		clock:      clk,
		interval:   interval,
		onTick:     onTick,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		countdowns: make(map[uuid.UUID]*Countdown),
	}
}

// Track starts a countdown for the auction, or moves the deadline of the
// one already running
func (s *Scheduler) Track(auction *Auction) {
	if auction.Status == StatusEnded {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}

	if existing, ok := s.countdowns[auction.ID]; ok {
		existing.Extend(auction.EndTime)
		return
	}

	c := NewCountdown(auction.ID, auction.EndTime, s.finalizer, s.clock, s.interval, s.onTick, s.logger)
	s.countdowns[auction.ID] = c
	c.Start(s.ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-c.Done()
		s.remove(auction.ID, c)
	}()
}

// Untrack stops the countdown of an auction, if any
func (s *Scheduler) Untrack(auctionID uuid.UUID) {
	s.mu.Lock()
	c, ok := s.countdowns[auctionID]
	delete(s.countdowns, auctionID)
	s.mu.Unlock()

	if ok {
		c.Stop()
	}
}

func (s *Scheduler) remove(auctionID uuid.UUID, c *Countdown) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countdowns[auctionID] == c {
		delete(s.countdowns, auctionID)
	}
}

// Remaining returns the remaining time of a tracked auction
func (s *Scheduler) Remaining(auctionID uuid.UUID) (time.Duration, bool) {
	s.mu.Lock()
	c, ok := s.countdowns[auctionID]
	s.mu.Unlock()
	if !ok {
		return 0, false
	}
	return c.Remaining(), true
}

// Active returns the number of running countdowns
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.countdowns)
}

// Run blocks until ctx is cancelled, then stops every countdown
func (s *Scheduler) Run(ctx context.Context) error {
	<-ctx.Done()
	s.Close()
	return nil
}

// Close stops every countdown and waits for them to exit
func (s *Scheduler) Close() {
	// cancel under the lock so Track cannot add a countdown after Wait starts
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}
