package auctions

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	domainevents "github.com/floroz/marketalloc/internal/domain/events"
	"github.com/floroz/marketalloc/pkg/apperrors"
	"github.com/floroz/marketalloc/pkg/clock"
	"github.com/floroz/marketalloc/pkg/database"
)

// DefaultSnipeWindow is how close to the deadline a bid must land to extend it
const DefaultSnipeWindow = 5 * time.Minute

var (
	ErrInvalidBidAmount  = apperrors.Validation("INVALID_BID_AMOUNT", "bid amount must be positive")
	ErrMissingID         = apperrors.Validation("MISSING_ID", "auction id and bidder id are required")
	ErrInvalidTitle      = apperrors.Validation("INVALID_TITLE", "title is required")
	ErrInvalidStartPrice = apperrors.Validation("INVALID_START_PRICE", "start price must be greater than 0")
	ErrAuctionNotFound   = apperrors.NotFound("AUCTION_NOT_FOUND", "auction not found")
	ErrAuctionEnded      = apperrors.Conflict("AUCTION_ENDED", "auction has ended")
	ErrAuctionNotStarted = apperrors.Conflict("AUCTION_NOT_STARTED", "auction has not started yet")
	ErrBidTooLow         = apperrors.Conflict("BID_TOO_LOW", "bid amount must be higher than current price")
	ErrSellerCannotBid   = apperrors.Conflict("SELLER_CANNOT_BID", "seller cannot bid on their own auction")
)

type PlaceBidCommand struct {
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	Amount    int64
}

// BidResult is the state of the auction right after an accepted bid
type BidResult struct {
	Bid          *Bid
	CurrentPrice int64
	EndTime      time.Time
	Extended     bool
}

type CreateAuctionCommand struct {
	SellerID   uuid.UUID
	Title      string
	StartPrice int64
	StartTime  time.Time
	EndTime    time.Time
}

// Outcome is the result of a finalization check
type Outcome struct {
	AuctionID  uuid.UUID
	Ended      bool
	Finalized  bool // true only for the call that performed the transition
	WinnerID   *uuid.UUID
	FinalPrice int64
	EndTime    time.Time
}

// Option configures a Service
type Option func(*Service)

// WithCache enables read-through snapshot caching
func WithCache(cache SnapshotCache) Option {
	return func(s *Service) { s.cache = cache }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithSnipeWindow sets the anti-sniping window. Zero disables extensions.
func WithSnipeWindow(d time.Duration) Option {
	return func(s *Service) { s.snipeWindow = d }
}

// WithSellerBidPolicy controls whether sellers are rejected when bidding on their own auction
func WithSellerBidPolicy(reject bool) Option {
	return func(s *Service) { s.rejectSellerBids = reject }
}

// Service implements the auction ledger
type Service struct {
	txManager   database.TransactionManager
	auctionRepo AuctionRepository
	bidRepo     BidRepository
	outboxRepo  OutboxRepository

	cache            SnapshotCache
	tracker          Tracker
	metrics          Metrics
	clock            clock.Clock
	logger           *slog.Logger
	snipeWindow      time.Duration
	rejectSellerBids bool
}

// NewService creates a new auction service
func NewService(
	txManager database.TransactionManager,
	auctionRepo AuctionRepository,
	bidRepo BidRepository,
	outboxRepo OutboxRepository,
	opts ...Option,
) *Service {
	s := &Service{
		txManager:        txManager,
		auctionRepo:      auctionRepo,
		bidRepo:          bidRepo,
		outboxRepo:       outboxRepo,
		tracker:          nopTracker{},
		metrics:          nopMetrics{},
		clock:            clock.Real{},
		logger:           slog.Default(),
		snipeWindow:      DefaultSnipeWindow,
		rejectSellerBids: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UseTracker attaches the countdown scheduler. The scheduler needs the
// service as its finalizer, so it cannot be passed to NewService.
func (s *Service) UseTracker(t Tracker) {
	s.tracker = t
}

// CreateAuction normalizes and persists a new auction and starts its countdown
func (s *Service) CreateAuction(ctx context.Context, cmd CreateAuctionCommand) (*Auction, error) {
	if cmd.SellerID == uuid.Nil {
		return nil, ErrMissingID
	}
	if cmd.Title == "" {
		return nil, ErrInvalidTitle
	}
	if cmd.StartPrice <= 0 {
		return nil, ErrInvalidStartPrice
	}

	now := s.clock.Now()
	auction := &Auction{
		ID:           uuid.New(),
		SellerID:     cmd.SellerID,
		Title:        cmd.Title,
		StartPrice:   cmd.StartPrice,
		CurrentPrice: cmd.StartPrice,
		StartTime:    cmd.StartTime,
		EndTime:      cmd.EndTime,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	InitializeDates(auction, now)

	if err := s.auctionRepo.CreateAuction(ctx, auction); err != nil {
		return nil, apperrors.Persistence("failed to create auction", err)
	}

	s.tracker.Track(auction)
	s.logger.Info("Auction created", "auction_id", auction.ID, "end_time", auction.EndTime)
	return auction, nil
}

// PlaceBid validates and applies a bid under the auction row lock.
// The bid, the new price and the BidPlaced event commit together.
func (s *Service) PlaceBid(ctx context.Context, cmd PlaceBidCommand) (*BidResult, error) {
	result, err := s.placeBid(ctx, cmd)
	if err != nil {
		s.metrics.BidRejected(apperrors.ReasonOf(err))
		return nil, err
	}

	s.metrics.BidAccepted()
	if result.Extended {
		s.metrics.AuctionExtended()
	}
	s.invalidate(ctx, cmd.AuctionID)
	return result, nil
}

func (s *Service) placeBid(ctx context.Context, cmd PlaceBidCommand) (*BidResult, error) {
	if cmd.AuctionID == uuid.Nil || cmd.BidderID == uuid.Nil {
		return nil, ErrMissingID
	}
	if cmd.Amount <= 0 {
		return nil, ErrInvalidBidAmount
	}

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Persistence("failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // Rollback if commit is not called
	}()

	auction, err := s.lockAuction(ctx, tx, cmd.AuctionID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if auction.Status == StatusEnded {
		return nil, ErrAuctionEnded
	}
	if !now.Before(auction.EndTime) {
		// the deadline passed without a finalize; record the transition before rejecting
		outcome, finErr := s.finalizeLocked(ctx, tx, auction, now)
		if finErr != nil {
			return nil, finErr
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return nil, apperrors.Persistence("failed to commit transaction", commitErr)
		}
		s.afterFinalize(ctx, outcome)
		return nil, ErrAuctionEnded
	}
	if !auction.HasStarted(now) {
		return nil, ErrAuctionNotStarted
	}
	if s.rejectSellerBids && auction.IsOwnedBy(cmd.BidderID) {
		return nil, ErrSellerCannotBid
	}
	if cmd.Amount <= auction.CurrentPrice {
		return nil, ErrBidTooLow
	}

	endTime := auction.EndTime
	extended := false
	if s.snipeWindow > 0 && auction.EndTime.Sub(now) < s.snipeWindow {
		endTime = now.Add(s.snipeWindow)
		extended = true
	}

	bid := &Bid{
		ID:        uuid.New(),
		AuctionID: auction.ID,
		BidderID:  cmd.BidderID,
		Amount:    cmd.Amount,
		CreatedAt: now,
	}

	if saveErr := s.bidRepo.SaveBid(ctx, tx, bid); saveErr != nil {
		return nil, apperrors.Persistence("failed to save bid", saveErr)
	}

	if updErr := s.auctionRepo.UpdatePrice(ctx, tx, auction.ID, bid.Amount, endTime); updErr != nil {
		return nil, apperrors.Persistence("failed to update current price", updErr)
	}

	event := domainevents.BidPlaced{
		BidID:     bid.ID,
		AuctionID: bid.AuctionID,
		BidderID:  bid.BidderID,
		Amount:    bid.Amount,
		EndTime:   endTime,
		PlacedAt:  now,
	}
	if err := s.saveEvent(ctx, tx, event); err != nil {
		return nil, err
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return nil, apperrors.Persistence("failed to commit transaction", commitErr)
	}

	if extended {
		auction.CurrentPrice = bid.Amount
		auction.EndTime = endTime
		s.tracker.Track(auction)
	}

	return &BidResult{
		Bid:          bid,
		CurrentPrice: bid.Amount,
		EndTime:      endTime,
		Extended:     extended,
	}, nil
}

// FinalizeIfExpired ends the auction if its deadline has passed.
// It is idempotent: once ended, further calls report the recorded outcome.
func (s *Service) FinalizeIfExpired(ctx context.Context, auctionID uuid.UUID) (*Outcome, error) {
	if auctionID == uuid.Nil {
		return nil, ErrMissingID
	}

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.Persistence("failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	auction, err := s.lockAuction(ctx, tx, auctionID)
	if err != nil {
		return nil, err
	}

	outcome, err := s.finalizeLocked(ctx, tx, auction, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !outcome.Finalized {
		return outcome, nil
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return nil, apperrors.Persistence("failed to commit transaction", commitErr)
	}
	s.afterFinalize(ctx, outcome)
	return outcome, nil
}

// finalizeLocked requires the auction row to be locked by tx
func (s *Service) finalizeLocked(ctx context.Context, tx pgx.Tx, auction *Auction, now time.Time) (*Outcome, error) {
	outcome := &Outcome{
		AuctionID:  auction.ID,
		WinnerID:   auction.WinnerID,
		FinalPrice: auction.CurrentPrice,
		EndTime:    auction.EndTime,
	}

	if auction.Status == StatusEnded {
		outcome.Ended = true
		return outcome, nil
	}
	if now.Before(auction.EndTime) {
		return outcome, nil
	}

	// currentPrice is the running maximum, so the last bid is the highest
	last, err := s.bidRepo.GetLastBid(ctx, tx, auction.ID)
	if err != nil {
		return nil, apperrors.Persistence("failed to load last bid", err)
	}

	var winnerID *uuid.UUID
	if last != nil {
		id := last.BidderID
		winnerID = &id
	}

	if err := s.auctionRepo.MarkEnded(ctx, tx, auction.ID, winnerID); err != nil {
		return nil, apperrors.Persistence("failed to mark auction ended", err)
	}

	event := domainevents.AuctionEnded{
		AuctionID:  auction.ID,
		SellerID:   auction.SellerID,
		WinnerID:   winnerID,
		FinalPrice: auction.CurrentPrice,
		EndedAt:    now,
	}
	if err := s.saveEvent(ctx, tx, event); err != nil {
		return nil, err
	}

	auction.Status = StatusEnded
	auction.WinnerID = winnerID

	outcome.Ended = true
	outcome.Finalized = true
	outcome.WinnerID = winnerID
	return outcome, nil
}

func (s *Service) afterFinalize(ctx context.Context, outcome *Outcome) {
	s.metrics.AuctionFinalized(outcome.WinnerID != nil)
	s.tracker.Untrack(outcome.AuctionID)
	s.invalidate(ctx, outcome.AuctionID)
	s.logger.Info("Auction ended",
		"auction_id", outcome.AuctionID,
		"final_price", outcome.FinalPrice,
		"has_winner", outcome.WinnerID != nil,
	)
}

// GetAuction returns an auction with its full bid history
func (s *Service) GetAuction(ctx context.Context, auctionID uuid.UUID) (*Auction, error) {
	auction, err := s.getAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	bids, err := s.ListBids(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	auction.Bids = bids
	return auction, nil
}

// GetSnapshot returns the auction without bids, served from the cache when possible
func (s *Service) GetSnapshot(ctx context.Context, auctionID uuid.UUID) (*Auction, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, auctionID)
		if err != nil {
			s.logger.Warn("Snapshot cache read failed", "auction_id", auctionID, "error", err)
		} else if ok {
			return cached, nil
		}
	}

	auction, err := s.getAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, auction); err != nil {
			s.logger.Warn("Snapshot cache write failed", "auction_id", auctionID, "error", err)
		}
	}
	return auction, nil
}

// ListBids returns the bid history of an auction, oldest first
func (s *Service) ListBids(ctx context.Context, auctionID uuid.UUID) ([]*Bid, error) {
	bids, err := s.bidRepo.ListBids(ctx, auctionID)
	if err != nil {
		return nil, apperrors.Persistence("failed to list bids", err)
	}
	return bids, nil
}

// ListExpired returns active auctions whose deadline has passed
func (s *Service) ListExpired(ctx context.Context, limit int) ([]uuid.UUID, error) {
	ids, err := s.auctionRepo.ListExpired(ctx, s.clock.Now(), limit)
	if err != nil {
		return nil, apperrors.Persistence("failed to list expired auctions", err)
	}
	return ids, nil
}

// TrackActive registers every open auction with the tracker. Used on startup.
func (s *Service) TrackActive(ctx context.Context, limit int) (int, error) {
	active, err := s.auctionRepo.ListActive(ctx, limit)
	if err != nil {
		return 0, apperrors.Persistence("failed to list active auctions", err)
	}
	for _, a := range active {
		s.tracker.Track(a)
	}
	return len(active), nil
}

func (s *Service) getAuction(ctx context.Context, auctionID uuid.UUID) (*Auction, error) {
	if auctionID == uuid.Nil {
		return nil, ErrMissingID
	}
	auction, err := s.auctionRepo.GetAuctionByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, ErrAuctionNotFound) {
			return nil, ErrAuctionNotFound
		}
		return nil, apperrors.Persistence("failed to get auction", err)
	}
	return auction, nil
}

func (s *Service) lockAuction(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (*Auction, error) {
	// Lock the auction row so concurrent bids and finalizers serialize
	auction, err := s.auctionRepo.GetAuctionByIDForUpdate(ctx, tx, auctionID)
	if err != nil {
		if errors.Is(err, ErrAuctionNotFound) {
			return nil, ErrAuctionNotFound
		}
		return nil, apperrors.Persistence("failed to lock auction", err)
	}
	return auction, nil
}

func (s *Service) saveEvent(ctx context.Context, tx pgx.Tx, event domainevents.Event) error {
	outboxEvent, err := domainevents.NewOutboxEvent(event)
	if err != nil {
		return apperrors.Persistence("failed to encode event", err)
	}
	if err := s.outboxRepo.SaveEvent(ctx, tx, outboxEvent); err != nil {
		return apperrors.Persistence("failed to save outbox event", err)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, auctionID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, auctionID); err != nil {
		s.logger.Warn("Snapshot cache invalidation failed", "auction_id", auctionID, "error", err)
	}
}
