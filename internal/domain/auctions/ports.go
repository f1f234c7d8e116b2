package auctions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/marketalloc/pkg/events"
)

// AuctionRepository defines the interface for auction persistence
type AuctionRepository interface {
	// CreateAuction saves a new auction
	CreateAuction(ctx context.Context, auction *Auction) error

	// GetAuctionByID retrieves an auction without bids.
	// Returns ErrAuctionNotFound when no row exists.
	GetAuctionByID(ctx context.Context, auctionID uuid.UUID) (*Auction, error)

	// GetAuctionByIDForUpdate retrieves an auction and locks its row until tx ends.
	// Every read-modify-write of an auction goes through this lock.
	GetAuctionByIDForUpdate(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (*Auction, error)

	// UpdatePrice sets the current price and end time within a transaction
	UpdatePrice(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID, amount int64, endTime time.Time) error

	// MarkEnded moves the auction to ended and records the winner, if any
	MarkEnded(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID, winnerID *uuid.UUID) error

	// ListExpired returns ids of active auctions whose end time is not after now
	ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// ListActive returns active auctions ordered by end time
	ListActive(ctx context.Context, limit int) ([]*Auction, error)
}

// BidRepository defines the interface for bid persistence
type BidRepository interface {
	// SaveBid saves a bid within a transaction
	SaveBid(ctx context.Context, tx pgx.Tx, bid *Bid) error

	// GetLastBid returns the most recent bid for an auction, or nil when there are none
	GetLastBid(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (*Bid, error)

	// ListBids returns all bids for an auction, oldest first
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]*Bid, error)
}

// OutboxRepository writes events in the same transaction as the state change
type OutboxRepository interface {
	SaveEvent(ctx context.Context, tx pgx.Tx, event *events.OutboxEvent) error
}

// SnapshotCache caches auctions (without bids) for reads
type SnapshotCache interface {
	Get(ctx context.Context, auctionID uuid.UUID) (*Auction, bool, error)
	Set(ctx context.Context, auction *Auction) error
	Invalidate(ctx context.Context, auctionID uuid.UUID) error
}

// Tracker keeps a countdown running for every open auction
type Tracker interface {
	Track(auction *Auction)
	Untrack(auctionID uuid.UUID)
}

// Metrics records auction outcomes
type Metrics interface {
	BidAccepted()
	BidRejected(reason string)
	AuctionExtended()
	AuctionFinalized(hasWinner bool)
}

type nopMetrics struct{}

func (nopMetrics) BidAccepted() {}
func (nopMetrics) BidRejected(string) {}
func (nopMetrics) AuctionExtended() {}
func (nopMetrics) AuctionFinalized(bool) {}

type nopTracker struct{}

func (nopTracker) Track(*Auction) {}
func (nopTracker) Untrack(uuid.UUID) {}
