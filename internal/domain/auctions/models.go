package auctions

import (
	"time"

	"github.com/google/uuid"

	"github.com/floroz/marketalloc/pkg/clock"
)

// DefaultDuration is applied when an auction is created without a usable end time
const DefaultDuration = 7 * 24 * time.Hour

// Status represents the lifecycle of an auction
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Auction is a listing allocated to the highest bidder before EndTime.
// Prices are in minor currency units.
type Auction struct {
	ID           uuid.UUID  `db:"id"`
	SellerID     uuid.UUID  `db:"seller_id"`
	Title        string     `db:"title"`
	StartPrice   int64      `db:"start_price"`
	CurrentPrice int64      `db:"current_price"`
	StartTime    time.Time  `db:"start_time"`
	EndTime      time.Time  `db:"end_time"`
	Status       Status     `db:"status"`
	WinnerID     *uuid.UUID `db:"winner_id"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`

	// Bids is only populated by GetAuction, oldest first
	Bids []*Bid `db:"-"`
}

// Bid is an accepted offer. Bids are append-only.
type Bid struct {
	ID        uuid.UUID `db:"id"`
	AuctionID uuid.UUID `db:"auction_id"`
	BidderID  uuid.UUID `db:"bidder_id"`
	Amount    int64     `db:"amount"`
	CreatedAt time.Time `db:"created_at"`
}

// IsOwnedBy checks if the auction belongs to the given seller
func (a *Auction) IsOwnedBy(userID uuid.UUID) bool {
	return a.SellerID == userID
}

// IsEnded reports whether the auction no longer accepts bids at now
func (a *Auction) IsEnded(now time.Time) bool {
	return a.Status == StatusEnded || !now.Before(a.EndTime)
}

// HasStarted reports whether bidding has opened at now
func (a *Auction) HasStarted(now time.Time) bool {
	return !now.Before(a.StartTime)
}

// Remaining returns the time left before the deadline, never negative
func (a *Auction) Remaining(now time.Time) time.Duration {
	if a.Status == StatusEnded {
		return 0
	}
	if d := a.EndTime.Sub(now); d > 0 {
		return d
	}
	return 0
}

// InitializeDates normalizes an auction before it is first persisted.
// It only mutates a.
func InitializeDates(a *Auction, now time.Time) {
	if clock.IsUnset(a.StartTime) {
		a.StartTime = now
	}

	if clock.IsUnset(a.EndTime) || a.EndTime.Before(now) {
		a.EndTime = now.Add(DefaultDuration)
	}

	if !a.EndTime.After(a.StartTime) {
		a.EndTime = a.StartTime.Add(DefaultDuration)
	}

	switch {
	case a.StartPrice <= 0 && a.CurrentPrice > 0:
		a.StartPrice = a.CurrentPrice
	case a.CurrentPrice <= 0 && a.StartPrice > 0:
		a.CurrentPrice = a.StartPrice
	}
}
