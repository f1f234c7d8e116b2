package events

import (
	"time"

	"github.com/google/uuid"
)

// Type is the routing key of a domain event
type Type string

const (
	TypeBidPlaced      Type = "bid.placed"
	TypeAuctionEnded   Type = "auction.ended"
	TypeWaitlistJoined Type = "waitlist.joined"
	TypeBorrowAssigned Type = "borrow.assigned"
	TypeBorrowReleased Type = "borrow.released"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is known
func (t Type) IsValid() bool {
	switch t {
	case TypeBidPlaced, TypeAuctionEnded, TypeWaitlistJoined, TypeBorrowAssigned, TypeBorrowReleased:
		return true
	default:
		return false
	}
}

// Event is the closed set of allocation events. Every variant is a struct in
// this package; Marshal and Unmarshal switch over them explicitly.
type Event interface {
	EventType() Type
	AggregateID() uuid.UUID
	OccurredAt() time.Time
	isEvent()
}

// BidPlaced is emitted for every accepted bid
type BidPlaced struct {
	BidID     uuid.UUID
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	Amount    int64
	EndTime   time.Time
	PlacedAt  time.Time
}

func (e BidPlaced) EventType() Type { return TypeBidPlaced }
func (e BidPlaced) AggregateID() uuid.UUID { return e.AuctionID }
func (e BidPlaced) OccurredAt() time.Time { return e.PlacedAt }
func (BidPlaced) isEvent() {}

// AuctionEnded is emitted once, when an auction transitions to ended
type AuctionEnded struct {
	AuctionID  uuid.UUID
	SellerID   uuid.UUID
	WinnerID   *uuid.UUID
	FinalPrice int64
	EndedAt    time.Time
}

func (e AuctionEnded) EventType() Type { return TypeAuctionEnded }
func (e AuctionEnded) AggregateID() uuid.UUID { return e.AuctionID }
func (e AuctionEnded) OccurredAt() time.Time { return e.EndedAt }
func (AuctionEnded) isEvent() {}

// WaitlistJoined is emitted when a user is queued for a borrowable
type WaitlistJoined struct {
	ResourceID       uuid.UUID
	UserID           uuid.UUID
	Position         int
	PreferredEndDate *time.Time
	JoinedAt         time.Time
}

func (e WaitlistJoined) EventType() Type { return TypeWaitlistJoined }
func (e WaitlistJoined) AggregateID() uuid.UUID { return e.ResourceID }
func (e WaitlistJoined) OccurredAt() time.Time { return e.JoinedAt }
func (WaitlistJoined) isEvent() {}

// BorrowAssigned is emitted when the allocator hands a borrowable to a claimant
type BorrowAssigned struct {
	ResourceID  uuid.UUID
	BorrowerID  uuid.UUID
	BorrowStart time.Time
	BorrowEnd   time.Time
	AssignedAt  time.Time
}

func (e BorrowAssigned) EventType() Type { return TypeBorrowAssigned }
func (e BorrowAssigned) AggregateID() uuid.UUID { return e.ResourceID }
func (e BorrowAssigned) OccurredAt() time.Time { return e.AssignedAt }
func (BorrowAssigned) isEvent() {}

// BorrowReleased is emitted when a borrowed item becomes free with nobody waiting
type BorrowReleased struct {
	ResourceID         uuid.UUID
	PreviousBorrowerID *uuid.UUID
	ReleasedAt         time.Time
}

func (e BorrowReleased) EventType() Type { return TypeBorrowReleased }
func (e BorrowReleased) AggregateID() uuid.UUID { return e.ResourceID }
func (e BorrowReleased) OccurredAt() time.Time { return e.ReleasedAt }
func (BorrowReleased) isEvent() {}
