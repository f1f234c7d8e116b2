package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/floroz/marketalloc/internal/domain/auctions"
	"github.com/floroz/marketalloc/internal/domain/borrows"
	"github.com/floroz/marketalloc/internal/domain/waitlist"
)

type Auction struct {
	ID           uuid.UUID  `json:"id"`
	SellerID     uuid.UUID  `json:"seller_id"`
	Title        string     `json:"title"`
	StartPrice   int64      `json:"start_price"`
	CurrentPrice int64      `json:"current_price"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      time.Time  `json:"end_time"`
	Status       string     `json:"status"`
	WinnerID     *uuid.UUID `json:"winner_id,omitempty"`
	Bids         []Bid      `json:"bids,omitempty"`
}

type Bid struct {
	ID        uuid.UUID `json:"id"`
	AuctionID uuid.UUID `json:"auction_id"`
	BidderID  uuid.UUID `json:"bidder_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

type Borrowable struct {
	ID          uuid.UUID       `json:"id"`
	SellerID    uuid.UUID       `json:"seller_id"`
	Title       string          `json:"title"`
	DailyRate   decimal.Decimal `json:"daily_rate"`
	IsBorrowed  bool            `json:"is_borrowed"`
	BorrowerID  *uuid.UUID      `json:"borrower_id,omitempty"`
	BorrowStart *time.Time      `json:"borrow_start,omitempty"`
	BorrowEnd   *time.Time      `json:"borrow_end,omitempty"`
}

type WaitlistEntry struct {
	UserID           uuid.UUID  `json:"user_id"`
	ResourceID       uuid.UUID  `json:"resource_id"`
	Position         int        `json:"position"`
	JoinedAt         time.Time  `json:"joined_at"`
	PreferredEndDate *time.Time `json:"preferred_end_date,omitempty"`
}

type PlaceBidRequest struct {
	AuctionID uuid.UUID `json:"auction_id" validate:"required"`
	Amount    int64     `json:"amount"`
}

type PlaceBidResponse struct {
	Bid          Bid       `json:"bid"`
	CurrentPrice int64     `json:"current_price"`
	EndTime      time.Time `json:"end_time"`
	Extended     bool      `json:"extended"`
}

type GetAuctionRequest struct {
	AuctionID   uuid.UUID `json:"auction_id" validate:"required"`
	IncludeBids bool      `json:"include_bids"`
}

type GetAuctionResponse struct {
	Auction          Auction `json:"auction"`
	RemainingSeconds int64   `json:"remaining_seconds"`
}

type ListBidsRequest struct {
	AuctionID uuid.UUID `json:"auction_id" validate:"required"`
}

type ListBidsResponse struct {
	Bids []Bid `json:"bids"`
}

// CreateAuctionRequest dates are optional; missing ones are normalized
type CreateAuctionRequest struct {
	Title      string    `json:"title" validate:"required,max=200"`
	StartPrice int64     `json:"start_price"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
}

type CreateAuctionResponse struct {
	Auction Auction `json:"auction"`
}

type FinalizeAuctionRequest struct {
	AuctionID uuid.UUID `json:"auction_id" validate:"required"`
}

type FinalizeAuctionResponse struct {
	AuctionID  uuid.UUID  `json:"auction_id"`
	Ended      bool       `json:"ended"`
	Finalized  bool       `json:"finalized"`
	WinnerID   *uuid.UUID `json:"winner_id,omitempty"`
	FinalPrice int64      `json:"final_price"`
	EndTime    time.Time  `json:"end_time"`
}

type RequestBorrowRequest struct {
	ResourceID uuid.UUID `json:"resource_id" validate:"required"`
	StartDate  time.Time `json:"start_date" validate:"required"`
	EndDate    time.Time `json:"end_date" validate:"required"`
}

type RequestBorrowResponse struct{}

type CreateBorrowableRequest struct {
	Title     string          `json:"title" validate:"required,max=200"`
	DailyRate decimal.Decimal `json:"daily_rate"`
}

type CreateBorrowableResponse struct {
	Borrowable Borrowable `json:"borrowable"`
}

// GetBorrowableRequest prices Days days; zero uses the configured borrow period
type GetBorrowableRequest struct {
	ResourceID uuid.UUID `json:"resource_id" validate:"required"`
	Days       int       `json:"days" validate:"omitempty,min=1,max=365"`
}

type GetBorrowableResponse struct {
	Borrowable Borrowable      `json:"borrowable"`
	Days       int             `json:"days"`
	RatedCost  decimal.Decimal `json:"rated_cost"`
}

type GetWaitlistRequest struct {
	ResourceID uuid.UUID `json:"resource_id" validate:"required"`
}

type GetWaitlistResponse struct {
	Entries []WaitlistEntry `json:"entries"`
}

type GetWaitlistPositionRequest struct {
	ResourceID uuid.UUID `json:"resource_id" validate:"required"`
}

// GetWaitlistPositionResponse Position is -1 when the user is not queued
type GetWaitlistPositionResponse struct {
	Position int  `json:"position"`
	Queued   bool `json:"queued"`
}

type GetWaitlistSizeRequest struct {
	ResourceID uuid.UUID `json:"resource_id" validate:"required"`
}

type GetWaitlistSizeResponse struct {
	Size int `json:"size"`
}

type ListUserWaitlistsRequest struct{}

type ListUserWaitlistsResponse struct {
	Entries []WaitlistEntry `json:"entries"`
}

type LeaveWaitlistRequest struct {
	ResourceID uuid.UUID `json:"resource_id" validate:"required"`
}

type LeaveWaitlistResponse struct{}

type IsOnWaitlistRequest struct {
	ResourceID uuid.UUID `json:"resource_id" validate:"required"`
}

type IsOnWaitlistResponse struct {
	Queued bool `json:"queued"`
}

func toAuction(a *auctions.Auction) Auction {
	out := Auction{
		ID:           a.ID,
		SellerID:     a.SellerID,
		Title:        a.Title,
		StartPrice:   a.StartPrice,
		CurrentPrice: a.CurrentPrice,
		StartTime:    a.StartTime,
		EndTime:      a.EndTime,
		Status:       string(a.Status),
		WinnerID:     a.WinnerID,
	}
	if len(a.Bids) > 0 {
		out.Bids = toBids(a.Bids)
	}
	return out
}

func toBid(b *auctions.Bid) Bid {
	return Bid{
		ID:        b.ID,
		AuctionID: b.AuctionID,
		BidderID:  b.BidderID,
		Amount:    b.Amount,
		CreatedAt: b.CreatedAt,
	}
}

func toBids(bids []*auctions.Bid) []Bid {
	out := make([]Bid, len(bids))
	for i, b := range bids {
		out[i] = toBid(b)
	}
	return out
}

func toBorrowable(b *borrows.Borrowable) Borrowable {
	return Borrowable{
		ID:          b.ID,
		SellerID:    b.SellerID,
		Title:       b.Title,
		DailyRate:   b.DailyRate,
		IsBorrowed:  b.IsBorrowed,
		BorrowerID:  b.BorrowerID,
		BorrowStart: b.BorrowStart,
		BorrowEnd:   b.BorrowEnd,
	}
}

func toEntry(e *waitlist.Entry, position int) WaitlistEntry {
	return WaitlistEntry{
		UserID:           e.UserID,
		ResourceID:       e.ResourceID,
		Position:         position,
		JoinedAt:         e.JoinedAt,
		PreferredEndDate: e.PreferredEndDate,
	}
}
