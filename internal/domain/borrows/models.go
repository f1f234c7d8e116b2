package borrows

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/floroz/marketalloc/internal/domain/waitlist"
)

// DefaultBorrowDays is the length of a borrow period
const DefaultBorrowDays = 7

// Borrowable is a listing lent to waitlisted claimants in FIFO order.
// IsBorrowed is true exactly when BorrowStart and BorrowEnd are set.
type Borrowable struct {
	ID          uuid.UUID       `db:"id"`
	SellerID    uuid.UUID       `db:"seller_id"`
	Title       string          `db:"title"`
	DailyRate   decimal.Decimal `db:"daily_rate"`
	BorrowStart *time.Time      `db:"borrow_start"`
	BorrowEnd   *time.Time      `db:"borrow_end"`
	IsBorrowed  bool            `db:"is_borrowed"`
	BorrowerID  *uuid.UUID      `db:"borrower_id"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// IsBusy reports whether the current borrow period is still running at now
func (b *Borrowable) IsBusy(now time.Time) bool {
	return b.IsBorrowed && b.BorrowEnd != nil && b.BorrowEnd.After(now)
}

// assign hands the item to the entry's user. The period starts at the
// entry's join time, not at the moment of assignment.
func (b *Borrowable) assign(entry *waitlist.Entry, days int) {
	start := entry.JoinedAt
	end := start.AddDate(0, 0, days)
	borrower := entry.UserID

	b.BorrowStart = &start
	b.BorrowEnd = &end
	b.IsBorrowed = true
	b.BorrowerID = &borrower
}

func (b *Borrowable) clear() {
	b.BorrowStart = nil
	b.BorrowEnd = nil
	b.IsBorrowed = false
	b.BorrowerID = nil
}

// hasBorrowFields reports whether any assignment field is set
func (b *Borrowable) hasBorrowFields() bool {
	return b.IsBorrowed || b.BorrowStart != nil || b.BorrowEnd != nil || b.BorrowerID != nil
}

// RatedCost returns the price of borrowing for the given number of days
func (b *Borrowable) RatedCost(days int) decimal.Decimal {
	return b.DailyRate.Mul(decimal.NewFromInt(int64(days)))
}
