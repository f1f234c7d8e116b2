package waitlist

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one claimant queued for a borrowable resource.
// Entries are ordered by (JoinedAt, Seq); Seq breaks ties in insertion order.
type Entry struct {
	ID               uuid.UUID  `db:"id"`
	UserID           uuid.UUID  `db:"user_id"`
	ResourceID       uuid.UUID  `db:"resource_id"`
	JoinedAt         time.Time  `db:"joined_at"`
	PreferredEndDate *time.Time `db:"preferred_end_date"`
	Seq              int64      `db:"seq"`
}

// Before reports whether e is ahead of other in the queue
func (e *Entry) Before(other *Entry) bool {
	if e.JoinedAt.Equal(other.JoinedAt) {
		return e.Seq < other.Seq
	}
	return e.JoinedAt.Before(other.JoinedAt)
}
