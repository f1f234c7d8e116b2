// Package waitlisttest provides an in-memory waitlist.Repository for tests
package waitlisttest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/marketalloc/internal/domain/waitlist"
)

// Repository keeps entries in memory. Transactions are ignored.
type Repository struct {
	mu      sync.Mutex
	entries []*waitlist.Entry
	seq     int64

	// Err, when set, is returned by every method
	Err error
}

// NewRepository creates an empty repository
func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, entry *waitlist.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	for _, e := range r.entries {
		if e.UserID == entry.UserID && e.ResourceID == entry.ResourceID {
			return waitlist.ErrAlreadyQueued
		}
	}
	r.seq++
	entry.Seq = r.seq
	cp := *entry
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *Repository) Exists(ctx context.Context, tx pgx.Tx, userID, resourceID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	return r.find(userID, resourceID) >= 0, nil
}

func (r *Repository) CountAhead(ctx context.Context, tx pgx.Tx, resourceID uuid.UUID, joinedAt time.Time, seq int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	pivot := &waitlist.Entry{JoinedAt: joinedAt, Seq: seq}
	n := 0
	for _, e := range r.entries {
		if e.ResourceID == resourceID && e.Before(pivot) {
			n++
		}
	}
	return n, nil
}

func (r *Repository) PopHead(ctx context.Context, tx pgx.Tx, resourceID uuid.UUID) (*waitlist.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	head := -1
	for i, e := range r.entries {
		if e.ResourceID != resourceID {
			continue
		}
		if head < 0 || e.Before(r.entries[head]) {
			head = i
		}
	}
	if head < 0 {
		return nil, nil
	}
	entry := r.entries[head]
	r.entries = append(r.entries[:head], r.entries[head+1:]...)
	return entry, nil
}

func (r *Repository) GetEntry(ctx context.Context, userID, resourceID uuid.UUID) (*waitlist.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	i := r.find(userID, resourceID)
	if i < 0 {
		return nil, nil
	}
	cp := *r.entries[i]
	return &cp, nil
}

func (r *Repository) Delete(ctx context.Context, userID, resourceID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	i := r.find(userID, resourceID)
	if i < 0 {
		return false, nil
	}
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	return true, nil
}

func (r *Repository) Count(ctx context.Context, resourceID uuid.UUID) (int, error) {
	entries, err := r.ListByResource(ctx, resourceID)
	return len(entries), err
}

func (r *Repository) ListByResource(ctx context.Context, resourceID uuid.UUID) ([]*waitlist.Entry, error) {
	return r.filter(func(e *waitlist.Entry) bool { return e.ResourceID == resourceID })
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*waitlist.Entry, error) {
	return r.filter(func(e *waitlist.Entry) bool { return e.UserID == userID })
}

func (r *Repository) filter(keep func(*waitlist.Entry) bool) ([]*waitlist.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	var out []*waitlist.Entry
	for _, e := range r.entries {
		if keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (r *Repository) find(userID, resourceID uuid.UUID) int {
	for i, e := range r.entries {
		if e.UserID == userID && e.ResourceID == resourceID {
			return i
		}
	}
	return -1
}
