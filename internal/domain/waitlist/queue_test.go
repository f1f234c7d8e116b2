package waitlist_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floroz/marketalloc/internal/domain/waitlist"
	"github.com/floroz/marketalloc/internal/domain/waitlist/waitlisttest"
	"github.com/floroz/marketalloc/pkg/apperrors"
	"github.com/floroz/marketalloc/pkg/clock"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newQueue() (*waitlist.Queue, *waitlisttest.Repository, *clock.Fake) {
	repo := waitlisttest.NewRepository()
	clk := clock.NewFake(t0)
	return waitlist.NewQueue(repo, clk), repo, clk
}

func TestQueue_FIFO(t *testing.T) {
	q, _, clk := newQueue()
	ctx := context.Background()
	resource := uuid.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	for _, user := range []uuid.UUID{a, b, c} {
		_, _, err := q.Enqueue(ctx, nil, user, resource, nil)
		require.NoError(t, err)
		clk.Advance(time.Second)
	}

	for _, want := range []uuid.UUID{a, b, c} {
		head, err := q.DequeueHead(ctx, nil, resource)
		require.NoError(t, err)
		require.NotNil(t, head)
		assert.Equal(t, want, head.UserID)
	}

	head, err := q.DequeueHead(ctx, nil, resource)
	require.NoError(t, err)
	assert.Nil(t, head)
}

func TestQueue_SameInstantKeepsInsertionOrder(t *testing.T) {
	q, _, _ := newQueue()
	ctx := context.Background()
	resource := uuid.New()
	first, second := uuid.New(), uuid.New()

	_, _, err := q.Enqueue(ctx, nil, first, resource, nil)
	require.NoError(t, err)
	_, ahead, err := q.Enqueue(ctx, nil, second, resource, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ahead)

	head, err := q.DequeueHead(ctx, nil, resource)
	require.NoError(t, err)
	assert.Equal(t, first, head.UserID)
}

func TestQueue_PositionAfterEnqueue(t *testing.T) {
	q, _, clk := newQueue()
	ctx := context.Background()
	resource := uuid.New()
	other := uuid.New()

	// entries on another resource never count
	_, _, err := q.Enqueue(ctx, nil, uuid.New(), other, nil)
	require.NoError(t, err)

	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	for i, user := range users {
		clk.Advance(time.Minute)
		_, ahead, err := q.Enqueue(ctx, nil, user, resource, nil)
		require.NoError(t, err)
		assert.Equal(t, i, ahead)

		pos, err := q.Position(ctx, user, resource)
		require.NoError(t, err)
		assert.Equal(t, i, pos)
	}

	pos, err := q.Position(ctx, uuid.New(), resource)
	require.NoError(t, err)
	assert.Equal(t, waitlist.NotQueued, pos)

	// removing the head moves everyone up
	_, err = q.DequeueHead(ctx, nil, resource)
	require.NoError(t, err)
	pos, err = q.Position(ctx, users[3], resource)
	require.NoError(t, err)
	assert.Equal(t, 2, pos)
}

func TestQueue_RejectsDuplicates(t *testing.T) {
	q, _, _ := newQueue()
	ctx := context.Background()
	user, resource := uuid.New(), uuid.New()

	_, _, err := q.Enqueue(ctx, nil, user, resource, nil)
	require.NoError(t, err)

	_, _, err = q.Enqueue(ctx, nil, user, resource, nil)
	require.ErrorIs(t, err, waitlist.ErrAlreadyQueued)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	size, err := q.Size(ctx, resource)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestQueue_EnqueueValidation(t *testing.T) {
	q, _, _ := newQueue()

	_, _, err := q.Enqueue(context.Background(), nil, uuid.Nil, uuid.New(), nil)
	assert.ErrorIs(t, err, waitlist.ErrMissingID)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestQueue_EnqueueKeepsPreferredEnd(t *testing.T) {
	q, _, _ := newQueue()
	preferred := t0.Add(72 * time.Hour)

	entry, _, err := q.Enqueue(context.Background(), nil, uuid.New(), uuid.New(), &preferred)
	require.NoError(t, err)
	assert.Equal(t, t0, entry.JoinedAt)
	require.NotNil(t, entry.PreferredEndDate)
	assert.Equal(t, preferred, *entry.PreferredEndDate)
}

func TestQueue_ListOrderedAndForUser(t *testing.T) {
	q, _, clk := newQueue()
	ctx := context.Background()
	user := uuid.New()
	r1, r2 := uuid.New(), uuid.New()

	_, _, err := q.Enqueue(ctx, nil, uuid.New(), r1, nil)
	require.NoError(t, err)
	clk.Advance(time.Second)
	_, _, err = q.Enqueue(ctx, nil, user, r1, nil)
	require.NoError(t, err)
	clk.Advance(time.Second)
	_, _, err = q.Enqueue(ctx, nil, user, r2, nil)
	require.NoError(t, err)

	ordered, err := q.ListOrdered(ctx, r1)
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, user, ordered[1].UserID)
	assert.True(t, ordered[0].JoinedAt.Before(ordered[1].JoinedAt))

	mine, err := q.ListForUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, r1, mine[0].ResourceID)
	assert.Equal(t, r2, mine[1].ResourceID)
}

func TestQueue_LeaveAndIsQueued(t *testing.T) {
	q, _, _ := newQueue()
	ctx := context.Background()
	user, resource := uuid.New(), uuid.New()

	_, _, err := q.Enqueue(ctx, nil, user, resource, nil)
	require.NoError(t, err)

	queued, err := q.IsQueued(ctx, user, resource)
	require.NoError(t, err)
	assert.True(t, queued)

	require.NoError(t, q.Leave(ctx, user, resource))

	queued, err = q.IsQueued(ctx, user, resource)
	require.NoError(t, err)
	assert.False(t, queued)

	err = q.Leave(ctx, user, resource)
	assert.ErrorIs(t, err, waitlist.ErrNotQueued)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestQueue_PersistenceErrors(t *testing.T) {
	q, repo, _ := newQueue()
	repo.Err = errors.New("connection refused")
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, nil, uuid.New(), uuid.New(), nil)
	assert.ErrorIs(t, err, apperrors.ErrPersistence)

	_, err = q.DequeueHead(ctx, nil, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrPersistence)

	_, err = q.Size(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
}
