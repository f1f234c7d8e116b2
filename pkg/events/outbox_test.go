package events

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/floroz/marketalloc/pkg/testhelpers"
)

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPendingEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, tx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) UpdateEventStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status OutboxStatus) error {
	args := m.Called(ctx, tx, id, status)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, exchange, routingKey string, msg Message) error {
	args := m.Called(ctx, exchange, routingKey, msg)
	return args.Error(0)
}

func pendingEvents(n int) []*OutboxEvent {
	out := make([]*OutboxEvent, n)
	for i := range out {
		out[i] = &OutboxEvent{
			ID:          uuid.New(),
			AggregateID: uuid.New(),
			EventType:   "bid.placed",
			Payload:     []byte{byte(i)},
			Status:      OutboxStatusPending,
			CreatedAt:   time.Now().UTC(),
		}
	}
	return out
}

func TestProcessBatch_PublishesAndCommits(t *testing.T) {
	repo := new(MockOutboxRepository)
	pub := new(MockPublisher)
	txm := &testhelpers.FakeTxManager{}
	relay := NewOutboxRelay(repo, pub, txm, 10, time.Second, "marketplace.events", slog.Default())

	events := pendingEvents(2)
	repo.On("GetPendingEvents", mock.Anything, mock.Anything, 10).Return(events, nil).Once()
	for _, e := range events {
		pub.On("Publish", mock.Anything, "marketplace.events", "bid.placed", Message{
			ID: e.ID, Type: e.EventType, Body: e.Payload, Timestamp: e.CreatedAt,
		}).Return(nil).Once()
		repo.On("UpdateEventStatus", mock.Anything, mock.Anything, e.ID, OutboxStatusPublished).Return(nil).Once()
	}

	n, err := relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, txm.Last().Committed())
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestProcessBatch_Empty(t *testing.T) {
	repo := new(MockOutboxRepository)
	pub := new(MockPublisher)
	txm := &testhelpers.FakeTxManager{}
	relay := NewOutboxRelay(repo, pub, txm, 5, time.Second, "x", slog.Default())

	repo.On("GetPendingEvents", mock.Anything, mock.Anything, 5).Return([]*OutboxEvent{}, nil).Once()

	n, err := relay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, txm.Last().Committed())
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessBatch_PublishFailureRollsBack(t *testing.T) {
	repo := new(MockOutboxRepository)
	pub := new(MockPublisher)
	txm := &testhelpers.FakeTxManager{}
	relay := NewOutboxRelay(repo, pub, txm, 10, time.Second, "x", slog.Default())

	events := pendingEvents(2)
	repo.On("GetPendingEvents", mock.Anything, mock.Anything, 10).Return(events, nil).Once()
	pub.On("Publish", mock.Anything, "x", "bid.placed", mock.Anything).Return(errors.New("channel closed")).Once()

	n, err := relay.ProcessBatch(context.Background())
	require.Error(t, err)
	assert.Zero(t, n)
	assert.False(t, txm.Last().Committed())
	assert.True(t, txm.Last().RolledBack())
	repo.AssertNotCalled(t, "UpdateEventStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessBatch_BeginFailure(t *testing.T) {
	txm := &testhelpers.FakeTxManager{BeginErr: errors.New("pool closed")}
	relay := NewOutboxRelay(new(MockOutboxRepository), new(MockPublisher), txm, 10, time.Second, "x", slog.Default())

	_, err := relay.ProcessBatch(context.Background())
	assert.ErrorContains(t, err, "pool closed")
}

func TestRun_StopsOnCancel(t *testing.T) {
	repo := new(MockOutboxRepository)
	txm := &testhelpers.FakeTxManager{}
	relay := NewOutboxRelay(repo, new(MockPublisher), txm, 10, 10*time.Millisecond, "x", slog.Default())

	var polls atomic.Int32
	repo.On("GetPendingEvents", mock.Anything, mock.Anything, 10).
		Run(func(mock.Arguments) { polls.Add(1) }).
		Return([]*OutboxEvent{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool { return polls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
