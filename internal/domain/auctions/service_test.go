package auctions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	domainevents "github.com/floroz/marketalloc/internal/domain/events"
	"github.com/floroz/marketalloc/pkg/apperrors"
	"github.com/floroz/marketalloc/pkg/clock"
	"github.com/floroz/marketalloc/pkg/events"
	"github.com/floroz/marketalloc/pkg/testhelpers"
)

// memStore is an in-memory AuctionRepository, BidRepository and OutboxRepository
type memStore struct {
	mu       sync.Mutex
	auctions map[uuid.UUID]*Auction
	bids     map[uuid.UUID][]*Bid
	outbox   []*events.OutboxEvent
}

func newMemStore() *memStore {
	return &memStore{
		auctions: make(map[uuid.UUID]*Auction),
		bids:     make(map[uuid.UUID][]*Bid),
	}
}

func (m *memStore) CreateAuction(ctx context.Context, auction *Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *auction
	m.auctions[auction.ID] = &cp
	return nil
}

func (m *memStore) GetAuctionByID(ctx context.Context, auctionID uuid.UUID) (*Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auctionID]
	if !ok {
		return nil, ErrAuctionNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) GetAuctionByIDForUpdate(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (*Auction, error) {
	return m.GetAuctionByID(ctx, auctionID)
}

func (m *memStore) UpdatePrice(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID, amount int64, endTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auctions[auctionID].CurrentPrice = amount
	m.auctions[auctionID].EndTime = endTime
	return nil
}

func (m *memStore) MarkEnded(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID, winnerID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auctions[auctionID].Status = StatusEnded
	m.auctions[auctionID].WinnerID = winnerID
	return nil
}

func (m *memStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, a := range m.auctions {
		if a.Status == StatusActive && !a.EndTime.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) ListActive(ctx context.Context, limit int) ([]*Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []*Auction
	for _, a := range m.auctions {
		if a.Status == StatusActive {
			cp := *a
			active = append(active, &cp)
		}
	}
	return active, nil
}

func (m *memStore) SaveBid(ctx context.Context, tx pgx.Tx, bid *Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bids[bid.AuctionID] = append(m.bids[bid.AuctionID], bid)
	return nil
}

func (m *memStore) GetLastBid(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (*Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bids := m.bids[auctionID]
	if len(bids) == 0 {
		return nil, nil
	}
	return bids[len(bids)-1], nil
}

func (m *memStore) ListBids(ctx context.Context, auctionID uuid.UUID) ([]*Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Bid(nil), m.bids[auctionID]...), nil
}

func (m *memStore) SaveEvent(ctx context.Context, tx pgx.Tx, event *events.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = append(m.outbox, event)
	return nil
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.outbox))
	for _, e := range m.outbox {
		types = append(types, e.EventType)
	}
	return types
}

// recordingTracker remembers Track and Untrack calls
type recordingTracker struct {
	mu        sync.Mutex
	tracked   []*Auction
	untracked []uuid.UUID
}

func (r *recordingTracker) Track(a *Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.tracked = append(r.tracked, &cp)
}

func (r *recordingTracker) Untrack(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.untracked = append(r.untracked, id)
}

type fixture struct {
	svc     *Service
	store   *memStore
	tx      *testhelpers.FakeTxManager
	clock   *clock.Fake
	tracker *recordingTracker
}

var baseTime = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		store:   newMemStore(),
		tx:      &testhelpers.FakeTxManager{},
		clock:   clock.NewFake(baseTime),
		tracker: &recordingTracker{},
	}
	opts = append([]Option{WithClock(f.clock)}, opts...)
	f.svc = NewService(f.tx, f.store, f.store, f.store, opts...)
	f.svc.UseTracker(f.tracker)
	return f
}

func (f *fixture) seed(t *testing.T, startPrice int64, start, end time.Time) *Auction {
	t.Helper()
	a := &Auction{
		ID:           uuid.New(),
		SellerID:     uuid.New(),
		Title:        "Vintage Guitar",
		StartPrice:   startPrice,
		CurrentPrice: startPrice,
		StartTime:    start,
		EndTime:      end,
		Status:       StatusActive,
	}
	require.NoError(t, f.store.CreateAuction(context.Background(), a))
	return a
}

func TestInitializeDates(t *testing.T) {
	now := baseTime
	tests := []struct {
		name  string
		in    Auction
		check func(*testing.T, Auction)
	}{
		{
			name: "unset dates default to now and a week",
			in:   Auction{StartPrice: 100, CurrentPrice: 100},
			check: func(t *testing.T, a Auction) {
				assert.Equal(t, now, a.StartTime)
				assert.Equal(t, now.Add(DefaultDuration), a.EndTime)
			},
		},
		{
			name: "dates before the sentinel are treated as unset",
			in: Auction{
				StartTime:    time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Hour),
				EndTime:      time.Date(1700, 1, 1, 0, 0, 0, 0, time.UTC),
				StartPrice:   100,
				CurrentPrice: 100,
			},
			check: func(t *testing.T, a Auction) {
				assert.Equal(t, now, a.StartTime)
				assert.Equal(t, now.Add(DefaultDuration), a.EndTime)
			},
		},
		{
			name: "past end time is pushed a week from now",
			in:   Auction{StartTime: now.Add(-time.Hour), EndTime: now.Add(-time.Minute), StartPrice: 1, CurrentPrice: 1},
			check: func(t *testing.T, a Auction) {
				assert.Equal(t, now.Add(-time.Hour), a.StartTime)
				assert.Equal(t, now.Add(DefaultDuration), a.EndTime)
			},
		},
		{
			name: "end not after a future start is pushed a week after start",
			in:   Auction{StartTime: now.Add(30 * 24 * time.Hour), EndTime: now.Add(time.Hour), StartPrice: 1, CurrentPrice: 1},
			check: func(t *testing.T, a Auction) {
				assert.Equal(t, now.Add(30*24*time.Hour).Add(DefaultDuration), a.EndTime)
				assert.True(t, a.EndTime.After(a.StartTime))
			},
		},
		{
			name: "valid dates are kept",
			in:   Auction{StartTime: now, EndTime: now.Add(time.Hour), StartPrice: 1, CurrentPrice: 1},
			check: func(t *testing.T, a Auction) {
				assert.Equal(t, now, a.StartTime)
				assert.Equal(t, now.Add(time.Hour), a.EndTime)
			},
		},
		{
			name: "current price copied into missing start price",
			in:   Auction{CurrentPrice: 250},
			check: func(t *testing.T, a Auction) {
				assert.Equal(t, int64(250), a.StartPrice)
				assert.Equal(t, int64(250), a.CurrentPrice)
			},
		},
		{
			name: "start price copied into missing current price",
			in:   Auction{StartPrice: 300, CurrentPrice: -1},
			check: func(t *testing.T, a Auction) {
				assert.Equal(t, int64(300), a.StartPrice)
				assert.Equal(t, int64(300), a.CurrentPrice)
			},
		},
		{
			name: "both prices non-positive are left alone",
			in:   Auction{},
			check: func(t *testing.T, a Auction) {
				assert.Equal(t, int64(0), a.StartPrice)
				assert.Equal(t, int64(0), a.CurrentPrice)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.in
			InitializeDates(&a, now)
			tt.check(t, a)
		})
	}
}

func TestService_PlaceBid_Sequence(t *testing.T) {
	f := newFixture()
	a := f.seed(t, 100, baseTime.Add(-time.Hour), baseTime.Add(24*time.Hour))
	ctx := context.Background()

	steps := []struct {
		amount  int64
		wantErr error
		price   int64
	}{
		{80, ErrBidTooLow, 100},
		{150, nil, 150},
		{150, ErrBidTooLow, 150},
		{200, nil, 200},
	}

	for _, step := range steps {
		res, err := f.svc.PlaceBid(ctx, PlaceBidCommand{AuctionID: a.ID, BidderID: uuid.New(), Amount: step.amount})
		if step.wantErr != nil {
			require.ErrorIs(t, err, step.wantErr)
			assert.Nil(t, res)
		} else {
			require.NoError(t, err)
			assert.Equal(t, step.price, res.CurrentPrice)
		}

		stored, getErr := f.store.GetAuctionByID(ctx, a.ID)
		require.NoError(t, getErr)
		assert.Equal(t, step.price, stored.CurrentPrice)
	}

	bids, err := f.svc.ListBids(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, bids, 2)
	assert.Equal(t, []string{"bid.placed", "bid.placed"}, f.store.eventTypes())
}

func TestService_PlaceBid_MonotonicPrice(t *testing.T) {
	f := newFixture()
	a := f.seed(t, 100, baseTime.Add(-time.Hour), baseTime.Add(24*time.Hour))
	ctx := context.Background()

	amounts := []int64{50, 120, 110, 120, 300, 299, 301, 1, 500}
	maxAccepted := a.StartPrice
	accepted := 0
	last := a.StartPrice

	for _, amount := range amounts {
		_, err := f.svc.PlaceBid(ctx, PlaceBidCommand{AuctionID: a.ID, BidderID: uuid.New(), Amount: amount})
		if err == nil {
			accepted++
			if amount > maxAccepted {
				maxAccepted = amount
			}
		} else {
			assert.ErrorIs(t, err, apperrors.ErrConflict)
		}

		stored, _ := f.store.GetAuctionByID(ctx, a.ID)
		assert.GreaterOrEqual(t, stored.CurrentPrice, last)
		assert.Equal(t, maxAccepted, stored.CurrentPrice)
		last = stored.CurrentPrice
	}

	bids, _ := f.svc.ListBids(ctx, a.ID)
	assert.Len(t, bids, accepted)
	for i := 1; i < len(bids); i++ {
		assert.Greater(t, bids[i].Amount, bids[i-1].Amount)
	}
}

func TestService_PlaceBid_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.PlaceBid(ctx, PlaceBidCommand{AuctionID: uuid.New(), BidderID: uuid.New(), Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidBidAmount)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.svc.PlaceBid(ctx, PlaceBidCommand{AuctionID: uuid.New(), Amount: 100})
	assert.ErrorIs(t, err, ErrMissingID)

	assert.Equal(t, 0, f.tx.Count(), "validation must fail before any transaction starts")
}

func TestService_PlaceBid_NotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.PlaceBid(context.Background(), PlaceBidCommand{AuctionID: uuid.New(), BidderID: uuid.New(), Amount: 100})
	require.ErrorIs(t, err, ErrAuctionNotFound)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.False(t, f.tx.Last().Committed())
}

func TestService_PlaceBid_AfterDeadline(t *testing.T) {
	f := newFixture()
	a := f.seed(t, 100, baseTime.Add(-2*time.Hour), baseTime.Add(time.Hour))
	ctx := context.Background()

	_, err := f.svc.PlaceBid(ctx, PlaceBidCommand{AuctionID: a.ID, BidderID: uuid.New(), Amount: 150})
	require.NoError(t, err)

	// exactly at the deadline counts as ended
	f.clock.Set(baseTime.Add(time.Hour))

	_, err = f.svc.PlaceBid(ctx, PlaceBidCommand{AuctionID: a.ID, BidderID: uuid.New(), Amount: 1_000_000})
	require.ErrorIs(t, err, ErrAuctionEnded)

	stored, _ := f.store.GetAuctionByID(ctx, a.ID)
	assert.Equal(t, StatusEnded, stored.Status, "the lazy transition is committed")
	assert.Equal(t, int64(150), stored.CurrentPrice)
	require.NotNil(t, stored.WinnerID)
	assert.True(t, f.tx.Last().Committed())
	assert.Equal(t, []string{"bid.placed", "auction.ended"}, f.store.eventTypes())
	assert.Contains(t, f.tracker.untracked, a.ID)

	// the already-ended path rejects without a second event
	_, err = f.svc.PlaceBid(ctx, PlaceBidCommand{AuctionID: a.ID, BidderID: uuid.New(), Amount: 2_000_000})
	require.ErrorIs(t, err, ErrAuctionEnded)
	assert.Len(t, f.store.eventTypes(), 2)

	bids, _ := f.svc.ListBids(ctx, a.ID)
	assert.Len(t, bids, 1)
}

func TestService_PlaceBid_NotStarted(t *testing.T) {
	f := newFixture()
	a := f.seed(t, 100, baseTime.Add(time.Hour), baseTime.Add(48*time.Hour))

	_, err := f.svc.PlaceBid(context.Background(), PlaceBidCommand{AuctionID: a.ID, BidderID: uuid.New(), Amount: 150})
	assert.ErrorIs(t, err, ErrAuctionNotStarted)
	assert.Empty(t, f.store.eventTypes())
}

func TestService_PlaceBid_SellerPolicy(t *testing.T) {
	t.Run("rejected by default", func(t *testing.T) {
		f := newFixture()
		a := f.seed(t, 100, baseTime.Add(-time.Hour), baseTime.Add(time.Hour))

		_, err := f.svc.PlaceBid(context.Background(), PlaceBidCommand{AuctionID: a.ID, BidderID: a.SellerID, Amount: 150})
		assert.ErrorIs(t, err, ErrSellerCannotBid)
	})

	t.Run("allowed when the policy is off", func(t *testing.T) {
		f := newFixture(WithSellerBidPolicy(false))
		a := f.seed(t, 100, baseTime.Add(-time.Hour), baseTime.Add(time.Hour))

		_, err := f.svc.PlaceBid(context.Background(), PlaceBidCommand{AuctionID: a.ID, BidderID: a.SellerID, Amount: 150})
		assert.NoError(t, err)
	})
}

func TestService_PlaceBid_ExtendsNearDeadline(t *testing.T) {
	f := newFixture()
	a := f.seed(t, 100, baseTime.Add(-time.Hour), baseTime.Add(2*time.Minute))

	res, err := f.svc.PlaceBid(context.Background(), PlaceBidCommand{AuctionID: a.ID, BidderID: uuid.New(), Amount: 150})
	require.NoError(t, err)

	assert.True(t, res.Extended)
	assert.Equal(t, baseTime.Add(DefaultSnipeWindow), res.EndTime)

	stored, _ := f.store.GetAuctionByID(context.Background(), a.ID)
	assert.Equal(t, baseTime.Add(DefaultSnipeWindow), stored.EndTime)
	require.Len(t, f.tracker.tracked, 1)
	assert.Equal(t, res.EndTime, f.tracker.tracked[0].EndTime)
}

func TestService_PlaceBid_NoExtensionWhenDisabled(t *testing.T) {
	f := newFixture(WithSnipeWindow(0))
	a := f.seed(t, 100, baseTime.Add(-time.Hour), baseTime.Add(time.Minute))

	res, err := f.svc.PlaceBid(context.Background(), PlaceBidCommand{AuctionID: a.ID, BidderID: uuid.New(), Amount: 150})
	require.NoError(t, err)
	assert.False(t, res.Extended)
	assert.Equal(t, a.EndTime, res.EndTime)
}

func TestService_FinalizeIfExpired_NoBids(t *testing.T) {
	f := newFixture()
	a := f.seed(t, 100, baseTime.Add(-48*time.Hour), baseTime.Add(-time.Hour))

	outcome, err := f.svc.FinalizeIfExpired(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Ended)
	assert.True(t, outcome.Finalized)
	assert.Nil(t, outcome.WinnerID)
	assert.Equal(t, int64(100), outcome.FinalPrice)

	stored, _ := f.store.GetAuctionByID(context.Background(), a.ID)
	assert.Equal(t, StatusEnded, stored.Status)
	assert.Nil(t, stored.WinnerID)
	assert.Equal(t, int64(100), stored.CurrentPrice)
}

func TestService_FinalizeIfExpired_Idempotent(t *testing.T) {
	f := newFixture()
	a := f.seed(t, 100, baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	ctx := context.Background()

	bidder := uuid.New()
	_, err := f.svc.PlaceBid(ctx, PlaceBidCommand{AuctionID: a.ID, BidderID: uuid.New(), Amount: 150})
	require.NoError(t, err)
	_, err = f.svc.PlaceBid(ctx, PlaceBidCommand{AuctionID: a.ID, BidderID: bidder, Amount: 175})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)

	first, err := f.svc.FinalizeIfExpired(ctx, a.ID)
	require.NoError(t, err)
	afterFirst, _ := f.store.GetAuctionByID(ctx, a.ID)

	second, err := f.svc.FinalizeIfExpired(ctx, a.ID)
	require.NoError(t, err)
	afterSecond, _ := f.store.GetAuctionByID(ctx, a.ID)

	assert.True(t, first.Finalized)
	assert.False(t, second.Finalized)
	assert.True(t, second.Ended)
	require.NotNil(t, first.WinnerID)
	assert.Equal(t, bidder, *first.WinnerID)
	assert.Equal(t, first.WinnerID, second.WinnerID)
	assert.Equal(t, first.FinalPrice, second.FinalPrice)
	assert.Equal(t, afterFirst, afterSecond)

	var ended int
	for _, typ := range f.store.eventTypes() {
		if typ == domainevents.TypeAuctionEnded.String() {
			ended++
		}
	}
	assert.Equal(t, 1, ended)
}

func TestService_FinalizeIfExpired_StillOpen(t *testing.T) {
	f := newFixture()
	a := f.seed(t, 100, baseTime.Add(-time.Hour), baseTime.Add(time.Hour))

	outcome, err := f.svc.FinalizeIfExpired(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, outcome.Ended)
	assert.False(t, outcome.Finalized)
	assert.Equal(t, a.EndTime, outcome.EndTime)
	assert.False(t, f.tx.Last().Committed())
}

func TestService_CreateAuction(t *testing.T) {
	f := newFixture()

	a, err := f.svc.CreateAuction(context.Background(), CreateAuctionCommand{
		SellerID:   uuid.New(),
		Title:      "Rare Coin",
		StartPrice: 500,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusActive, a.Status)
	assert.Equal(t, int64(500), a.CurrentPrice)
	assert.Equal(t, baseTime, a.StartTime)
	assert.Equal(t, baseTime.Add(DefaultDuration), a.EndTime)
	require.Len(t, f.tracker.tracked, 1)
	assert.Equal(t, a.ID, f.tracker.tracked[0].ID)

	_, err = f.svc.CreateAuction(context.Background(), CreateAuctionCommand{SellerID: uuid.New(), Title: "x"})
	assert.ErrorIs(t, err, ErrInvalidStartPrice)
	_, err = f.svc.CreateAuction(context.Background(), CreateAuctionCommand{SellerID: uuid.New(), StartPrice: 1})
	assert.ErrorIs(t, err, ErrInvalidTitle)
}

func TestService_TrackActive(t *testing.T) {
	f := newFixture()
	f.seed(t, 100, baseTime, baseTime.Add(time.Hour))
	f.seed(t, 100, baseTime, baseTime.Add(2*time.Hour))

	n, err := f.svc.TrackActive(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, f.tracker.tracked, 2)
}

// MockBidRepository is used to inject persistence failures
type MockBidRepository struct {
	mock.Mock
}

func (m *MockBidRepository) SaveBid(ctx context.Context, tx pgx.Tx, bid *Bid) error {
	args := m.Called(ctx, tx, bid)
	return args.Error(0)
}

func (m *MockBidRepository) GetLastBid(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (*Bid, error) {
	args := m.Called(ctx, tx, auctionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Bid), args.Error(1)
}

func (m *MockBidRepository) ListBids(ctx context.Context, auctionID uuid.UUID) ([]*Bid, error) {
	args := m.Called(ctx, auctionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Bid), args.Error(1)
}

func TestService_PlaceBid_PersistenceFailure(t *testing.T) {
	store := newMemStore()
	bidRepo := new(MockBidRepository)
	txManager := &testhelpers.FakeTxManager{}
	clk := clock.NewFake(baseTime)
	svc := NewService(txManager, store, bidRepo, store, WithClock(clk))

	a := &Auction{ID: uuid.New(), SellerID: uuid.New(), StartPrice: 100, CurrentPrice: 100,
		StartTime: baseTime.Add(-time.Hour), EndTime: baseTime.Add(time.Hour), Status: StatusActive}
	require.NoError(t, store.CreateAuction(context.Background(), a))

	bidRepo.On("SaveBid", mock.Anything, mock.Anything, mock.AnythingOfType("*auctions.Bid")).
		Return(errors.New("connection reset"))

	_, err := svc.PlaceBid(context.Background(), PlaceBidCommand{AuctionID: a.ID, BidderID: uuid.New(), Amount: 150})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
	assert.Equal(t, apperrors.ReasonPersistence, apperrors.ReasonOf(err))

	assert.False(t, txManager.Last().Committed())
	assert.True(t, txManager.Last().RolledBack())
	stored, _ := store.GetAuctionByID(context.Background(), a.ID)
	assert.Equal(t, int64(100), stored.CurrentPrice)
	assert.Empty(t, store.eventTypes())
	bidRepo.AssertExpectations(t)
}

func TestService_PlaceBid_CommitFailure(t *testing.T) {
	f := newFixture()
	f.tx.CommitErr = errors.New("serialization failure")
	a := f.seed(t, 100, baseTime.Add(-time.Hour), baseTime.Add(time.Hour))

	_, err := f.svc.PlaceBid(context.Background(), PlaceBidCommand{AuctionID: a.ID, BidderID: uuid.New(), Amount: 150})
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
}

// MockSnapshotCache is a mock implementation of SnapshotCache
type MockSnapshotCache struct {
	mock.Mock
}

func (m *MockSnapshotCache) Get(ctx context.Context, auctionID uuid.UUID) (*Auction, bool, error) {
	args := m.Called(ctx, auctionID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*Auction), args.Bool(1), args.Error(2)
}

func (m *MockSnapshotCache) Set(ctx context.Context, auction *Auction) error {
	args := m.Called(ctx, auction)
	return args.Error(0)
}

func (m *MockSnapshotCache) Invalidate(ctx context.Context, auctionID uuid.UUID) error {
	args := m.Called(ctx, auctionID)
	return args.Error(0)
}

func TestService_GetSnapshot(t *testing.T) {
	t.Run("miss reads the store and fills the cache", func(t *testing.T) {
		cache := new(MockSnapshotCache)
		f := newFixture(WithCache(cache))
		a := f.seed(t, 100, baseTime, baseTime.Add(time.Hour))

		cache.On("Get", mock.Anything, a.ID).Return(nil, false, nil)
		cache.On("Set", mock.Anything, mock.MatchedBy(func(got *Auction) bool { return got.ID == a.ID })).Return(nil)

		got, err := f.svc.GetSnapshot(context.Background(), a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
		cache.AssertExpectations(t)
	})

	t.Run("hit skips the store", func(t *testing.T) {
		cache := new(MockSnapshotCache)
		f := newFixture(WithCache(cache))
		cached := &Auction{ID: uuid.New(), Title: "cached"}

		cache.On("Get", mock.Anything, cached.ID).Return(cached, true, nil)

		got, err := f.svc.GetSnapshot(context.Background(), cached.ID)
		require.NoError(t, err)
		assert.Equal(t, "cached", got.Title)
		cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything)
	})

	t.Run("cache errors fall back to the store", func(t *testing.T) {
		cache := new(MockSnapshotCache)
		f := newFixture(WithCache(cache))
		a := f.seed(t, 100, baseTime, baseTime.Add(time.Hour))

		cache.On("Get", mock.Anything, a.ID).Return(nil, false, errors.New("redis down"))
		cache.On("Set", mock.Anything, mock.Anything).Return(errors.New("redis down"))

		got, err := f.svc.GetSnapshot(context.Background(), a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
	})

	t.Run("accepted bid invalidates", func(t *testing.T) {
		cache := new(MockSnapshotCache)
		f := newFixture(WithCache(cache))
		a := f.seed(t, 100, baseTime.Add(-time.Hour), baseTime.Add(time.Hour))

		cache.On("Invalidate", mock.Anything, a.ID).Return(nil).Once()

		_, err := f.svc.PlaceBid(context.Background(), PlaceBidCommand{AuctionID: a.ID, BidderID: uuid.New(), Amount: 150})
		require.NoError(t, err)
		cache.AssertExpectations(t)
	})
}

func TestService_GetAuction_IncludesBids(t *testing.T) {
	f := newFixture()
	a := f.seed(t, 100, baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	ctx := context.Background()

	_, err := f.svc.PlaceBid(ctx, PlaceBidCommand{AuctionID: a.ID, BidderID: uuid.New(), Amount: 150})
	require.NoError(t, err)

	got, err := f.svc.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, got.Bids, 1)
	assert.Equal(t, int64(150), got.Bids[0].Amount)

	_, err = f.svc.GetAuction(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAuctionNotFound)
}

func TestService_ListExpired(t *testing.T) {
	f := newFixture()
	expired := f.seed(t, 100, baseTime.Add(-2*time.Hour), baseTime.Add(-time.Hour))
	f.seed(t, 100, baseTime, baseTime.Add(time.Hour))

	ids, err := f.svc.ListExpired(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{expired.ID}, ids)
}
