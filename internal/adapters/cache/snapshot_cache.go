package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/floroz/marketalloc/internal/domain/auctions"
)

// DefaultTTL bounds how stale a snapshot can get if an invalidation is lost
const DefaultTTL = 30 * time.Second

const keyPrefix = "auction:snapshot:"

// snapshot is the cached form of an auction, bids excluded
type snapshot struct {
	ID           uuid.UUID       `json:"id"`
	SellerID     uuid.UUID       `json:"seller_id"`
	Title        string          `json:"title"`
	StartPrice   int64           `json:"start_price"`
	CurrentPrice int64           `json:"current_price"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	Status       auctions.Status `json:"status"`
	WinnerID     *uuid.UUID      `json:"winner_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// RedisSnapshotCache implements auctions.SnapshotCache on Redis
type RedisSnapshotCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisSnapshotCache creates a snapshot cache. A non-positive ttl uses DefaultTTL.
func NewRedisSnapshotCache(client redis.Cmdable, ttl time.Duration) *RedisSnapshotCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisSnapshotCache{client: client, ttl: ttl}
}

func key(auctionID uuid.UUID) string {
	return keyPrefix + auctionID.String()
}

// Get returns the cached auction. ok is false on a miss.
func (c *RedisSnapshotCache) Get(ctx context.Context, auctionID uuid.UUID) (*auctions.Auction, bool, error) {
	raw, err := c.client.Get(ctx, key(auctionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var s snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &auctions.Auction{
		ID:           s.ID,
		SellerID:     s.SellerID,
		Title:        s.Title,
		StartPrice:   s.StartPrice,
		CurrentPrice: s.CurrentPrice,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
		Status:       s.Status,
		WinnerID:     s.WinnerID,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}, true, nil
}

// Set stores the auction under its id with the cache TTL
func (c *RedisSnapshotCache) Set(ctx context.Context, a *auctions.Auction) error {
	raw, err := json.Marshal(snapshot{
		ID:           a.ID,
		SellerID:     a.SellerID,
		Title:        a.Title,
		StartPrice:   a.StartPrice,
		CurrentPrice: a.CurrentPrice,
		StartTime:    a.StartTime,
		EndTime:      a.EndTime,
		Status:       a.Status,
		WinnerID:     a.WinnerID,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, key(a.ID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Invalidate drops the cached snapshot
func (c *RedisSnapshotCache) Invalidate(ctx context.Context, auctionID uuid.UUID) error {
	if err := c.client.Del(ctx, key(auctionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
