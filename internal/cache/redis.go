package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Domenick1991/bookingcore/internal/orders"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCacheWithClient(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// GetOffer returns nil, nil on a miss.
func (c *RedisCache) GetOffer(ctx context.Context, id string) (*orders.Offer, error) {
	data, err := c.client.Get(ctx, offerKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var offer orders.Offer
	if err := json.Unmarshal(data, &offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

func (c *RedisCache) SetOffer(ctx context.Context, offer *orders.Offer, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, offerKey(offer.ID), payload, ttl).Err()
}

func (c *RedisCache) DeleteOffer(ctx context.Context, id string) error {
	return c.client.Del(ctx, offerKey(id)).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func offerKey(id string) string {
	return "cache:offer:" + id
}
