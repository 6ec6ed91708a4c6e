package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"idchain/internal/ledger"
)

const keyPrefix = "idchain:identity:"

// Redis is a Store shared by every instance of the service.
type Redis struct {
	client redis.Cmdable
}

func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

func (s *Redis) Get(ctx context.Context, userID string) (*ledger.IdentityDetails, bool, error) {
	raw, err := s.client.Get(ctx, keyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var details ledger.IdentityDetails
	if err := json.Unmarshal(raw, &details); err != nil {
		return nil, false, fmt.Errorf("decode cached identity %s: %w", userID, err)
	}
	return &details, true, nil
}

func (s *Redis) Set(ctx context.Context, userID string, details *ledger.IdentityDetails, ttl time.Duration) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode identity %s: %w", userID, err)
	}
	return s.client.Set(ctx, keyPrefix+userID, raw, ttl).Err()
}

func (s *Redis) Delete(ctx context.Context, userID string) error {
	return s.client.Del(ctx, keyPrefix+userID).Err()
}
