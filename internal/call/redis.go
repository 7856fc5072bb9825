package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "signalcore:call:"

// RedisStore is a Store backed by a shared Redis instance, for fleets that
// want live session state visible outside the owning process. Snapshots are
// stored as JSON with a TTL so crashed processes cannot leak sessions
// forever.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(callID string) string { return redisKeyPrefix + callID }

func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal call %s: %w", snap.ID, err)
	}
	if err := s.client.Set(ctx, redisKey(snap.ID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save call %s: %w", snap.ID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, callID string) error {
	if err := s.client.Del(ctx, redisKey(callID)).Err(); err != nil {
		return fmt.Errorf("delete call %s: %w", callID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, callID string) (Snapshot, bool, error) {
	payload, err := s.client.Get(ctx, redisKey(callID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("get call %s: %w", callID, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode call %s: %w", callID, err)
	}
	return snap, true, nil
}
