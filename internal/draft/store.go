package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long an untouched draft survives.
const DefaultTTL = 7 * 24 * time.Hour

// RedisStore keeps one draft snapshot per user.
type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func draftKey(userID uuid.UUID) string {
	return "draft:task:" + userID.String()
}

// Save overwrites the user's draft and resets its expiry.
func (s *RedisStore) Save(ctx context.Context, userID uuid.UUID, snap Snapshot) error {
	if snap.Step == StepConfirmation {
		return fmt.Errorf("%w: submitted drafts are not saved", ErrWrongStep)
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, draftKey(userID), b, s.ttl).Err()
}

func (s *RedisStore) Load(ctx context.Context, userID uuid.UUID) (*Snapshot, error) {
	b, err := s.rdb.Get(ctx, draftKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoDraft
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	return &snap, nil
}

func (s *RedisStore) Delete(ctx context.Context, userID uuid.UUID) error {
	return s.rdb.Del(ctx, draftKey(userID)).Err()
}
