package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// CheckpointStore persists successful step results so a replayed run can
// skip steps that already completed.
type CheckpointStore struct {
	client RedisClient
	ttl    time.Duration
}

func NewCheckpointStore(client RedisClient, ttl time.Duration) *CheckpointStore {
	return &CheckpointStore{client: client, ttl: ttl}
}

func checkpointKey(runID, step string) string {
	return fmt.Sprintf("job:%s:step:%s", runID, step)
}

func (s *CheckpointStore) Load(ctx context.Context, runID, step string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, checkpointKey(runID, step))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(raw), true, nil
}

func (s *CheckpointStore) Save(ctx context.Context, runID, step string, data []byte) error {
	return s.client.Set(ctx, checkpointKey(runID, step), data, s.ttl)
}
