package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"liqzones/internal/domain/zone"
	"liqzones/pkg/errors"
)

// Compile-time check
var _ zone.CheckpointStore = (*CheckpointStore)(nil)

// CheckpointStore keeps the streaming active-zone map in a Redis hash per coin,
// one field per zone ID
type CheckpointStore struct {
	client *redis.Client
}

// NewCheckpointStore creates a new checkpoint store
func NewCheckpointStore(client *redis.Client) *CheckpointStore {
	return &CheckpointStore{client: client}
}

// SaveActive replaces the stored map for the coin atomically
func (s *CheckpointStore) SaveActive(ctx context.Context, coin string, active map[string]zone.Zone) error {
	key := s.getKey(coin)

	fields := make(map[string]interface{}, len(active))
	for id, z := range active {
		data, err := json.Marshal(z)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal zone %s", id)
		}
		fields[id] = data
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to save active zones: coin=%s", coin)
	}
	return nil
}

// LoadActive returns the stored map, empty when nothing was checkpointed
func (s *CheckpointStore) LoadActive(ctx context.Context, coin string) (map[string]zone.Zone, error) {
	raw, err := s.client.HGetAll(ctx, s.getKey(coin)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load active zones: coin=%s", coin)
	}

	active := make(map[string]zone.Zone, len(raw))
	for id, data := range raw {
		var z zone.Zone
		if err := json.Unmarshal([]byte(data), &z); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal zone %s: coin=%s", id, coin)
		}
		active[id] = z
	}
	return active, nil
}

func (s *CheckpointStore) getKey(coin string) string {
	return fmt.Sprintf("liqzones:active:%s", coin)
}
