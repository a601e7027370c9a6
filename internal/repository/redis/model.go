package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"liqzones/internal/ml/zonepredictor"
	"liqzones/pkg/errors"
)

// ModelStore persists the trained predictor blob under a single key
type ModelStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewModelStore creates a model store. A zero ttl keeps the model forever.
func NewModelStore(client *redis.Client, key string, ttl time.Duration) *ModelStore {
	return &ModelStore{client: client, key: key, ttl: ttl}
}

// Save stores the trained model
func (s *ModelStore) Save(ctx context.Context, p *zonepredictor.Predictor) error {
	data, err := p.MarshalModel()
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "failed to save model to redis: key=%s", s.key)
	}
	return nil
}

// Load restores the model into p. ErrNotFound when no model was stored.
func (s *ModelStore) Load(ctx context.Context, p *zonepredictor.Predictor) error {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return errors.Wrapf(errors.ErrNotFound, "model not found: key=%s", s.key)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to get model from redis: key=%s", s.key)
	}

	return p.UnmarshalModel(data)
}
