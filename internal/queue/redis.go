package queue

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps the queue document under a fixed key and appends dead
// letters to a list at "<key>:dead".
type RedisStorage struct {
	client *redis.Client
	key    string
}

// NewRedisStorage builds storage on an existing client. The client stays owned
// by the caller.
func NewRedisStorage(client *redis.Client, key string) *RedisStorage {
	if key == "" {
		key = "dojo:offline_queue"
	}
	return &RedisStorage{client: client, key: key}
}

func (r *RedisStorage) deadKey() string { return r.key + ":dead" }

func (r *RedisStorage) Load(ctx context.Context) ([]Item, error) {
	b, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "queue: redis get")
	}
	return decodeItems(b)
}

func (r *RedisStorage) Save(ctx context.Context, items []Item) error {
	b, err := encodeItems(items)
	if err != nil {
		return err
	}
	return errors.Wrap(r.client.Set(ctx, r.key, b, 0).Err(), "queue: redis set")
}

func (r *RedisStorage) AppendDeadLetter(ctx context.Context, dl DeadLetter) error {
	b, err := json.Marshal(dl)
	if err != nil {
		return errors.Wrap(err, "queue: encode dead letter")
	}
	return errors.Wrap(r.client.RPush(ctx, r.deadKey(), b).Err(), "queue: redis rpush")
}

func (r *RedisStorage) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	raw, err := r.client.LRange(ctx, r.deadKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "queue: redis lrange")
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, s := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(s), &dl); err != nil {
			return nil, errors.Wrapf(ErrCorruptQueue, "dead letter: %v", err)
		}
		out = append(out, dl)
	}
	return out, nil
}

func (r *RedisStorage) Close() error { return nil }
