package persistence

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisBackend is a Backend storing each document in a Redis hash:
//
//	<prefix><id>  => HASH { rev: <revision>, body: <json> }
//
// Conditional writes use WATCH/MULTI so a concurrent writer aborts the
// transaction instead of being overwritten.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend creates a RedisBackend.
// prefix is optional but recommended (e.g. "disturb_context:").
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultIndex + ":"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(id string) string {
	return b.prefix + id
}

func (b *RedisBackend) Load(ctx context.Context, id string) (Document, error) {
	vals, err := b.client.HGetAll(ctx, b.key(id)).Result()
	if err != nil {
		return Document{}, err
	}
	return decodeRedisHash(id, vals)
}

func decodeRedisHash(id string, vals map[string]string) (Document, error) {
	if len(vals) == 0 {
		return Document{}, ErrNotFound
	}
	rev, err := strconv.ParseUint(vals["rev"], 10, 64)
	if err != nil {
		return Document{}, fmt.Errorf("redis: bad revision for %s: %w", id, err)
	}
	return Document{ID: id, Revision: rev, Body: []byte(vals["body"])}, nil
}

func (b *RedisBackend) Insert(ctx context.Context, id string, body []byte) (uint64, error) {
	key := b.key(id)
	err := b.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "rev", 1, "body", body)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, ErrExists
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}

func (b *RedisBackend) Replace(ctx context.Context, id string, rev uint64, body []byte) (uint64, error) {
	key := b.key(id)
	err := b.client.Watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		doc, err := decodeRedisHash(id, vals)
		if err != nil {
			return err
		}
		if doc.Revision != rev {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "rev", rev+1, "body", body)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, ErrConflict
	}
	if err != nil {
		return 0, err
	}
	return rev + 1, nil
}

func (b *RedisBackend) Remove(ctx context.Context, id string) error {
	n, err := b.client.Del(ctx, b.key(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
