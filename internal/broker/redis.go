package broker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker is a Broker using one Redis list per topic: publishers LPUSH
// and subscribers BRPOP, so each message goes to a single consumer.
// Delivery is at-most-once; Ack is a no-op and Nak pushes the message back.
type RedisBroker struct {
	client *redis.Client
	prefix string
	poll   time.Duration
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker creates a RedisBroker. Keys are "<prefix><topic>"; prefix
// defaults to "disturb:queue:".
func NewRedisBroker(client *redis.Client, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "disturb:queue:"
	}
	return &RedisBroker{client: client, prefix: prefix, poll: time.Second}
}

func (b *RedisBroker) key(topic string) string {
	return b.prefix + topic
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, data []byte) error {
	return b.client.LPush(ctx, b.key(topic), data).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &redisSub{broker: b, key: b.key(topic)}, nil
}

// Len returns the number of queued messages on topic.
func (b *RedisBroker) Len(ctx context.Context, topic string) (int64, error) {
	return b.client.LLen(ctx, b.key(topic)).Result()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisSub struct {
	broker *RedisBroker
	key    string
}

func (s *redisSub) Next(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// BRPOP returns [key, value]; a bounded wait lets ctx cancellation
		// be observed between polls.
		res, err := s.broker.client.BRPop(ctx, s.broker.poll, s.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if len(res) != 2 {
			continue
		}
		return &redisDelivery{sub: s, data: []byte(res[1])}, nil
	}
}

func (s *redisSub) Close() error { return nil }

type redisDelivery struct {
	sub  *redisSub
	data []byte
}

func (d *redisDelivery) Data() []byte { return d.data }

func (d *redisDelivery) Ack(context.Context) error { return nil }

func (d *redisDelivery) Nak(ctx context.Context) error {
	return d.sub.broker.client.RPush(ctx, d.sub.key, d.data).Err()
}
