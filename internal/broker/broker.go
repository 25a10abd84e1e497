// Package broker moves envelopes between the manager and the step workers.
// Topics are work queues: every message published on a topic is handed to
// exactly one of its subscribers.
package broker

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed broker or subscription.
var ErrClosed = errors.New("broker closed")

// Delivery is a received message.
type Delivery interface {
	Data() []byte

	// Ack confirms the message was handled.
	Ack(ctx context.Context) error

	// Nak hands the message back for redelivery.
	Nak(ctx context.Context) error
}

// Subscription pulls messages from a topic.
type Subscription interface {
	// Next blocks until a message is available or ctx is done.
	Next(ctx context.Context) (Delivery, error)

	Close() error
}

// Broker publishes to and subscribes on named topics.
type Broker interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

// Adapter names accepted by Open.
const (
	AdapterMemory = "memory"
	AdapterRedis  = "redis"
	AdapterNATS   = "nats"
)

// ValidateConfig checks the broker adapter name and its required fields.
func ValidateConfig(adapter string, cfg map[string]any) error {
	switch adapter {
	case "", AdapterMemory:
		return nil
	case AdapterRedis, AdapterNATS:
		if configString(cfg, "host") == "" {
			return fmt.Errorf("broker %q: missing config field %q", adapter, "host")
		}
		return nil
	}
	return fmt.Errorf("unknown broker adapter %q", adapter)
}

func configString(cfg map[string]any, key string) string {
	if cfg == nil {
		return ""
	}
	v, ok := cfg[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
