package broker

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

var (
	sharedMemoryMu sync.Mutex
	sharedMemory   *MemoryBroker
)

// Open builds the broker named by adapter. The memory adapter returns a
// process-wide broker so that a manager and step workers started in the same
// process see each other's messages.
func Open(ctx context.Context, adapter string, cfg map[string]any) (Broker, error) {
	if err := ValidateConfig(adapter, cfg); err != nil {
		return nil, err
	}
	switch adapter {
	case AdapterRedis:
		host := configString(cfg, "host")
		opt, err := redis.ParseURL(host)
		if err != nil {
			opt = &redis.Options{Addr: host}
		}
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, err
		}
		return NewRedisBroker(client, configString(cfg, "prefix")), nil

	case AdapterNATS:
		nc, err := nats.Connect(configString(cfg, "host"))
		if err != nil {
			return nil, err
		}
		b, err := NewNATSBroker(nc, configString(cfg, "durable"))
		if err != nil {
			nc.Close()
			return nil, err
		}
		return b, nil
	}

	sharedMemoryMu.Lock()
	defer sharedMemoryMu.Unlock()
	if sharedMemory == nil {
		sharedMemory = NewMemoryBroker()
	}
	return &nopCloseBroker{sharedMemory}, nil
}

// nopCloseBroker keeps the shared memory broker open when one user closes it.
type nopCloseBroker struct {
	*MemoryBroker
}

func (nopCloseBroker) Close() error { return nil }
