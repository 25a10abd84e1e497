package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSBroker is a Broker on top of JetStream. Each topic gets a work-queue
// stream with the same name and subject; all subscribers of a topic share one
// durable pull consumer, so JetStream balances messages between them.
type NATSBroker struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	durable string
	ackWait time.Duration
	poll    time.Duration

	mu      sync.Mutex
	streams map[string]jetstream.Stream
}

var _ Broker = (*NATSBroker)(nil)

// NewNATSBroker creates a NATSBroker over nc. durable names the shared
// consumer; it defaults to "disturb_workers".
func NewNATSBroker(nc *nats.Conn, durable string) (*NATSBroker, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}
	if durable == "" {
		durable = "disturb_workers"
	}
	return &NATSBroker{
		nc:      nc,
		js:      js,
		durable: durable,
		ackWait: 5 * time.Minute,
		poll:    time.Second,
		streams: make(map[string]jetstream.Stream),
	}, nil
}

func (b *NATSBroker) stream(ctx context.Context, topic string) (jetstream.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.streams[topic]; ok {
		return s, nil
	}
	s, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      topic,
		Subjects:  []string{topic},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stream %s: %w", topic, err)
	}
	b.streams[topic] = s
	return s, nil
}

func (b *NATSBroker) Publish(ctx context.Context, topic string, data []byte) error {
	if _, err := b.stream(ctx, topic); err != nil {
		return err
	}
	_, err := b.js.Publish(ctx, topic, data)
	return err
}

func (b *NATSBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	s, err := b.stream(ctx, topic)
	if err != nil {
		return nil, err
	}
	cons, err := s.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   b.durable,
		AckPolicy: jetstream.AckExplicitPolicy,
		AckWait:   b.ackWait,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer on %s: %w", topic, err)
	}
	return &natsSub{cons: cons, poll: b.poll}, nil
}

func (b *NATSBroker) Close() error {
	b.nc.Close()
	return nil
}

type natsSub struct {
	cons jetstream.Consumer
	poll time.Duration
}

func (s *natsSub) Next(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := s.cons.Next(jetstream.FetchMaxWait(s.poll))
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, jetstream.ErrNoMessages) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &natsDelivery{msg: msg}, nil
	}
}

func (s *natsSub) Close() error { return nil }

type natsDelivery struct {
	msg jetstream.Msg
}

func (d *natsDelivery) Data() []byte { return d.msg.Data() }

func (d *natsDelivery) Ack(context.Context) error { return d.msg.Ack() }

func (d *natsDelivery) Nak(context.Context) error { return d.msg.Nak() }
