package broker

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process Broker keeping one unbounded queue per topic.
// Publish never waits for consumers. It is safe for concurrent use.
type MemoryBroker struct {
	mu     sync.Mutex
	topics map[string]*memoryQueue
	closed chan struct{}
	once   sync.Once
}

var _ Broker = (*MemoryBroker)(nil)

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		topics: make(map[string]*memoryQueue),
		closed: make(chan struct{}),
	}
}

// memoryQueue is a FIFO of messages. ready holds a token while the queue may
// be non-empty; a consumer taking a message passes the token on if more
// messages remain.
type memoryQueue struct {
	mu    sync.Mutex
	items [][]byte
	ready chan struct{}
}

func (q *memoryQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *memoryQueue) push(msg []byte) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
	q.signal()
}

func (q *memoryQueue) pushFront(msg []byte) {
	q.mu.Lock()
	q.items = append([][]byte{msg}, q.items...)
	q.mu.Unlock()
	q.signal()
}

func (q *memoryQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	msg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	}
	return msg, true
}

func (q *memoryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (b *MemoryBroker) topic(name string) *memoryQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.topics[name]
	if !ok {
		q = &memoryQueue{ready: make(chan struct{}, 1)}
		b.topics[name] = q
	}
	return q
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, data []byte) error {
	select {
	case <-b.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	b.topic(topic).push(append([]byte(nil), data...))
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, topic string) (Subscription, error) {
	select {
	case <-b.closed:
		return nil, ErrClosed
	default:
	}
	return &memorySub{broker: b, queue: b.topic(topic), done: make(chan struct{})}, nil
}

// Len returns the number of queued messages on topic.
func (b *MemoryBroker) Len(topic string) int {
	return b.topic(topic).len()
}

func (b *MemoryBroker) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

type memorySub struct {
	broker *MemoryBroker
	queue  *memoryQueue
	done   chan struct{}
	once   sync.Once
}

func (s *memorySub) Next(ctx context.Context) (Delivery, error) {
	for {
		if msg, ok := s.queue.pop(); ok {
			return &memoryDelivery{sub: s, data: msg}, nil
		}
		select {
		case <-s.queue.ready:
		case <-s.done:
			return nil, ErrClosed
		case <-s.broker.closed:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *memorySub) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type memoryDelivery struct {
	sub  *memorySub
	data []byte
}

func (d *memoryDelivery) Data() []byte { return d.data }

func (d *memoryDelivery) Ack(context.Context) error { return nil }

// Nak puts the message back at the head of its topic.
func (d *memoryDelivery) Nak(context.Context) error {
	d.sub.queue.pushFront(d.data)
	return nil
}
