package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSBackend is a Backend storing documents in a JetStream key-value bucket.
// Revisions are the bucket's own entry revisions.
type NATSBackend struct {
	conn   *nats.Conn
	bucket jetstream.KeyValue
}

var _ Backend = (*NATSBackend)(nil)

// NewNATSBackend creates or binds the bucket named bucketName.
func NewNATSBackend(ctx context.Context, nc *nats.Conn, bucketName string) (*NATSBackend, error) {
	if bucketName == "" {
		bucketName = DefaultIndex
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucketName,
		History: 1,
	})
	if err != nil {
		return nil, err
	}
	return &NATSBackend{conn: nc, bucket: kv}, nil
}

func (b *NATSBackend) Load(ctx context.Context, id string) (Document, error) {
	entry, err := b.bucket.Get(ctx, id)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Revision: entry.Revision(), Body: entry.Value()}, nil
}

func (b *NATSBackend) Insert(ctx context.Context, id string, body []byte) (uint64, error) {
	rev, err := b.bucket.Create(ctx, id, body)
	if errors.Is(err, jetstream.ErrKeyExists) || isKVConflict(err) {
		return 0, ErrExists
	}
	if err != nil {
		return 0, err
	}
	return rev, nil
}

func (b *NATSBackend) Replace(ctx context.Context, id string, rev uint64, body []byte) (uint64, error) {
	newRev, err := b.bucket.Update(ctx, id, body, rev)
	if err == nil {
		return newRev, nil
	}
	if isKVConflict(err) {
		if _, lerr := b.Load(ctx, id); errors.Is(lerr, ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, ErrConflict
	}
	return 0, err
}

func (b *NATSBackend) Remove(ctx context.Context, id string) error {
	if _, err := b.Load(ctx, id); err != nil {
		return err
	}
	return b.bucket.Delete(ctx, id)
}

func (b *NATSBackend) Ping(context.Context) error {
	if !b.conn.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return nil
}

func (b *NATSBackend) Close() error {
	b.conn.Close()
	return nil
}

// isKVConflict matches the errors JetStream returns when the expected last
// revision does not hold.
func isKVConflict(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") || strings.Contains(msg, "key exists")
}
