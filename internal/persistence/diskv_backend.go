package persistence

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/peterbourgon/diskv/v3"
)

// DiskvBackend is a Backend storing one file per document under a base
// directory. Each file holds the revision on its first line followed by the
// JSON body. Writes are serialized by an in-process mutex, so the backend
// must not be shared between processes.
type DiskvBackend struct {
	mu sync.Mutex
	kv *diskv.Diskv
}

var _ Backend = (*DiskvBackend)(nil)

// NewDiskvBackend creates a DiskvBackend rooted at path/index.
func NewDiskvBackend(path, index string) *DiskvBackend {
	if index == "" {
		index = DefaultIndex
	}
	flatTransform := func(s string) []string { return []string{} }
	return &DiskvBackend{
		kv: diskv.New(diskv.Options{
			BasePath:     filepath.Join(path, index),
			Transform:    flatTransform,
			CacheSizeMax: 1024 * 1024,
		}),
	}
}

func diskvKey(id string) (string, error) {
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("diskv: invalid key %q", id)
	}
	return id, nil
}

func (b *DiskvBackend) read(id string) (Document, error) {
	key, err := diskvKey(id)
	if err != nil {
		return Document{}, err
	}
	if !b.kv.Has(key) {
		return Document{}, ErrNotFound
	}
	raw, err := b.kv.Read(key)
	if err != nil {
		return Document{}, fmt.Errorf("diskv: reading %s: %w", id, err)
	}
	head, body, ok := bytes.Cut(raw, []byte("\n"))
	if !ok {
		return Document{}, fmt.Errorf("diskv: corrupt document %s", id)
	}
	rev, err := strconv.ParseUint(string(head), 10, 64)
	if err != nil {
		return Document{}, fmt.Errorf("diskv: corrupt revision for %s: %w", id, err)
	}
	return Document{ID: id, Revision: rev, Body: body}, nil
}

func (b *DiskvBackend) write(id string, rev uint64, body []byte) error {
	var buf bytes.Buffer
	buf.WriteString(strconv.FormatUint(rev, 10))
	buf.WriteByte('\n')
	buf.Write(body)
	return b.kv.Write(id, buf.Bytes())
}

func (b *DiskvBackend) Load(_ context.Context, id string) (Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read(id)
}

func (b *DiskvBackend) Insert(_ context.Context, id string, body []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.read(id)
	if err == nil {
		return 0, ErrExists
	}
	if err != ErrNotFound {
		return 0, err
	}
	if err := b.write(id, 1, body); err != nil {
		return 0, err
	}
	return 1, nil
}

func (b *DiskvBackend) Replace(_ context.Context, id string, rev uint64, body []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, err := b.read(id)
	if err != nil {
		return 0, err
	}
	if doc.Revision != rev {
		return 0, ErrConflict
	}
	if err := b.write(id, rev+1, body); err != nil {
		return 0, err
	}
	return rev + 1, nil
}

func (b *DiskvBackend) Remove(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.read(id); err != nil {
		return err
	}
	return b.kv.Erase(id)
}

func (b *DiskvBackend) Ping(context.Context) error { return nil }

func (b *DiskvBackend) Close() error { return nil }
