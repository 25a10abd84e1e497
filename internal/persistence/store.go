package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Store exposes document-level operations on top of a Backend. All writes go
// through a read, modify, conditional-replace cycle that is retried when
// another writer got there first.
type Store struct {
	backend    Backend
	maxRetries int
	logger     *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMaxRetries sets how many times a conflicting write is retried.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithLogger sets the logger used to report write conflicts.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore wraps b.
func NewStore(b Backend, opts ...Option) *Store {
	s := &Store{
		backend:    b,
		maxRetries: 16,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

func checkID(op, id string) error {
	if id == "" {
		return &Error{Kind: KindInvalidParameter, Op: op, Err: errors.New("empty document id")}
	}
	return nil
}

// Exists reports whether a document is stored under id.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	if err := checkID("exists", id); err != nil {
		return false, err
	}
	_, err := s.backend.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, classify("exists", id, KindUnavailable, err)
	}
	return true, nil
}

// Get returns the raw fields of the document.
func (s *Store) Get(ctx context.Context, id string) (map[string]any, error) {
	var fields map[string]any
	if _, err := s.GetInto(ctx, id, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// GetInto decodes the document into v and returns its revision.
func (s *Store) GetInto(ctx context.Context, id string, v any) (uint64, error) {
	if err := checkID("get", id); err != nil {
		return 0, err
	}
	doc, err := s.backend.Load(ctx, id)
	if err != nil {
		return 0, classify("get", id, KindUnavailable, err)
	}
	if err := json.Unmarshal(doc.Body, v); err != nil {
		return 0, &Error{Kind: KindCodec, Op: "get", ID: id, Err: err}
	}
	return doc.Revision, nil
}

// Create stores v under id, failing with a KindExists error when a document
// is already there.
func (s *Store) Create(ctx context.Context, id string, v any) error {
	if err := checkID("create", id); err != nil {
		return err
	}
	body, err := json.Marshal(v)
	if err != nil {
		return &Error{Kind: KindCodec, Op: "create", ID: id, Err: err}
	}
	_, err = s.backend.Insert(ctx, id, body)
	return classify("create", id, KindSave, err)
}

// Save merges fields into the document stored under id, creating it when
// missing. Top-level keys in fields replace the stored ones.
func (s *Store) Save(ctx context.Context, id string, fields map[string]any) error {
	if err := checkID("save", id); err != nil {
		return err
	}
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		doc, err := s.backend.Load(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			body, merr := json.Marshal(fields)
			if merr != nil {
				return &Error{Kind: KindCodec, Op: "save", ID: id, Err: merr}
			}
			_, err = s.backend.Insert(ctx, id, body)
			if errors.Is(err, ErrExists) {
				continue
			}
			return classify("save", id, KindSave, err)
		case err != nil:
			return classify("save", id, KindUnavailable, err)
		}

		current := map[string]any{}
		if err := json.Unmarshal(doc.Body, &current); err != nil {
			return &Error{Kind: KindCodec, Op: "save", ID: id, Err: err}
		}
		for k, v := range fields {
			current[k] = v
		}
		body, err := json.Marshal(current)
		if err != nil {
			return &Error{Kind: KindCodec, Op: "save", ID: id, Err: err}
		}
		_, err = s.backend.Replace(ctx, id, doc.Revision, body)
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			s.logger.DebugContext(ctx, "save conflict, retrying", slog.String("id", id), slog.Int("attempt", attempt))
			continue
		}
		return classify("save", id, KindSave, err)
	}
	return &Error{Kind: KindConflict, Op: "save", ID: id, Err: fmt.Errorf("%w after %d attempts", ErrConflict, s.maxRetries+1)}
}

// Delete removes the document stored under id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := checkID("delete", id); err != nil {
		return err
	}
	return classify("delete", id, KindDelete, s.backend.Remove(ctx, id))
}

// Ping checks the backend.
func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", "", KindUnavailable, s.backend.Ping(ctx))
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Mutate loads the document under id into a fresh T, applies fn and writes
// the result back conditionally on the revision that was read. Conflicts
// re-run fn on the fresh document. An error returned by fn aborts without
// writing and is returned unchanged.
func Mutate[T any](ctx context.Context, s *Store, id string, fn func(*T) error) (*T, error) {
	if err := checkID("mutate", id); err != nil {
		return nil, err
	}
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		doc, err := s.backend.Load(ctx, id)
		if err != nil {
			return nil, classify("mutate", id, KindUnavailable, err)
		}
		v := new(T)
		if err := json.Unmarshal(doc.Body, v); err != nil {
			return nil, &Error{Kind: KindCodec, Op: "mutate", ID: id, Err: err}
		}
		if err := fn(v); err != nil {
			return nil, err
		}
		body, err := json.Marshal(v)
		if err != nil {
			return nil, &Error{Kind: KindCodec, Op: "mutate", ID: id, Err: err}
		}
		_, err = s.backend.Replace(ctx, id, doc.Revision, body)
		if errors.Is(err, ErrConflict) {
			s.logger.DebugContext(ctx, "mutate conflict, retrying", slog.String("id", id), slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, classify("mutate", id, KindSave, err)
		}
		return v, nil
	}
	return nil, &Error{Kind: KindConflict, Op: "mutate", ID: id, Err: fmt.Errorf("%w after %d attempts", ErrConflict, s.maxRetries+1)}
}
