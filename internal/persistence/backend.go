package persistence

import (
	"context"
	"fmt"
	"regexp"
)

// Document is a stored JSON document together with its revision. Revisions
// are opaque to callers; a backend only guarantees that every successful write
// changes them.
type Document struct {
	ID       string
	Revision uint64
	Body     []byte
}

// Backend is the minimal document CRUD surface a storage engine has to
// provide. Every write is conditional so that concurrent writers never
// overwrite each other silently.
//
// Implementations return ErrNotFound, ErrExists and ErrConflict (possibly
// wrapped) for the corresponding situations.
type Backend interface {
	// Load returns the current document for id.
	Load(ctx context.Context, id string) (Document, error)

	// Insert stores a new document with revision 1. It fails with ErrExists
	// if id is already present.
	Insert(ctx context.Context, id string, body []byte) (uint64, error)

	// Replace overwrites the document only if its stored revision equals rev,
	// and returns the new revision. It fails with ErrConflict when the
	// revision moved and with ErrNotFound when the document is gone.
	Replace(ctx context.Context, id string, rev uint64, body []byte) (uint64, error)

	// Remove deletes the document.
	Remove(ctx context.Context, id string) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the resources owned by the backend.
	Close() error
}

// DefaultIndex is the table, collection, bucket or key prefix used when the
// storage configuration does not name one.
const DefaultIndex = "disturb_context"

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func checkIdent(name string) error {
	if !identRE.MatchString(name) {
		return fmt.Errorf("invalid index name %q", name)
	}
	return nil
}
