package store

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNotFound means the document does not exist. Callers may substitute a
	// fresh default for reads used that way.
	ErrNotFound = errors.New("store: document not found")
	// ErrUnavailable means the store could not answer (timeout, connection
	// failure). It is distinguishable from ErrNotFound so that reads which
	// gate a write-back never clobber server state with a default.
	ErrUnavailable = errors.New("store: unavailable")
)

// Record is an opaque document body: top-level field name to raw JSON value.
// Partial loads return a Record containing only the requested fields.
type Record map[string]json.RawMessage

// Store is the narrow document-store contract the progress engine depends on.
// Implementations choose their own timeouts; no call may block unboundedly.
type Store interface {
	// Get loads a full document. Returns ErrNotFound or ErrUnavailable.
	Get(ctx context.Context, collection, key string) (Record, error)
	// GetFields loads only the named top-level fields of a document, for
	// summary views that must not pay the full-record cost.
	GetFields(ctx context.Context, collection, key string, fields ...string) (Record, error)
	// Save writes the full document, last-writer-wins.
	Save(ctx context.Context, collection, key string, rec Record) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, key string) error
	// Query returns all documents whose top-level field equals value.
	Query(ctx context.Context, collection, field string, value interface{}) ([]Record, error)
	// QueryOrdered returns up to limit documents ordered by a top-level field.
	QueryOrdered(ctx context.Context, collection, field string, descending bool, limit int) ([]Record, error)
}

// Marshal encodes a value into a Record field.
func (r Record) Marshal(field string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r[field] = raw
	return nil
}

// Unmarshal decodes a Record field into v. A missing field leaves v untouched
// and returns false, so callers can apply defaults instead of failing.
func (r Record) Unmarshal(field string, v interface{}) (bool, error) {
	raw, ok := r[field]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, err
	}
	return true, nil
}
