// Package store defines the backend surface the client core is written
// against: a document store with atomic update operators and an object store.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a document or object does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyExists is returned when a write violates a uniqueness constraint.
var ErrAlreadyExists = errors.New("store: already exists")

// Fields is a schema-flexible document body.
type Fields map[string]any

// Document is a query result: the document id and its fields.
type Document struct {
	ID     string
	Fields Fields
}

// Query selects documents from one collection.
type Query struct {
	// Where holds top-level equality filters.
	Where Fields
	// AnyOf, when non-empty, keeps documents that match every equality in
	// at least one entry. A nil value matches a missing field.
	AnyOf []Fields
	// OrderBy names the sort field; empty means unspecified order.
	OrderBy    string
	Descending bool
	// StartAfter, when set, skips documents up to and including this value of
	// OrderBy in sort order.
	StartAfter any
	// StartAfterID breaks ties on StartAfter: documents whose OrderBy equals
	// StartAfter are kept only when their id sorts after it in the same
	// direction. Results are always ordered by OrderBy then id.
	StartAfterID string
	// Limit caps the result size; zero means no limit.
	Limit int
}

// DocumentStore is the document database used by the client core.
type DocumentStore interface {
	GetDocument(ctx context.Context, collection, id string) (Fields, error)
	QueryCollection(ctx context.Context, collection string, q Query) ([]Document, error)
	// SetDocument writes fields under id. With merge the fields are combined
	// with an existing document, otherwise the document is replaced.
	SetDocument(ctx context.Context, collection, id string, fields Fields, merge bool) error
	// UpdateDocument applies partial fields to an existing document. Values may
	// be update operators (ArrayUnion, ArrayRemove, Increment, ServerTimestamp).
	UpdateDocument(ctx context.Context, collection, id string, fields Fields) error
	AddDocument(ctx context.Context, collection string, fields Fields) (string, error)
	// DeleteDocument removes a document. Deleting a missing document is not
	// an error.
	DeleteDocument(ctx context.Context, collection, id string) error
}

// ObjectStore holds uploaded media.
type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte) error
	PublicURL(path string) (string, error)
	Open(ctx context.Context, path string) ([]byte, error)
}

// ArrayUnionOp adds each value to an array field unless already present.
type ArrayUnionOp struct{ Values []any }

// ArrayRemoveOp removes every occurrence of each value from an array field.
type ArrayRemoveOp struct{ Values []any }

// IncrementOp atomically adds Delta to a numeric field.
type IncrementOp struct{ Delta int64 }

// ServerTimestampOp is replaced by the store's clock at write time.
type ServerTimestampOp struct{}

func ArrayUnion(values ...any) ArrayUnionOp { return ArrayUnionOp{Values: values} }

func ArrayRemove(values ...any) ArrayRemoveOp { return ArrayRemoveOp{Values: values} }

func Increment(delta int64) IncrementOp { return IncrementOp{Delta: delta} }

func ServerTimestamp() ServerTimestampOp { return ServerTimestampOp{} }
