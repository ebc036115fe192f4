// Package docstore defines the document database contract the chat service
// binds to: point reads, filtered/ordered/limited queries with cursor
// pagination, atomic batched updates, and push-based query subscriptions.
// Any backend offering those capabilities can sit behind the Store interface;
// the in-memory implementation here backs tests and single-node deployments.
package docstore

import (
	"context"
	"errors"
)

// DocRef identifies a document within a collection.
type DocRef struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// Document is a stored document with its decoded field map. Field values are
// strings, bools, ints, or time.Time.
type Document struct {
	Ref  DocRef
	Data map[string]any
}

// Op is a filter comparison operator.
type Op string

// OpEqual is the only operator the chat service needs.
const OpEqual Op = "=="

// Filter restricts a query to documents whose field compares to a value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Order sorts query results by a single field.
type Order struct {
	Field      string
	Descending bool
}

// Query describes a filtered, ordered, limited read of one collection.
// StartAfter positions the result set strictly after the referenced document
// in the query's ordering; the reference must belong to the same collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    *Order
	Limit      int
	StartAfter *DocRef
}

// Update is one entry in an atomic batch write.
type Update struct {
	Ref    DocRef
	Fields map[string]any
}

// Snapshot receives the full current result set of a subscribed query.
// Implementations deliver snapshots sequentially per subscription and may
// coalesce intermediate states; the latest snapshot always arrives.
type Snapshot func(docs []Document)

// Unsubscribe cancels a live query. Safe to call more than once.
type Unsubscribe func()

// serverTimestamp is the sentinel requesting a server-assigned write time.
type serverTimestamp struct{}

// ServerTimestamp marks a field for a server-assigned monotonic timestamp.
var ServerTimestamp = serverTimestamp{}

// ErrNotFound is returned by Get for a missing document.
var ErrNotFound = errors.New("docstore: document not found")

// Store is the document database contract.
type Store interface {
	// Get reads one document. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, ref DocRef) (Document, error)

	// Query runs a one-shot read.
	Query(ctx context.Context, q Query) ([]Document, error)

	// Add creates a document with a generated id. Field values equal to
	// ServerTimestamp are replaced with the store's write time, which is
	// strictly monotonic within the store.
	Add(ctx context.Context, collection string, fields map[string]any) (DocRef, error)

	// BatchUpdate applies all field changes atomically: either every update
	// lands or none do.
	BatchUpdate(ctx context.Context, updates []Update) error

	// Subscribe registers a live query. The snapshot callback fires once with
	// the current result set before Subscribe returns, then again after every
	// write that may affect the collection, until unsubscribed.
	Subscribe(ctx context.Context, q Query, fn Snapshot) (Unsubscribe, error)
}
