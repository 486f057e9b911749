// Package relay wraps the external document store the call core signals
// through. The store offers create/update/get plus ordered snapshot
// subscriptions; it has no compare-and-swap, so record consistency relies on
// the field-ownership convention defined by the call domain (offer fields
// written by the caller, answer fields by the callee).
package relay

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the record does not exist.
var ErrNotFound = errors.New("relay: record not found")

// Snapshot is one observed state of a record. Decode unmarshals the record
// body into out; Exists is false when the record has been observed missing.
type Snapshot struct {
	ID     string
	Exists bool

	decode func(out any) error
}

// Decode unmarshals the snapshot body into out.
func (s Snapshot) Decode(out any) error {
	if !s.Exists || s.decode == nil {
		return ErrNotFound
	}
	return s.decode(out)
}

// NewSnapshot builds a snapshot around a decode function. Used by the store
// implementations in this package and by test doubles.
func NewSnapshot(id string, exists bool, decode func(out any) error) Snapshot {
	return Snapshot{ID: id, Exists: exists, decode: decode}
}

// Update is a single-field patch. Concurrent updates to disjoint fields do
// not conflict.
type Update struct {
	Field string
	Value any
}

// Filter is an equality condition on a record field.
type Filter struct {
	Field string
	Value any
}

// Subscription delivers record snapshots in server commit order. Delivery is
// at-least-once with latest-wins semantics: a slow reader may miss an
// intermediate state but always observes the final one. Stop is idempotent;
// the channel is closed after Stop or when the backing context ends.
type Subscription interface {
	Snapshots() <-chan Snapshot
	Stop()
}

// QuerySubscription delivers the full matching result set each time any
// matching record changes.
type QuerySubscription interface {
	Results() <-chan []Snapshot
	Stop()
}

// Client is the signaling relay contract. All write failures are classified
// as relay-write errors; the state machine decides whether they are fatal,
// the client never retries on its own.
type Client interface {
	// Create appends a new record and returns its generated id.
	Create(ctx context.Context, collection string, data any) (string, error)

	// Get reads a record by id into out. Returns ErrNotFound when missing.
	Get(ctx context.Context, collection, id string, out any) error

	// Update applies a partial field update to an existing record.
	Update(ctx context.Context, collection, id string, patch []Update) error

	// Watch subscribes to every snapshot of one record, including writes
	// issued by the subscriber itself.
	Watch(ctx context.Context, collection, id string) (Subscription, error)

	// Query returns the records currently matching all filters.
	Query(ctx context.Context, collection string, filters []Filter) ([]Snapshot, error)

	// WatchQuery subscribes to the records matching all filters.
	WatchQuery(ctx context.Context, collection string, filters []Filter) (QuerySubscription, error)

	// Close releases the underlying store connection.
	Close() error
}
