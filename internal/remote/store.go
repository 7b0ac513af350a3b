// Package remote defines the document-store interface the sync core
// consumes. The store addresses records by collection and document id and
// supports field queries, batched writes, and change subscriptions.
//
// Implementations live in subpackages: memory (in-process, used by tests
// and offline mode) and httpstore (HTTP + websocket client).
package remote

import "context"

// Collection names used by the sync core.
const (
	CollectionAccounts      = "accounts"
	CollectionRelationships = "relationships"
	CollectionEvents        = "events"
)

// Document is a decoded remote record. Values are JSON-native types:
// string, float64, bool, []any, map[string]any, nil.
type Document map[string]any

// Clone returns a shallow-plus-one-level copy of the document, enough to
// keep callers from aliasing stored state through top-level slices/maps.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		switch value := v.(type) {
		case []any:
			cp := make([]any, len(value))
			copy(cp, value)
			out[k] = cp
		case map[string]any:
			cp := make(map[string]any, len(value))
			for mk, mv := range value {
				cp[mk] = mv
			}
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

// Op is a query operator.
type Op string

const (
	// OpEqual matches documents whose field equals the value.
	OpEqual Op = "=="
	// OpArrayContains matches documents whose array field contains the value.
	OpArrayContains Op = "array-contains"
)

// Query selects documents in a collection by a single field condition.
type Query struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// Matches reports whether doc satisfies the query. A document id condition
// (Field "id") is matched against the stored "id" field.
func (q Query) Matches(doc Document) bool {
	v, ok := doc[q.Field]
	if !ok {
		return false
	}
	switch q.Op {
	case OpEqual:
		return v == q.Value
	case OpArrayContains:
		arr, ok := v.([]any)
		if !ok {
			// Documents built in-process may carry typed slices.
			if ss, ok := v.([]string); ok {
				for _, s := range ss {
					if s == q.Value {
						return true
					}
				}
			}
			return false
		}
		for _, item := range arr {
			if item == q.Value {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// EventType classifies a change-stream delta.
type EventType string

const (
	EventAdded    EventType = "added"
	EventModified EventType = "modified"
	EventRemoved  EventType = "removed"
)

// Event is one delta delivered on a change subscription.
type Event struct {
	Type EventType `json:"type"`
	ID   string    `json:"id"`
	Doc  Document  `json:"doc,omitempty"`
}

// Subscription is an open change stream for one collection query.
//
// Events and Errors are closed when the subscription stops. Stop is
// idempotent; deltas already in flight when Stop is called may still be
// read from Events, so consumers guard against post-teardown delivery.
type Subscription interface {
	Events() <-chan Event
	Errors() <-chan error
	Stop()
}

// BatchKind is the kind of one batched write operation.
type BatchKind string

const (
	BatchSet    BatchKind = "set"
	BatchDelete BatchKind = "delete"
)

// BatchOp is one operation inside an atomic batch write.
type BatchOp struct {
	Kind       BatchKind `json:"kind"`
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Doc        Document  `json:"doc,omitempty"`
}

// Store is the remote document store.
//
// Errors map onto the common sentinels: common.ErrorNotFound for a missing
// document, common.ErrorRemoteUnavailable for transport failures,
// common.ErrorUnauthenticated / common.ErrorForbidden for auth failures.
type Store interface {
	// Get returns the document or common.ErrorNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Set creates or fully replaces the document.
	Set(ctx context.Context, collection, id string, doc Document) error

	// Update merges fields into an existing document;
	// common.ErrorNotFound when it does not exist.
	Update(ctx context.Context, collection, id string, fields Document) error

	// Delete removes the document. Deleting an absent document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Query returns all documents in the collection matching q.
	Query(ctx context.Context, collection string, q Query) ([]Document, error)

	// BatchWrite applies all operations atomically.
	BatchWrite(ctx context.Context, ops []BatchOp) error

	// Watch opens a change subscription for documents matching q.
	// Only deltas occurring after the call are delivered.
	Watch(ctx context.Context, collection string, q Query) (Subscription, error)

	// Close releases client resources. Open subscriptions are stopped.
	Close() error
}
