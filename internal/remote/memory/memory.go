// Package memory provides an in-process implementation of remote.Store.
//
// It backs tests and the daemon's offline mode. Semantics mirror the real
// store: collection/document addressing, field queries, atomic batches,
// and change subscriptions delivering deltas that occur after Watch.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/kithapp/kith/internal/common"
	"github.com/kithapp/kith/internal/remote"
)

// subscriptionBuffer is the event channel capacity per subscription.
// Deltas beyond a slow consumer's buffer are dropped, matching the
// at-most-once delivery the real change stream provides.
const subscriptionBuffer = 64

type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]remote.Document
	subs        map[int]*subscription
	nextSubID   int
	closed      bool
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]remote.Document),
		subs:        make(map[int]*subscription),
	}
}

type subscription struct {
	id         int
	collection string
	query      remote.Query
	events     chan remote.Event
	errs       chan error
	stopOnce   sync.Once
	store      *Store
}

func (s *subscription) Events() <-chan remote.Event { return s.events }
func (s *subscription) Errors() <-chan error        { return s.errs }

func (s *subscription) Stop() {
	s.stopOnce.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs, s.id)
		s.store.mu.Unlock()
		close(s.events)
		close(s.errs)
	})
}

func (s *Store) Get(ctx context.Context, collection, id string) (remote.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed(collection, id)
	}
	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, common.ErrorNotFound)
	}
	return doc.Clone(), nil
}

func (s *Store) Set(ctx context.Context, collection, id string, doc remote.Document) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed(collection, id)
	}
	col, ok := s.collections[collection]
	if !ok {
		col = make(map[string]remote.Document)
		s.collections[collection] = col
	}
	_, existed := col[id]
	col[id] = doc.Clone()

	evType := remote.EventAdded
	if existed {
		evType = remote.EventModified
	}
	s.dispatch(collection, remote.Event{Type: evType, ID: id, Doc: doc.Clone()})
	s.mu.Unlock()
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields remote.Document) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed(collection, id)
	}
	doc, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", collection, id, common.ErrorNotFound)
	}
	merged := doc.Clone()
	for k, v := range fields {
		merged[k] = v
	}
	s.collections[collection][id] = merged

	s.dispatch(collection, remote.Event{Type: remote.EventModified, ID: id, Doc: merged.Clone()})
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed(collection, id)
	}
	doc, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.collections[collection], id)

	// Removal events carry the last known document so subscribers can
	// match the query against it.
	s.dispatch(collection, remote.Event{Type: remote.EventRemoved, ID: id, Doc: doc.Clone()})
	s.mu.Unlock()
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, q remote.Query) ([]remote.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed(collection, "")
	}
	var result []remote.Document
	for _, doc := range s.collections[collection] {
		if q.Matches(doc) {
			result = append(result, doc.Clone())
		}
	}
	return result, nil
}

func (s *Store) BatchWrite(ctx context.Context, ops []remote.BatchOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed("batch", "")
	}
	// Validate before applying so the batch stays atomic.
	for _, op := range ops {
		if op.Kind != remote.BatchSet && op.Kind != remote.BatchDelete {
			return fmt.Errorf("unknown batch op kind %q", op.Kind)
		}
	}

	for _, op := range ops {
		switch op.Kind {
		case remote.BatchSet:
			col, ok := s.collections[op.Collection]
			if !ok {
				col = make(map[string]remote.Document)
				s.collections[op.Collection] = col
			}
			_, existed := col[op.ID]
			col[op.ID] = op.Doc.Clone()
			evType := remote.EventAdded
			if existed {
				evType = remote.EventModified
			}
			s.dispatch(op.Collection, remote.Event{Type: evType, ID: op.ID, Doc: op.Doc.Clone()})
		case remote.BatchDelete:
			doc, ok := s.collections[op.Collection][op.ID]
			if !ok {
				continue
			}
			delete(s.collections[op.Collection], op.ID)
			s.dispatch(op.Collection, remote.Event{Type: remote.EventRemoved, ID: op.ID, Doc: doc.Clone()})
		}
	}
	return nil
}

func (s *Store) Watch(ctx context.Context, collection string, q remote.Query) (remote.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("watch %s: %w", collection, common.ErrorRemoteUnavailable)
	}

	sub := &subscription{
		id:         s.nextSubID,
		collection: collection,
		query:      q,
		events:     make(chan remote.Event, subscriptionBuffer),
		errs:       make(chan error, 1),
		store:      s,
	}
	s.subs[sub.id] = sub
	s.nextSubID++
	return sub, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.closed = true
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}
	return nil
}

func errClosed(collection, id string) error {
	if id == "" {
		return fmt.Errorf("%s: store closed: %w", collection, common.ErrorRemoteUnavailable)
	}
	return fmt.Errorf("%s/%s: store closed: %w", collection, id, common.ErrorRemoteUnavailable)
}

// dispatch fans an event out to matching subscriptions. Caller must hold
// s.mu; sends are non-blocking, so a full subscriber buffer drops the
// delta rather than blocking writers.
func (s *Store) dispatch(collection string, ev remote.Event) {
	for _, sub := range s.subs {
		if sub.collection != collection || !sub.query.Matches(ev.Doc) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
		}
	}
}
