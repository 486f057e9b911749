package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	apperrors "peercall-core/pkg/errors"
)

// MemoryClient is an in-process Client used by tests and local development.
// It reproduces the relay's delivery contract: per-record snapshots are
// fanned out in commit order, subscribers see their own writes, and a full
// buffer drops the oldest pending snapshot (latest wins).
type MemoryClient struct {
	mu        sync.Mutex
	docs      map[string]map[string][]byte // collection -> id -> JSON body
	docSubs   map[string][]*memorySub      // collection/id -> subscribers
	querySubs map[string][]*memoryQuerySub // collection -> subscribers
	closed    bool

	// FailWrites makes every Create/Update fail; tests use it to exercise
	// relay-outage paths.
	FailWrites bool

	// WriteGuard, when set, may veto a write before it is applied. Tests
	// install field-ownership guards here.
	WriteGuard func(collection, id string, fields map[string]any) error
}

// NewMemoryClient creates an empty in-memory relay.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		docs:      make(map[string]map[string][]byte),
		docSubs:   make(map[string][]*memorySub),
		querySubs: make(map[string][]*memoryQuerySub),
	}
}

// Create appends a new record and notifies subscribers.
func (m *MemoryClient) Create(ctx context.Context, collection string, data any) (string, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return "", apperrors.RelayWriteError(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return "", apperrors.RelayWriteError(fmt.Errorf("relay unavailable"))
	}

	id := uuid.New().String()
	if m.WriteGuard != nil {
		var fields map[string]any
		_ = json.Unmarshal(body, &fields)
		if err := m.WriteGuard(collection, id, fields); err != nil {
			return "", apperrors.RelayWriteError(err)
		}
	}

	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string][]byte)
	}
	m.docs[collection][id] = body
	m.notifyLocked(collection, id)
	return id, nil
}

// Get reads a record by id.
func (m *MemoryClient) Get(ctx context.Context, collection, id string, out any) error {
	m.mu.Lock()
	body, ok := m.docs[collection][id]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(body, out)
}

// Update applies a partial field update and notifies subscribers.
func (m *MemoryClient) Update(ctx context.Context, collection, id string, patch []Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return apperrors.RelayWriteError(fmt.Errorf("relay unavailable"))
	}

	body, ok := m.docs[collection][id]
	if !ok {
		return apperrors.RelayWriteError(ErrNotFound)
	}

	fields := make(map[string]any)
	if m.WriteGuard != nil {
		for _, u := range patch {
			fields[u.Field] = u.Value
		}
		if err := m.WriteGuard(collection, id, fields); err != nil {
			return apperrors.RelayWriteError(err)
		}
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return apperrors.RelayWriteError(err)
	}
	for _, u := range patch {
		// Round-trip through JSON so stored values match what a real
		// store would hand back on the next snapshot.
		raw, err := json.Marshal(u.Value)
		if err != nil {
			return apperrors.RelayWriteError(err)
		}
		var v any
		_ = json.Unmarshal(raw, &v)
		doc[u.Field] = v
	}

	updated, err := json.Marshal(doc)
	if err != nil {
		return apperrors.RelayWriteError(err)
	}
	m.docs[collection][id] = updated
	m.notifyLocked(collection, id)
	return nil
}

// Watch subscribes to one record. The current state (existing or not) is
// delivered immediately, matching the hosted store's behavior.
func (m *MemoryClient) Watch(ctx context.Context, collection, id string) (Subscription, error) {
	sub := &memorySub{
		ch:  make(chan Snapshot, 32),
		key: collection + "/" + id,
		m:   m,
	}

	m.mu.Lock()
	m.docSubs[sub.key] = append(m.docSubs[sub.key], sub)
	sub.push(m.snapshotLocked(collection, id))
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Stop()
	}()

	return sub, nil
}

// Query returns records matching all equality filters.
func (m *MemoryClient) Query(ctx context.Context, collection string, filters []Filter) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryLocked(collection, filters), nil
}

// WatchQuery subscribes to the matching result set of a filtered query.
func (m *MemoryClient) WatchQuery(ctx context.Context, collection string, filters []Filter) (QuerySubscription, error) {
	sub := &memoryQuerySub{
		ch:         make(chan []Snapshot, 8),
		collection: collection,
		filters:    filters,
		m:          m,
	}

	m.mu.Lock()
	m.querySubs[collection] = append(m.querySubs[collection], sub)
	sub.push(m.queryLocked(collection, filters))
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Stop()
	}()

	return sub, nil
}

// Close stops all subscriptions.
func (m *MemoryClient) Close() error {
	m.mu.Lock()
	docSubs := m.docSubs
	querySubs := m.querySubs
	m.docSubs = make(map[string][]*memorySub)
	m.querySubs = make(map[string][]*memoryQuerySub)
	m.closed = true
	m.mu.Unlock()

	for _, subs := range docSubs {
		for _, s := range subs {
			s.Stop()
		}
	}
	for _, subs := range querySubs {
		for _, s := range subs {
			s.Stop()
		}
	}
	return nil
}

func (m *MemoryClient) snapshotLocked(collection, id string) Snapshot {
	body, ok := m.docs[collection][id]
	if !ok {
		return NewSnapshot(id, false, nil)
	}
	// Copy so later writes do not mutate a delivered snapshot.
	frozen := make([]byte, len(body))
	copy(frozen, body)
	return NewSnapshot(id, true, func(out any) error {
		return json.Unmarshal(frozen, out)
	})
}

func (m *MemoryClient) queryLocked(collection string, filters []Filter) []Snapshot {
	var out []Snapshot
	for id, body := range m.docs[collection] {
		if matchesFilters(body, filters) {
			out = append(out, m.snapshotLocked(collection, id))
		}
	}
	return out
}

func (m *MemoryClient) notifyLocked(collection, id string) {
	snap := m.snapshotLocked(collection, id)
	for _, s := range m.docSubs[collection+"/"+id] {
		s.push(snap)
	}
	for _, qs := range m.querySubs[collection] {
		qs.push(m.queryLocked(collection, qs.filters))
	}
}

func matchesFilters(body []byte, filters []Filter) bool {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return false
	}
	for _, f := range filters {
		want, err := json.Marshal(f.Value)
		if err != nil {
			return false
		}
		got, err := json.Marshal(doc[f.Field])
		if err != nil || string(want) != string(got) {
			return false
		}
	}
	return true
}

type memorySub struct {
	ch   chan Snapshot
	key  string
	m    *MemoryClient
	mu   sync.Mutex
	done bool
}

func (s *memorySub) Snapshots() <-chan Snapshot { return s.ch }

func (s *memorySub) push(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	for {
		select {
		case s.ch <- snap:
			return
		default:
			// Buffer full: drop the oldest pending snapshot. The
			// subscriber still observes the latest state.
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

func (s *memorySub) Stop() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	close(s.ch)
	s.mu.Unlock()

	s.m.mu.Lock()
	subs := s.m.docSubs[s.key]
	for i, sub := range subs {
		if sub == s {
			s.m.docSubs[s.key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.m.mu.Unlock()
}

type memoryQuerySub struct {
	ch         chan []Snapshot
	collection string
	filters    []Filter
	m          *MemoryClient
	mu         sync.Mutex
	done       bool
}

func (s *memoryQuerySub) Results() <-chan []Snapshot { return s.ch }

func (s *memoryQuerySub) push(results []Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	for {
		select {
		case s.ch <- results:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

func (s *memoryQuerySub) Stop() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	close(s.ch)
	s.mu.Unlock()

	s.m.mu.Lock()
	subs := s.m.querySubs[s.collection]
	for i, sub := range subs {
		if sub == s {
			s.m.querySubs[s.collection] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.m.mu.Unlock()
}
