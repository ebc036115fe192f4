package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/civicstack/certificate-portal/pkg/metrics"
)

// Memory is an in-process Store. Writes assign strictly monotonic timestamps
// and push fresh snapshots to matching subscriptions. Snapshot delivery is
// coalesced per subscription: a slow consumer skips intermediate states and
// always receives the latest result set.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	subs        map[int64]*memorySub
	nextSubID   int64
	lastWrite   time.Time
}

type memorySub struct {
	id    int64
	query Query
	fn    Snapshot
	ch    chan []Document
	stop  chan struct{}
	once  sync.Once
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]map[string]any),
		subs:        make(map[int64]*memorySub),
	}
}

// Get reads one document.
func (m *Memory) Get(ctx context.Context, ref DocRef) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	coll, ok := m.collections[ref.Collection]
	if !ok {
		return Document{}, ErrNotFound
	}
	fields, ok := coll[ref.ID]
	if !ok {
		return Document{}, ErrNotFound
	}

	return Document{Ref: ref, Data: copyFields(fields)}, nil
}

// Query runs a one-shot read.
func (m *Memory) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.runQuery(q), nil
}

// Add creates a document with a generated id and a server-assigned write time
// wherever a field value is ServerTimestamp.
func (m *Memory) Add(ctx context.Context, collection string, fields map[string]any) (DocRef, error) {
	if err := ctx.Err(); err != nil {
		return DocRef{}, err
	}
	if collection == "" {
		return DocRef{}, fmt.Errorf("docstore: empty collection path")
	}

	m.mu.Lock()

	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]map[string]any)
		m.collections[collection] = coll
	}

	id := uuid.NewString()
	stored := make(map[string]any, len(fields))
	writeTime := m.nextWriteTime()
	for k, v := range fields {
		if _, isSentinel := v.(serverTimestamp); isSentinel {
			stored[k] = writeTime
			continue
		}
		stored[k] = v
	}
	coll[id] = stored

	m.mu.Unlock()

	m.notify(collection)

	return DocRef{Collection: collection, ID: id}, nil
}

// BatchUpdate applies all field changes atomically. If any referenced
// document is missing, nothing is written.
func (m *Memory) BatchUpdate(ctx context.Context, updates []Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}

	m.mu.Lock()

	for _, u := range updates {
		coll, ok := m.collections[u.Ref.Collection]
		if !ok {
			m.mu.Unlock()
			return fmt.Errorf("docstore: batch update: %s/%s: %w", u.Ref.Collection, u.Ref.ID, ErrNotFound)
		}
		if _, ok := coll[u.Ref.ID]; !ok {
			m.mu.Unlock()
			return fmt.Errorf("docstore: batch update: %s/%s: %w", u.Ref.Collection, u.Ref.ID, ErrNotFound)
		}
	}

	touched := make(map[string]struct{})
	writeTime := m.nextWriteTime()
	for _, u := range updates {
		doc := m.collections[u.Ref.Collection][u.Ref.ID]
		for k, v := range u.Fields {
			if _, isSentinel := v.(serverTimestamp); isSentinel {
				doc[k] = writeTime
				continue
			}
			doc[k] = v
		}
		touched[u.Ref.Collection] = struct{}{}
	}

	m.mu.Unlock()

	for collection := range touched {
		m.notify(collection)
	}

	return nil
}

// Subscribe registers a live query. The callback fires synchronously with the
// current result set, then from a dedicated delivery goroutine after writes.
func (m *Memory) Subscribe(ctx context.Context, q Query, fn Snapshot) (Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &memorySub{
		query: q,
		fn:    fn,
		ch:    make(chan []Document, 1),
		stop:  make(chan struct{}),
	}

	m.mu.Lock()
	m.nextSubID++
	sub.id = m.nextSubID
	m.subs[sub.id] = sub
	initial := m.runQuery(q)
	m.mu.Unlock()

	metrics.LiveQueriesActive.WithLabelValues(q.Collection).Inc()

	fn(initial)

	go func() {
		for {
			select {
			case docs := <-sub.ch:
				fn(docs)
			case <-sub.stop:
				return
			}
		}
	}()

	unsubscribe := func() {
		sub.once.Do(func() {
			m.mu.Lock()
			delete(m.subs, sub.id)
			m.mu.Unlock()
			close(sub.stop)
			metrics.LiveQueriesActive.WithLabelValues(q.Collection).Dec()
		})
	}

	return unsubscribe, nil
}

// ActiveSubscriptions returns the number of live queries on a collection.
func (m *Memory) ActiveSubscriptions(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, sub := range m.subs {
		if sub.query.Collection == collection {
			n++
		}
	}
	return n
}

// notify recomputes and offers snapshots to subscriptions on a collection.
// Called without the lock held; each offer replaces any undelivered snapshot.
func (m *Memory) notify(collection string) {
	m.mu.RLock()
	var targets []*memorySub
	for _, sub := range m.subs {
		if sub.query.Collection == collection {
			targets = append(targets, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range targets {
		m.mu.RLock()
		docs := m.runQuery(sub.query)
		m.mu.RUnlock()

		select {
		case sub.ch <- docs:
		default:
			select {
			case <-sub.ch:
			default:
			}
			// A concurrent notifier may have refilled the buffer after the
			// drain; if delivery has stopped, no one will ever free it again,
			// so the send must not block past the subscription's lifetime.
			select {
			case sub.ch <- docs:
			case <-sub.stop:
			}
		}
	}
}

// nextWriteTime returns a strictly increasing timestamp. Caller holds mu.
func (m *Memory) nextWriteTime() time.Time {
	now := time.Now().UTC()
	if !now.After(m.lastWrite) {
		now = m.lastWrite.Add(time.Nanosecond)
	}
	m.lastWrite = now
	return now
}

// runQuery evaluates a query against current state. Caller holds mu.
func (m *Memory) runQuery(q Query) []Document {
	coll := m.collections[q.Collection]

	var docs []Document
	for id, fields := range coll {
		if !matchesFilters(fields, q.Filters) {
			continue
		}
		docs = append(docs, Document{
			Ref:  DocRef{Collection: q.Collection, ID: id},
			Data: copyFields(fields),
		})
	}

	if q.OrderBy != nil {
		field, desc := q.OrderBy.Field, q.OrderBy.Descending
		sort.Slice(docs, func(i, j int) bool {
			c := compareValues(docs[i].Data[field], docs[j].Data[field])
			if c == 0 {
				c = strings.Compare(docs[i].Ref.ID, docs[j].Ref.ID)
			}
			if desc {
				return c > 0
			}
			return c < 0
		})
	}

	if q.StartAfter != nil {
		after := -1
		for i, d := range docs {
			if d.Ref.ID == q.StartAfter.ID {
				after = i
				break
			}
		}
		if after < 0 {
			// Cursor document no longer in the result set; nothing follows it.
			return nil
		}
		docs = docs[after+1:]
	}

	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}

	return docs
}

func matchesFilters(fields map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if f.Op != OpEqual {
			return false
		}
		if compareValues(fields[f.Field], f.Value) != 0 {
			return false
		}
	}
	return true
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return -1
		}
		switch {
		case av.Before(bv):
			return -1
		case av.After(bv):
			return 1
		default:
			return 0
		}
	case string:
		bv, ok := b.(string)
		if !ok {
			return -1
		}
		return strings.Compare(av, bv)
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return -1
		}
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case int:
		return compareInt64(int64(av), b)
	case int64:
		return compareInt64(av, b)
	case float64:
		bv, ok := toFloat(b)
		if !ok {
			return -1
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case nil:
		if b == nil {
			return 0
		}
		return -1
	default:
		return -1
	}
}

func compareInt64(av int64, b any) int {
	var bv int64
	switch x := b.(type) {
	case int:
		bv = int64(x)
	case int64:
		bv = x
	case float64:
		bv = int64(x)
	default:
		return -1
	}
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
