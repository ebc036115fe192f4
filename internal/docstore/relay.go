package docstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix is the prefix for all change-notification subjects.
const SubjectPrefix = "docs"

// originHeader carries the writing instance's id so it can skip its own
// notifications (the inner store already pushed to local subscribers).
const originHeader = "Docstore-Origin"

// changeBus is the slice of the NATS connection the relay uses. *nats.Conn
// satisfies it.
type changeBus interface {
	PublishMsg(msg *nats.Msg) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Relay wraps a Store so that multiple API instances sharing one backing
// store see each other's writes. Every write publishes a change notification
// on a per-collection NATS subject; a subscription re-runs its query against
// the inner store whenever a remote instance writes to its collection.
type Relay struct {
	inner    Store
	conn     changeBus
	instance string
}

// NewRelay wraps a store with NATS change notifications.
func NewRelay(inner Store, conn *nats.Conn) *Relay {
	return newRelay(inner, conn)
}

func newRelay(inner Store, conn changeBus) *Relay {
	return &Relay{
		inner:    inner,
		conn:     conn,
		instance: uuid.NewString(),
	}
}

// ChangeSubject returns the notification subject for a collection path.
func ChangeSubject(collection string) string {
	return SubjectPrefix + "." + strings.ReplaceAll(collection, "/", ".")
}

// Get reads one document from the inner store.
func (r *Relay) Get(ctx context.Context, ref DocRef) (Document, error) {
	return r.inner.Get(ctx, ref)
}

// Query runs a one-shot read against the inner store.
func (r *Relay) Query(ctx context.Context, q Query) ([]Document, error) {
	return r.inner.Query(ctx, q)
}

// Add creates a document and notifies other instances.
func (r *Relay) Add(ctx context.Context, collection string, fields map[string]any) (DocRef, error) {
	ref, err := r.inner.Add(ctx, collection, fields)
	if err != nil {
		return DocRef{}, err
	}
	r.publish(collection)
	return ref, nil
}

// BatchUpdate applies all field changes atomically and notifies other
// instances once per touched collection.
func (r *Relay) BatchUpdate(ctx context.Context, updates []Update) error {
	if err := r.inner.BatchUpdate(ctx, updates); err != nil {
		return err
	}

	touched := make(map[string]struct{})
	for _, u := range updates {
		touched[u.Ref.Collection] = struct{}{}
	}
	for collection := range touched {
		r.publish(collection)
	}
	return nil
}

// Subscribe registers the query on the inner store and additionally re-runs
// it when a remote instance announces a write to the collection. Local and
// remote changes both funnel into one delivery goroutine that re-queries the
// inner store, so snapshots are delivered sequentially and the last delivery
// always reflects the newest state.
func (r *Relay) Subscribe(ctx context.Context, q Query, fn Snapshot) (Unsubscribe, error) {
	dirty := make(chan struct{}, 1)
	stop := make(chan struct{})

	mark := func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	}

	// The inner subscription serves only as a local write trigger; its
	// snapshots are discarded in favor of a fresh query on the delivery
	// goroutine. Its synchronous initial snapshot marks the query dirty once,
	// costing one redundant delivery of the initial state.
	innerUnsub, err := r.inner.Subscribe(ctx, q, func([]Document) { mark() })
	if err != nil {
		return nil, err
	}

	natsSub, err := r.conn.Subscribe(ChangeSubject(q.Collection), func(msg *nats.Msg) {
		if msg.Header.Get(originHeader) == r.instance {
			return
		}
		mark()
	})
	if err != nil {
		innerUnsub()
		return nil, fmt.Errorf("failed to subscribe to change subject: %w", err)
	}

	initial, err := r.inner.Query(ctx, q)
	if err != nil {
		_ = natsSub.Unsubscribe()
		innerUnsub()
		return nil, err
	}
	fn(initial)

	go func() {
		for {
			select {
			case <-dirty:
				docs, qerr := r.inner.Query(context.Background(), q)
				if qerr != nil {
					continue
				}
				fn(docs)
			case <-stop:
				return
			}
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(stop)
			_ = natsSub.Unsubscribe()
			innerUnsub()
		})
	}

	return unsubscribe, nil
}

func (r *Relay) publish(collection string) {
	msg := nats.NewMsg(ChangeSubject(collection))
	msg.Header.Set(originHeader, r.instance)
	_ = r.conn.PublishMsg(msg)
}
