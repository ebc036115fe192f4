package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/civicstack/certificate-portal/internal/docstore"
	"github.com/civicstack/certificate-portal/internal/model"
	"github.com/civicstack/certificate-portal/pkg/logger"
	"github.com/civicstack/certificate-portal/pkg/metrics"
)

// UnreadCounter computes the total number of unread messages across every
// request visible to a principal: messages sent by the counterpart whose read
// flag for the principal's side is still false.
type UnreadCounter struct {
	store docstore.Store
	dir   *Directory
	log   *logger.Logger
}

// NewUnreadCounter creates an unread counter.
func NewUnreadCounter(store docstore.Store, dir *Directory, log *logger.Logger) *UnreadCounter {
	return &UnreadCounter{store: store, dir: dir, log: log}
}

func unreadQuery(requestID string, side model.Role) docstore.Query {
	return docstore.Query{
		Collection: model.MessagesCollection(requestID),
		Filters: []docstore.Filter{
			{Field: model.FieldSender, Op: docstore.OpEqual, Value: string(side.Counterpart())},
			{Field: side.ReadFlagField(), Op: docstore.OpEqual, Value: false},
		},
	}
}

// Total recomputes the unread total with plain reads, no subscriptions.
func (u *UnreadCounter) Total(ctx context.Context, principal model.Principal) (int, error) {
	reqs, err := u.dir.List(ctx, principal)
	if err != nil {
		return 0, err
	}

	side := principal.Role.ChatSide()
	total := 0
	for _, req := range reqs {
		docs, err := u.store.Query(ctx, unreadQuery(req.ID, side))
		if err != nil {
			return 0, fmt.Errorf("failed to count unread for request %s: %w", req.ID, err)
		}
		total += len(docs)
	}

	metrics.UnreadRefreshesTotal.Inc()
	return total, nil
}

// Listen starts a live unread-total stream. One count subscription is held
// per visible request; whenever the visible set itself changes (a request
// added or removed, not a field edit), the whole set of inner subscriptions
// is torn down and rebuilt under a new generation tag. Late snapshots from a
// cancelled generation are discarded. An empty visible set emits 0 with no
// inner subscriptions.
func (u *UnreadCounter) Listen(ctx context.Context, principal model.Principal, fn func(int)) (*UnreadStream, error) {
	s := &UnreadStream{
		counter:   u,
		ctx:       ctx,
		principal: principal,
		side:      principal.Role.ChatSide(),
		fn:        fn,
	}

	outerUnsub, err := u.dir.Listen(ctx, principal, s.rebuild)
	if err != nil {
		return nil, err
	}
	s.outerUnsub = outerUnsub

	return s, nil
}

// UnreadStream is one running live unread total.
type UnreadStream struct {
	counter   *UnreadCounter
	ctx       context.Context
	principal model.Principal
	side      model.Role
	fn        func(int)

	outerUnsub docstore.Unsubscribe

	mu         sync.Mutex
	generation int
	primed     bool
	ids        []string
	counts     []int
	inner      []docstore.Unsubscribe
	closed     bool

	emitMu sync.Mutex
}

// rebuild reacts to an emission of the outer visible set.
func (s *UnreadStream) rebuild(reqs []model.Request) {
	ids := make([]string, len(reqs))
	for i, req := range reqs {
		ids[i] = req.ID
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.primed && sameIDSet(ids, s.ids) {
		// Membership unchanged; the per-request subscriptions stay live and
		// keep their slots current on their own. The first emission never
		// takes this path: the stream must emit even for an empty set.
		s.mu.Unlock()
		return
	}
	s.primed = true
	s.generation++
	gen := s.generation
	old := s.inner
	s.inner = nil
	s.ids = ids
	s.counts = make([]int, len(ids))
	s.mu.Unlock()

	// Previous generation goes down before the next comes up, so a request
	// present in both is never counted twice.
	for _, unsub := range old {
		unsub()
	}

	if len(ids) == 0 {
		s.emit(0)
		return
	}

	created := make([]docstore.Unsubscribe, 0, len(ids))
	for slot, id := range ids {
		unsub, err := s.counter.store.Subscribe(s.ctx, unreadQuery(id, s.side), s.slotSnapshot(gen, slot))
		if err != nil {
			s.counter.log.Error("failed to watch unread count",
				zap.String("request_id", id),
				zap.Error(err),
			)
			continue
		}
		created = append(created, unsub)
	}

	s.mu.Lock()
	if s.closed || s.generation != gen {
		// A newer generation raced in while we were subscribing; this one is
		// already stale.
		s.mu.Unlock()
		for _, unsub := range created {
			unsub()
		}
		return
	}
	s.inner = created
	s.mu.Unlock()
}

// slotSnapshot returns the snapshot callback for one request's count
// subscription. The generation tag discards snapshots that arrive after the
// subscription's generation was cancelled.
func (s *UnreadStream) slotSnapshot(gen, slot int) docstore.Snapshot {
	return func(docs []docstore.Document) {
		s.mu.Lock()
		if s.closed || gen != s.generation || slot >= len(s.counts) {
			s.mu.Unlock()
			return
		}
		s.counts[slot] = len(docs)
		total := 0
		for _, c := range s.counts {
			total += c
		}
		s.mu.Unlock()

		s.emit(total)
	}
}

// Refresh recomputes the total with plain reads and pushes it into the
// stream, for callers that cannot wait for the live path (e.g. right after a
// mark-read).
func (s *UnreadStream) Refresh(ctx context.Context) (int, error) {
	total, err := s.counter.Total(ctx, s.principal)
	if err != nil {
		return 0, err
	}
	s.emit(total)
	return total, nil
}

// Close cancels the outer subscription and the whole current generation.
func (s *UnreadStream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	inner := s.inner
	s.inner = nil
	s.mu.Unlock()

	s.outerUnsub()
	for _, unsub := range inner {
		unsub()
	}
}

func (s *UnreadStream) emit(total int) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.fn(total)
}

func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
