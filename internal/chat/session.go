package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicstack/certificate-portal/internal/docstore"
	"github.com/civicstack/certificate-portal/internal/model"
	"github.com/civicstack/certificate-portal/pkg/logger"
	"github.com/civicstack/certificate-portal/pkg/metrics"
)

// Session command errors. These map to user-visible degraded states; the
// session itself never dies on them.
var (
	ErrDirectoryLoading = errors.New("chat: request list still loading")
	ErrRequestNotFound  = errors.New("chat: request not found")
	ErrNoSelection      = errors.New("chat: no request selected")
	ErrSessionClosed    = errors.New("chat: session closed")
	ErrStreamAttached   = errors.New("chat: session already has a stream")
)

// Session is one viewer's chat state machine: the live request directory, at
// most one live window subscription on the selected request, and the live
// unread total. All state is owned by a single event-loop goroutine;
// commands and store snapshots are marshalled onto it, so no two operations
// ever interleave. Voter and staff screens are this same machine,
// instantiated per principal.
type Session struct {
	ID        string
	Principal model.Principal

	pageSize int
	store    docstore.Store
	messages *Messages
	dir      *Directory
	unread   *UnreadCounter
	marker   *ReadMarker
	log      *logger.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	cmds      chan func()
	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once

	attached   atomic.Bool
	lastActive atomic.Int64

	// Loop-owned state. Never touched outside the run goroutine.
	visible    []model.Request
	dirLoaded  bool
	nameFilter string
	selectedID string
	selEpoch   int
	win        windowState

	dirUnsub     docstore.Unsubscribe
	winUnsub     docstore.Unsubscribe
	unreadStream *UnreadStream
}

// windowState is the displayed message window: a single (messages, cursor,
// mode) tuple replaced wholesale on every change, never appended to.
type windowState struct {
	messages       []model.Message
	cursor         *Cursor
	hasMore        bool
	viewingHistory bool
	loadInFlight   bool
}

// SessionDeps bundles the collaborators a session composes.
type SessionDeps struct {
	Store    docstore.Store
	Messages *Messages
	Dir      *Directory
	Unread   *UnreadCounter
	Marker   *ReadMarker
	Log      *logger.Logger
	PageSize int
}

// NewSession starts a session for a principal: the event loop, the directory
// subscription, and the unread stream.
func NewSession(principal model.Principal, deps SessionDeps) (*Session, error) {
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Principal: principal,
		pageSize:  pageSize,
		store:     deps.Store,
		messages:  deps.Messages,
		dir:       deps.Dir,
		unread:    deps.Unread,
		marker:    deps.Marker,
		log:       deps.Log.WithPrincipal(principal.ID, string(principal.Role)),
		ctx:       ctx,
		cancel:    cancel,
		cmds:      make(chan func(), 256),
		events:    make(chan Event, 256),
		closed:    make(chan struct{}),
	}
	s.Touch()

	go s.run()

	dirUnsub, err := s.dir.Listen(ctx, principal, func(reqs []model.Request) {
		s.post(func() { s.onDirectory(reqs) })
	})
	if err != nil {
		s.shutdown()
		return nil, err
	}

	unreadStream, err := s.unread.Listen(ctx, principal, func(total int) {
		s.post(func() { s.emit(Event{Type: EventUnread, Data: UnreadPayload{Total: total}}) })
	})
	if err != nil {
		dirUnsub()
		s.shutdown()
		return nil, err
	}

	s.post(func() {
		s.dirUnsub = dirUnsub
		s.unreadStream = unreadStream
	})

	metrics.ChatSessionsActive.Inc()

	return s, nil
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.closed:
			return
		}
	}
}

// post schedules a command on the loop. Dropped if the session is closed.
func (s *Session) post(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.closed:
	}
}

// do runs a command on the loop and waits for its result.
func (s *Session) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- func() { reply <- fn() }:
	case <-s.closed:
		return ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.closed:
		return ErrSessionClosed
	}
}

// emit queues an outbound event. A slow consumer loses stale events first;
// every payload carries full replacement state, so the latest always wins.
func (s *Session) emit(e Event) {
	for {
		select {
		case s.events <- e:
			return
		default:
			select {
			case <-s.events:
			default:
			}
		}
	}
}

// Events is the outbound event stream.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done closes when the session is shut down.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Touch records activity for the idle reaper.
func (s *Session) Touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// IdleSince returns the time of last activity.
func (s *Session) IdleSince() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Attach claims the session's single event stream slot.
func (s *Session) Attach() error {
	if !s.attached.CompareAndSwap(false, true) {
		return ErrStreamAttached
	}
	s.Touch()
	return nil
}

// Detach releases the event stream slot.
func (s *Session) Detach() {
	s.attached.Store(false)
	s.Touch()
}

// Attached reports whether an event stream is connected.
func (s *Session) Attached() bool {
	return s.attached.Load()
}

// Close tears down every subscription and stops the loop.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		select {
		case s.cmds <- func() {
			s.teardownSelection()
			if s.dirUnsub != nil {
				s.dirUnsub()
			}
			if s.unreadStream != nil {
				s.unreadStream.Close()
			}
			s.shutdown()
		}:
		case <-s.closed:
		}
		metrics.ChatSessionsActive.Dec()
	})
}

func (s *Session) shutdown() {
	s.cancel()
	close(s.closed)
}

// onDirectory reacts to an emission of the visible request set.
func (s *Session) onDirectory(reqs []model.Request) {
	s.visible = reqs
	s.dirLoaded = true
	s.publishDirectory()
}

// publishDirectory partitions, reselects, and emits the directory state.
func (s *Session) publishDirectory() {
	active, archived := Partition(s.visible, s.nameFilter)
	newSelected := Reselect(s.selectedID, active, archived)

	s.emit(Event{Type: EventDirectory, Data: DirectoryPayload{
		Active:     active,
		Archived:   archived,
		SelectedID: newSelected,
	}})

	if newSelected != s.selectedID {
		s.applySelection(newSelected)
	}
}

// Select switches the session to a request. Selecting marks the thread read
// and refreshes the unread total.
func (s *Session) Select(requestID string) error {
	s.Touch()
	return s.do(func() error {
		if requestID == s.selectedID {
			return nil
		}
		if requestID != "" {
			if !s.dirLoaded {
				return ErrDirectoryLoading
			}
			if !s.isVisible(requestID) {
				return ErrRequestNotFound
			}
		}
		s.applySelection(requestID)
		return nil
	})
}

func (s *Session) isVisible(requestID string) bool {
	for _, req := range s.visible {
		if req.ID == requestID {
			return true
		}
	}
	return false
}

// applySelection cancels the previous window subscription, resets window
// state, and establishes the new subscription. Runs on the loop.
func (s *Session) applySelection(requestID string) {
	s.selEpoch++
	epoch := s.selEpoch

	s.teardownSelection()
	s.selectedID = requestID
	s.win = windowState{}

	if requestID == "" {
		s.emit(Event{Type: EventWindow, Data: WindowPayload{Messages: []model.Message{}}})
		return
	}

	unsub, err := s.store.Subscribe(s.ctx, WindowQuery(requestID, s.pageSize), func(docs []docstore.Document) {
		s.post(func() { s.onWindowSnapshot(epoch, requestID, docs) })
	})
	if err != nil {
		s.log.Error("failed to watch message window",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		s.emit(Event{Type: EventError, Data: ErrorPayload{
			Code:    "load_failed",
			Message: "cannot load messages",
		}})
		return
	}
	s.winUnsub = unsub

	// Read-state is best effort and must never block viewing.
	go s.markReadAndRefresh(requestID)
}

func (s *Session) teardownSelection() {
	if s.winUnsub != nil {
		s.winUnsub()
		s.winUnsub = nil
	}
}

// onWindowSnapshot applies a live push of the latest window. Pushes for a
// stale selection are dropped; pushes while the viewer is in history are
// received but not applied.
func (s *Session) onWindowSnapshot(epoch int, requestID string, docs []docstore.Document) {
	if epoch != s.selEpoch || requestID != s.selectedID {
		return
	}
	if s.win.viewingHistory {
		s.log.Debug("window update suppressed while viewing history",
			zap.String("request_id", requestID),
			zap.Int("size", len(docs)),
		)
		return
	}

	page := PageFromWindow(requestID, docs, s.pageSize)
	s.win.messages = page.Messages
	s.win.cursor = page.Cursor
	s.win.hasMore = page.HasMore
	s.publishWindow()
}

func (s *Session) publishWindow() {
	payload := WindowPayload{
		RequestID:      s.selectedID,
		Messages:       s.win.messages,
		HasMore:        s.win.hasMore,
		ViewingHistory: s.win.viewingHistory,
	}
	if payload.Messages == nil {
		payload.Messages = []model.Message{}
	}
	if s.win.cursor != nil {
		payload.Cursor = s.win.cursor.Encode()
	}
	s.emit(Event{Type: EventWindow, Data: payload})
}

// LoadOlder walks one page back in history. Calls without a cursor, without a
// selection, or while another load is in flight are ignored: they come from
// ordinary UI races, not faults.
func (s *Session) LoadOlder() error {
	s.Touch()
	return s.do(func() error {
		if s.selectedID == "" || s.win.loadInFlight || s.win.cursor == nil {
			s.log.Debug("load older ignored",
				zap.Bool("in_flight", s.win.loadInFlight),
				zap.Bool("has_cursor", s.win.cursor != nil),
			)
			return nil
		}

		s.win.loadInFlight = true
		epoch := s.selEpoch
		requestID := s.selectedID
		cursor := *s.win.cursor

		go func() {
			page, err := s.messages.LoadOlder(s.ctx, requestID, cursor, s.pageSize)
			s.post(func() { s.finishLoadOlder(epoch, page, err) })
		}()
		return nil
	})
}

func (s *Session) finishLoadOlder(epoch int, page Page, err error) {
	if epoch != s.selEpoch {
		return
	}
	s.win.loadInFlight = false

	if err != nil {
		s.log.Error("failed to load older messages", zap.Error(err))
		s.emit(Event{Type: EventError, Data: ErrorPayload{
			Code:    "load_failed",
			Message: "cannot load messages",
		}})
		return
	}

	if len(page.Messages) == 0 {
		// History exhausted; keep the current page on screen.
		s.win.hasMore = false
		s.publishWindow()
		return
	}

	s.win.messages = page.Messages
	s.win.cursor = page.Cursor
	s.win.hasMore = page.HasMore
	s.win.viewingHistory = true
	s.publishWindow()
}

// JumpToLatest leaves history mode: re-fetches the latest window, resets the
// cursor, and re-enables live updates.
func (s *Session) JumpToLatest() error {
	s.Touch()
	return s.do(func() error {
		if s.selectedID == "" || s.win.loadInFlight {
			return nil
		}

		s.win.loadInFlight = true
		epoch := s.selEpoch
		requestID := s.selectedID

		go func() {
			page, err := s.messages.LoadLatest(s.ctx, requestID, s.pageSize)
			s.post(func() { s.finishJumpToLatest(epoch, page, err) })
		}()
		return nil
	})
}

func (s *Session) finishJumpToLatest(epoch int, page Page, err error) {
	if epoch != s.selEpoch {
		return
	}
	s.win.loadInFlight = false

	if err != nil {
		s.log.Error("failed to load latest messages", zap.Error(err))
		s.emit(Event{Type: EventError, Data: ErrorPayload{
			Code:    "load_failed",
			Message: "cannot load messages",
		}})
		return
	}

	s.win.messages = page.Messages
	s.win.cursor = page.Cursor
	s.win.hasMore = page.HasMore
	s.win.viewingHistory = false
	s.publishWindow()
}

// SetFilter applies a requester-name filter and re-evaluates the selection.
func (s *Session) SetFilter(query string) error {
	s.Touch()
	return s.do(func() error {
		s.nameFilter = query
		if s.dirLoaded {
			s.publishDirectory()
		}
		return nil
	})
}

// Send appends a message to the selected request's thread. On failure the
// caller keeps the composed text for a manual retry.
func (s *Session) Send(body string) error {
	s.Touch()
	return s.do(func() error {
		if s.selectedID == "" {
			return ErrNoSelection
		}
		_, err := s.messages.Send(s.ctx, s.Principal, s.selectedID, body)
		return err
	})
}

// MarkRead explicitly marks the selected thread read and refreshes the
// unread total. Failures are logged, never surfaced.
func (s *Session) MarkRead() error {
	s.Touch()
	return s.do(func() error {
		if s.selectedID == "" {
			return ErrNoSelection
		}
		requestID := s.selectedID
		go s.markReadAndRefresh(requestID)
		return nil
	})
}

func (s *Session) markReadAndRefresh(requestID string) {
	if _, err := s.marker.MarkRead(s.ctx, requestID, s.Principal.Role); err != nil {
		s.log.Warn("mark read failed", zap.String("request_id", requestID), zap.Error(err))
		return
	}

	s.post(func() {
		stream := s.unreadStream
		if stream == nil {
			return
		}
		go func() {
			if _, err := stream.Refresh(s.ctx); err != nil {
				s.log.Warn("unread refresh failed", zap.Error(err))
			}
		}()
	})
}
