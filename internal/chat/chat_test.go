package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/civicstack/certificate-portal/internal/docstore"
	"github.com/civicstack/certificate-portal/internal/model"
	"github.com/civicstack/certificate-portal/pkg/logger"
)

var (
	voter = model.Principal{ID: "v-1", Email: "maria@example.com", Role: model.RoleVoter}
	staff = model.Principal{ID: "s-1", Email: "clerk@city.gov", Role: model.RoleStaff}
)

type testEnv struct {
	store    *docstore.Memory
	messages *Messages
	dir      *Directory
	marker   *ReadMarker
	unread   *UnreadCounter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := docstore.NewMemory()
	log := logger.NewNop()
	dir := NewDirectory(store, log)
	return &testEnv{
		store:    store,
		messages: NewMessages(store),
		dir:      dir,
		marker:   NewReadMarker(store, log),
		unread:   NewUnreadCounter(store, dir, log),
	}
}

func (e *testEnv) seedRequest(t *testing.T, name, email, status string) string {
	t.Helper()
	ref, err := e.store.Add(context.Background(), model.RequestsCollection, map[string]any{
		model.FieldFullName:        name,
		model.FieldVoterID:         "vid-" + name,
		model.FieldStatus:          status,
		model.FieldSubmittedAt:     docstore.ServerTimestamp,
		model.FieldEmail:           email,
		model.FieldPurpose:         "employment",
		model.FieldCopiesRequested: 1,
	})
	require.NoError(t, err)
	return ref.ID
}

func (e *testEnv) send(t *testing.T, p model.Principal, requestID, body string) model.Message {
	t.Helper()
	msg, err := e.messages.Send(context.Background(), p, requestID, body)
	require.NoError(t, err)
	return msg
}

func (e *testEnv) sendN(t *testing.T, p model.Principal, requestID string, n int, prefix string) {
	t.Helper()
	for i := 0; i < n; i++ {
		e.send(t, p, requestID, prefix+" "+time.Now().Format(time.RFC3339Nano))
	}
}

func newSession(t *testing.T, e *testEnv, p model.Principal, pageSize int) *Session {
	t.Helper()
	s, err := NewSession(p, SessionDeps{
		Store:    e.store,
		Messages: e.messages,
		Dir:      e.dir,
		Unread:   e.unread,
		Marker:   e.marker,
		Log:      logger.NewNop(),
		PageSize: pageSize,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// waitEvent reads session events until one of the given type arrives.
func waitEvent(t *testing.T, s *Session, typ EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

// lastWindow drains events and returns the most recent window payload,
// waiting for at least one.
func lastWindow(t *testing.T, s *Session) WindowPayload {
	t.Helper()
	ev := waitEvent(t, s, EventWindow)
	payload := ev.Data.(WindowPayload)
	for {
		select {
		case ev := <-s.Events():
			if ev.Type == EventWindow {
				payload = ev.Data.(WindowPayload)
			}
		case <-time.After(100 * time.Millisecond):
			return payload
		}
	}
}
