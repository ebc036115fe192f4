package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicstack/certificate-portal/internal/model"
)

func TestLoadLatestDeterministic(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	reqID := e.seedRequest(t, "Maria Santos", voter.Email, "pending")

	bodies := []string{"one", "two", "three", "four", "five"}
	for _, b := range bodies {
		e.send(t, voter, reqID, b)
	}

	first, err := e.messages.LoadLatest(ctx, reqID, 3)
	require.NoError(t, err)
	second, err := e.messages.LoadLatest(ctx, reqID, 3)
	require.NoError(t, err)

	require.Len(t, first.Messages, 3)
	assert.Equal(t, first.Messages, second.Messages)

	// Ascending display order: the three most recent, oldest first.
	assert.Equal(t, "three", first.Messages[0].Body)
	assert.Equal(t, "four", first.Messages[1].Body)
	assert.Equal(t, "five", first.Messages[2].Body)
}

func TestLoadOlderReplacesWindow(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	reqID := e.seedRequest(t, "Maria Santos", voter.Email, "pending")

	for _, b := range []string{"m1", "m2", "m3", "m4", "m5"} {
		e.send(t, voter, reqID, b)
	}

	latest, err := e.messages.LoadLatest(ctx, reqID, 2)
	require.NoError(t, err)
	require.Len(t, latest.Messages, 2)
	assert.Equal(t, []string{"m4", "m5"}, bodies(latest.Messages))
	assert.True(t, latest.HasMore)
	require.NotNil(t, latest.Cursor)

	older, err := e.messages.LoadOlder(ctx, reqID, *latest.Cursor, 2)
	require.NoError(t, err)

	// One page at a time: the older page stands alone, never appended.
	require.Len(t, older.Messages, 2)
	assert.Equal(t, []string{"m2", "m3"}, bodies(older.Messages))
	assert.True(t, older.HasMore)

	oldest, err := e.messages.LoadOlder(ctx, reqID, *older.Cursor, 2)
	require.NoError(t, err)
	require.Len(t, oldest.Messages, 1)
	assert.Equal(t, []string{"m1"}, bodies(oldest.Messages))
	assert.False(t, oldest.HasMore)
	require.NotNil(t, oldest.Cursor)
}

func TestHasMoreAtExactMultiple(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	reqID := e.seedRequest(t, "Maria Santos", voter.Email, "pending")
	e.sendN(t, voter, reqID, 3, "msg")

	// Exactly pageSize messages: the full-page heuristic over-reports.
	page, err := e.messages.LoadLatest(ctx, reqID, 3)
	require.NoError(t, err)
	assert.True(t, page.HasMore)

	older, err := e.messages.LoadOlder(ctx, reqID, *page.Cursor, 3)
	require.NoError(t, err)
	assert.Empty(t, older.Messages)
	assert.False(t, older.HasMore)
	assert.Nil(t, older.Cursor)
}

func TestHasMoreUndersizedPage(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	reqID := e.seedRequest(t, "Maria Santos", voter.Email, "pending")
	e.sendN(t, voter, reqID, 2, "msg")

	page, err := e.messages.LoadLatest(ctx, reqID, 3)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 2)
	assert.False(t, page.HasMore)
}

func TestLoadLatestEmptyConversation(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	reqID := e.seedRequest(t, "Maria Santos", voter.Email, "pending")

	page, err := e.messages.LoadLatest(ctx, reqID, 5)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.Nil(t, page.Cursor)
	assert.False(t, page.HasMore)
}

func TestSendSetsOwnReadFlag(t *testing.T) {
	e := newTestEnv(t)
	reqID := e.seedRequest(t, "Maria Santos", voter.Email, "pending")

	msg := e.send(t, voter, reqID, "  Hello  ")

	assert.Equal(t, "Hello", msg.Body)
	assert.Equal(t, model.RoleVoter, msg.Sender)
	assert.Equal(t, voter.ID, msg.SenderID)
	assert.True(t, msg.ReadByVoter)
	assert.False(t, msg.ReadByStaff)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestSendRejectsEmptyBody(t *testing.T) {
	e := newTestEnv(t)
	reqID := e.seedRequest(t, "Maria Santos", voter.Email, "pending")

	_, err := e.messages.Send(context.Background(), voter, reqID, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestAdminSendsAsStaff(t *testing.T) {
	e := newTestEnv(t)
	reqID := e.seedRequest(t, "Maria Santos", voter.Email, "pending")
	admin := model.Principal{ID: "a-1", Email: "admin@city.gov", Role: model.RoleAdmin}

	msg := e.send(t, admin, reqID, "On it")

	assert.Equal(t, model.RoleStaff, msg.Sender)
	assert.True(t, msg.ReadByStaff)
	assert.False(t, msg.ReadByVoter)
}

func TestCursorRoundTrip(t *testing.T) {
	cur := Cursor{RequestID: "req-1", MessageID: "msg-9"}

	decoded, err := DecodeCursor(cur.Encode())
	require.NoError(t, err)
	assert.Equal(t, cur, decoded)

	_, err = DecodeCursor("not base64 ???")
	assert.Error(t, err)

	_, err = DecodeCursor("")
	assert.Error(t, err)
}

func TestCursorWrongConversation(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	req1 := e.seedRequest(t, "Maria Santos", voter.Email, "pending")
	req2 := e.seedRequest(t, "Jose Cruz", "jose@example.com", "pending")
	e.sendN(t, voter, req1, 2, "msg")

	page, err := e.messages.LoadLatest(ctx, req1, 1)
	require.NoError(t, err)
	require.NotNil(t, page.Cursor)

	_, err = e.messages.LoadOlder(ctx, req2, *page.Cursor, 1)
	assert.ErrorIs(t, err, ErrCursorMismatch)
}

func bodies(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Body
	}
	return out
}
