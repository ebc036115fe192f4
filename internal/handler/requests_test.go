package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicstack/certificate-portal/internal/chat"
	"github.com/civicstack/certificate-portal/internal/docstore"
	"github.com/civicstack/certificate-portal/internal/middleware"
	"github.com/civicstack/certificate-portal/internal/model"
	"github.com/civicstack/certificate-portal/pkg/logger"
)

var (
	testVoter = model.Principal{ID: "v-1", Email: "maria@example.com", Role: model.RoleVoter}
	testStaff = model.Principal{ID: "s-1", Email: "clerk@city.gov", Role: model.RoleStaff}
)

type handlerEnv struct {
	store  *docstore.Memory
	router *chi.Mux
}

// asPrincipal stamps a fixed principal onto every request, standing in for
// the JWT middleware, which has its own tests.
func asPrincipal(p model.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), middleware.PrincipalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newHandlerEnv(t *testing.T, p model.Principal) *handlerEnv {
	t.Helper()
	store := docstore.NewMemory()
	log := logger.NewNop()
	dir := chat.NewDirectory(store, log)
	h := NewRequestHandler(dir, chat.NewMessages(store), chat.NewReadMarker(store, log), chat.NewUnreadCounter(store, dir, log), log)

	r := chi.NewRouter()
	r.Use(asPrincipal(p))
	r.Get("/api/v1/requests", h.List)
	r.Get("/api/v1/requests/{id}", h.Get)
	r.Get("/api/v1/requests/{id}/messages", h.Messages)
	r.Post("/api/v1/requests/{id}/messages", h.Send)
	r.Post("/api/v1/requests/{id}/read", h.Read)
	r.Get("/api/v1/unread", h.Unread)

	return &handlerEnv{store: store, router: r}
}

func (e *handlerEnv) seedRequest(t *testing.T, name, email, status string) string {
	t.Helper()
	ref, err := e.store.Add(context.Background(), model.RequestsCollection, map[string]any{
		model.FieldFullName:    name,
		model.FieldVoterID:     "vid-" + name,
		model.FieldStatus:      status,
		model.FieldSubmittedAt: docstore.ServerTimestamp,
		model.FieldEmail:       email,
	})
	require.NoError(t, err)
	return ref.ID
}

func (e *handlerEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestListPartitionsAndFilters(t *testing.T) {
	e := newHandlerEnv(t, testStaff)
	e.seedRequest(t, "Maria Santos", "maria@example.com", "pending")
	e.seedRequest(t, "Jose Cruz", "jose@example.com", "approved")
	e.seedRequest(t, "Ana Reyes", "ana@example.com", "declined")

	rec := e.do(t, http.MethodGet, "/api/v1/requests", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[ListResponse](t, rec)
	require.Len(t, resp.Active, 1)
	require.Len(t, resp.Archived, 1)
	assert.Equal(t, "Maria Santos", resp.Active[0].FullName)
	assert.Equal(t, "Jose Cruz", resp.Archived[0].FullName)

	rec = e.do(t, http.MethodGet, "/api/v1/requests?q=cruz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[ListResponse](t, rec)
	assert.Empty(t, resp.Active)
	require.Len(t, resp.Archived, 1)
}

func TestGetEnforcesVisibility(t *testing.T) {
	e := newHandlerEnv(t, testVoter)
	mine := e.seedRequest(t, "Maria Santos", testVoter.Email, "pending")
	foreign := e.seedRequest(t, "Jose Cruz", "jose@example.com", "pending")

	rec := e.do(t, http.MethodGet, "/api/v1/requests/"+mine, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/requests/"+foreign, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/requests/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessagesPaginationFlow(t *testing.T) {
	e := newHandlerEnv(t, testVoter)
	reqID := e.seedRequest(t, "Maria Santos", testVoter.Email, "pending")

	for _, body := range []string{"m1", "m2", "m3"} {
		rec := e.do(t, http.MethodPost, "/api/v1/requests/"+reqID+"/messages", SendRequest{Message: body})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := e.do(t, http.MethodGet, "/api/v1/requests/"+reqID+"/messages?page_size=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[PageResponse](t, rec)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "m2", page.Messages[0].Body)
	assert.Equal(t, "m3", page.Messages[1].Body)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.Cursor)

	rec = e.do(t, http.MethodGet, "/api/v1/requests/"+reqID+"/messages?page_size=2&cursor="+page.Cursor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	older := decode[PageResponse](t, rec)
	require.Len(t, older.Messages, 1)
	assert.Equal(t, "m1", older.Messages[0].Body)
	assert.False(t, older.HasMore)
}

func TestMessagesBadInputs(t *testing.T) {
	e := newHandlerEnv(t, testVoter)
	reqID := e.seedRequest(t, "Maria Santos", testVoter.Email, "pending")
	other := e.seedRequest(t, "Maria Santos", testVoter.Email, "pending")

	rec := e.do(t, http.MethodGet, "/api/v1/requests/"+reqID+"/messages?page_size=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/requests/"+reqID+"/messages?page_size=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/requests/"+reqID+"/messages?cursor=%3F%3F%3F", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A cursor minted for one conversation is rejected on another.
	e.do(t, http.MethodPost, "/api/v1/requests/"+reqID+"/messages", SendRequest{Message: "m1"})
	e.do(t, http.MethodPost, "/api/v1/requests/"+reqID+"/messages", SendRequest{Message: "m2"})
	rec = e.do(t, http.MethodGet, "/api/v1/requests/"+reqID+"/messages?page_size=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cursor := decode[PageResponse](t, rec).Cursor
	require.NotEmpty(t, cursor)

	rec = e.do(t, http.MethodGet, "/api/v1/requests/"+other+"/messages?cursor="+cursor, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendValidation(t *testing.T) {
	e := newHandlerEnv(t, testVoter)
	reqID := e.seedRequest(t, "Maria Santos", testVoter.Email, "pending")

	rec := e.do(t, http.MethodPost, "/api/v1/requests/"+reqID+"/messages", SendRequest{Message: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/requests/no-such-id/messages", SendRequest{Message: "Hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/requests/"+reqID+"/messages", SendRequest{Message: "Hello"})
	require.Equal(t, http.StatusCreated, rec.Code)
	msg := decode[model.Message](t, rec)
	assert.Equal(t, "Hello", msg.Body)
	assert.Equal(t, model.RoleVoter, msg.Sender)
	assert.True(t, msg.ReadByVoter)
	assert.False(t, msg.ReadByStaff)
}

func TestReadAndUnreadRoundTrip(t *testing.T) {
	voterEnv := newHandlerEnv(t, testVoter)
	reqID := voterEnv.seedRequest(t, "Maria Santos", testVoter.Email, "pending")

	rec := voterEnv.do(t, http.MethodPost, "/api/v1/requests/"+reqID+"/messages", SendRequest{Message: "Hello"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Same store, staff principal.
	staffRouter := chi.NewRouter()
	log := logger.NewNop()
	dir := chat.NewDirectory(voterEnv.store, log)
	h := NewRequestHandler(dir, chat.NewMessages(voterEnv.store), chat.NewReadMarker(voterEnv.store, log), chat.NewUnreadCounter(voterEnv.store, dir, log), log)
	staffRouter.Use(asPrincipal(testStaff))
	staffRouter.Post("/api/v1/requests/{id}/read", h.Read)
	staffRouter.Get("/api/v1/unread", h.Unread)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/unread", nil)
	rec = httptest.NewRecorder()
	staffRouter.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[map[string]int](t, rec)["total"])

	req = httptest.NewRequest(http.MethodPost, "/api/v1/requests/"+reqID+"/read", nil)
	rec = httptest.NewRecorder()
	staffRouter.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[map[string]int](t, rec)["marked"])

	req = httptest.NewRequest(http.MethodGet, "/api/v1/unread", nil)
	rec = httptest.NewRecorder()
	staffRouter.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[map[string]int](t, rec)["total"])
}
