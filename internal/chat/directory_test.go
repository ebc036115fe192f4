package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicstack/certificate-portal/internal/docstore"
	"github.com/civicstack/certificate-portal/internal/model"
)

func TestVoterSeesOnlyOwnRequests(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	mine := e.seedRequest(t, "Maria Santos", voter.Email, "pending")
	e.seedRequest(t, "Jose Cruz", "jose@example.com", "pending")

	reqs, err := e.dir.List(ctx, voter)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, mine, reqs[0].ID)

	all, err := e.dir.List(ctx, staff)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestExcludedRequestsNeverDelivered(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.seedRequest(t, "Maria Santos", voter.Email, "Declined")
	e.seedRequest(t, "Jose Cruz", "jose@example.com", "rejected")
	kept := e.seedRequest(t, "Ana Reyes", "ana@example.com", "pending")

	reqs, err := e.dir.List(ctx, staff)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, kept, reqs[0].ID)
}

func TestGetVisibility(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	mine := e.seedRequest(t, "Maria Santos", voter.Email, "pending")
	other := e.seedRequest(t, "Jose Cruz", "jose@example.com", "pending")
	declined := e.seedRequest(t, "Ana Reyes", voter.Email, "declined")

	_, err := e.dir.Get(ctx, voter, mine)
	assert.NoError(t, err)

	_, err = e.dir.Get(ctx, voter, other)
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	_, err = e.dir.Get(ctx, voter, declined)
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	_, err = e.dir.Get(ctx, voter, "no-such-id")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	// Staff see across emails but excluded requests stay hidden.
	_, err = e.dir.Get(ctx, staff, other)
	assert.NoError(t, err)
	_, err = e.dir.Get(ctx, staff, declined)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestPartition(t *testing.T) {
	reqs := []model.Request{
		{ID: "1", FullName: "Maria Santos", Status: "Pending"},
		{ID: "2", FullName: "Jose Cruz", Status: "Completed"},
		{ID: "3", FullName: "Ana Reyes", Status: "approved"},
		{ID: "4", FullName: "Maria Clara", Status: "under review"},
	}

	active, archived := Partition(reqs, "")
	assert.Equal(t, []string{"1", "4"}, ids(active))
	assert.Equal(t, []string{"2", "3"}, ids(archived))

	active, archived = Partition(reqs, "maria")
	assert.Equal(t, []string{"1", "4"}, ids(active))
	assert.Empty(t, archived)

	active, archived = Partition(reqs, "cruz")
	assert.Empty(t, active)
	assert.Equal(t, []string{"2"}, ids(archived))
}

func TestReselect(t *testing.T) {
	active := []model.Request{{ID: "a1"}, {ID: "a2"}}
	archived := []model.Request{{ID: "r1"}}

	// Current selection survives while still visible.
	assert.Equal(t, "a2", Reselect("a2", active, archived))
	assert.Equal(t, "r1", Reselect("r1", active, archived))

	// Vanished or empty selection falls back to the first active.
	assert.Equal(t, "a1", Reselect("gone", active, archived))
	assert.Equal(t, "a1", Reselect("", active, archived))

	// Then to the first archived, then to nothing.
	assert.Equal(t, "r1", Reselect("", nil, archived))
	assert.Equal(t, "", Reselect("", nil, nil))
}

func TestListenDeliversUpdates(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	var mu sync.Mutex
	var latest []model.Request
	emissions := 0

	unsub, err := e.dir.Listen(ctx, staff, func(reqs []model.Request) {
		mu.Lock()
		latest = reqs
		emissions++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	mu.Lock()
	assert.Empty(t, latest)
	assert.Equal(t, 1, emissions)
	mu.Unlock()

	e.seedRequest(t, "Maria Santos", voter.Email, "pending")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 1
	}, time.Second, 5*time.Millisecond)
}

func ids(reqs []model.Request) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.ID
	}
	return out
}
