package feedback

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/convoflow/internal/session"
)

// storeContract exercises the Store behavior shared by all implementations.
func storeContract(t *testing.T, store Store) {
	t.Helper()

	_, err := store.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.PendingBySession("session-1")
	require.ErrorIs(t, err, ErrNoPending)

	r := NewRequest("session-1", "exec-1", TypeDataCollection, "What amount?", []string{"amount"}, time.Minute)
	require.NoError(t, store.Create(r))

	got, err := store.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, TypeDataCollection, got.Type)
	assert.Equal(t, []string{"amount"}, got.Fields)

	pending, err := store.PendingBySession("session-1")
	require.NoError(t, err)
	assert.Equal(t, r.ID, pending.ID)

	pending.Status = StatusReceived
	pending.Response = map[string]string{"amount": "250"}
	require.NoError(t, store.Update(pending))

	_, err = store.PendingBySession("session-1")
	require.ErrorIs(t, err, ErrNoPending)

	got, err = store.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, got.Status)
	assert.Equal(t, "250", got.Response["amount"])

	ghost := NewRequest("session-2", "exec-2", TypeConfirmation, "Proceed?", nil, time.Minute)
	assert.ErrorIs(t, store.Update(ghost), ErrNotFound)
}

func expiredContract(t *testing.T, store Store) {
	t.Helper()

	stale := NewRequest("session-1", "exec-1", TypeConfirmation, "Proceed?", nil, -time.Minute)
	fresh := NewRequest("session-2", "exec-2", TypeConfirmation, "Proceed?", nil, time.Hour)
	answered := NewRequest("session-3", "exec-3", TypeConfirmation, "Proceed?", nil, -time.Minute)
	answered.Status = StatusReceived

	require.NoError(t, store.Create(stale))
	require.NoError(t, store.Create(fresh))
	require.NoError(t, store.Create(answered))

	expired, err := store.ListPendingExpired(time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)
}

func TestMemoryStoreContract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStoreListPendingExpired(t *testing.T) {
	expiredContract(t, NewMemoryStore())
}

func TestSQLiteStoreContract(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "feedback.db"))
	require.NoError(t, err)
	defer store.Close()
	storeContract(t, store)
}

func TestSQLiteStoreListPendingExpired(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "feedback.db"))
	require.NoError(t, err)
	defer store.Close()
	expiredContract(t, store)
}

func newCoordinator(t *testing.T, ttl time.Duration) (*Coordinator, session.Store, *session.Session) {
	t.Helper()
	sessions := session.NewMemoryStore()
	sess := session.New("user-1", time.Hour)
	require.NoError(t, sessions.Create(sess))
	return NewCoordinator(NewMemoryStore(), sessions, ttl, nil), sessions, sess
}

func TestCoordinatorRequestSuspendsSession(t *testing.T) {
	c, sessions, sess := newCoordinator(t, time.Minute)

	r, err := c.Request(sess.ID, "exec-1", TypeDataCollection, "What amount?", []string{"amount"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)

	got, err := sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusWaitingHumanInput, got.Status)
}

func TestCoordinatorRespond(t *testing.T) {
	c, _, sess := newCoordinator(t, time.Minute)

	_, err := c.Request(sess.ID, "exec-1", TypeDataCollection, "What amount?", []string{"amount"})
	require.NoError(t, err)

	r, err := c.Respond(sess.ID, map[string]string{"amount": "250"})
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, r.Status)
	assert.Equal(t, "250", r.Response["amount"])
	assert.Equal(t, "exec-1", r.ExecutionID)
	require.NotNil(t, r.RespondedAt)
	assert.False(t, r.RespondedAt.IsZero())

	// A second response finds nothing pending.
	_, err = c.Respond(sess.ID, map[string]string{"amount": "300"})
	require.ErrorIs(t, err, ErrNoPending)
}

func TestCoordinatorRespondWithoutPending(t *testing.T) {
	c, _, sess := newCoordinator(t, time.Minute)

	_, err := c.Respond(sess.ID, map[string]string{"amount": "250"})
	require.ErrorIs(t, err, ErrNoPending)
}

func TestCoordinatorRespondAfterExpiry(t *testing.T) {
	c, sessions, sess := newCoordinator(t, time.Minute)

	_, err := c.Request(sess.ID, "exec-1", TypeConfirmation, "Proceed?", nil)
	require.NoError(t, err)

	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err = c.Respond(sess.ID, map[string]string{"confirmed": "yes"})
	require.ErrorIs(t, err, ErrExpired)

	got, err := sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusExpired, got.Status)
}

func TestCoordinatorSweepExpired(t *testing.T) {
	c, sessions, sess := newCoordinator(t, time.Minute)

	_, err := c.Request(sess.ID, "exec-1", TypeDataCollection, "What amount?", []string{"amount"})
	require.NoError(t, err)

	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	swept, err := c.SweepExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusExpired, got.Status)

	_, err = c.Pending(sess.ID)
	require.ErrorIs(t, err, ErrNoPending)
}

func TestCoordinatorCancel(t *testing.T) {
	c, _, sess := newCoordinator(t, time.Minute)

	require.NoError(t, c.Cancel(sess.ID), "nothing pending is not an error")

	r, err := c.Request(sess.ID, "exec-1", TypeConfirmation, "Proceed?", nil)
	require.NoError(t, err)

	require.NoError(t, c.Cancel(sess.ID))
	got, err := c.store.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}
