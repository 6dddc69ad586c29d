package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/convoflow/internal/feedback"
	"github.com/randalmurphal/convoflow/internal/intent"
	"github.com/randalmurphal/convoflow/internal/session"
	"github.com/randalmurphal/convoflow/internal/workflow"
	"github.com/randalmurphal/convoflow/pkg/convoflow/checkpoint"
	"github.com/randalmurphal/convoflow/pkg/resilience"
)

type stubTools struct {
	mu    sync.Mutex
	calls []string
	err   error
	delay time.Duration
}

func (s *stubTools) Invoke(ctx context.Context, def intent.Definition, data map[string]string) ([]byte, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	s.calls = append(s.calls, def.Name)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return []byte(`{"ok":true}`), nil
}

type fixture struct {
	svc      *Service
	sessions session.Store
	tools    *stubTools
	coord    *feedback.Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sessions := session.NewMemoryStore()
	tools := &stubTools{}
	coord := feedback.NewCoordinator(feedback.NewMemoryStore(), sessions, time.Minute, nil)
	executions := workflow.NewMemoryExecutionStore()

	engine, err := workflow.NewEngine(workflow.Config{
		Catalog:     intent.Defaults(),
		Tools:       tools,
		Checkpoints: checkpoint.NewMemoryStore(),
		Executions:  executions,
	})
	require.NoError(t, err)

	svc := New(Config{
		Sessions:   sessions,
		Feedback:   coord,
		Engine:     engine,
		Executions: executions,
		Breakers:   resilience.NewRegistry(resilience.DefaultBreakerConfig),
		SessionTTL: time.Hour,
	})
	return &fixture{svc: svc, sessions: sessions, tools: tools, coord: coord}
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t)

	sess, err := f.svc.CreateSession(context.Background(), "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, sess.Status)

	_, err = f.svc.CreateSession(context.Background(), "  ", "")
	require.ErrorIs(t, err, ErrEmptyUserID)

	got, err := f.svc.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	_, err = f.svc.GetSession(context.Background(), "ghost")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestCreateSessionWithCallerSuppliedID(t *testing.T) {
	f := newFixture(t)

	sess, err := f.svc.CreateSession(context.Background(), "user-1", "chat-42")
	require.NoError(t, err)
	assert.Equal(t, "chat-42", sess.ID)

	_, err = f.svc.CreateSession(context.Background(), "user-2", "chat-42")
	require.ErrorIs(t, err, session.ErrExists)
}

func TestFirstMessageCreatesSessionForUser(t *testing.T) {
	f := newFixture(t)

	reply, err := f.svc.ProcessMessage(context.Background(), "chat-7", "user-1",
		"Check the balance of account 12345678")
	require.NoError(t, err)
	assert.Equal(t, "chat-7", reply.SessionID)
	assert.NotEmpty(t, reply.Response)

	got, err := f.svc.GetSession(context.Background(), "chat-7")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Len(t, got.History, 2)
}

func TestProcessMessageCompletesReadOnlyIntent(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.svc.CreateSession(context.Background(), "user-1", "")

	reply, err := f.svc.ProcessMessage(context.Background(), sess.ID, "", "Check the balance of account 12345678")
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, reply.Status)
	assert.NotEmpty(t, reply.Response)

	got, err := f.svc.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Intent, "finished intent resets for the next request")
	assert.Len(t, got.History, 2, "user turn and assistant turn recorded")
}

func TestProcessMessageSuspendsAndResumesViaFeedback(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.svc.CreateSession(context.Background(), "user-1", "")

	reply, err := f.svc.ProcessMessage(context.Background(), sess.ID, "", "I want to transfer money")
	require.NoError(t, err)
	assert.Equal(t, session.StatusWaitingHumanInput, reply.Status)
	assert.ElementsMatch(t, []string{"amount", "to_account"}, reply.Fields)
	assert.NotEmpty(t, reply.RequestID)

	got, err := f.svc.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "collect_data", got.CurrentStep)

	// Messages are rejected while input is pending.
	_, err = f.svc.ProcessMessage(context.Background(), sess.ID, "", "hello?")
	require.ErrorIs(t, err, ErrAwaitingInput)

	reply, err = f.svc.ProcessHumanFeedback(context.Background(), sess.ID,
		map[string]string{"amount": "250", "to_account": "savings"})
	require.NoError(t, err)
	assert.Equal(t, session.StatusWaitingHumanInput, reply.Status, "mutating intent asks for confirmation")
	assert.Contains(t, reply.Question, "250")

	reply, err = f.svc.ProcessHumanFeedback(context.Background(), sess.ID,
		map[string]string{"confirmed": "yes"})
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, reply.Status)
	assert.Equal(t, []string{"banking.transfer.money"}, f.tools.calls)
}

func TestExecutionTrailSpansSuspendedTurns(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.svc.CreateSession(context.Background(), "user-1", "")

	reply, err := f.svc.ProcessMessage(context.Background(), sess.ID, "", "What is my balance")
	require.NoError(t, err)
	require.Equal(t, session.StatusWaitingHumanInput, reply.Status)

	_, err = f.svc.ProcessHumanFeedback(context.Background(), sess.ID,
		map[string]string{"account_id": "12345678"})
	require.NoError(t, err)

	// The whole turn chain is one run: a single record whose path covers
	// both the suspended turn and its resume, finished exactly once.
	execs, err := f.svc.ListExecutions(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, workflow.ExecutionCompleted, execs[0].Status)
	require.NotNil(t, execs[0].FinishedAt)
	assert.Equal(t, []string{
		"analyze_intent", "collect_data",
		"collect_data", "invoke_tool", "compose_response",
	}, execs[0].Path)
}

func TestProcessMessageValidation(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.svc.CreateSession(context.Background(), "user-1", "")

	_, err := f.svc.ProcessMessage(context.Background(), sess.ID, "", "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)

	_, err = f.svc.ProcessMessage(context.Background(), "ghost", "", "hello")
	require.ErrorIs(t, err, session.ErrNotFound)

	_, err = f.svc.ProcessHumanFeedback(context.Background(), sess.ID, nil)
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestProcessHumanFeedbackWithoutPending(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.svc.CreateSession(context.Background(), "user-1", "")

	_, err := f.svc.ProcessHumanFeedback(context.Background(), sess.ID,
		map[string]string{"amount": "250"})
	require.ErrorIs(t, err, feedback.ErrNoPending)
}

func TestDownstreamFailureKeepsSessionActive(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.svc.CreateSession(context.Background(), "user-1", "")
	f.tools.err = &resilience.DownstreamError{Dependency: "accounts", Status: 503, Attempts: 4}

	_, err := f.svc.ProcessMessage(context.Background(), sess.ID, "", "Check the balance of account 12345678")
	require.Error(t, err)
	assert.True(t, workflow.IsDownstreamFailure(err))

	got, err := f.svc.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, got.Status, "outage leaves the session retryable")

	// The dependency recovers and the same request succeeds.
	f.tools.err = nil
	reply, err := f.svc.ProcessMessage(context.Background(), sess.ID, "", "Check the balance of account 12345678")
	require.NoError(t, err)
	assert.NotEmpty(t, reply.Response)
}

func TestUnrecoverableFailureFailsSession(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.svc.CreateSession(context.Background(), "user-1", "")
	f.tools.err = errors.New("tool invariant violated")

	_, err := f.svc.ProcessMessage(context.Background(), sess.ID, "", "Check the balance of account 12345678")
	require.Error(t, err)

	got, err := f.svc.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, got.Status)

	_, err = f.svc.ProcessMessage(context.Background(), sess.ID, "", "try again")
	require.ErrorIs(t, err, ErrSessionTerminal)
}

func TestCompleteSession(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.svc.CreateSession(context.Background(), "user-1", "")

	// Leave a pending confirmation outstanding.
	_, err := f.svc.ProcessMessage(context.Background(), sess.ID, "", "Transfer $500 to savings")
	require.NoError(t, err)

	done, err := f.svc.CompleteSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, done.Status)

	_, err = f.coord.Pending(sess.ID)
	require.ErrorIs(t, err, feedback.ErrNoPending, "pending request is cancelled")

	execs, err := f.svc.ListExecutions(context.Background(), sess.ID)
	require.NoError(t, err)
	require.NotEmpty(t, execs)
	assert.Equal(t, workflow.ExecutionCancelled, execs[len(execs)-1].Status,
		"suspended run is abandoned when the session closes")

	_, err = f.svc.CompleteSession(context.Background(), sess.ID)
	require.ErrorIs(t, err, ErrSessionTerminal)
}

func TestListUserSessions(t *testing.T) {
	f := newFixture(t)
	a, _ := f.svc.CreateSession(context.Background(), "user-1", "")
	_, _ = f.svc.CreateSession(context.Background(), "user-2", "")

	mine, err := f.svc.ListUserSessions(context.Background(), "user-1", "")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, a.ID, mine[0].ID)

	active, err := f.svc.ListUserSessions(context.Background(), "user-1", session.StatusActive)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	done, err := f.svc.ListUserSessions(context.Background(), "user-1", session.StatusCompleted)
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestConcurrentMessagesSerializePerSession(t *testing.T) {
	f := newFixture(t)
	f.tools.delay = 10 * time.Millisecond
	sess, _ := f.svc.CreateSession(context.Background(), "user-1", "")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.ProcessMessage(context.Background(), sess.ID, "",
				"Check the balance of account 12345678")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	// Every turn ran to completion; history holds exactly two entries
	// per turn with no interleaving.
	got, err := f.svc.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, got.History, 2*n)
	for i := 0; i < 2*n; i += 2 {
		assert.Equal(t, "user", got.History[i].Role)
		assert.Equal(t, "assistant", got.History[i+1].Role)
	}
	assert.Len(t, f.tools.calls, n)
}

func TestSweepExpiresStaleSessions(t *testing.T) {
	f := newFixture(t)

	stale := session.New("user-1", -time.Minute)
	require.NoError(t, f.sessions.Create(stale))

	sessions, _ := f.svc.Sweep(context.Background())
	assert.Equal(t, 1, sessions)

	got, err := f.svc.GetSession(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusExpired, got.Status)
}

func TestHealthReportsBreakerStates(t *testing.T) {
	f := newFixture(t)

	h := f.svc.Health(context.Background())
	assert.Equal(t, "ok", h.Status)

	reg := resilience.NewRegistry(resilience.BreakerConfig{Threshold: 1, OpenTimeout: time.Minute})
	require.Error(t, reg.Get("payments").Execute(context.Background(),
		func(context.Context) error { return errors.New("down") }))

	f.svc.breakers = reg
	h = f.svc.Health(context.Background())
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, "open", h.Breakers["payments"])
	assert.True(t, h.Healthy(), "open breakers degrade but do not fail health")
}

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return errors.New("connection refused") }

func TestHealthFailsWhenDatabaseUnreachable(t *testing.T) {
	f := newFixture(t)
	f.svc.db = failingPinger{}

	h := f.svc.Health(context.Background())
	assert.Equal(t, "unavailable", h.Status)
	assert.Equal(t, "down", h.Database)
	assert.False(t, h.Healthy())
}
