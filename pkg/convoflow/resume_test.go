package convoflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/convoflow/pkg/convoflow/checkpoint"
)

type collectState struct {
	Amount    float64  `json:"amount"`
	Confirmed bool     `json:"confirmed"`
	Path      []string `json:"path"`
}

// collectGraph suspends in "collect" until Amount is set, then suspends in
// "confirm" until Confirmed is set, then finishes through "act".
func collectGraph(t *testing.T) *CompiledGraph[collectState] {
	t.Helper()
	compiled, err := NewGraph[collectState]().
		AddNode("collect", func(ctx Context, s collectState) (collectState, error) {
			s.Path = append(s.Path, "collect")
			if s.Amount == 0 {
				return s, Interrupt("data_collection", "What amount?", "amount")
			}
			return s, nil
		}).
		AddNode("confirm", func(ctx Context, s collectState) (collectState, error) {
			s.Path = append(s.Path, "confirm")
			if !s.Confirmed {
				return s, Interrupt("confirmation", "Proceed with the transfer?")
			}
			return s, nil
		}).
		AddNode("act", func(ctx Context, s collectState) (collectState, error) {
			s.Path = append(s.Path, "act")
			return s, nil
		}).
		AddEdge("collect", "confirm").
		AddEdge("confirm", "act").
		AddEdge("act", END).
		SetEntry("collect").
		Compile()
	require.NoError(t, err)
	return compiled
}

func TestResumeReplaysInterruptedNodeWithOverride(t *testing.T) {
	compiled := collectGraph(t)
	store := checkpoint.NewMemoryStore()
	ctx := NewContext(context.Background())

	_, err := compiled.Run(ctx, collectState{},
		WithCheckpointStore(store),
		WithThreadID("session-1"))
	interrupt, ok := AsInterrupt(err)
	require.True(t, ok)
	require.Equal(t, "collect", interrupt.NodeID)

	// The human answers; the answer merges in via state override and the
	// interrupted node replays, now passing.
	state, err := compiled.Resume(ctx, store, "session-1",
		WithStateOverride(func(s collectState) collectState {
			s.Amount = 250
			return s
		}),
		WithRunOptions[collectState](WithCheckpointStore(store), WithThreadID("session-1")))

	interrupt, ok = AsInterrupt(err)
	require.True(t, ok, "next suspension point is confirmation")
	assert.Equal(t, "confirm", interrupt.NodeID)
	assert.Equal(t, []string{"collect", "collect", "confirm"}, state.Path)

	// Confirmation arrives; the workflow runs to completion.
	state, err = compiled.Resume(ctx, store, "session-1",
		WithStateOverride(func(s collectState) collectState {
			s.Confirmed = true
			return s
		}),
		WithRunOptions[collectState](WithCheckpointStore(store), WithThreadID("session-1")))
	require.NoError(t, err)
	assert.Equal(t, 250.0, state.Amount)
	assert.Equal(t, []string{"collect", "collect", "confirm", "confirm", "act"}, state.Path)
}

func TestResumeWithoutCheckpoint(t *testing.T) {
	compiled := collectGraph(t)
	store := checkpoint.NewMemoryStore()

	_, err := compiled.Resume(NewContext(context.Background()), store, "ghost-thread")
	require.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestResumeNilContext(t *testing.T) {
	compiled := collectGraph(t)
	store := checkpoint.NewMemoryStore()

	_, err := compiled.Resume(nil, store, "session-1")
	require.ErrorIs(t, err, ErrNilContext)
}

func TestResumeRejectsCorruptCheckpoint(t *testing.T) {
	compiled := collectGraph(t)
	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Save("session-1", []byte("not json")))

	_, err := compiled.Resume(NewContext(context.Background()), store, "session-1")
	require.ErrorIs(t, err, ErrDeserializeState)
}

func TestResumeRejectsUnknownResumeNode(t *testing.T) {
	compiled := collectGraph(t)
	store := checkpoint.NewMemoryStore()

	cp := checkpoint.New("session-1", "gone", 1, []byte(`{}`), "gone")
	data, err := cp.Marshal()
	require.NoError(t, err)
	require.NoError(t, store.Save("session-1", data))

	_, err = compiled.Resume(NewContext(context.Background()), store, "session-1")
	require.ErrorIs(t, err, ErrInvalidResumeNode)
}

func TestResumeStateValidation(t *testing.T) {
	compiled := collectGraph(t)
	store := checkpoint.NewMemoryStore()
	ctx := NewContext(context.Background())

	_, err := compiled.Run(ctx, collectState{},
		WithCheckpointStore(store),
		WithThreadID("session-1"))
	_, ok := AsInterrupt(err)
	require.True(t, ok)

	invalid := errors.New("amount must be positive")
	_, err = compiled.Resume(ctx, store, "session-1",
		WithStateOverride(func(s collectState) collectState {
			s.Amount = -5
			return s
		}),
		WithStateValidation(func(s collectState) error {
			if s.Amount < 0 {
				return invalid
			}
			return nil
		}))
	require.ErrorIs(t, err, invalid)
}

func TestResumeContinuesSequence(t *testing.T) {
	compiled := collectGraph(t)
	store := checkpoint.NewMemoryStore()
	ctx := NewContext(context.Background())

	_, err := compiled.Run(ctx, collectState{},
		WithCheckpointStore(store),
		WithThreadID("session-1"))
	_, ok := AsInterrupt(err)
	require.True(t, ok)

	data, err := store.Load("session-1")
	require.NoError(t, err)
	first, err := checkpoint.Unmarshal(data)
	require.NoError(t, err)

	_, err = compiled.Resume(ctx, store, "session-1",
		WithStateOverride(func(s collectState) collectState {
			s.Amount = 10
			return s
		}))
	_, ok = AsInterrupt(err)
	require.True(t, ok)

	data, err = store.Load("session-1")
	require.NoError(t, err)
	second, err := checkpoint.Unmarshal(data)
	require.NoError(t, err)
	assert.Greater(t, second.Sequence, first.Sequence)
}

func TestHasCheckpoint(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	assert.False(t, HasCheckpoint(store, "session-1"))
	assert.False(t, HasCheckpoint(nil, "session-1"))

	require.NoError(t, store.Save("session-1", []byte("{}")))
	assert.True(t, HasCheckpoint(store, "session-1"))
}
