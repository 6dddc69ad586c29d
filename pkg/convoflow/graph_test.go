package convoflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState struct {
	Steps []string `json:"steps"`
	Value int      `json:"value"`
}

func passThrough(step string) NodeFunc[testState] {
	return func(ctx Context, s testState) (testState, error) {
		s.Steps = append(s.Steps, step)
		return s, nil
	}
}

func TestAddNodePanicsOnInvalidID(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"reserved END", "END"},
		{"reserved lowercase", "end"},
		{"reserved sentinel", "__end__"},
		{"whitespace", "two words"},
		{"tab", "a\tb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, func() {
				NewGraph[testState]().AddNode(tt.id, passThrough("x"))
			})
		})
	}
}

func TestAddNodePanicsOnNilFunc(t *testing.T) {
	assert.Panics(t, func() {
		NewGraph[testState]().AddNode("a", nil)
	})
}

func TestAddNodePanicsOnDuplicate(t *testing.T) {
	g := NewGraph[testState]().AddNode("a", passThrough("a"))
	assert.Panics(t, func() {
		g.AddNode("a", passThrough("a"))
	})
}

func TestCompileRequiresEntryPoint(t *testing.T) {
	g := NewGraph[testState]().
		AddNode("a", passThrough("a")).
		AddEdge("a", END)

	_, err := g.Compile()
	require.ErrorIs(t, err, ErrNoEntryPoint)
}

func TestCompileRejectsUnknownEntry(t *testing.T) {
	g := NewGraph[testState]().
		AddNode("a", passThrough("a")).
		AddEdge("a", END).
		SetEntry("missing")

	_, err := g.Compile()
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestCompileRejectsEdgeToUnknownNode(t *testing.T) {
	g := NewGraph[testState]().
		AddNode("a", passThrough("a")).
		AddEdge("a", "ghost").
		SetEntry("a")

	_, err := g.Compile()
	require.ErrorIs(t, err, ErrNodeNotFound)
}

func TestCompileRequiresPathToEnd(t *testing.T) {
	g := NewGraph[testState]().
		AddNode("a", passThrough("a")).
		AddNode("b", passThrough("b")).
		AddEdge("a", "b").
		AddEdge("b", "a").
		SetEntry("a")

	_, err := g.Compile()
	require.ErrorIs(t, err, ErrNoPathToEnd)
}

func TestCompileAcceptsConditionalPathToEnd(t *testing.T) {
	g := NewGraph[testState]().
		AddNode("a", passThrough("a")).
		AddConditionalEdge("a", func(ctx Context, s testState) string {
			return END
		}).
		SetEntry("a")

	compiled, err := g.Compile()
	require.NoError(t, err)
	assert.True(t, compiled.HasNode("a"))
	assert.Equal(t, "a", compiled.EntryPoint())
}

func TestCompiledGraphIntrospection(t *testing.T) {
	g := NewGraph[testState]().
		AddNode("a", passThrough("a")).
		AddNode("b", passThrough("b")).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a")

	compiled, err := g.Compile()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "b"}, compiled.NodeIDs())
	assert.Equal(t, []string{"b"}, compiled.Successors("a"))
	assert.Equal(t, []string{"a"}, compiled.Predecessors("b"))
	assert.False(t, compiled.IsConditional("a"))
}
