package convoflow

// END is the terminal node identifier.
// Use this as an edge target to indicate the graph should terminate.
const END = "__end__"

// NodeFunc is the signature for all node functions.
// Nodes receive the execution context and current state,
// and return the updated state (or the same state) and any error.
//
// The state parameter is passed by value. Nodes should modify and return
// a new state value, not rely on pointer mutation.
//
// A node that needs external input before the graph can make progress
// returns an *InterruptError. The executor checkpoints at that node and
// surfaces the interrupt to the caller; a later Resume replays the node
// with the merged input.
type NodeFunc[S any] func(ctx Context, state S) (S, error)

// RouterFunc determines the next node based on state.
// It is used for conditional edges where the next node depends on runtime state.
//
// The router should return a valid node ID or convoflow.END.
// Returning an empty string or an unknown node ID causes a runtime error.
type RouterFunc[S any] func(ctx Context, state S) string
