// Package convoflow implements a graph-based workflow engine for
// multi-turn conversations.
//
// A workflow is built as a directed graph of named nodes. Each node is a
// function that transforms typed state; edges (simple or conditional)
// determine the next node. Compile() validates the graph and produces an
// immutable CompiledGraph that can be executed concurrently.
//
// Two properties distinguish convoflow from a plain state machine:
//
//   - Durable execution: after every node, the engine can persist a
//     checkpoint keyed by conversation thread, so a crashed or restarted
//     process resumes where it left off.
//
//   - Interrupts: a node that needs human input returns an
//     *InterruptError. The engine checkpoints at that node and returns
//     control to the caller without failing the run. A later Resume
//     replays the interrupted node, usually with the human's answer
//     merged in through a state override, and continues.
//
// Basic usage:
//
//	graph := convoflow.NewGraph[State]().
//	    AddNode("collect", collectNode).
//	    AddNode("act", actNode).
//	    AddEdge("collect", "act").
//	    AddEdge("act", convoflow.END).
//	    SetEntry("collect")
//
//	compiled, err := graph.Compile()
//	if err != nil {
//	    return err
//	}
//
//	ctx := convoflow.NewContext(context.Background(),
//	    convoflow.WithContextThreadID(sessionID))
//	state, err := compiled.Run(ctx, initial,
//	    convoflow.WithCheckpointStore(store),
//	    convoflow.WithThreadID(sessionID))
//	if interrupt, ok := convoflow.AsInterrupt(err); ok {
//	    // surface interrupt.Question to the human, resume later
//	}
package convoflow
