package convoflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/convoflow/pkg/convoflow/checkpoint"
	"github.com/randalmurphal/convoflow/pkg/convoflow/observability"
)

// Run executes the graph with the given initial state.
// Returns the final state and any error encountered.
//
// On success, returns the state after the last node executed before END.
// On interrupt, returns the state at the suspension point together with
// the *InterruptError raised by the node; a checkpoint has been persisted
// so Resume can continue the same thread later.
// On error, returns the state at the point of failure (useful for debugging).
//
/// Execution flow:
//  1. Start at the entry point node
//  2. Check for cancellation
//  3. Execute the current node
//  4. Determine the next node (via simple or conditional edge)
//  5. Repeat until END is reached, a node interrupts, or an error occurs
func (cg *CompiledGraph[S]) Run(ctx Context, state S, opts ...RunOption) (result S, runErr error) {
	if ctx == nil {
		return state, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.checkpointStore != nil && cfg.threadID == "" {
		return state, ErrThreadIDRequired
	}

	threadID := cfg.threadID
	if threadID == "" {
		threadID = ctx.ThreadID()
	}

	startTime := time.Now()

	observability.LogRunStart(cfg.logger, threadID)

	var execCtx context.Context = ctx
	var runSpan trace.Span
	if cfg.tracingEnabled {
		execCtx, runSpan = cfg.spans.StartRunSpan(ctx, "convoflow", threadID)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	var nodeCount int
	result, nodeCount, runErr = cg.runFrom(execCtx, ctx, state, cg.entryPoint, &cfg)

	duration := time.Since(startTime)
	durationMs := float64(duration.Milliseconds())

	if ie, ok := AsInterrupt(runErr); ok {
		// Suspension is a normal outcome, not a failure.
		cfg.metrics.RecordSuspension(ctx, ie.NodeID, ie.Reason)
		observability.LogRunSuspended(cfg.logger, threadID, ie.NodeID, ie.Reason)
		return result, runErr
	}

	cfg.metrics.RecordRun(ctx, runErr == nil, duration)

	if runErr != nil {
		lastNode := ""
		switch e := runErr.(type) {
		case *NodeError:
			lastNode = e.NodeID
		case *MaxIterationsError:
			lastNode = e.LastNodeID
		case *CancellationError:
			lastNode = e.NodeID
		}
		observability.LogRunError(cfg.logger, threadID, runErr, durationMs, lastNode)
	} else {
		observability.LogRunComplete(cfg.logger, threadID, durationMs, nodeCount)
	}

	return result, runErr
}

// runFrom executes the graph starting from a specific node.
// tracingCtx carries span context; fgCtx is the engine Context.
// Returns the final state, node count, and any error.
func (cg *CompiledGraph[S]) runFrom(tracingCtx context.Context, fgCtx Context, state S, startNode string, cfg *runConfig) (S, int, error) {
	current := startNode
	iterations := 0
	prevNode := ""
	nodeCount := 0

	for current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return state, nodeCount, &MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: current,
				State:      state,
			}
		}

		// Check for cancellation before executing node
		select {
		case <-fgCtx.Done():
			return state, nodeCount, &CancellationError{
				NodeID: current,
				State:  state,
				Cause:  fgCtx.Err(),
			}
		default:
		}

		if cfg.nodeObserver != nil {
			cfg.nodeObserver(current)
		}

		observability.LogNodeStart(cfg.logger, current)

		nodeTracingCtx := tracingCtx
		var nodeSpan trace.Span
		if cfg.tracingEnabled {
			nodeTracingCtx, nodeSpan = cfg.spans.StartNodeSpan(tracingCtx, current)
		}

		nodeStart := time.Now()

		var nodeErr error
		state, nodeErr = cg.executeNode(fgCtx, current, state)

		nodeDuration := time.Since(nodeStart)
		nodeDurationMs := float64(nodeDuration.Milliseconds())

		cfg.metrics.RecordNodeExecution(nodeTracingCtx, current, nodeDuration, nodeErr)

		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(nodeSpan, nodeErr)
		}

		if nodeErr != nil {
			if ie, ok := AsInterrupt(nodeErr); ok {
				ie.NodeID = current
				// The interrupted node replays on resume, so the checkpoint
				// must land before control returns to the caller.
				if cfg.checkpointStore != nil {
					if err := cg.saveCheckpoint(fgCtx, cfg, current, prevNode, state, current, true); err != nil {
						return state, nodeCount, err
					}
				}
				return state, nodeCount, ie
			}
			observability.LogNodeError(cfg.logger, current, nodeErr)
			return state, nodeCount, nodeErr
		}
		observability.LogNodeComplete(cfg.logger, current, nodeDurationMs)
		nodeCount++

		// Determine next node
		next, err := cg.nextNode(fgCtx, state, current)
		if err != nil {
			return state, nodeCount, err
		}

		// Checkpoint after successful node execution
		if cfg.checkpointStore != nil {
			if err := cg.trySaveCheckpoint(fgCtx, cfg, current, prevNode, state, next); err != nil {
				return state, nodeCount, err
			}
		}

		prevNode = current
		current = next
	}

	return state, nodeCount, nil
}

// trySaveCheckpoint persists the state after a completed node.
// Failures are logged and swallowed unless checkpointFailureFatal is set.
func (cg *CompiledGraph[S]) trySaveCheckpoint(ctx Context, cfg *runConfig, nodeID, prevNodeID string, state S, resumeNode string) error {
	err := cg.saveCheckpoint(ctx, cfg, nodeID, prevNodeID, state, resumeNode, false)
	if err == nil {
		return nil
	}
	if cfg.checkpointFailureFatal {
		return err
	}
	var cpErr *CheckpointError
	if errors.As(err, &cpErr) {
		observability.LogCheckpointError(cfg.logger, nodeID, cpErr.Op, cpErr.Err)
	} else {
		observability.LogCheckpointError(cfg.logger, nodeID, "save", err)
	}
	return nil
}

// saveCheckpoint serializes and persists the current state.
func (cg *CompiledGraph[S]) saveCheckpoint(ctx Context, cfg *runConfig, nodeID, prevNodeID string, state S, resumeNode string, interrupted bool) error {
	stateBytes, err := json.Marshal(state)
	if err != nil {
		return &CheckpointError{NodeID: nodeID, Op: "serialize", Err: err}
	}

	cfg.sequence++
	cp := checkpoint.New(cfg.threadID, nodeID, cfg.sequence, stateBytes, resumeNode).
		WithInterrupted(interrupted).
		WithPrevNode(prevNodeID)

	data, err := cp.Marshal()
	if err != nil {
		return &CheckpointError{NodeID: nodeID, Op: "marshal", Err: err}
	}

	if err := cfg.checkpointStore.Save(cfg.threadID, data); err != nil {
		return &CheckpointError{NodeID: nodeID, Op: "save", Err: err}
	}

	sizeBytes := len(data)
	observability.LogCheckpoint(cfg.logger, nodeID, sizeBytes)
	cfg.metrics.RecordCheckpoint(ctx, nodeID, int64(sizeBytes))

	return nil
}

// executeNode executes a single node with panic recovery.
// Returns the new state and any error (including wrapped panics).
// Interrupts pass through unwrapped so callers can detect them.
func (cg *CompiledGraph[S]) executeNode(ctx Context, nodeID string, state S) (result S, err error) {
	fn, exists := cg.getNode(nodeID)
	if !exists {
		// This shouldn't happen if compilation was successful
		return state, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("node not found: %s", nodeID),
		}
	}

	// Create node-specific context with enriched logger
	nodeCtx := ctx
	if ec, ok := ctx.(*executionContext); ok {
		nodeCtx = ec.withNodeID(nodeID)
	}

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			result = state
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	result, err = fn(nodeCtx, state)
	if err != nil {
		if _, ok := AsInterrupt(err); ok {
			return result, err
		}
		return result, &NodeError{
			NodeID: nodeID,
			Op:     "execute",
			Err:    err,
		}
	}

	return result, nil
}

// nextNode determines the next node to execute.
// Checks conditional edges first, then simple edges.
func (cg *CompiledGraph[S]) nextNode(ctx Context, state S, current string) (string, error) {
	if router, exists := cg.getRouter(current); exists {
		routerCtx := ctx
		if ec, ok := ctx.(*executionContext); ok {
			routerCtx = ec.withNodeID(current)
		}

		next := router(routerCtx, state)

		if next == "" {
			return "", &RouterError{
				FromNode: current,
				Returned: next,
				Err:      ErrInvalidRouterResult,
			}
		}

		if next != END {
			if _, exists := cg.getNode(next); !exists {
				return "", &RouterError{
					FromNode: current,
					Returned: next,
					Err:      ErrRouterTargetNotFound,
				}
			}
		}

		return next, nil
	}

	edges := cg.getEdges(current)
	if len(edges) == 0 {
		// No outgoing edges - this shouldn't happen if compilation was successful
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("no outgoing edge from node %s", current),
		}
	}

	// For simple edges, take the first one
	return edges[0], nil
}
