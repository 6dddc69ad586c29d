package convoflow

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/randalmurphal/convoflow/pkg/convoflow/checkpoint"
)

// resumeConfig holds configuration for resuming from a checkpoint.
type resumeConfig[S any] struct {
	stateOverride func(S) S
	validateState func(S) error
	runOpts       []RunOption
}

// ResumeOption configures Resume behavior.
type ResumeOption[S any] func(*resumeConfig[S])

// WithStateOverride transforms the checkpointed state before execution
// resumes. Used to merge externally supplied input (a human's answer)
// into the suspended state.
func WithStateOverride[S any](fn func(S) S) ResumeOption[S] {
	return func(c *resumeConfig[S]) {
		c.stateOverride = fn
	}
}

// WithStateValidation validates the restored state before execution resumes.
func WithStateValidation[S any](fn func(S) error) ResumeOption[S] {
	return func(c *resumeConfig[S]) {
		c.validateState = fn
	}
}

// WithRunOptions forwards run options (observability, iteration limits,
// node observers) to the resumed execution.
func WithRunOptions[S any](opts ...RunOption) ResumeOption[S] {
	return func(c *resumeConfig[S]) {
		c.runOpts = append(c.runOpts, opts...)
	}
}

// Resume continues execution from the checkpoint for a thread.
// The checkpoint determines the re-entry node: a checkpoint taken at a
// suspension point replays the interrupted node (with any state override
// applied first), while a crash-recovery checkpoint continues at the
// successor of the last completed node.
//
// Example:
//
//	// Workflow suspended waiting for the user's answer
//	result, err := compiled.Resume(ctx, store, "session-123",
//	    convoflow.WithStateOverride(mergeAnswer))
func (cg *CompiledGraph[S]) Resume(ctx Context, store checkpoint.Store, threadID string, opts ...ResumeOption[S]) (S, error) {
	var zero S

	if ctx == nil {
		return zero, ErrNilContext
	}

	cfg := resumeConfig[S]{}
	for _, opt := range opts {
		opt(&cfg)
	}

	data, err := store.Load(threadID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return zero, fmt.Errorf("%w: %s", ErrNoCheckpoint, threadID)
		}
		return zero, fmt.Errorf("load checkpoint: %w", err)
	}

	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	if cp.Version != checkpoint.Version {
		return zero, fmt.Errorf("%w: got %d, expected %d",
			ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version)
	}

	var state S
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	if cfg.stateOverride != nil {
		state = cfg.stateOverride(state)
	}

	if cfg.validateState != nil {
		if err := cfg.validateState(state); err != nil {
			return state, fmt.Errorf("state validation failed: %w", err)
		}
	}

	startNode := cp.ResumeNode

	if startNode != END && !cg.HasNode(startNode) {
		return zero, fmt.Errorf("%w: %s", ErrInvalidResumeNode, startNode)
	}

	runCfg := defaultRunConfig()
	for _, opt := range cfg.runOpts {
		opt(&runCfg)
	}
	runCfg.checkpointStore = store
	runCfg.threadID = threadID
	runCfg.sequence = cp.Sequence

	result, _, err := cg.runFrom(ctx, ctx, state, startNode, &runCfg)
	return result, err
}

// HasCheckpoint reports whether a resumable checkpoint exists for the thread.
func HasCheckpoint(store checkpoint.Store, threadID string) bool {
	if store == nil {
		return false
	}
	_, err := store.Load(threadID)
	return err == nil
}
