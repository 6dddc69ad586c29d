package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/randalmurphal/convoflow/internal/feedback"
	"github.com/randalmurphal/convoflow/internal/intent"
	"github.com/randalmurphal/convoflow/internal/session"
	"github.com/randalmurphal/convoflow/pkg/convoflow"
	"github.com/randalmurphal/convoflow/pkg/convoflow/checkpoint"
	"github.com/randalmurphal/convoflow/pkg/resilience"
)

// Config configures the workflow engine.
type Config struct {
	Catalog    *intent.Catalog
	Recognizer *intent.Recognizer
	Tools      ToolCaller

	// Checkpoints enables durable suspension when non-nil. When nil,
	// resumed turns rebuild state from the session's collected data.
	Checkpoints checkpoint.Store

	// Executions records an audit trail of runs. Optional.
	Executions ExecutionStore

	// ConfidenceThreshold below which recognition asks for clarification.
	ConfidenceThreshold float64

	// MaxIterations bounds a single run. Zero means the engine default.
	MaxIterations int

	Logger *slog.Logger
}

// Engine runs the conversation workflow for session turns.
type Engine struct {
	graph       *convoflow.CompiledGraph[State]
	catalog     *intent.Catalog
	recognizer  *intent.Recognizer
	tools       ToolCaller
	checkpoints checkpoint.Store
	executions  ExecutionStore
	threshold   float64
	maxIter     int
	logger      *slog.Logger
}

// NewEngine compiles the conversation graph and returns a ready engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool caller is required")
	}
	if cfg.Recognizer == nil {
		cfg.Recognizer = intent.NewRecognizer(cfg.Catalog)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 50
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.6
	}

	e := &Engine{
		catalog:     cfg.Catalog,
		recognizer:  cfg.Recognizer,
		tools:       cfg.Tools,
		checkpoints: cfg.Checkpoints,
		executions:  cfg.Executions,
		threshold:   cfg.ConfidenceThreshold,
		maxIter:     cfg.MaxIterations,
		logger:      cfg.Logger,
	}

	graph, err := e.buildGraph()
	if err != nil {
		return nil, fmt.Errorf("compile conversation graph: %w", err)
	}
	e.graph = graph
	return e, nil
}

// TurnResult is the outcome of running (or resuming) one turn.
type TurnResult struct {
	// State is the final workflow state.
	State State

	// Interrupt is non-nil when the turn suspended for human input.
	Interrupt *convoflow.InterruptError

	// Execution is the audit record for this run.
	Execution *Execution
}

// Suspended reports whether the turn is waiting for human input.
func (r *TurnResult) Suspended() bool {
	return r.Interrupt != nil
}

// RunTurn processes a user message for the session.
//
// A suspended turn is a normal outcome: the result carries the interrupt
// and no error. A *resilience.DownstreamError is returned when the
// downstream call layer gave up; the caller decides whether the session
// stays retryable.
func (e *Engine) RunTurn(ctx context.Context, sess *session.Session, message string) (*TurnResult, error) {
	state := NewState(sess.ID, sess.UserID, message, sess.CollectedData, sess.Intent)
	return e.run(ctx, sess.ID, newExecution(sess.ID, message), func(cctx convoflow.Context, opts []convoflow.RunOption) (State, error) {
		return e.graph.Run(cctx, state, opts...)
	})
}

// ResumeOnFeedback continues a suspended turn with the human's answer.
//
// With checkpointing enabled the suspended state is restored from the
// session's checkpoint and the interrupted node replays; without it the
// state is rebuilt from the session's collected data. Either way the run
// continues the execution record the feedback request points at, so a
// chain of suspend/resume turns leaves one record with the full path.
func (e *Engine) ResumeOnFeedback(ctx context.Context, sess *session.Session, req *feedback.Request) (*TurnResult, error) {
	override := feedbackOverride(req)
	exec := e.openExecution(sess.ID, req.ExecutionID)
	if exec == nil {
		exec = newExecution(sess.ID, feedbackInput(req))
	}

	if e.checkpoints != nil && convoflow.HasCheckpoint(e.checkpoints, sess.ID) {
		return e.run(ctx, sess.ID, exec, func(cctx convoflow.Context, opts []convoflow.RunOption) (State, error) {
			return e.graph.Resume(cctx, e.checkpoints, sess.ID,
				convoflow.WithStateOverride(override),
				convoflow.WithRunOptions[State](opts...))
		})
	}

	state := override(NewState(sess.ID, sess.UserID, "", sess.CollectedData, sess.Intent))
	return e.run(ctx, sess.ID, exec, func(cctx convoflow.Context, opts []convoflow.RunOption) (State, error) {
		return e.graph.Run(cctx, state, opts...)
	})
}

// openExecution reloads the still-running record a feedback request
// belongs to. Returns nil when no such record can be found, in which
// case the resume is tracked as a fresh execution.
func (e *Engine) openExecution(sessionID, id string) *Execution {
	if e.executions == nil || id == "" {
		return nil
	}
	exec, err := e.executions.Get(id)
	if err != nil || exec.SessionID != sessionID || exec.FinishedAt != nil {
		return nil
	}
	return exec
}

// feedbackInput flattens a human answer into the execution's audit input.
func feedbackInput(req *feedback.Request) string {
	parts := make([]string, 0, len(req.Response))
	for k, v := range req.Response {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// run executes one workflow pass with shared option wiring, execution
// bookkeeping, and outcome classification. The pass appends to exec,
// which may already carry the path of earlier suspended turns.
func (e *Engine) run(ctx context.Context, sessionID string, exec *Execution, fn func(convoflow.Context, []convoflow.RunOption) (State, error)) (*TurnResult, error) {
	opts := []convoflow.RunOption{
		convoflow.WithThreadID(sessionID),
		convoflow.WithMaxIterations(e.maxIter),
		convoflow.WithRunLogger(e.logger),
		convoflow.WithNodeObserver(func(nodeID string) {
			exec.Path = append(exec.Path, nodeID)
		}),
	}
	if e.checkpoints != nil {
		opts = append(opts, convoflow.WithCheckpointStore(e.checkpoints))
	}

	cctx := convoflow.NewContext(ctx,
		convoflow.WithLogger(e.logger),
		convoflow.WithContextThreadID(sessionID))

	finalState, err := fn(cctx, opts)
	exec.Intent = finalState.Intent
	result := &TurnResult{State: finalState, Execution: exec}

	if ie, ok := convoflow.AsInterrupt(err); ok {
		// Still running: the record stays open until the human answers.
		result.Interrupt = ie
		e.saveExecution(exec)
		return result, nil
	}

	if err != nil {
		exec.finish(ExecutionFailed, err.Error())
		e.saveExecution(exec)
		return result, err
	}

	exec.Output = finalState.Response
	exec.finish(ExecutionCompleted, "")
	e.saveExecution(exec)

	// A finished conversation turn leaves no resumable snapshot behind.
	if e.checkpoints != nil {
		if clearErr := e.checkpoints.Clear(sessionID); clearErr != nil {
			e.logger.Warn("failed to clear checkpoint",
				"session_id", sessionID,
				"error", clearErr)
		}
	}
	return result, nil
}

func (e *Engine) saveExecution(exec *Execution) {
	if e.executions == nil {
		return
	}
	if err := e.executions.Save(exec); err != nil {
		e.logger.Warn("failed to save execution record",
			"execution_id", exec.ID,
			"session_id", exec.SessionID,
			"error", err)
	}
}

// feedbackOverride maps a human answer onto the suspended state.
func feedbackOverride(req *feedback.Request) func(State) State {
	return func(s State) State {
		if s.CollectedData == nil {
			s.CollectedData = map[string]string{}
		}
		switch req.Type {
		case feedback.TypeDataCollection:
			for k, v := range req.Response {
				s.CollectedData[k] = v
			}
		case feedback.TypeConfirmation, feedback.TypeApproval:
			if answerIsAffirmative(req.Response) {
				s.Confirmed = true
			} else {
				s.Declined = true
			}
		case feedback.TypeClarification:
			if msg := req.Response["message"]; msg != "" {
				s.Message = msg
				s.Intent = ""
				s.Confidence = 0
			}
		}
		return s
	}
}

// answerIsAffirmative interprets a confirmation response.
func answerIsAffirmative(values map[string]string) bool {
	answer := values["confirmed"]
	if answer == "" {
		answer = values["answer"]
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "yes", "y", "true", "confirm", "confirmed", "ok", "proceed":
		return true
	}
	return false
}

// IsDownstreamFailure reports whether a turn failed because a downstream
// service was unavailable. Such failures leave the session retryable.
func IsDownstreamFailure(err error) bool {
	var de *resilience.DownstreamError
	if errors.As(err, &de) {
		return true
	}
	var be *resilience.BreakerOpenError
	return errors.As(err, &be)
}
