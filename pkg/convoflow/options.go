package convoflow

import (
	"log/slog"

	"github.com/randalmurphal/convoflow/pkg/convoflow/checkpoint"
	"github.com/randalmurphal/convoflow/pkg/convoflow/observability"
)

// runConfig holds configuration for graph execution.
type runConfig struct {
	maxIterations          int
	checkpointStore        checkpoint.Store
	threadID               string
	sequence               int
	checkpointFailureFatal bool

	logger         *slog.Logger
	spans          observability.SpanManager
	metrics        observability.MetricsRecorder
	tracingEnabled bool

	nodeObserver func(nodeID string)
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: 100,
		spans:         observability.NoopSpanManager{},
		metrics:       observability.NoopMetrics{},
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node executions.
// Default: 100
//
// This prevents infinite loops from hanging forever. If a graph
// exceeds this limit, Run returns ErrMaxIterations.
func WithMaxIterations(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithCheckpointStore enables checkpointing to the given store.
// Requires WithThreadID.
func WithCheckpointStore(store checkpoint.Store) RunOption {
	return func(c *runConfig) {
		c.checkpointStore = store
	}
}

// WithThreadID sets the checkpoint key for this run.
// The thread ID is the conversation session identifier, so resuming a
// conversation and resuming a workflow after a human answer use the same key.
func WithThreadID(id string) RunOption {
	return func(c *runConfig) {
		c.threadID = id
	}
}

// WithCheckpointFailureFatal makes checkpoint save failures abort the run.
// By default failures after a completed node are logged and execution
// continues; failures at a suspension point are always fatal since the
// workflow could not be resumed.
func WithCheckpointFailureFatal(fatal bool) RunOption {
	return func(c *runConfig) {
		c.checkpointFailureFatal = fatal
	}
}

// WithRunLogger sets the logger used for run and node lifecycle events.
func WithRunLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithTracing enables OTel span creation via the given SpanManager.
func WithTracing(spans observability.SpanManager) RunOption {
	return func(c *runConfig) {
		if spans != nil {
			c.spans = spans
			c.tracingEnabled = true
		}
	}
}

// WithMetrics sets the metrics recorder for this run.
func WithMetrics(metrics observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// WithNodeObserver registers a callback invoked with each node ID just
// before it executes. Callers use this to maintain an execution path
// audit trail.
func WithNodeObserver(fn func(nodeID string)) RunOption {
	return func(c *runConfig) {
		c.nodeObserver = fn
	}
}
