package checkpoint

import (
	"encoding/json"
	"time"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 1

// Checkpoint is the persisted snapshot of execution state.
// It contains all information needed to resume execution.
type Checkpoint struct {
	// Metadata
	Version   int       `json:"version"`
	ThreadID  string    `json:"thread_id"`
	NodeID    string    `json:"node_id"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	// Execution state
	State json.RawMessage `json:"state"`

	// ResumeNode is the node execution re-enters on resume. For a
	// checkpoint taken after a completed node this is its successor;
	// for an interrupted node it is the node itself (replay).
	ResumeNode string `json:"resume_node"`

	// Interrupted marks a checkpoint taken at a suspension point.
	Interrupted bool `json:"interrupted,omitempty"`

	PrevNodeID string `json:"prev_node_id,omitempty"`
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint from JSON.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// New creates a new checkpoint with the given parameters.
// State must already be JSON-serialized.
func New(threadID, nodeID string, sequence int, state []byte, resumeNode string) *Checkpoint {
	return &Checkpoint{
		Version:    Version,
		ThreadID:   threadID,
		NodeID:     nodeID,
		Sequence:   sequence,
		Timestamp:  time.Now().UTC(),
		State:      state,
		ResumeNode: resumeNode,
	}
}

// WithInterrupted marks the checkpoint as a suspension point.
func (c *Checkpoint) WithInterrupted(interrupted bool) *Checkpoint {
	c.Interrupted = interrupted
	return c
}

// WithPrevNode sets the previous node ID for debugging.
func (c *Checkpoint) WithPrevNode(prevNodeID string) *Checkpoint {
	c.PrevNodeID = prevNodeID
	return c
}
