// Package workflow implements the conversational workflow: a compiled
// node graph that analyzes a user message, gathers required data across
// turns, confirms mutating actions, invokes the downstream banking
// service, and composes the reply.
package workflow

// State is the typed state flowing through the conversation graph.
// It serializes to JSON for checkpointing, so every turn and every
// suspension point can be restored byte-for-byte.
type State struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`

	// Message is the user utterance driving this turn.
	Message string `json:"message"`

	// Intent and Confidence come from recognition. Intent persists
	// across turns until the conversation completes.
	Intent     string  `json:"intent,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// CollectedData accumulates required fields across turns.
	CollectedData map[string]string `json:"collected_data"`

	// MissingFields is recomputed by the collect node each pass.
	MissingFields []string `json:"missing_fields,omitempty"`

	// Confirmed and Declined record the human's answer to a mutating
	// action's confirmation prompt.
	Confirmed bool `json:"confirmed,omitempty"`
	Declined  bool `json:"declined,omitempty"`

	// ToolResult is the raw downstream response body.
	ToolResult []byte `json:"tool_result,omitempty"`

	// Response is the assistant reply composed at the end of the turn.
	Response string `json:"response,omitempty"`
}

// NewState seeds a turn's state from session identity and prior data.
func NewState(sessionID, userID, message string, collected map[string]string, intentName string) State {
	data := make(map[string]string, len(collected))
	for k, v := range collected {
		data[k] = v
	}
	return State{
		SessionID:     sessionID,
		UserID:        userID,
		Message:       message,
		Intent:        intentName,
		CollectedData: data,
	}
}
