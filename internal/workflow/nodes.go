package workflow

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/convoflow/pkg/convoflow"
)

// Node identifiers of the conversation graph.
const (
	nodeAnalyzeIntent   = "analyze_intent"
	nodeCollectData     = "collect_data"
	nodeConfirmAction   = "confirm_action"
	nodeInvokeTool      = "invoke_tool"
	nodeComposeResponse = "compose_response"
)

// analyzeIntent recognizes the intent on the first turn and extracts
// entities from the message on every turn. Unrecognized or low-confidence
// messages suspend for clarification.
func (e *Engine) analyzeIntent(ctx convoflow.Context, s State) (State, error) {
	if s.CollectedData == nil {
		s.CollectedData = map[string]string{}
	}

	if s.Intent == "" {
		rec := e.recognizer.Recognize(s.Message)
		if rec.Intent == "" || rec.Confidence < e.threshold {
			return s, convoflow.Interrupt("clarification",
				"I'm not sure what you'd like to do. Could you rephrase your request?")
		}
		s.Intent = rec.Intent
		s.Confidence = rec.Confidence
		for k, v := range rec.Entities {
			s.CollectedData[k] = v
		}
		ctx.Logger().Info("intent recognized",
			"intent", s.Intent,
			"confidence", s.Confidence)
		return s, nil
	}

	// Continuing turn: harvest entities the message may carry.
	for k, v := range e.recognizer.ExtractFor(s.Message, s.Intent) {
		if _, exists := s.CollectedData[k]; !exists {
			s.CollectedData[k] = v
		}
	}
	return s, nil
}

// collectData checks the intent's required fields and suspends listing
// every missing field in one question.
func (e *Engine) collectData(ctx convoflow.Context, s State) (State, error) {
	def, ok := e.catalog.Get(s.Intent)
	if !ok {
		return s, fmt.Errorf("unknown intent %q", s.Intent)
	}

	var missing []string
	for _, field := range def.RequiredFields {
		if s.CollectedData[field] == "" {
			missing = append(missing, field)
		}
	}
	s.MissingFields = missing

	if len(missing) > 0 {
		return s, convoflow.Interrupt("data_collection", collectionQuestion(def.Prompts, missing), missing...)
	}
	return s, nil
}

// collectionQuestion joins the per-field prompts for all missing fields.
func collectionQuestion(prompts map[string]string, missing []string) string {
	parts := make([]string, 0, len(missing))
	for _, field := range missing {
		if p, ok := prompts[field]; ok {
			parts = append(parts, p)
			continue
		}
		parts = append(parts, fmt.Sprintf("What is the %s?", strings.ReplaceAll(field, "_", " ")))
	}
	return strings.Join(parts, " ")
}

// afterCollect routes mutating intents through confirmation.
func (e *Engine) afterCollect(ctx convoflow.Context, s State) string {
	def, ok := e.catalog.Get(s.Intent)
	if ok && def.Mutating && !s.Confirmed {
		return nodeConfirmAction
	}
	return nodeInvokeTool
}

// confirmAction suspends until the human approves or declines the
// mutating action. No downstream call happens before approval.
func (e *Engine) confirmAction(ctx convoflow.Context, s State) (State, error) {
	if s.Confirmed || s.Declined {
		return s, nil
	}
	return s, convoflow.Interrupt("confirmation", confirmationQuestion(s))
}

func confirmationQuestion(s State) string {
	switch s.Intent {
	case "banking.transfer.money":
		return fmt.Sprintf("You are about to transfer $%s to %s. Do you want to proceed?",
			s.CollectedData["amount"], s.CollectedData["to_account"])
	case "banking.card.block":
		return fmt.Sprintf("You are about to block card %s. Do you want to proceed?",
			s.CollectedData["card_id"])
	case "banking.card.activate":
		return fmt.Sprintf("You are about to activate card %s. Do you want to proceed?",
			s.CollectedData["card_id"])
	}
	return "This action will change your account. Do you want to proceed?"
}

// afterConfirm skips the downstream call when the human declined.
func (e *Engine) afterConfirm(ctx convoflow.Context, s State) string {
	if s.Declined {
		return nodeComposeResponse
	}
	return nodeInvokeTool
}

// invokeTool calls the downstream service that fulfills the intent.
func (e *Engine) invokeTool(ctx convoflow.Context, s State) (State, error) {
	def, ok := e.catalog.Get(s.Intent)
	if !ok {
		return s, fmt.Errorf("unknown intent %q", s.Intent)
	}

	result, err := e.tools.Invoke(ctx, def, s.CollectedData)
	if err != nil {
		return s, err
	}
	s.ToolResult = result
	return s, nil
}

// composeResponse builds the assistant reply for the turn.
func (e *Engine) composeResponse(ctx convoflow.Context, s State) (State, error) {
	if s.Declined {
		s.Response = "Okay, I won't proceed with that. Is there anything else I can help you with?"
		return s, nil
	}

	def, ok := e.catalog.Get(s.Intent)
	if !ok {
		return s, fmt.Errorf("unknown intent %q", s.Intent)
	}

	s.Response = def.ResponseTemplate
	if len(s.ToolResult) > 0 {
		s.Response = fmt.Sprintf("%s %s", def.ResponseTemplate, string(s.ToolResult))
	}
	return s, nil
}

// buildGraph wires the conversation graph.
func (e *Engine) buildGraph() (*convoflow.CompiledGraph[State], error) {
	return convoflow.NewGraph[State]().
		AddNode(nodeAnalyzeIntent, e.analyzeIntent).
		AddNode(nodeCollectData, e.collectData).
		AddNode(nodeConfirmAction, e.confirmAction).
		AddNode(nodeInvokeTool, e.invokeTool).
		AddNode(nodeComposeResponse, e.composeResponse).
		AddEdge(nodeAnalyzeIntent, nodeCollectData).
		AddConditionalEdge(nodeCollectData, e.afterCollect).
		AddConditionalEdge(nodeConfirmAction, e.afterConfirm).
		AddEdge(nodeInvokeTool, nodeComposeResponse).
		AddEdge(nodeComposeResponse, convoflow.END).
		SetEntry(nodeAnalyzeIntent).
		Compile()
}
