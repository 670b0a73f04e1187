// Package stream opens turn requests against the chat backend and decodes
// the line-framed event stream of an assistant turn.
package stream

import "encoding/json"

// Event types emitted by the backend during a turn.
const (
	EventThinkingStart   = "thinking_start"
	EventThinkingDelta   = "thinking_delta"
	EventThinkingStop    = "thinking_stop"
	EventTextStart       = "text_start"
	EventTextDelta       = "text_delta"
	EventToolUseStart    = "tool_use_start"
	EventToolUseComplete = "tool_use_complete"
	EventToolExecution   = "tool_execution"
	EventToolResult      = "tool_result"
	EventSessionID       = "session_id"
	EventSessionCreated  = "session_created"
	EventComplete        = "complete"
	EventError           = "error"
)

// Event is one decoded stream record. Which fields are set depends on Type;
// unknown types are carried through untouched so the fold's default branch
// can log them.
type Event struct {
	Type string `json:"type"`

	// thinking_delta, text_delta
	Text string `json:"text,omitempty"`

	// tool_use_start, tool_use_complete, tool_execution
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`

	// session_id, session_created
	SessionID string `json:"session_id,omitempty"`
	Title     string `json:"title,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// ResultContent normalizes a tool_result payload to a string. The backend
// sends plain strings; anything else is kept as raw JSON text.
func (e Event) ResultContent() string {
	if len(e.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Content, &s); err == nil {
		return s
	}
	return string(e.Content)
}
