package chat

import (
	"time"
)

// Role defines the sender of a transcript message.
type Role string

const (
	// RoleUser indicates a message from the user. Tool result placeholder
	// messages also carry this role, matching the persisted transcript format.
	RoleUser Role = "user"
	// RoleAssistant indicates a message from the assistant.
	RoleAssistant Role = "assistant"
)

// ContentType defines the kind of message content.
type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeThinking   ContentType = "thinking"
	ContentTypeToolUse    ContentType = "tool_use"
	ContentTypeToolResult ContentType = "tool_result"
	ContentTypeImage      ContentType = "image"
	ContentTypeDocument   ContentType = "document"
)

// ContentPart is a tagged union representing a single component of a message.
// Exactly one payload pointer is non-nil, selected by Type.
type ContentPart struct {
	Type ContentType

	Text       *TextPart
	Thinking   *ThinkingPart
	ToolUse    *ToolUsePart
	ToolResult *ToolResultPart
	Image      *ImagePart
	Document   *DocumentPart
}

// TextPart contains assistant or user visible text.
type TextPart struct {
	Text string
}

// ThinkingPart contains assistant-internal reasoning. Display-optional.
type ThinkingPart struct {
	Text string
}

// ToolUsePart represents a tool invocation by the assistant.
type ToolUsePart struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResultPart represents the outcome of a tool invocation. While the tool
// is still executing the part is a placeholder: Content is nil and Pending is
// true. Pending is in-memory state and never hits the wire.
type ToolResultPart struct {
	ToolUseID string
	Content   *string
	Pending   bool
}

// ImagePart contains base64 image data.
type ImagePart struct {
	MediaType string
	Data      string
}

// DocumentPart contains an attached document, inline as text.
type DocumentPart struct {
	MediaType string
	Data      string
}

// Message is one entry of a session transcript: a role plus an ordered
// sequence of content parts. While a turn is streaming, the current assistant
// message is append-only; once the turn settles, messages are immutable
// history.
type Message struct {
	ID        string
	Role      Role
	Content   []ContentPart
	Timestamp time.Time

	// Err marks a message whose turn ended with a transport failure. The
	// partial content above it is kept. Volatile display state, excluded
	// from structural equality.
	Err string
}

// NewTextPart builds a text content part.
func NewTextPart(text string) ContentPart {
	return ContentPart{Type: ContentTypeText, Text: &TextPart{Text: text}}
}

// NewThinkingPart builds a thinking content part.
func NewThinkingPart(text string) ContentPart {
	return ContentPart{Type: ContentTypeThinking, Thinking: &ThinkingPart{Text: text}}
}

// NewToolUsePart builds a tool_use content part.
func NewToolUsePart(id, name string, input map[string]any) ContentPart {
	return ContentPart{Type: ContentTypeToolUse, ToolUse: &ToolUsePart{ID: id, Name: name, Input: input}}
}

// NewPendingToolResult builds the provisional tool_result placeholder that is
// shown while the named tool call executes.
func NewPendingToolResult(toolUseID string) ContentPart {
	return ContentPart{Type: ContentTypeToolResult, ToolResult: &ToolResultPart{ToolUseID: toolUseID, Pending: true}}
}

// NewResolvedToolResult builds a tool_result part that already carries its
// content.
func NewResolvedToolResult(toolUseID, content string) ContentPart {
	return ContentPart{Type: ContentTypeToolResult, ToolResult: &ToolResultPart{ToolUseID: toolUseID, Content: &content}}
}

// PartsEqual reports whether two content part sequences are structurally
// equal: same types in the same order with the same payloads. Pending state
// participates so tests can assert resolution.
func PartsEqual(a, b []ContentPart) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !partEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func partEqual(a, b ContentPart) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case ContentTypeText:
		return a.Text != nil && b.Text != nil && a.Text.Text == b.Text.Text
	case ContentTypeThinking:
		return a.Thinking != nil && b.Thinking != nil && a.Thinking.Text == b.Thinking.Text
	case ContentTypeToolUse:
		if a.ToolUse == nil || b.ToolUse == nil {
			return false
		}
		return a.ToolUse.ID == b.ToolUse.ID && a.ToolUse.Name == b.ToolUse.Name && inputEqual(a.ToolUse.Input, b.ToolUse.Input)
	case ContentTypeToolResult:
		if a.ToolResult == nil || b.ToolResult == nil {
			return false
		}
		if a.ToolResult.ToolUseID != b.ToolResult.ToolUseID || a.ToolResult.Pending != b.ToolResult.Pending {
			return false
		}
		if (a.ToolResult.Content == nil) != (b.ToolResult.Content == nil) {
			return false
		}
		return a.ToolResult.Content == nil || *a.ToolResult.Content == *b.ToolResult.Content
	case ContentTypeImage:
		return a.Image != nil && b.Image != nil && *a.Image == *b.Image
	case ContentTypeDocument:
		return a.Document != nil && b.Document != nil && *a.Document == *b.Document
	}
	return false
}

func inputEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		// Inputs come from JSON, so values are strings, float64s, bools,
		// nested maps and slices. Fall back to string comparison for the
		// composite kinds.
		if !valueEqual(av, bv) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	case map[string]any:
		bv, ok := b.(map[string]any)
		return ok && inputEqual(av, bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// TranscriptsEqual reports structural equality of two transcripts, ignoring
// volatile state (IDs, timestamps, error markers).
func TranscriptsEqual(a, b []Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Role != b[i].Role || !PartsEqual(a[i].Content, b[i].Content) {
			return false
		}
	}
	return true
}
