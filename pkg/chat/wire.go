package chat

import (
	"encoding/json"
	"fmt"
)

// WireBlock is the flat content block format the backend speaks, both in the
// outgoing turn request and in persisted transcripts. One struct covers every
// block type; which fields are meaningful depends on Type.
type WireBlock struct {
	Type ContentType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`

	// image / document
	Source *WireSource `json:"source,omitempty"`
}

// WireSource carries inline binary or textual payloads for image and document
// blocks.
type WireSource struct {
	Type      string `json:"type"` // "base64" or "text"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// WireMessage is a persisted transcript message as returned by the session
// directory.
type WireMessage struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ToWire converts a content part to its wire block.
func ToWire(p ContentPart) (WireBlock, error) {
	switch p.Type {
	case ContentTypeText:
		return WireBlock{Type: ContentTypeText, Text: p.Text.Text}, nil
	case ContentTypeThinking:
		return WireBlock{Type: ContentTypeThinking, Thinking: p.Thinking.Text}, nil
	case ContentTypeToolUse:
		return WireBlock{Type: ContentTypeToolUse, ID: p.ToolUse.ID, Name: p.ToolUse.Name, Input: p.ToolUse.Input}, nil
	case ContentTypeToolResult:
		b := WireBlock{Type: ContentTypeToolResult, ToolUseID: p.ToolResult.ToolUseID}
		if p.ToolResult.Content != nil {
			raw, err := json.Marshal(*p.ToolResult.Content)
			if err != nil {
				return WireBlock{}, fmt.Errorf("encoding tool result content: %w", err)
			}
			b.Content = raw
		}
		return b, nil
	case ContentTypeImage:
		return WireBlock{Type: ContentTypeImage, Source: &WireSource{Type: "base64", MediaType: p.Image.MediaType, Data: p.Image.Data}}, nil
	case ContentTypeDocument:
		return WireBlock{Type: ContentTypeDocument, Source: &WireSource{Type: "text", MediaType: p.Document.MediaType, Data: p.Document.Data}}, nil
	}
	return WireBlock{}, fmt.Errorf("unknown content part type %q", p.Type)
}

// PartsToWire converts an ordered part sequence to wire blocks.
func PartsToWire(parts []ContentPart) ([]WireBlock, error) {
	blocks := make([]WireBlock, 0, len(parts))
	for _, p := range parts {
		b, err := ToWire(p)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// FromWire converts a wire block back to a content part. Tool results decode
// as resolved (Pending false): anything the server persisted has already
// completed.
func FromWire(b WireBlock) (ContentPart, error) {
	switch b.Type {
	case ContentTypeText:
		return NewTextPart(b.Text), nil
	case ContentTypeThinking:
		return NewThinkingPart(b.Thinking), nil
	case ContentTypeToolUse:
		return NewToolUsePart(b.ID, b.Name, b.Input), nil
	case ContentTypeToolResult:
		return NewResolvedToolResult(b.ToolUseID, decodeResultContent(b.Content)), nil
	case ContentTypeImage:
		if b.Source == nil {
			return ContentPart{}, fmt.Errorf("image block without source")
		}
		return ContentPart{Type: ContentTypeImage, Image: &ImagePart{MediaType: b.Source.MediaType, Data: b.Source.Data}}, nil
	case ContentTypeDocument:
		if b.Source == nil {
			return ContentPart{}, fmt.Errorf("document block without source")
		}
		return ContentPart{Type: ContentTypeDocument, Document: &DocumentPart{MediaType: b.Source.MediaType, Data: b.Source.Data}}, nil
	}
	return ContentPart{}, fmt.Errorf("unknown wire block type %q", b.Type)
}

// decodeResultContent normalizes persisted tool result content to a string.
// The backend usually stores a plain string but older sessions carry nested
// block arrays; those are kept as their raw JSON text.
func decodeResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
