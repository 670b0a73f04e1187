package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessagesFromWire converts a persisted transcript into the Message model,
// producing the same structural shape live event folding would have built:
//
//   - Consecutive assistant messages belonging to one turn collapse into a
//     single assistant message (live folding creates at most one assistant
//     message per turn and keeps appending parts to it).
//   - Each persisted tool_result block becomes its own user-role message,
//     mirroring the placeholder messages the live fold inserts.
//   - A user message with regular content ends the current turn.
func MessagesFromWire(wire []WireMessage) ([]Message, error) {
	var out []Message
	current := -1 // index of the in-progress assistant message, -1 for none

	for i, wm := range wire {
		blocks, err := decodeBlocks(wm.Content)
		if err != nil {
			return nil, fmt.Errorf("decoding message %d: %w", i, err)
		}

		switch wm.Role {
		case RoleAssistant:
			for _, b := range blocks {
				p, err := FromWire(b)
				if err != nil {
					return nil, fmt.Errorf("decoding message %d: %w", i, err)
				}
				if current < 0 {
					out = append(out, Message{ID: uuid.NewString(), Role: RoleAssistant, Timestamp: time.Now()})
					current = len(out) - 1
				}
				out[current].Content = append(out[current].Content, p)
			}

		case RoleUser:
			var regular []ContentPart
			var results []ContentPart
			for _, b := range blocks {
				p, err := FromWire(b)
				if err != nil {
					return nil, fmt.Errorf("decoding message %d: %w", i, err)
				}
				if p.Type == ContentTypeToolResult {
					results = append(results, p)
				} else {
					regular = append(regular, p)
				}
			}
			if len(regular) > 0 {
				out = append(out, Message{ID: uuid.NewString(), Role: RoleUser, Content: regular, Timestamp: time.Now()})
				current = -1
			}
			for _, r := range results {
				out = append(out, Message{ID: uuid.NewString(), Role: RoleUser, Content: []ContentPart{r}, Timestamp: time.Now()})
			}

		default:
			return nil, fmt.Errorf("message %d: unknown role %q", i, wm.Role)
		}
	}

	return out, nil
}

// decodeBlocks accepts both the block-array form and the legacy plain-string
// form of persisted message content.
func decodeBlocks(raw json.RawMessage) ([]WireBlock, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var blocks []WireBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return blocks, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("content is neither block array nor string")
	}
	return []WireBlock{{Type: ContentTypeText, Text: s}}, nil
}
