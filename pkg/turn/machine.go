// Package turn owns the live transcript of a chat session and folds the
// event stream of an assistant turn into it.
package turn

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dazzany/chatui/pkg/chat"
	"github.com/dazzany/chatui/pkg/stream"
)

// State is the machine's lifecycle position. The terminal per-turn states
// (completed, cancelled, errored) settle straight back to Idle inside
// FinishTurn, so only the durable states are observable.
type State int

const (
	// StateIdle means no turn is in flight; the transcript is committed
	// history.
	StateIdle State = iota
	// StateSending means the user message is in the transcript and the
	// network call has been issued, but no event has arrived yet.
	StateSending
	// StateStreaming means events are being folded into the transcript.
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	}
	return "unknown"
}

// Outcome reports how a turn ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeCancelled
	OutcomeErrored
)

// Flags are the turn-scoped indicators the UI renders while a turn runs.
// All of them clear when the turn settles, however it settles.
type Flags struct {
	Thinking  bool
	Streaming bool
	UsingTool bool
}

// SessionCreated is delivered when the server creates a session for a brand
// new conversation mid-stream. Transcript is a snapshot of everything folded
// so far.
type SessionCreated struct {
	ID         string
	Title      string
	Transcript []chat.Message
}

// Machine folds turn events into the transcript. One turn is active at a
// time; the Send gate upstream guarantees Apply is never called concurrently
// for two turns. The mutex only guards against UI readers taking snapshots
// while the fold mutates.
type Machine struct {
	mu sync.Mutex

	state      State
	transcript []chat.Message
	sessionID  string

	// current is the index of the turn's in-progress assistant message,
	// -1 when none exists yet. It is created lazily by the first
	// thinking_start or text_start of the turn and never a second time:
	// later start events append parts to the same message.
	current int

	flags    Flags
	errEvent string // message of a recorded error event, empty if none

	updates          chan struct{}
	onSessionCreated func(SessionCreated)
}

// NewMachine creates an idle machine with an empty transcript. The callback
// may be nil; it fires while the fold lock is not held.
func NewMachine(onSessionCreated func(SessionCreated)) *Machine {
	return &Machine{
		state:            StateIdle,
		current:          -1,
		updates:          make(chan struct{}, 1),
		onSessionCreated: onSessionCreated,
	}
}

// Updates returns the coalesced change signal. Bursts of deltas collapse
// into one pending notification, but the final state after the last delta is
// always observable: the channel holds a token whenever the transcript has
// changed since the last read.
func (m *Machine) Updates() <-chan struct{} {
	return m.updates
}

func (m *Machine) notify() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Flags returns the turn-scoped indicator flags.
func (m *Machine) Flags() Flags {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags
}

// SessionID returns the adopted session identifier, empty for an unsaved
// conversation.
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Transcript returns a deep snapshot of the transcript: the fold mutates
// part payloads in place (delta appends, tool resolution), so readers get
// their own copies.
func (m *Machine) Transcript() []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() []chat.Message {
	out := make([]chat.Message, len(m.transcript))
	for i, msg := range m.transcript {
		out[i] = msg
		out[i].Content = append([]chat.ContentPart(nil), msg.Content...)
		for j := range out[i].Content {
			p := &out[i].Content[j]
			if p.Text != nil {
				cp := *p.Text
				p.Text = &cp
			}
			if p.Thinking != nil {
				cp := *p.Thinking
				p.Thinking = &cp
			}
			if p.ToolUse != nil {
				cp := *p.ToolUse
				p.ToolUse = &cp
			}
			if p.ToolResult != nil {
				cp := *p.ToolResult
				p.ToolResult = &cp
			}
		}
	}
	return out
}

// CanSend reports whether a new turn may start.
func (m *Machine) CanSend() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateIdle
}

// Load replaces the transcript with persisted history, e.g. after selecting
// a session from the directory. Only legal while idle.
func (m *Machine) Load(sessionID string, messages []chat.Message) {
	m.mu.Lock()
	m.sessionID = sessionID
	m.transcript = append([]chat.Message(nil), messages...)
	m.current = -1
	m.mu.Unlock()
	m.notify()
}

// Reset clears the transcript and detaches from any session identifier. The
// next turn creates a fresh server-side session.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.sessionID = ""
	m.transcript = nil
	m.current = -1
	m.errEvent = ""
	m.mu.Unlock()
	m.notify()
}

// BeginTurn appends the outgoing user message and moves to Sending. The
// caller must have checked CanSend; a begin on a non-idle machine is refused.
func (m *Machine) BeginTurn(userMsg chat.Message) bool {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return false
	}
	m.state = StateSending
	m.errEvent = ""
	m.current = -1
	m.transcript = append(m.transcript, userMsg)
	m.mu.Unlock()
	m.notify()
	return true
}

// AbortTurn rolls back a turn whose stream never started (auth rejection,
// request failure). The provisional user message is removed so the failed
// attempt leaves no trace in the transcript.
func (m *Machine) AbortTurn() {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	if n := len(m.transcript); n > 0 && m.transcript[n-1].Role == chat.RoleUser {
		m.transcript = m.transcript[:n-1]
	}
	m.state = StateIdle
	m.flags = Flags{}
	m.current = -1
	m.mu.Unlock()
	m.notify()
}

// StreamStarted marks the transition from Sending to Streaming once the turn
// stream is open.
func (m *Machine) StreamStarted() {
	m.mu.Lock()
	if m.state == StateSending {
		m.state = StateStreaming
	}
	m.mu.Unlock()
	m.notify()
}

// Apply folds one event into the transcript. Events are processed strictly
// in arrival order by a single goroutine.
func (m *Machine) Apply(ev stream.Event) {
	var created *SessionCreated

	m.mu.Lock()
	switch ev.Type {
	case stream.EventThinkingStart:
		m.ensureCurrentLocked()
		m.appendPartLocked(chat.NewThinkingPart(""))
		m.flags.Thinking = true

	case stream.EventThinkingDelta:
		m.appendToLastLocked(chat.ContentTypeThinking, ev.Text)

	case stream.EventThinkingStop:
		m.flags.Thinking = false

	case stream.EventTextStart:
		m.ensureCurrentLocked()
		m.appendPartLocked(chat.NewTextPart(""))
		m.flags.Streaming = true

	case stream.EventTextDelta:
		m.appendToLastLocked(chat.ContentTypeText, ev.Text)

	case stream.EventToolUseStart:
		m.ensureCurrentLocked()
		m.appendPartLocked(chat.NewToolUsePart(ev.ID, ev.Name, ev.Input))
		m.transcript = append(m.transcript, chat.Message{
			ID:        uuid.NewString(),
			Role:      chat.RoleUser,
			Content:   []chat.ContentPart{chat.NewPendingToolResult(ev.ID)},
			Timestamp: time.Now(),
		})
		m.flags.UsingTool = true

	case stream.EventToolUseComplete:
		m.completeToolUseLocked(ev.ID, ev.Input)

	case stream.EventToolExecution:
		// Informational only; no transcript mutation.

	case stream.EventToolResult:
		m.resolveToolResultLocked(ev.ToolUseID, ev.ResultContent())
		m.flags.UsingTool = false

	case stream.EventSessionID:
		if m.sessionID == "" {
			m.sessionID = ev.SessionID
		}

	case stream.EventSessionCreated:
		m.sessionID = ev.SessionID
		created = &SessionCreated{
			ID:         ev.SessionID,
			Title:      ev.Title,
			Transcript: m.snapshotLocked(),
		}

	case stream.EventComplete:
		// The next turn's start events must create a fresh message,
		// never append to this one.
		m.current = -1
		m.flags.Streaming = false

	case stream.EventError:
		// Record only: trailing events (a tool_result already in flight)
		// may still need folding before the stream closes.
		m.errEvent = ev.Message
		slog.Warn("Turn stream reported error", "message", ev.Message)

	default:
		slog.Debug("Ignoring unrecognized stream event", "type", ev.Type)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.notify()
	if created != nil && m.onSessionCreated != nil {
		m.onSessionCreated(*created)
	}
}

// FinishTurn settles the turn once the stream has closed. Turn-scoped flags
// clear regardless of how termination occurred; everything already folded
// stays in the transcript. transportErr is a mid-stream network failure;
// stopped means the user requested cancellation.
func (m *Machine) FinishTurn(transportErr error, stopped bool) Outcome {
	m.mu.Lock()

	outcome := OutcomeCompleted
	switch {
	case transportErr != nil:
		outcome = OutcomeErrored
		m.markErroredLocked(transportErr.Error())
	case m.errEvent != "":
		outcome = OutcomeErrored
		m.markErroredLocked(m.errEvent)
	case stopped:
		outcome = OutcomeCancelled
	}

	m.state = StateIdle
	m.flags = Flags{}
	m.current = -1
	m.errEvent = ""
	m.mu.Unlock()
	m.notify()
	return outcome
}

// markErroredLocked attaches the inline error marker: on the turn's partial
// assistant message when one exists, otherwise on a marker-only message so
// the failure is visible in the transcript.
func (m *Machine) markErroredLocked(msg string) {
	if m.current >= 0 {
		m.transcript[m.current].Err = msg
		return
	}
	m.transcript = append(m.transcript, chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleAssistant,
		Timestamp: time.Now(),
		Err:       msg,
	})
}

// ensureCurrentLocked lazily creates the turn's single in-progress assistant
// message. At most one per turn: a second start event within the same turn
// finds current already set and appends to the existing message.
func (m *Machine) ensureCurrentLocked() {
	if m.current >= 0 {
		return
	}
	m.transcript = append(m.transcript, chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleAssistant,
		Timestamp: time.Now(),
	})
	m.current = len(m.transcript) - 1
}

func (m *Machine) appendPartLocked(p chat.ContentPart) {
	msg := &m.transcript[m.current]
	msg.Content = append(msg.Content, p)
}

// appendToLastLocked appends delta text to the last part of the given type
// in the in-progress message. A delta with no preceding start event creates
// the part it needs rather than dropping text.
func (m *Machine) appendToLastLocked(t chat.ContentType, text string) {
	if text == "" {
		return
	}
	if m.current < 0 {
		m.ensureCurrentLocked()
	}
	msg := &m.transcript[m.current]
	for i := len(msg.Content) - 1; i >= 0; i-- {
		if msg.Content[i].Type != t {
			continue
		}
		switch t {
		case chat.ContentTypeThinking:
			msg.Content[i].Thinking.Text += text
		case chat.ContentTypeText:
			msg.Content[i].Text.Text += text
		}
		return
	}
	switch t {
	case chat.ContentTypeThinking:
		msg.Content = append(msg.Content, chat.NewThinkingPart(text))
	case chat.ContentTypeText:
		msg.Content = append(msg.Content, chat.NewTextPart(text))
	}
}

// completeToolUseLocked overwrites the input of the matching tool_use part
// with the finalized value.
func (m *Machine) completeToolUseLocked(id string, input map[string]any) {
	if m.current < 0 {
		slog.Debug("tool_use_complete with no in-progress message", "id", id)
		return
	}
	msg := &m.transcript[m.current]
	for i := range msg.Content {
		if msg.Content[i].Type == chat.ContentTypeToolUse && msg.Content[i].ToolUse.ID == id {
			msg.Content[i].ToolUse.Input = input
			return
		}
	}
	slog.Debug("tool_use_complete for unknown id", "id", id)
}

// resolveToolResultLocked resolves the pending placeholder for a tool call.
// The placeholder may sit arbitrarily far back: interleaved text and further
// tool calls can separate a result from its call, so this searches rather
// than assuming adjacency. A result with no placeholder still lands in the
// transcript via the fallback path; results are never dropped.
func (m *Machine) resolveToolResultLocked(toolUseID, content string) {
	for i := len(m.transcript) - 1; i >= 0; i-- {
		msg := &m.transcript[i]
		for j := range msg.Content {
			tr := msg.Content[j].ToolResult
			if msg.Content[j].Type == chat.ContentTypeToolResult && tr.ToolUseID == toolUseID && tr.Pending {
				tr.Content = &content
				tr.Pending = false
				return
			}
		}
	}
	slog.Debug("tool_result with no pending placeholder, appending fallback", "tool_use_id", toolUseID)
	m.transcript = append(m.transcript, chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleUser,
		Content:   []chat.ContentPart{chat.NewResolvedToolResult(toolUseID, content)},
		Timestamp: time.Now(),
	})
}
