// Package controller is the façade the UI drives: it orchestrates sends,
// stops and session switches against the turn state machine and the session
// directory, and enforces the single-flight rules.
package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dazzany/chatui/pkg/chat"
	"github.com/dazzany/chatui/pkg/directory"
	"github.com/dazzany/chatui/pkg/stream"
	"github.com/dazzany/chatui/pkg/turn"
)

// ErrTurnInFlight is returned when a command is refused because a turn is
// still sending, streaming or winding down. Callers treat it as a no-op
// signal, not a failure.
var ErrTurnInFlight = errors.New("a turn is already in flight")

// TurnStream is the event sequence of one open turn.
type TurnStream interface {
	Recv() (stream.Event, error)
	Close() error
}

// TurnOpener starts turns and relays stop requests to the backend.
type TurnOpener interface {
	OpenTurn(ctx context.Context, parts []chat.ContentPart, sessionID string) (TurnStream, error)
	StopTurn(ctx context.Context, sessionID string) error
}

// Directory is the slice of the session directory the controller needs.
type Directory interface {
	List(ctx context.Context) ([]directory.Summary, error)
	Get(ctx context.Context, id string) (*directory.Session, error)
	Rename(ctx context.Context, id, title string) error
	Delete(ctx context.Context, id string) error
}

// Controller owns one conversation surface: the machine folding the live
// turn, the cached directory listing, and the gates between them.
type Controller struct {
	mu sync.Mutex

	machine *turn.Machine
	opener  TurnOpener
	dir     Directory

	sessions []directory.Summary

	// stopRequested is read by the fold loop at settlement; stopping keeps
	// the send gate closed between a stop request and the stream's natural
	// close.
	stopRequested bool
	stopping      bool

	updates  chan struct{}
	outcomes chan turn.Outcome
}

// New creates a controller. The machine's session_created callback feeds the
// directory cache so a brand-new session appears in the list immediately.
func New(opener TurnOpener, dir Directory) *Controller {
	c := &Controller{
		opener:   opener,
		dir:      dir,
		updates:  make(chan struct{}, 1),
		outcomes: make(chan turn.Outcome, 8),
	}
	c.machine = turn.NewMachine(c.onSessionCreated)
	go c.forwardMachineUpdates()
	return c
}

func (c *Controller) forwardMachineUpdates() {
	for range c.machine.Updates() {
		c.notify()
	}
}

func (c *Controller) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// Updates is the coalesced change signal for the UI. One token may cover a
// burst of changes; the state read after the token always includes the last
// of them.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

// Outcomes reports how each turn settled, in order. The channel is buffered;
// a consumer that falls more than the buffer behind loses the oldest
// unconsumed outcomes rather than blocking turn settlement.
func (c *Controller) Outcomes() <-chan turn.Outcome {
	return c.outcomes
}

// Transcript returns a snapshot of the current transcript.
func (c *Controller) Transcript() []chat.Message {
	return c.machine.Transcript()
}

// Flags returns the turn-scoped processing indicators.
func (c *Controller) Flags() turn.Flags {
	return c.machine.Flags()
}

// SessionID returns the current session identifier, empty for an unsaved
// conversation.
func (c *Controller) SessionID() string {
	return c.machine.SessionID()
}

// Sessions returns the cached directory listing.
func (c *Controller) Sessions() []directory.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]directory.Summary(nil), c.sessions...)
}

// CanSend reports whether a send would be accepted: no turn loading or
// streaming, and no stop still draining.
func (c *Controller) CanSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.CanSend() && !c.stopping
}

// Send starts a turn with the given text and staged attachments. It is a
// gated no-op (ErrTurnInFlight) unless the controller is idle. Encoder
// failures reject the send before any network activity; an authentication
// rejection rolls the provisional user message back so the transcript is
// untouched.
func (c *Controller) Send(ctx context.Context, text string, atts []chat.Attachment) error {
	if strings.TrimSpace(text) == "" && len(atts) == 0 {
		return nil
	}

	parts, err := chat.EncodeContent(text, atts)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.stopping || !c.machine.CanSend() {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	userMsg := chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleUser,
		Content:   parts,
		Timestamp: time.Now(),
	}
	if !c.machine.BeginTurn(userMsg) {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.stopRequested = false
	sessionID := c.machine.SessionID()
	c.mu.Unlock()

	st, err := c.opener.OpenTurn(ctx, parts, sessionID)
	if err != nil {
		c.machine.AbortTurn()
		// A stop requested during the open window has no fold goroutine to
		// clear it; reset here or the send gate stays closed forever.
		c.mu.Lock()
		c.stopRequested = false
		c.stopping = false
		c.mu.Unlock()
		return err
	}
	c.machine.StreamStarted()

	go c.fold(st)
	return nil
}

// fold drains the turn stream into the machine until it closes, then
// settles the turn. A recorded stop does not tear the stream down: events
// keep folding so a tool result already in flight is not lost, and the turn
// only settles as cancelled once the transport closes on its own.
func (c *Controller) fold(st TurnStream) {
	defer st.Close()

	var transportErr error
	cancelled := false
	for {
		ev, err := st.Recv()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				cancelled = true
			default:
				transportErr = err
				slog.Error("Turn stream failed", "error", err)
			}
			break
		}
		c.machine.Apply(ev)
	}

	c.mu.Lock()
	stopped := c.stopRequested || cancelled
	c.stopRequested = false
	c.stopping = false
	c.mu.Unlock()

	outcome := c.machine.FinishTurn(transportErr, stopped)
	select {
	case c.outcomes <- outcome:
	default:
		// Full buffer: shed the oldest entry so the latest settlement is
		// the one a catching-up consumer sees.
		select {
		case <-c.outcomes:
		default:
		}
		select {
		case c.outcomes <- outcome:
		default:
		}
	}
}

// Stop requests cancellation of the in-flight turn. It flips the stop flag,
// notifies the server best-effort, and leaves the fold loop draining until
// the stream closes naturally.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	if c.machine.State() == turn.StateIdle {
		c.mu.Unlock()
		return
	}
	c.stopRequested = true
	c.stopping = true
	sessionID := c.machine.SessionID()
	c.mu.Unlock()
	c.notify()

	if sessionID == "" {
		return
	}
	go func() {
		if err := c.opener.StopTurn(ctx, sessionID); err != nil {
			slog.Debug("Server stop request failed", "sessionID", sessionID, "error", err)
		}
	}()
}

// LoadSessions refreshes the cached directory listing.
func (c *Controller) LoadSessions(ctx context.Context) error {
	sessions, err := c.dir.List(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sessions = sessions
	c.mu.Unlock()
	c.notify()
	return nil
}

// SelectSession switches to a saved session, replacing the transcript with
// its persisted history. Switching is blocked while a turn is in flight:
// the caller gets ErrTurnInFlight and decides whether to stop first.
func (c *Controller) SelectSession(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.stopping || !c.machine.CanSend() {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.mu.Unlock()

	sess, err := c.dir.Get(ctx, id)
	if err != nil {
		return err
	}
	c.machine.Load(id, sess.Messages)
	return nil
}

// NewSession clears the transcript and detaches from any session
// identifier; the next send creates a fresh server-side session.
func (c *Controller) NewSession() error {
	c.mu.Lock()
	if c.stopping || !c.machine.CanSend() {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.mu.Unlock()

	c.machine.Reset()
	return nil
}

// RenameSession renames a saved session. The cached listing is only updated
// after the server confirms.
func (c *Controller) RenameSession(ctx context.Context, id, title string) error {
	if err := c.dir.Rename(ctx, id, title); err != nil {
		return err
	}
	c.mu.Lock()
	for i := range c.sessions {
		if c.sessions[i].ID == id {
			c.sessions[i].Title = title
			break
		}
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// DeleteSession deletes a saved session. Deleting the current session falls
// back to a fresh unsaved conversation. Blocked while a turn is in flight.
func (c *Controller) DeleteSession(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.stopping || !c.machine.CanSend() {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.mu.Unlock()

	if err := c.dir.Delete(ctx, id); err != nil {
		return err
	}

	c.mu.Lock()
	kept := c.sessions[:0]
	for _, s := range c.sessions {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	c.sessions = kept
	c.mu.Unlock()
	c.notify()

	if c.machine.SessionID() == id {
		c.machine.Reset()
	}
	return nil
}

// onSessionCreated inserts the server-created session at the head of the
// cached listing.
func (c *Controller) onSessionCreated(created turn.SessionCreated) {
	now := time.Now()
	c.mu.Lock()
	c.sessions = append([]directory.Summary{{
		ID:        created.ID,
		Title:     created.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}}, c.sessions...)
	c.mu.Unlock()
	c.notify()
}

// streamOpener adapts stream.Client to the TurnOpener interface.
type streamOpener struct {
	client *stream.Client
}

// NewStreamOpener wraps the HTTP stream client for use with the controller.
func NewStreamOpener(client *stream.Client) TurnOpener {
	return streamOpener{client: client}
}

func (o streamOpener) OpenTurn(ctx context.Context, parts []chat.ContentPart, sessionID string) (TurnStream, error) {
	s, err := o.client.Open(ctx, parts, sessionID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (o streamOpener) StopTurn(ctx context.Context, sessionID string) error {
	return o.client.Stop(ctx, sessionID)
}
