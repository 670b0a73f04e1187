package controller_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dazzany/chatui/pkg/api"
	"github.com/dazzany/chatui/pkg/chat"
	"github.com/dazzany/chatui/pkg/controller"
	"github.com/dazzany/chatui/pkg/directory"
	"github.com/dazzany/chatui/pkg/stream"
	"github.com/dazzany/chatui/pkg/turn"
)

// scriptedStream delivers events pushed by the test and blocks Recv until the
// next push or close, like a live HTTP stream would.
type scriptedStream struct {
	ch     chan stream.Event
	err    error
	closed chan struct{}
	once   sync.Once
}

func newScriptedStream() *scriptedStream {
	return &scriptedStream{ch: make(chan stream.Event, 16), closed: make(chan struct{})}
}

func (s *scriptedStream) push(ev stream.Event) { s.ch <- ev }

func (s *scriptedStream) finish(err error) {
	s.err = err
	close(s.ch)
}

func (s *scriptedStream) Recv() (stream.Event, error) {
	ev, ok := <-s.ch
	if !ok {
		if s.err != nil {
			return stream.Event{}, s.err
		}
		return stream.Event{}, io.EOF
	}
	return ev, nil
}

func (s *scriptedStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeOpener struct {
	mu        sync.Mutex
	opens     int
	stops     []string
	openErr   error
	lastParts []chat.ContentPart
	stream    *scriptedStream
}

func (f *fakeOpener) OpenTurn(ctx context.Context, parts []chat.ContentPart, sessionID string) (controller.TurnStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	f.lastParts = parts
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

func (f *fakeOpener) StopTurn(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, sessionID)
	return nil
}

func (f *fakeOpener) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeOpener) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stops)
}

type fakeDirectory struct {
	mu       sync.Mutex
	listed   []directory.Summary
	sessions map[string]*directory.Session
	renames  map[string]string
	deleted  []string
}

func (f *fakeDirectory) List(ctx context.Context) ([]directory.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]directory.Summary(nil), f.listed...), nil
}

func (f *fakeDirectory) Get(ctx context.Context, id string) (*directory.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return s, nil
}

func (f *fakeDirectory) Rename(ctx context.Context, id, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.renames == nil {
		f.renames = map[string]string{}
	}
	f.renames[id] = title
	return nil
}

func (f *fakeDirectory) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func waitOutcome(t *testing.T, c *controller.Controller) turn.Outcome {
	t.Helper()
	select {
	case o := <-c.Outcomes():
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the turn to settle")
		return 0
	}
}

func TestSendFoldsTurn(t *testing.T) {
	st := newScriptedStream()
	opener := &fakeOpener{stream: st}
	c := controller.New(opener, &fakeDirectory{})

	require.NoError(t, c.Send(context.Background(), "hello", nil))

	st.push(stream.Event{Type: stream.EventSessionCreated, SessionID: "s-1", Title: "Greeting"})
	st.push(stream.Event{Type: stream.EventTextStart})
	st.push(stream.Event{Type: stream.EventTextDelta, Text: "Hi!"})
	st.push(stream.Event{Type: stream.EventComplete})
	st.finish(nil)

	assert.Equal(t, turn.OutcomeCompleted, waitOutcome(t, c))
	assert.True(t, c.CanSend())
	assert.Equal(t, "s-1", c.SessionID())

	transcript := c.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, "Hi!", transcript[1].Content[0].Text.Text)

	// The created session is in the cached listing.
	sessions := c.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "s-1", sessions[0].ID)
	assert.Equal(t, "Greeting", sessions[0].Title)
}

func TestSendWhileStreamingIsGatedNoOp(t *testing.T) {
	st := newScriptedStream()
	opener := &fakeOpener{stream: st}
	c := controller.New(opener, &fakeDirectory{})

	require.NoError(t, c.Send(context.Background(), "first", nil))
	st.push(stream.Event{Type: stream.EventTextStart})
	require.Eventually(t, func() bool { return len(c.Transcript()) == 2 }, time.Second, 10*time.Millisecond)

	before := c.Transcript()
	err := c.Send(context.Background(), "second", nil)
	assert.ErrorIs(t, err, controller.ErrTurnInFlight)

	// Exactly one request went out and the transcript is untouched.
	assert.Equal(t, 1, opener.openCount())
	assert.True(t, chat.TranscriptsEqual(before, c.Transcript()))

	st.push(stream.Event{Type: stream.EventComplete})
	st.finish(nil)
	waitOutcome(t, c)
}

func TestBlankSendIsNoOp(t *testing.T) {
	opener := &fakeOpener{stream: newScriptedStream()}
	c := controller.New(opener, &fakeDirectory{})

	require.NoError(t, c.Send(context.Background(), "   \n", nil))
	assert.Zero(t, opener.openCount())
	assert.Empty(t, c.Transcript())
}

func TestUnauthenticatedSendLeavesNoTrace(t *testing.T) {
	opener := &fakeOpener{openErr: fmt.Errorf("opening turn stream: %w", api.ErrUnauthenticated)}
	c := controller.New(opener, &fakeDirectory{})

	err := c.Send(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, api.ErrUnauthenticated)
	assert.Empty(t, c.Transcript())
	assert.True(t, c.CanSend())
}

func TestStopDrainsToNaturalClose(t *testing.T) {
	st := newScriptedStream()
	opener := &fakeOpener{stream: st}
	c := controller.New(opener, &fakeDirectory{})

	require.NoError(t, c.Send(context.Background(), "long task", nil))
	st.push(stream.Event{Type: stream.EventSessionID, SessionID: "s-1"})
	st.push(stream.Event{Type: stream.EventToolUseStart, ID: "t1", Name: "worker"})
	require.Eventually(t, func() bool { return c.SessionID() == "s-1" }, time.Second, 10*time.Millisecond)

	c.Stop(context.Background())
	assert.False(t, c.CanSend())

	// Events after the stop request still fold.
	st.push(stream.Event{Type: stream.EventToolResult, ToolUseID: "t1", Content: json.RawMessage(`"done anyway"`)})
	st.push(stream.Event{Type: stream.EventTextStart})
	st.push(stream.Event{Type: stream.EventTextDelta, Text: "stopping"})
	st.finish(nil)

	assert.Equal(t, turn.OutcomeCancelled, waitOutcome(t, c))
	assert.True(t, c.CanSend())

	transcript := c.Transcript()
	require.Len(t, transcript, 3)
	tr := transcript[2].Content[0].ToolResult
	assert.False(t, tr.Pending)
	assert.Equal(t, "done anyway", *tr.Content)
	assert.Equal(t, "stopping", transcript[1].Content[1].Text.Text)

	// The server-side stop went out for the bound session.
	require.Eventually(t, func() bool { return opener.stopCount() == 1 }, time.Second, 10*time.Millisecond)
}

// blockingOpener holds OpenTurn until released, then fails it. Lets tests
// act while a turn sits in the sending window.
type blockingOpener struct {
	fakeOpener
	entered chan struct{}
	release chan struct{}
}

func (o *blockingOpener) OpenTurn(ctx context.Context, parts []chat.ContentPart, sessionID string) (controller.TurnStream, error) {
	close(o.entered)
	<-o.release
	return nil, fmt.Errorf("opening turn stream: connection refused")
}

func TestStopDuringFailedOpenReopensGate(t *testing.T) {
	opener := &blockingOpener{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := controller.New(opener, &fakeDirectory{})

	sendErr := make(chan error, 1)
	go func() { sendErr <- c.Send(context.Background(), "hello", nil) }()

	// Stop lands while the open is still in flight.
	<-opener.entered
	c.Stop(context.Background())
	assert.False(t, c.CanSend())

	close(opener.release)
	require.Error(t, <-sendErr)

	// The failed open left no trace and the gate reopened: there is no fold
	// goroutine to clear the stop flags, so Send must do it itself.
	assert.Empty(t, c.Transcript())
	assert.True(t, c.CanSend())
	assert.NoError(t, c.NewSession())
}

// eofStream closes immediately; each turn settles as soon as it starts.
type eofStream struct{}

func (eofStream) Recv() (stream.Event, error) { return stream.Event{}, io.EOF }
func (eofStream) Close() error                { return nil }

type eofOpener struct{ opens int }

func (o *eofOpener) OpenTurn(ctx context.Context, parts []chat.ContentPart, sessionID string) (controller.TurnStream, error) {
	o.opens++
	return eofStream{}, nil
}

func (o *eofOpener) StopTurn(ctx context.Context, sessionID string) error { return nil }

func TestSlowOutcomeConsumerNeverBlocksSettlement(t *testing.T) {
	c := controller.New(&eofOpener{}, &fakeDirectory{})

	// Nobody reads Outcomes; turns must keep settling anyway, shedding the
	// oldest entries once the buffer fills.
	const turns = 12
	for i := 0; i < turns; i++ {
		require.NoError(t, c.Send(context.Background(), "go", nil))
		require.Eventually(t, c.CanSend, 2*time.Second, time.Millisecond)
	}

	drained := 0
	for {
		select {
		case <-c.Outcomes():
			drained++
			continue
		default:
		}
		break
	}
	assert.Greater(t, drained, 0)
	assert.Less(t, drained, turns)
}

func TestStopWhileIdleIsNoOp(t *testing.T) {
	opener := &fakeOpener{stream: newScriptedStream()}
	c := controller.New(opener, &fakeDirectory{})

	c.Stop(context.Background())
	assert.True(t, c.CanSend())
	assert.Zero(t, opener.stopCount())
}

func TestTransportFailureSettlesErrored(t *testing.T) {
	st := newScriptedStream()
	opener := &fakeOpener{stream: st}
	c := controller.New(opener, &fakeDirectory{})

	require.NoError(t, c.Send(context.Background(), "hello", nil))
	st.push(stream.Event{Type: stream.EventTextStart})
	st.push(stream.Event{Type: stream.EventTextDelta, Text: "par"})
	st.finish(fmt.Errorf("reading turn stream: connection reset"))

	assert.Equal(t, turn.OutcomeErrored, waitOutcome(t, c))

	transcript := c.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, "par", transcript[1].Content[0].Text.Text)
	assert.NotEmpty(t, transcript[1].Err)
	assert.True(t, c.CanSend())
}

func TestSelectSessionBlockedWhileStreaming(t *testing.T) {
	st := newScriptedStream()
	opener := &fakeOpener{stream: st}
	dir := &fakeDirectory{sessions: map[string]*directory.Session{
		"s-2": {Summary: directory.Summary{ID: "s-2"}},
	}}
	c := controller.New(opener, dir)

	require.NoError(t, c.Send(context.Background(), "hello", nil))
	assert.ErrorIs(t, c.SelectSession(context.Background(), "s-2"), controller.ErrTurnInFlight)
	assert.ErrorIs(t, c.NewSession(), controller.ErrTurnInFlight)

	st.finish(nil)
	waitOutcome(t, c)

	require.NoError(t, c.SelectSession(context.Background(), "s-2"))
	assert.Equal(t, "s-2", c.SessionID())
}

func TestSelectSessionLoadsTranscript(t *testing.T) {
	dir := &fakeDirectory{sessions: map[string]*directory.Session{
		"s-1": {
			Summary: directory.Summary{ID: "s-1", Title: "Old chat"},
			Messages: []chat.Message{
				{ID: "a", Role: chat.RoleUser, Content: []chat.ContentPart{chat.NewTextPart("hi")}},
				{ID: "b", Role: chat.RoleAssistant, Content: []chat.ContentPart{chat.NewTextPart("hello")}},
			},
		},
	}}
	c := controller.New(&fakeOpener{}, dir)

	require.NoError(t, c.SelectSession(context.Background(), "s-1"))
	assert.Equal(t, "s-1", c.SessionID())
	require.Len(t, c.Transcript(), 2)
}

func TestDeleteCurrentSessionResets(t *testing.T) {
	dir := &fakeDirectory{
		listed: []directory.Summary{{ID: "s-1"}, {ID: "s-2"}},
		sessions: map[string]*directory.Session{
			"s-1": {Summary: directory.Summary{ID: "s-1"}},
		},
	}
	c := controller.New(&fakeOpener{}, dir)
	require.NoError(t, c.LoadSessions(context.Background()))
	require.NoError(t, c.SelectSession(context.Background(), "s-1"))

	require.NoError(t, c.DeleteSession(context.Background(), "s-1"))
	assert.Equal(t, []string{"s-1"}, dir.deleted)
	assert.Empty(t, c.SessionID())
	assert.Empty(t, c.Transcript())

	sessions := c.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "s-2", sessions[0].ID)
}

func TestRenameUpdatesCacheAfterConfirm(t *testing.T) {
	dir := &fakeDirectory{listed: []directory.Summary{{ID: "s-1", Title: "Untitled"}}}
	c := controller.New(&fakeOpener{}, dir)
	require.NoError(t, c.LoadSessions(context.Background()))

	require.NoError(t, c.RenameSession(context.Background(), "s-1", "Trip planning"))
	assert.Equal(t, "Trip planning", dir.renames["s-1"])
	assert.Equal(t, "Trip planning", c.Sessions()[0].Title)
}

func TestAttachmentsRideAlongWithText(t *testing.T) {
	st := newScriptedStream()
	opener := &fakeOpener{stream: st}
	c := controller.New(opener, &fakeDirectory{})

	att, err := chat.ProcessAttachment("notes.txt", "text/plain", []byte("remember this"))
	require.NoError(t, err)

	require.NoError(t, c.Send(context.Background(), "see attached", []chat.Attachment{att}))
	st.finish(nil)
	waitOutcome(t, c)

	require.Len(t, opener.lastParts, 2)
	assert.Equal(t, chat.ContentTypeText, opener.lastParts[0].Type)
	assert.Equal(t, chat.ContentTypeDocument, opener.lastParts[1].Type)
}
