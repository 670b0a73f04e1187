package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dazzany/chatui/pkg/api"
	"github.com/dazzany/chatui/pkg/chat"
)

// eventPrefix marks lines that carry an event payload. Everything else on the
// stream (blank keep-alive lines, unknown framing) is skipped.
const eventPrefix = "data: "

// Scanner limits. Tool results can embed whole documents, so single lines
// get room to grow well past the bufio default.
const (
	initialLineBuffer = 64 * 1024
	maxLineBuffer     = 1024 * 1024
)

// turnRequest is the outgoing body of a turn. SessionID is null for the
// first turn of a brand-new conversation; the server assigns one.
type turnRequest struct {
	Content   []chat.WireBlock `json:"content"`
	SessionID *string          `json:"session_id"`
}

// Client opens turn streams against the chat backend.
type Client struct {
	api *api.Client
}

// NewClient creates a stream client on top of the shared API plumbing.
func NewClient(apiClient *api.Client) *Client {
	return &Client{api: apiClient}
}

// Open issues the turn request and returns the live event stream. An auth
// rejection surfaces as api.ErrUnauthenticated before any event is produced,
// so callers can distinguish "never started" from "started then failed".
func (c *Client) Open(ctx context.Context, parts []chat.ContentPart, sessionID string) (*Stream, error) {
	blocks, err := chat.PartsToWire(parts)
	if err != nil {
		return nil, fmt.Errorf("encoding turn content: %w", err)
	}

	reqBody := turnRequest{Content: blocks}
	if sessionID != "" {
		reqBody.SessionID = &sessionID
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding turn request: %w", err)
	}

	req, err := c.api.NewRequest(ctx, http.MethodPost, "/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	res, err := c.api.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening turn stream: %w", err)
	}
	if err := api.CheckStatus(res); err != nil {
		res.Body.Close()
		return nil, err
	}

	sc := bufio.NewScanner(res.Body)
	sc.Buffer(make([]byte, initialLineBuffer), maxLineBuffer)
	return &Stream{ctx: ctx, body: res.Body, scanner: sc}, nil
}

// Stop asks the server to wind down the in-flight turn for a session. Best
// effort: the caller keeps draining the stream either way, so a failed stop
// only delays settlement.
func (c *Client) Stop(ctx context.Context, sessionID string) error {
	req, err := c.api.NewRequest(ctx, http.MethodPost, "/chat/stop/"+sessionID, nil)
	if err != nil {
		return err
	}
	res, err := c.api.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting stop: %w", err)
	}
	defer res.Body.Close()
	return api.CheckStatus(res)
}

// Stream is the decoded event sequence of one turn. Not safe for concurrent
// use; one fold loop owns it.
type Stream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	closed  bool
}

// Recv returns the next event. It returns io.EOF when the server closes the
// stream cleanly and the context error once cancellation is observed. A
// malformed line is logged and skipped, never fatal: one bad frame must not
// abort an otherwise good turn.
func (s *Stream) Recv() (Event, error) {
	for {
		if err := s.ctx.Err(); err != nil {
			return Event{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				if s.ctx.Err() != nil {
					return Event{}, s.ctx.Err()
				}
				return Event{}, fmt.Errorf("reading turn stream: %w", err)
			}
			return Event{}, io.EOF
		}

		line := strings.TrimRight(s.scanner.Text(), "\r")
		if line == "" || !strings.HasPrefix(line, eventPrefix) {
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(line[len(eventPrefix):]), &ev); err != nil {
			slog.Warn("Skipping malformed stream line", "error", err, "line", truncate(line, 200))
			continue
		}
		return ev, nil
	}
}

// Close releases the underlying response body. Safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
