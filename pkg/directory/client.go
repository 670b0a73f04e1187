// Package directory is the client for the backend's session persistence
// surface: listing, fetching, renaming and deleting saved sessions.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dazzany/chatui/pkg/api"
	"github.com/dazzany/chatui/pkg/chat"
)

// Summary is a session's metadata without its transcript.
type Summary struct {
	ID        string    `json:"session_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session is a fully fetched session: summary plus converted transcript.
type Session struct {
	Summary
	Messages []chat.Message
}

// Client talks to the session directory. All operations are plain
// request/response; nothing here streams.
type Client struct {
	api *api.Client
}

// NewClient creates a directory client on top of the shared API plumbing.
func NewClient(apiClient *api.Client) *Client {
	return &Client{api: apiClient}
}

// List returns summaries of all saved sessions, newest first as ordered by
// the server.
func (c *Client) List(ctx context.Context) ([]Summary, error) {
	req, err := c.api.NewRequest(ctx, http.MethodGet, "/sessions", nil)
	if err != nil {
		return nil, err
	}
	res, err := c.api.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer res.Body.Close()
	if err := api.CheckStatus(res); err != nil {
		return nil, err
	}

	var body struct {
		Sessions []Summary `json:"sessions"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding session list: %w", err)
	}
	return body.Sessions, nil
}

// Get fetches one session including its transcript, converted into the
// Message model so a reloaded session is structurally identical to one that
// just finished streaming.
func (c *Client) Get(ctx context.Context, id string) (*Session, error) {
	req, err := c.api.NewRequest(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	res, err := c.api.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching session %s: %w", id, err)
	}
	defer res.Body.Close()
	if err := api.CheckStatus(res); err != nil {
		return nil, err
	}

	var body struct {
		Summary
		Messages []chat.WireMessage `json:"messages"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	messages, err := chat.MessagesFromWire(body.Messages)
	if err != nil {
		return nil, fmt.Errorf("converting session %s transcript: %w", id, err)
	}
	return &Session{Summary: body.Summary, Messages: messages}, nil
}

// Rename updates a session's display title.
func (c *Client) Rename(ctx context.Context, id, title string) error {
	path := "/sessions/" + url.PathEscape(id) + "?title=" + url.QueryEscape(title)
	req, err := c.api.NewRequest(ctx, http.MethodPut, path, nil)
	if err != nil {
		return err
	}
	res, err := c.api.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("renaming session %s: %w", id, err)
	}
	defer res.Body.Close()
	return api.CheckStatus(res)
}

// Delete removes a session server-side.
func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := c.api.NewRequest(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	res, err := c.api.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	defer res.Body.Close()
	return api.CheckStatus(res)
}
