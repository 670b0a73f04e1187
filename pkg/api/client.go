// Package api provides the authenticated HTTP plumbing shared by the stream
// and directory clients, plus the error kinds they surface.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"
)

const (
	// LevelTrace is a custom log level for detailed HTTP traffic.
	LevelTrace = slog.Level(-8)

	jsonContentType = "application/json"
)

// ErrUnauthenticated indicates the backend rejected the credential before any
// work started. Distinct from mid-stream failures: nothing was produced.
var ErrUnauthenticated = errors.New("unauthenticated")

// StatusError reports a non-2xx response that is not an auth failure.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Body)
}

// Client wraps an http.Client with the backend base URL and bearer
// authentication.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a Client for the given base URL. The token is injected into
// every request by the transport; request bodies and streaming responses are
// dumped when trace logging is enabled.
func New(baseURL, token string) *Client {
	// Clone the default transport so proxy and keep-alive behavior carry
	// over; only the response header wait is tightened.
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = 30 * time.Second
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			// No overall timeout: turn streams are allowed to run as long
			// as bytes keep arriving. Connection setup is still bounded.
			Transport: &authTransport{
				base:  base,
				token: token,
			},
		},
	}
}

// NewRequest builds a request against the backend with JSON headers set.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", jsonContentType)
	req.Header.Set("Accept", jsonContentType)
	return req, nil
}

// CheckStatus maps a response status to the client error kinds. The body is
// not consumed for 2xx responses.
func CheckStatus(res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", ErrUnauthenticated, res.StatusCode)
	}
	return &StatusError{Status: res.StatusCode, Body: res.Status}
}

// Health probes backend reachability.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer res.Body.Close()
	return CheckStatus(res)
}

type authTransport struct {
	base  http.RoundTripper
	token string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.token != "" && req.Header.Get("Authorization") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	if !slog.Default().Enabled(req.Context(), LevelTrace) {
		return t.base.RoundTrip(req)
	}

	reqDump, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		slog.Debug("Failed to dump request", "error", err)
	} else {
		slog.Log(req.Context(), LevelTrace, "Backend request", "url", req.URL.String(), "dump", string(reqDump))
	}

	res, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// Never dump streaming bodies: that would consume the turn stream.
	isStream := strings.Contains(res.Header.Get("Content-Type"), "text/event-stream")
	resDump, err := httputil.DumpResponse(res, !isStream)
	if err != nil {
		slog.Debug("Failed to dump response", "error", err)
	} else {
		slog.Log(req.Context(), LevelTrace, "Backend response", "isStream", isStream, "dump", string(resDump))
	}

	return res, nil
}
