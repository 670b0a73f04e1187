package directory_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dazzany/chatui/pkg/api"
	"github.com/dazzany/chatui/pkg/chat"
	"github.com/dazzany/chatui/pkg/directory"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *directory.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return directory.NewClient(api.New(srv.URL, "test-token"))
}

func TestList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/sessions", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"sessions":[
			{"session_id":"s-2","title":"Newer","created_at":"2026-08-29T10:00:00Z","updated_at":"2026-08-29T11:00:00Z"},
			{"session_id":"s-1","title":"Older","created_at":"2026-08-28T10:00:00Z","updated_at":"2026-08-28T10:30:00Z"}
		]}`))
	})

	sessions, err := client.List(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s-2", sessions[0].ID)
	assert.Equal(t, "Newer", sessions[0].Title)
	assert.Equal(t, 2026, sessions[0].UpdatedAt.Year())
}

func TestGetConvertsTranscript(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/s-1", r.URL.Path)
		w.Write([]byte(`{
			"session_id":"s-1","title":"Math",
			"created_at":"2026-08-29T10:00:00Z","updated_at":"2026-08-29T10:05:00Z",
			"messages":[
				{"role":"user","content":[{"type":"text","text":"what is 2+2?"}]},
				{"role":"assistant","content":[
					{"type":"text","text":"Let me compute."},
					{"type":"tool_use","id":"t1","name":"calculator","input":{"expr":"2+2"}}
				]},
				{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"4"}]},
				{"role":"assistant","content":[{"type":"text","text":"It is 4."}]}
			]
		}`))
	})

	sess, err := client.Get(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, "Math", sess.Title)

	// The two assistant messages of the turn collapse into one, and the tool
	// result rides in its own user message.
	require.Len(t, sess.Messages, 3)
	assistant := sess.Messages[1]
	require.Equal(t, chat.RoleAssistant, assistant.Role)
	require.Len(t, assistant.Content, 3)
	assert.Equal(t, "It is 4.", assistant.Content[2].Text.Text)

	result := sess.Messages[2].Content[0].ToolResult
	require.NotNil(t, result)
	assert.False(t, result.Pending)
	assert.Equal(t, "4", *result.Content)
}

func TestGetNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.Get(context.Background(), "missing")
	var statusErr *api.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Status)
}

func TestRename(t *testing.T) {
	var gotMethod, gotPath, gotTitle string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotTitle = r.URL.Query().Get("title")
	})

	require.NoError(t, client.Rename(context.Background(), "s-1", "Trip planning"))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/sessions/s-1", gotPath)
	assert.Equal(t, "Trip planning", gotTitle)
}

func TestDelete(t *testing.T) {
	var gotMethod, gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
	})

	require.NoError(t, client.Delete(context.Background(), "s-1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/sessions/s-1", gotPath)
}

func TestUnauthenticated(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.List(context.Background())
	assert.ErrorIs(t, err, api.ErrUnauthenticated)
}
