package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dazzany/chatui/pkg/api"
)

func TestHealthInjectsBearerToken(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
	}))
	defer srv.Close()

	client := api.New(srv.URL, "secret")
	require.NoError(t, client.Health(context.Background()))
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "/health", gotPath)
}

func TestCheckStatusKinds(t *testing.T) {
	ok := &http.Response{StatusCode: http.StatusOK}
	assert.NoError(t, api.CheckStatus(ok))

	unauthorized := &http.Response{StatusCode: http.StatusUnauthorized}
	assert.ErrorIs(t, api.CheckStatus(unauthorized), api.ErrUnauthenticated)

	forbidden := &http.Response{StatusCode: http.StatusForbidden}
	assert.ErrorIs(t, api.CheckStatus(forbidden), api.ErrUnauthenticated)

	teapot := &http.Response{StatusCode: http.StatusTeapot, Status: "418 I'm a teapot"}
	err := api.CheckStatus(teapot)
	var statusErr *api.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTeapot, statusErr.Status)
}

func TestBaseURLTrailingSlashTrimmed(t *testing.T) {
	client := api.New("http://example.com/", "tok")
	assert.Equal(t, "http://example.com", client.BaseURL)

	req, err := client.NewRequest(context.Background(), http.MethodGet, "/sessions", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/sessions", req.URL.String())
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
}
