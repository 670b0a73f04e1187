package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportInheritsDefaultBehavior(t *testing.T) {
	client := New("http://example.com", "tok")

	auth, ok := client.HTTPClient.Transport.(*authTransport)
	require.True(t, ok)
	base, ok := auth.base.(*http.Transport)
	require.True(t, ok)

	// The base must be a clone of the default transport, not a fresh one:
	// a fresh Transport drops proxy-from-environment and keep-alive tuning.
	def := http.DefaultTransport.(*http.Transport)
	assert.NotNil(t, base.Proxy)
	assert.Equal(t, def.MaxIdleConns, base.MaxIdleConns)
	assert.Equal(t, def.IdleConnTimeout, base.IdleConnTimeout)
	assert.Equal(t, def.TLSHandshakeTimeout, base.TLSHandshakeTimeout)
	assert.Equal(t, 30*time.Second, base.ResponseHeaderTimeout)
}
