package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/wmesh/internal/core/services/dispatch"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	// An empty dispatcher rejects everything with a well-formed envelope,
	// which is all the transport layer needs.
	d := dispatch.New(dispatch.Options{Clock: clockwork.NewFakeClock()})
	srv := httptest.NewServer(NewServer("", d).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestActionEndpoint_Envelope(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/action", "application/json",
		strings.NewReader(`{"action":"networkHealth"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var envelope dispatch.Response
	require.NoError(t, jsonDecode(resp, &envelope))
	assert.False(t, envelope.Success)
	assert.Equal(t, "networkHealth", envelope.Action)
	assert.NotEmpty(t, envelope.Timestamp)
}

func TestActionEndpoint_MalformedBody(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/action", "application/json",
		strings.NewReader(`{broken`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var envelope dispatch.Response
	require.NoError(t, jsonDecode(resp, &envelope))
	assert.Contains(t, envelope.Error, "malformed")
}

func TestActionEndpoint_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/action")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func jsonDecode(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func TestMetricsExposition(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
