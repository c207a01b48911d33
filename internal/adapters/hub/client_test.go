package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// mockHub is a scripted hub endpoint: it runs the auth handshake and then
// answers each request through the handler.
type mockHub struct {
	t       *testing.T
	token   string
	handler func(conn *websocket.Conn, req map[string]any) bool // false = no reply

	mu   sync.Mutex
	conn *websocket.Conn
}

func (m *mockHub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	require.NoError(m.t, err)
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	require.NoError(m.t, conn.WriteJSON(map[string]any{"type": "auth_required"}))

	var auth map[string]any
	require.NoError(m.t, conn.ReadJSON(&auth))
	if auth["access_token"] != m.token {
		conn.WriteJSON(map[string]any{"type": "auth_invalid"})
		conn.Close()
		return
	}
	require.NoError(m.t, conn.WriteJSON(map[string]any{"type": "auth_ok"}))

	for {
		var req map[string]any
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if m.handler != nil && !m.handler(conn, req) {
			continue
		}
	}
}

func (m *mockHub) push(v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotNil(m.t, m.conn)
	require.NoError(m.t, m.conn.WriteJSON(v))
}

func reply(conn *websocket.Conn, req map[string]any, result any) bool {
	conn.WriteJSON(map[string]any{
		"id": req["id"], "type": "result", "success": true, "result": result,
	})
	return true
}

func startMockHub(t *testing.T, m *mockHub) *Client {
	t.Helper()
	m.t = t
	srv := httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(srv.Close)

	c := New(Options{
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token:       m.token,
		CallTimeout: 2 * time.Second,
	})
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConnect_AuthHandshake(t *testing.T) {
	c := startMockHub(t, &mockHub{token: "secret"})
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())
}

func TestConnect_BadToken(t *testing.T) {
	m := &mockHub{token: "secret"}
	c := startMockHub(t, m)
	c.opts.Token = "wrong"

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuth)
	assert.False(t, c.Connected())
}

func TestCall_CorrelatesOutOfOrderResponses(t *testing.T) {
	var pending []map[string]any
	var mu sync.Mutex
	m := &mockHub{token: "s", handler: func(conn *websocket.Conn, req map[string]any) bool {
		mu.Lock()
		defer mu.Unlock()
		pending = append(pending, req)
		// Answer in reverse arrival order once both calls are in.
		if len(pending) == 2 {
			for i := len(pending) - 1; i >= 0; i-- {
				reply(conn, pending[i], pending[i]["type"])
			}
		}
		return true
	}}
	c := startMockHub(t, m)
	require.NoError(t, c.Connect(context.Background()))

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i, method := range []string{"first_call", "second_call"} {
		wg.Add(1)
		go func(i int, method string) {
			defer wg.Done()
			raw, err := c.Call(context.Background(), method, nil)
			require.NoError(t, err)
			var s string
			require.NoError(t, json.Unmarshal(raw, &s))
			results[i] = s
		}(i, method)
		time.Sleep(50 * time.Millisecond) // fixed arrival order
	}
	wg.Wait()

	assert.Equal(t, "first_call", results[0])
	assert.Equal(t, "second_call", results[1])
}

func TestCall_HubSideError(t *testing.T) {
	m := &mockHub{token: "s", handler: func(conn *websocket.Conn, req map[string]any) bool {
		conn.WriteJSON(map[string]any{
			"id": req["id"], "type": "result", "success": false,
			"error": map[string]any{"code": "not_found", "message": "no such thing"},
		})
		return true
	}}
	c := startMockHub(t, m)
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.Call(context.Background(), "zha/devices", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_found")
}

func TestCall_TimeoutFreesSlot(t *testing.T) {
	m := &mockHub{token: "s", handler: func(conn *websocket.Conn, req map[string]any) bool {
		return true // never answer
	}}
	c := startMockHub(t, m)
	c.opts.CallTimeout = 100 * time.Millisecond
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.Call(context.Background(), "slow_call", nil)
	assert.ErrorIs(t, err, domain.ErrTimeout)

	c.mu.Lock()
	assert.Empty(t, c.pending)
	c.mu.Unlock()
}

func TestCall_NotConnected(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1", Token: "s"})
	_, err := c.Call(context.Background(), "get_states", nil)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestSubscribe_EventFanOut(t *testing.T) {
	m := &mockHub{token: "s", handler: func(conn *websocket.Conn, req map[string]any) bool {
		if req["type"] == "subscribe_events" {
			return reply(conn, req, nil)
		}
		return true
	}}
	c := startMockHub(t, m)
	require.NoError(t, c.Connect(context.Background()))

	events, err := c.Subscribe(context.Background(), "state_changed")
	require.NoError(t, err)

	m.push(map[string]any{
		"type":  "event",
		"event": map[string]any{"event_type": "state_changed", "data": map[string]any{"entity_id": "light.salon"}},
	})

	select {
	case ev := <-events:
		assert.Equal(t, "state_changed", ev.Type)
		assert.Contains(t, string(ev.Data), "light.salon")
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestGetZigbeeNetwork(t *testing.T) {
	m := &mockHub{token: "s", handler: func(conn *websocket.Conn, req map[string]any) bool {
		switch req["type"] {
		case "zha/network/settings":
			return reply(conn, req, map[string]any{"channel": 15, "pan_id": "0x1a2b"})
		case "zha/devices":
			return reply(conn, req, []map[string]any{
				{"ieee": "00:11:22:33:44:55:66:77", "name": "bombilla", "role": "router", "lqi": 180, "available": true},
			})
		}
		return true
	}}
	c := startMockHub(t, m)
	require.NoError(t, c.Connect(context.Background()))

	network, err := c.GetZigbeeNetwork(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15, network.CoordinatorChannel)

	devices, err := c.GetZigbeeDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, domain.ZigbeeRouter, devices[0].Role)
	assert.Equal(t, 180, devices[0].LQI)
}

func TestClose_FailsPendingCalls(t *testing.T) {
	m := &mockHub{token: "s", handler: func(conn *websocket.Conn, req map[string]any) bool {
		return true // never answer
	}}
	c := startMockHub(t, m)
	require.NoError(t, c.Connect(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "hanging", nil)
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call did not fail on close")
	}
	assert.False(t, c.Connected())
}
