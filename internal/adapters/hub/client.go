// Package hub implements the authenticated WebSocket channel to the
// home-automation hub: request-response calls correlated by message id plus
// subscription fan-out for unsolicited events.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
	"github.com/lcalzada-xor/wmesh/internal/core/ports"
	"github.com/lcalzada-xor/wmesh/internal/telemetry"
)

const defaultCallTimeout = 30 * time.Second

// Options configures a Client.
type Options struct {
	URL         string // ws://host:8123/api/websocket
	Token       string
	CallTimeout time.Duration // default 30s
}

// frame is the wire shape of every hub message, requests and responses alike.
// Unused fields stay at their zero value.
type frame struct {
	ID      uint64          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *frameError     `json:"error,omitempty"`
	Event   *eventBody      `json:"event,omitempty"`

	AccessToken string `json:"access_token,omitempty"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type eventBody struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

type callResult struct {
	result json.RawMessage
	err    error
}

// Client is the hub connection. One writer goroutine discipline is enforced
// with a write mutex; a single reader goroutine dispatches responses to the
// pending-call table and events to subscribers.
type Client struct {
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	nextID    uint64
	pending   map[uint64]chan callResult
	subs      map[string][]chan ports.Event

	writeMu sync.Mutex
}

var _ ports.Hub = (*Client)(nil)

// New creates a disconnected client.
func New(opts Options) *Client {
	if opts.CallTimeout == 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	return &Client{
		opts:    opts,
		log:     slog.With("component", "hub", "url", opts.URL),
		pending: make(map[uint64]chan callResult),
		subs:    make(map[string][]chan ports.Event),
	}
}

// Connect dials the hub and runs the auth handshake: the hub opens with
// auth_required, we answer with the token, and anything but auth_ok is a
// credentials failure.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: dialing hub: %v", domain.ErrUnavailable, err)
	}

	var hello frame
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return fmt.Errorf("%w: reading hub greeting: %v", domain.ErrUnavailable, err)
	}
	if hello.Type != "auth_required" {
		conn.Close()
		return fmt.Errorf("%w: unexpected greeting %q", domain.ErrUnavailable, hello.Type)
	}

	if err := conn.WriteJSON(frame{Type: "auth", AccessToken: c.opts.Token}); err != nil {
		conn.Close()
		return fmt.Errorf("%w: sending auth: %v", domain.ErrUnavailable, err)
	}

	var verdict frame
	if err := conn.ReadJSON(&verdict); err != nil {
		conn.Close()
		return fmt.Errorf("%w: reading auth verdict: %v", domain.ErrUnavailable, err)
	}
	if verdict.Type != "auth_ok" {
		conn.Close()
		return fmt.Errorf("%w: hub rejected token (%s)", domain.ErrAuth, verdict.Type)
	}

	c.conn = conn
	c.connected = true
	go c.readLoop(conn)
	c.log.Info("hub connected")
	return nil
}

// Call sends one request and blocks for its correlated response. The default
// deadline applies when the caller's context has none; cancellation releases
// the correlation slot so a late response is dropped, not misdelivered.
func (c *Client) Call(ctx context.Context, method string, args map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: hub not connected", domain.ErrUnavailable)
	}
	c.nextID++
	id := c.nextID
	ch := make(chan callResult, 1)
	c.pending[id] = ch
	conn := c.conn
	c.mu.Unlock()

	payload := map[string]any{"id": id, "type": method}
	for k, v := range args {
		payload[k] = v
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(payload)
	c.writeMu.Unlock()
	if err != nil {
		c.unregister(id)
		telemetry.HubCalls.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("%w: writing %s: %v", domain.ErrUnavailable, method, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
	}

	select {
	case <-ctx.Done():
		c.unregister(id)
		telemetry.HubCalls.WithLabelValues(method, "timeout").Inc()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: hub call %s", domain.ErrTimeout, method)
		}
		return nil, fmt.Errorf("%w: hub call %s", domain.ErrCancelled, method)
	case r := <-ch:
		if r.err != nil {
			telemetry.HubCalls.WithLabelValues(method, "error").Inc()
			return nil, r.err
		}
		telemetry.HubCalls.WithLabelValues(method, "ok").Inc()
		return r.result, nil
	}
}

// Subscribe registers for one event type and asks the hub to start pushing
// it. The returned channel is buffered; slow consumers lose frames rather
// than stall the reader.
func (c *Client) Subscribe(ctx context.Context, eventType string) (<-chan ports.Event, error) {
	if _, err := c.Call(ctx, "subscribe_events", map[string]any{"event_type": eventType}); err != nil {
		return nil, err
	}
	ch := make(chan ports.Event, 16)
	c.mu.Lock()
	c.subs[eventType] = append(c.subs[eventType], ch)
	c.mu.Unlock()
	return ch, nil
}

// ListEntities returns the hub's entity states.
func (c *Client) ListEntities(ctx context.Context) ([]ports.HubEntity, error) {
	raw, err := c.Call(ctx, "get_states", nil)
	if err != nil {
		return nil, err
	}
	var entities []ports.HubEntity
	if err := json.Unmarshal(raw, &entities); err != nil {
		return nil, fmt.Errorf("%w: decoding entity list: %v", domain.ErrParse, err)
	}
	return entities, nil
}

// GetZigbeeDevices lists the Zigbee devices paired with the hub.
func (c *Client) GetZigbeeDevices(ctx context.Context) ([]domain.ZigbeeDevice, error) {
	raw, err := c.Call(ctx, "zha/devices", nil)
	if err != nil {
		return nil, err
	}
	var devices []domain.ZigbeeDevice
	if err := json.Unmarshal(raw, &devices); err != nil {
		return nil, fmt.Errorf("%w: decoding zigbee devices: %v", domain.ErrParse, err)
	}
	return devices, nil
}

// GetZigbeeNetwork returns the coordinator's network settings, channel
// included.
func (c *Client) GetZigbeeNetwork(ctx context.Context) (*domain.ZigbeeNetwork, error) {
	raw, err := c.Call(ctx, "zha/network/settings", nil)
	if err != nil {
		return nil, err
	}
	var network domain.ZigbeeNetwork
	if err := json.Unmarshal(raw, &network); err != nil {
		return nil, fmt.Errorf("%w: decoding zigbee network: %v", domain.ErrParse, err)
	}
	return &network, nil
}

// GetZigbeeTopology returns the raw mesh topology document.
func (c *Client) GetZigbeeTopology(ctx context.Context) (json.RawMessage, error) {
	return c.Call(ctx, "zha/topology", nil)
}

// InvokeService calls one hub service, fire and forget on the result body.
func (c *Client) InvokeService(ctx context.Context, domainName, service string, args map[string]any) error {
	_, err := c.Call(ctx, "call_service", map[string]any{
		"domain":       domainName,
		"service":      service,
		"service_data": args,
	})
	return err
}

// Connected reports the connection state.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close shuts the socket down. Pending calls fail with an unavailability
// error rather than hanging.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.failAll(conn, err)
			return
		}

		switch f.Type {
		case "result":
			c.deliver(f)
		case "event":
			if f.Event != nil {
				c.fanOut(ports.Event{Type: f.Event.EventType, Data: f.Event.Data})
			}
		case "pong":
			// keepalive, nothing to correlate
		default:
			c.log.Debug("unhandled hub frame", "type", f.Type)
		}
	}
}

func (c *Client) deliver(f frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	delete(c.pending, f.ID)
	c.mu.Unlock()
	if !ok {
		// Late response to a cancelled call; drop it.
		return
	}

	if f.Success != nil && !*f.Success {
		code, msg := "unknown", "hub call failed"
		if f.Error != nil {
			code, msg = f.Error.Code, f.Error.Message
		}
		ch <- callResult{err: fmt.Errorf("hub error %s: %s", code, msg)}
		return
	}
	ch <- callResult{result: f.Result}
}

func (c *Client) fanOut(ev ports.Event) {
	c.mu.Lock()
	targets := c.subs[ev.Type]
	c.mu.Unlock()
	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
		}
	}
}

// failAll runs when the reader dies: every pending call gets an unavailable
// error and the connection is torn down, unless Close already swapped it out.
func (c *Client) failAll(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.connected = false
	}
	pending := c.pending
	c.pending = make(map[uint64]chan callResult)
	subs := c.subs
	c.subs = make(map[string][]chan ports.Event)
	c.mu.Unlock()

	conn.Close()
	for _, ch := range pending {
		ch <- callResult{err: fmt.Errorf("%w: hub connection lost: %v", domain.ErrUnavailable, cause)}
	}
	for _, list := range subs {
		for _, ch := range list {
			close(ch)
		}
	}
	c.log.Warn("hub connection lost", "error", cause)
}

func (c *Client) unregister(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
