// Package dispatch routes tagged action requests to their handlers. It is
// the single entry point of the service: every transport (HTTP, CLI) builds
// a Request and reads back a Response envelope.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
	"github.com/lcalzada-xor/wmesh/internal/core/ports"
	"github.com/lcalzada-xor/wmesh/internal/core/services/alert"
	"github.com/lcalzada-xor/wmesh/internal/core/services/knowledge"
	"github.com/lcalzada-xor/wmesh/internal/core/services/locate"
	"github.com/lcalzada-xor/wmesh/internal/core/services/recommend"
	"github.com/lcalzada-xor/wmesh/internal/core/services/signal"
	"github.com/lcalzada-xor/wmesh/internal/core/services/snapshot"
	"github.com/lcalzada-xor/wmesh/internal/telemetry"
)

// Request is one tagged action with its raw parameters.
type Request struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the envelope every action returns. Suggestions are
// human-readable follow-up hints, not optimisation tokens.
type Response struct {
	Success     bool     `json:"success"`
	Action      string   `json:"action"`
	Data        any      `json:"data,omitempty"`
	Error       string   `json:"error,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

// need declares which lazily-connected transports a handler relies on.
type need int

const (
	needShell need = 1 << iota
	needHub
)

type handlerFunc func(ctx context.Context, params json.RawMessage) (any, []string, error)

type handler struct {
	needs need
	run   handlerFunc
}

// Options wires a Dispatcher. Hub and Snmp may be nil; actions needing them
// then fail with a configuration hint.
type Options struct {
	Primary   ports.Shell
	Pool      ports.NodePool
	Hub       ports.Hub
	Snmp      ports.SnmpWalker
	Builder   *snapshot.Builder
	Engine    *recommend.Engine
	Signals   *signal.Store
	Locator   *locate.Triangulator
	Alerts    *alert.Router
	Knowledge *knowledge.Base
	Clock     clockwork.Clock
}

// Dispatcher executes actions one at a time. Concurrent submissions queue on
// the internal mutex; a client observing a sequence of responses sees them
// in submission order.
type Dispatcher struct {
	opts     Options
	log      *slog.Logger
	registry map[string]handler
	ready    bool

	mu sync.Mutex
}

// New creates a dispatcher. All mandatory collaborators must be set or the
// dispatcher stays uninitialised and rejects every action.
func New(opts Options) *Dispatcher {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	d := &Dispatcher{
		opts:     opts,
		log:      slog.With("component", "dispatch"),
		registry: make(map[string]handler),
	}
	d.ready = opts.Primary != nil && opts.Pool != nil && opts.Builder != nil &&
		opts.Engine != nil && opts.Signals != nil && opts.Locator != nil &&
		opts.Alerts != nil && opts.Knowledge != nil
	d.registerAll()
	return d
}

func (d *Dispatcher) register(action string, needs need, fn handlerFunc) {
	d.registry[action] = handler{needs: needs, run: fn}
}

// Actions returns the sorted action catalogue. Used by transports to answer
// unknown-action requests helpfully.
func (d *Dispatcher) Actions() []string {
	out := make([]string, 0, len(d.registry))
	for name := range d.registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute runs one action and always returns an envelope, never an error.
func (d *Dispatcher) Execute(ctx context.Context, req Request) Response {
	if d == nil || !d.ready {
		return Response{
			Success:   false,
			Action:    req.Action,
			Error:     "dispatcher not initialised",
			Timestamp: d.now(),
		}
	}

	h, ok := d.registry[req.Action]
	if !ok {
		telemetry.ActionsTotal.WithLabelValues(req.Action, "unknown").Inc()
		return Response{
			Success:     false,
			Action:      req.Action,
			Error:       fmt.Sprintf("unknown action %q", req.Action),
			Suggestions: []string{"known actions: " + strings.Join(d.Actions(), ", ")},
			Timestamp:   d.now(),
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	start := d.opts.Clock.Now()
	data, hints, err := d.perform(ctx, h, req.Params)
	telemetry.ActionDuration.WithLabelValues(req.Action).Observe(d.opts.Clock.Since(start).Seconds())

	resp := Response{
		Action:      req.Action,
		Data:        data,
		Suggestions: hints,
		Timestamp:   d.now(),
	}
	if err != nil {
		telemetry.ActionsTotal.WithLabelValues(req.Action, "error").Inc()
		d.log.Warn("action failed", "action", req.Action, "error", err)
		resp.Error = err.Error()
		return resp
	}
	telemetry.ActionsTotal.WithLabelValues(req.Action, "ok").Inc()
	resp.Success = true
	return resp
}

// Drain blocks until any in-flight action has finished. Used by shutdown to
// avoid tearing transports down under a running handler.
func (d *Dispatcher) Drain() {
	d.mu.Lock()
	//nolint:staticcheck // SA2001: the empty critical section is the barrier
	d.mu.Unlock()
}

// perform connects required transports, runs the handler and captures
// panics as errors.
func (d *Dispatcher) perform(ctx context.Context, h handler, params json.RawMessage) (data any, hints []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	if hints, err = d.ensureTransports(ctx, h.needs); err != nil {
		return nil, hints, err
	}
	return h.run(ctx, params)
}

func (d *Dispatcher) ensureTransports(ctx context.Context, needs need) ([]string, error) {
	if needs&needShell != 0 && !d.opts.Primary.IsConnected() {
		if err := d.opts.Primary.Connect(ctx); err != nil {
			return shellHints(err), fmt.Errorf("router shell: %w", err)
		}
	}
	if needs&needHub != 0 {
		if d.opts.Hub == nil {
			return []string{"configure the hub host and access token to enable zigbee actions"},
				fmt.Errorf("%w: no hub configured", domain.ErrUnavailable)
		}
		if !d.opts.Hub.Connected() {
			if err := d.opts.Hub.Connect(ctx); err != nil {
				return hubHints(err), fmt.Errorf("hub: %w", err)
			}
		}
	}
	return nil, nil
}

func shellHints(err error) []string {
	switch {
	case errors.Is(err, domain.ErrCircuitOpen):
		return []string{
			"the shell circuit breaker is open; run resetCircuitBreaker once the router is reachable",
		}
	case errors.Is(err, domain.ErrAuth):
		return []string{"check the SSH user and password or key for the router"}
	default:
		return []string{"check the router host setting and that SSH is enabled on it"}
	}
}

func hubHints(err error) []string {
	if errors.Is(err, domain.ErrAuth) {
		return []string{"the hub rejected the access token; generate a new long-lived token"}
	}
	return []string{"check the hub host, port and SSL settings"}
}

func (d *Dispatcher) now() string {
	if d == nil || d.opts.Clock == nil {
		return ""
	}
	return d.opts.Clock.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
