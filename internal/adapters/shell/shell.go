// Package shell provides the serialised command channel to mesh devices and
// the pool of per-peer channels, plus parsers for their text output.
package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lcalzada-xor/wmesh/internal/circuit"
	"github.com/lcalzada-xor/wmesh/internal/core/domain"
	"github.com/lcalzada-xor/wmesh/internal/core/ports"
	"github.com/lcalzada-xor/wmesh/internal/telemetry"
)

const probeCommand = "echo wmesh-probe"

// Options configures a DeviceShell.
type Options struct {
	Host             string
	Port             int
	User             string
	Password         string
	KeyPath          string
	CommandTimeout   time.Duration // default 15s
	BreakerThreshold int           // default 3
	BreakerWindow    time.Duration // default 60s
	BreakerCooldown  time.Duration // default 30s
}

func (o Options) withDefaults() Options {
	if o.Port == 0 {
		o.Port = 22
	}
	if o.CommandTimeout == 0 {
		o.CommandTimeout = 15 * time.Second
	}
	if o.BreakerThreshold == 0 {
		o.BreakerThreshold = 3
	}
	if o.BreakerWindow == 0 {
		o.BreakerWindow = 60 * time.Second
	}
	if o.BreakerCooldown == 0 {
		o.BreakerCooldown = 30 * time.Second
	}
	return o
}

// DeviceShell is one serialised command channel to a network device,
// guarded by a circuit breaker. Commands issued by different callers are
// serialised on a mutex; caller cancellation of an in-flight command tears
// the channel down.
type DeviceShell struct {
	opts    Options
	breaker *circuit.Breaker
	log     *slog.Logger

	mu        sync.Mutex // serialises Exec and connection state changes
	tr        transport
	connected bool
}

var _ ports.Shell = (*DeviceShell)(nil)

// NewDeviceShell creates a shell for one host. The transport is dialed on
// Connect, not here.
func NewDeviceShell(opts Options) *DeviceShell {
	opts = opts.withDefaults()
	return &DeviceShell{
		opts:    opts,
		breaker: circuit.New(opts.BreakerThreshold, opts.BreakerWindow, opts.BreakerCooldown),
		log:     slog.With("component", "shell", "host", opts.Host),
		tr:      newSSHTransport(opts.Host, opts.Port, opts.User, opts.Password, opts.KeyPath),
	}
}

// newDeviceShellWithTransport is the test seam.
func newDeviceShellWithTransport(opts Options, tr transport, breaker *circuit.Breaker) *DeviceShell {
	opts = opts.withDefaults()
	return &DeviceShell{
		opts:    opts,
		breaker: breaker,
		log:     slog.With("component", "shell", "host", opts.Host),
		tr:      tr,
	}
}

// Connect opens the transport and confirms liveness with a probe command.
func (s *DeviceShell) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	if err := s.tr.connect(ctx); err != nil {
		if errors.Is(err, domain.ErrAuth) {
			s.breaker.Trip()
			telemetry.BreakerTransitions.WithLabelValues(s.opts.Host, "open").Inc()
		}
		return err
	}
	if _, err := s.run(ctx, probeCommand); err != nil {
		s.tr.close()
		return fmt.Errorf("%w: probe failed: %v", domain.ErrUnavailable, err)
	}
	s.connected = true
	s.log.Info("shell connected")
	return nil
}

// Exec runs one command, blocking until it returns or the per-command
// deadline expires. Transient transport errors are retried once before the
// breaker counts a failure.
func (s *DeviceShell) Exec(ctx context.Context, command string) (string, error) {
	if err := s.breaker.Allow(); err != nil {
		telemetry.ShellCommands.WithLabelValues(s.opts.Host, "rejected").Inc()
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		s.breaker.Failure()
		telemetry.ShellCommands.WithLabelValues(s.opts.Host, "error").Inc()
		return "", fmt.Errorf("%w: shell not connected", domain.ErrUnavailable)
	}

	out, err := s.run(ctx, command)
	if err != nil && retriable(err) {
		s.log.Debug("retrying command after transient error", "command", command, "error", err)
		out, err = s.run(ctx, command)
	}
	if err != nil {
		if errors.Is(err, domain.ErrCancelled) {
			// Cancellation mid-command leaves the remote shell in an
			// unknown state; tear down and do not punish the breaker.
			s.teardownLocked()
			telemetry.ShellCommands.WithLabelValues(s.opts.Host, "cancelled").Inc()
			return "", err
		}
		if errors.Is(err, domain.ErrAuth) {
			s.breaker.Trip()
		} else {
			s.breaker.Failure()
		}
		telemetry.ShellCommands.WithLabelValues(s.opts.Host, "error").Inc()
		return "", err
	}

	s.breaker.Success()
	telemetry.ShellCommands.WithLabelValues(s.opts.Host, "ok").Inc()
	return out, nil
}

// GetKV reads one configuration key. Key layout is owned by the device.
func (s *DeviceShell) GetKV(ctx context.Context, key string) (string, error) {
	out, err := s.Exec(ctx, "nvram get "+key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// SetKV writes one configuration key. Takes effect after Commit.
func (s *DeviceShell) SetKV(ctx context.Context, key, value string) error {
	_, err := s.Exec(ctx, fmt.Sprintf("nvram set %s=%s", key, value))
	return err
}

// Commit persists pending configuration writes.
func (s *DeviceShell) Commit(ctx context.Context) error {
	_, err := s.Exec(ctx, "nvram commit")
	return err
}

// RestartRadio restarts the wireless subsystem to pick up committed
// configuration.
func (s *DeviceShell) RestartRadio(ctx context.Context) error {
	_, err := s.Exec(ctx, "service restart_wireless")
	return err
}

// IsConnected reports the connection state.
func (s *DeviceShell) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnect closes the transport. Safe to call repeatedly.
func (s *DeviceShell) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.teardownLocked()
	return nil
}

// ResetCircuit forces the breaker closed.
func (s *DeviceShell) ResetCircuit() {
	s.breaker.Reset()
	telemetry.BreakerTransitions.WithLabelValues(s.opts.Host, "closed").Inc()
}

// BreakerState exposes the breaker state for diagnostics.
func (s *DeviceShell) BreakerState() circuit.State {
	return s.breaker.State()
}

func (s *DeviceShell) teardownLocked() {
	s.tr.close()
	s.connected = false
	s.log.Info("shell disconnected")
}

func (s *DeviceShell) run(ctx context.Context, command string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, s.opts.CommandTimeout)
	defer cancel()
	return s.tr.run(cmdCtx, command)
}

// retriable reports whether an error is worth one transparent retry.
// Auth rejections, deadlines and cancellations are not.
func retriable(err error) bool {
	return !errors.Is(err, domain.ErrAuth) &&
		!errors.Is(err, domain.ErrTimeout) &&
		!errors.Is(err, domain.ErrCancelled)
}
