package recommend

import (
	"context"
	"fmt"
	"strings"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
)

// ApplyStatus tells the caller what happened to a suggestion.
type ApplyStatus string

const (
	StatusPending ApplyStatus = "pending-confirmation"
	StatusApplied ApplyStatus = "applied"
	StatusManual  ApplyStatus = "manual-step-required"
)

// ApplyResult is the outcome of one Apply call.
type ApplyResult struct {
	Status     ApplyStatus       `json:"status"`
	Suggestion domain.Suggestion `json:"suggestion"`
	FollowUp   string            `json:"follow_up,omitempty"`
}

// Apply resolves a suggestion token. Without confirmation it echoes the
// pending change and keeps the token valid; with confirmation it translates
// the suggestion into device calls, consumes the token and hints at a
// rescan. An unknown or already consumed token is an error.
func (e *Engine) Apply(ctx context.Context, token string, confirm bool) (*ApplyResult, error) {
	e.mu.Lock()
	s, ok := e.tokens[token]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: token %s", domain.ErrUnknownSuggestion, token)
	}

	if !confirm {
		return &ApplyResult{
			Status:     StatusPending,
			Suggestion: s,
			FollowUp:   "repeat with confirm=true to apply",
		}, nil
	}

	status, err := e.execute(ctx, s)
	if err != nil {
		return nil, err
	}

	// The token is single-use; consume it only after the change landed.
	e.mu.Lock()
	delete(e.tokens, token)
	e.mu.Unlock()

	return &ApplyResult{
		Status:     status,
		Suggestion: s,
		FollowUp:   "run scanNetwork to observe the effect",
	}, nil
}

func (e *Engine) execute(ctx context.Context, s domain.Suggestion) (ApplyStatus, error) {
	switch s.ActionType {
	case ActionSetChannel:
		band := domain.Band(s.Parameters["band"])
		iface, ok := bandInterfaces[band]
		if !ok {
			return "", fmt.Errorf("%w: no radio interface for band %q", domain.ErrInvariant, band)
		}
		return StatusApplied, e.commitKV(ctx, s.Parameters["node"],
			map[string]string{iface + "_channel": s.Parameters["channel"]}, s.RequiresRestart)

	case ActionSetWidth:
		band := domain.Band(s.Parameters["band"])
		iface, ok := bandInterfaces[band]
		if !ok {
			return "", fmt.Errorf("%w: no radio interface for band %q", domain.ErrInvariant, band)
		}
		return StatusApplied, e.commitKV(ctx, s.Parameters["node"],
			map[string]string{iface + "_bw": s.Parameters["width"]}, s.RequiresRestart)

	case ActionEnableFeature, ActionDisableFeature:
		value := "1"
		if s.ActionType == ActionDisableFeature {
			value = "0"
		}
		key := featureKey(s.Parameters["feature"])
		return StatusApplied, e.commitKV(ctx, s.Parameters["node"],
			map[string]string{key: value}, s.RequiresRestart)

	case ActionWireBackhaul:
		// Plugging a cable in cannot be automated; the suggestion is
		// consumed so it stops resurfacing until the next scan.
		return StatusManual, nil
	}
	return "", fmt.Errorf("%w: unhandled action type %q", domain.ErrInvariant, s.ActionType)
}

// featureKey maps feature names onto their configuration keys.
func featureKey(feature string) string {
	switch feature {
	case "mumimo":
		return "wl_mumimo"
	case "roaming_assist":
		return "wl_user_rssi"
	case "band_steering":
		return "smart_connect_x"
	case "qos":
		return "qos_enable"
	case "ids":
		return "ids_enable"
	case "traffic_analyzer":
		return "traffic_analyzer_enable"
	case "vpn_server":
		return "vpn_server_enable"
	case "ddns":
		return "ddns_enable"
	case "upnp":
		return "upnp_enable"
	}
	return feature
}

// commitKV writes configuration keys on one node, commits, and restarts the
// radio when required. The primary is addressed through its own shell; peers
// go through the pool.
func (e *Engine) commitKV(ctx context.Context, nodeID string, kv map[string]string, restart bool) error {
	if e.isPrimary(nodeID) {
		for k, v := range kv {
			if err := e.opts.Primary.SetKV(ctx, k, v); err != nil {
				return err
			}
		}
		if err := e.opts.Primary.Commit(ctx); err != nil {
			return err
		}
		if restart {
			return e.opts.Primary.RestartRadio(ctx)
		}
		return nil
	}

	for k, v := range kv {
		if _, err := e.opts.Pool.ExecOn(ctx, nodeID, fmt.Sprintf("nvram set %s=%s", k, v)); err != nil {
			return err
		}
	}
	if _, err := e.opts.Pool.ExecOn(ctx, nodeID, "nvram commit"); err != nil {
		return err
	}
	if restart {
		_, err := e.opts.Pool.ExecOn(ctx, nodeID, "service restart_wireless")
		return err
	}
	return nil
}

// isPrimary reports whether the node is served by the primary shell. Peers
// carry their hardware address as ID; anything the pool does not know falls
// back to the primary.
func (e *Engine) isPrimary(nodeID string) bool {
	if e.opts.Pool == nil {
		return true
	}
	nodeID = domain.CanonicalMAC(strings.TrimSpace(nodeID))
	for _, p := range e.opts.Pool.Peers() {
		if p.MAC == nodeID {
			return false
		}
	}
	return true
}
