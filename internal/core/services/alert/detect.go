// Package alert derives problems from snapshots and routes the ones worth
// telling somebody about to the configured channels.
package alert

import (
	"fmt"
	"time"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
)

// Defaults applied over zero-valued AlertConfig fields.
const (
	defaultRSSIWarn      = -75
	defaultRSSICritical  = -85
	defaultDisconnects   = 5
	defaultZigbeeOverlap = 0.3
	defaultCooldown      = 30 * time.Minute
)

func withDefaults(cfg domain.AlertConfig) domain.AlertConfig {
	if cfg.MinSeverity == "" {
		cfg.MinSeverity = domain.SeverityWarning
	}
	if cfg.CooldownPerKey == 0 {
		cfg.CooldownPerKey = defaultCooldown
	}
	if cfg.RSSIWarnDBm == 0 {
		cfg.RSSIWarnDBm = defaultRSSIWarn
	}
	if cfg.RSSICriticalDBm == 0 {
		cfg.RSSICriticalDBm = defaultRSSICritical
	}
	if cfg.DisconnectsWarn == 0 {
		cfg.DisconnectsWarn = defaultDisconnects
	}
	if cfg.ZigbeeOverlapMax == 0 {
		cfg.ZigbeeOverlapMax = defaultZigbeeOverlap
	}
	return cfg
}

// Detect derives the problem list of one snapshot. Keys are stable across
// scans so the router can apply per-key cooldowns.
func Detect(snap *domain.NetworkSnapshot, cfg domain.AlertConfig) []domain.Problem {
	cfg = withDefaults(cfg)
	now := snap.Timestamp
	var problems []domain.Problem

	for _, d := range snap.Devices {
		if d.Link.Wireless() && d.RSSI != 0 {
			switch {
			case d.RSSI <= cfg.RSSICriticalDBm:
				problems = append(problems, domain.Problem{
					Key: "weak-signal:" + d.MAC, Category: "signal", Severity: domain.SeverityCritical,
					Message:   fmt.Sprintf("%s at %d dBm, barely reachable", deviceLabel(d), d.RSSI),
					DeviceMAC: d.MAC, NodeID: d.AttachedNode, At: now,
				})
			case d.RSSI <= cfg.RSSIWarnDBm:
				problems = append(problems, domain.Problem{
					Key: "weak-signal:" + d.MAC, Category: "signal", Severity: domain.SeverityWarning,
					Message:   fmt.Sprintf("%s at %d dBm", deviceLabel(d), d.RSSI),
					DeviceMAC: d.MAC, NodeID: d.AttachedNode, At: now,
				})
			}
		}
		if d.DisconnectCount > cfg.DisconnectsWarn {
			problems = append(problems, domain.Problem{
				Key: "flapping:" + d.MAC, Category: "stability", Severity: domain.SeverityWarning,
				Message:   fmt.Sprintf("%s disconnected %d times", deviceLabel(d), d.DisconnectCount),
				DeviceMAC: d.MAC, At: now,
			})
		}
	}

	for _, n := range snap.Nodes {
		if !n.IsPrimary && !n.Reachable {
			problems = append(problems, domain.Problem{
				Key: "node-down:" + n.MAC, Category: "mesh", Severity: domain.SeverityCritical,
				Message: fmt.Sprintf("mesh node %s is unreachable", nodeLabel(n)),
				NodeID:  n.MAC, At: now,
			})
		}
	}

	if snap.Zigbee != nil {
		for _, r := range snap.Radios {
			if r.Band != domain.Band24GHz {
				continue
			}
			overlap := domain.ZigbeeOverlap(r.Channel, snap.Zigbee.CoordinatorChannel)
			if overlap <= cfg.ZigbeeOverlapMax {
				continue
			}
			severity := domain.SeverityWarning
			if overlap > 0.7 {
				severity = domain.SeverityCritical
			}
			problems = append(problems, domain.Problem{
				Key: "zigbee-overlap:" + r.NodeID, Category: "spectrum", Severity: severity,
				Message: fmt.Sprintf("wifi channel %d overlaps zigbee channel %d by %.0f%%",
					r.Channel, snap.Zigbee.CoordinatorChannel, overlap*100),
				NodeID: r.NodeID, At: now,
			})
		}
	}

	for source, health := range snap.SourceHealth {
		if !health.Available && source != "router" {
			problems = append(problems, domain.Problem{
				Key: "source-down:" + source, Category: "collection", Severity: domain.SeverityInfo,
				Message: fmt.Sprintf("%s source unavailable: %s", source, health.Error),
				At:      now,
			})
		}
	}

	return problems
}

func deviceLabel(d domain.Device) string {
	if d.Hostname != "" {
		return d.Hostname
	}
	return d.MAC
}

func nodeLabel(n domain.Node) string {
	if n.Alias != "" {
		return n.Alias
	}
	return n.MAC
}

func severityRank(s domain.Severity) int {
	switch s {
	case domain.SeverityCritical:
		return 2
	case domain.SeverityWarning:
		return 1
	}
	return 0
}
