package recommend

import (
	"fmt"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
	"github.com/lcalzada-xor/wmesh/internal/core/services/spectrum"
)

// packMinimiseInterference proposes channel changes wherever the score
// deficit to the best allowed channel exceeds the band threshold.
func (e *Engine) packMinimiseInterference(snap *domain.NetworkSnapshot, scans map[domain.Band]domain.SpectrumScan) []domain.Suggestion {
	var out []domain.Suggestion
	zc := zigbeeChannel(snap)
	for _, r := range snap.Radios {
		scan, ok := scans[r.Band]
		if !ok {
			continue
		}
		best, bestScore := bestAllowedChannel(scan, zc)
		if best == 0 || best == r.Channel {
			continue
		}
		improvement := bestScore - spectrum.ScoreChannel(scan, r.Channel, zc)
		if improvement <= spectrum.ImprovementThreshold(r.Band) {
			continue
		}
		priority := 7
		if improvement > 50 {
			priority = 8
		}
		out = append(out, channelSuggestion(r, best, improvement, priority,
			fmt.Sprintf("channel score %.0f -> %.0f", bestScore-improvement, bestScore)))
	}
	return out
}

// packProtectZigbee moves Wi-Fi away from the Zigbee coordinator channel.
// Wi-Fi moves rather than Zigbee because Wi-Fi clients roam; Zigbee devices
// must be re-paired.
func (e *Engine) packProtectZigbee(snap *domain.NetworkSnapshot, scans map[domain.Band]domain.SpectrumScan) []domain.Suggestion {
	zc := zigbeeChannel(snap)
	if zc == 0 {
		return nil
	}
	var out []domain.Suggestion
	for _, r := range snap.Radios {
		if r.Band != domain.Band24GHz {
			continue
		}
		overlap := domain.ZigbeeOverlap(r.Channel, zc)
		if overlap <= maxZigbeeOverlap {
			continue
		}
		scan, ok := scans[r.Band]
		if !ok {
			scan = domain.SpectrumScan{Band: r.Band, Channels: map[int]domain.ChannelScan{}}
		}
		best, _ := bestAllowedChannel(scan, zc)
		if best == 0 || best == r.Channel {
			continue
		}
		s := channelSuggestion(r, best, overlap*100, 9,
			fmt.Sprintf("zigbee overlap %.0f%% -> %.0f%%", overlap*100, domain.ZigbeeOverlap(best, zc)*100))
		s.Category = domain.CategoryZigbee
		s.Confidence = 0.9
		out = append(out, s)
	}
	return out
}

// packReduceNeighborOverlap reacts to heavy co-channel crowding even when
// the score deficit alone would not cross the threshold.
func (e *Engine) packReduceNeighborOverlap(snap *domain.NetworkSnapshot, scans map[domain.Band]domain.SpectrumScan) []domain.Suggestion {
	var out []domain.Suggestion
	zc := zigbeeChannel(snap)
	for _, r := range snap.Radios {
		scan, ok := scans[r.Band]
		if !ok {
			continue
		}
		cs, ok := scan.Channels[r.Channel]
		if !ok || len(cs.Networks) < 3 {
			continue
		}
		best, bestScore := bestAllowedChannel(scan, zc)
		if best == 0 || best == r.Channel {
			continue
		}
		improvement := bestScore - spectrum.ScoreChannel(scan, r.Channel, zc)
		if improvement <= 0 {
			continue
		}
		out = append(out, channelSuggestion(r, best, improvement, 6,
			fmt.Sprintf("%d networks share channel %d", len(cs.Networks), r.Channel)))
	}
	return out
}

// packMaximiseThroughput enables disabled capabilities and widens narrow
// 5 GHz radios; on an AP-mode primary it also proposes dropping WAN-only
// services that waste CPU.
func (e *Engine) packMaximiseThroughput(snap *domain.NetworkSnapshot, scans map[domain.Band]domain.SpectrumScan) []domain.Suggestion {
	var out []domain.Suggestion
	for _, r := range snap.Radios {
		if r.Band == domain.Band5GHz && r.WidthMHz > 0 && r.WidthMHz < 80 {
			out = append(out, domain.Suggestion{
				Priority:   5,
				Category:   domain.CategoryFeatureToggle,
				ActionType: ActionSetWidth,
				Parameters: map[string]string{
					"node":  r.NodeID,
					"band":  string(r.Band),
					"width": "80",
				},
				CurrentValue:    fmt.Sprint(r.WidthMHz),
				TargetValue:     "80",
				Risk:            domain.RiskLow,
				Confidence:      0.8,
				Improvement:     "wider 5 GHz channel raises peak throughput",
				RequiresRestart: true,
			})
		}
		if !r.MUMIMO {
			out = append(out, featureToggle(r.NodeID, "mumimo", true, 4,
				"MU-MIMO serves multiple clients per transmit opportunity"))
		}
	}

	primary, ok := snap.PrimaryNode()
	if ok && primary.Mode == "ap" {
		for _, feature := range []string{"qos", "ids", "traffic_analyzer", "vpn_server", "ddns", "upnp"} {
			out = append(out, featureToggle(primary.ID, feature, false, 3,
				"WAN-only service is dead weight in access-point mode"))
		}
	}
	return out
}

// packImproveRoaming enables roaming assistance and band steering on
// multi-node meshes.
func (e *Engine) packImproveRoaming(snap *domain.NetworkSnapshot, scans map[domain.Band]domain.SpectrumScan) []domain.Suggestion {
	if len(snap.Nodes) < 2 {
		return nil
	}
	var out []domain.Suggestion
	for _, r := range snap.Radios {
		if !r.RoamingAssist {
			s := featureToggle(r.NodeID, "roaming_assist", true, 5,
				"sticky clients hold weak links without roaming assistance")
			s.Category = domain.CategoryRoaming
			out = append(out, s)
		}
		if !r.BandSteering && r.Band == domain.Band24GHz {
			s := featureToggle(r.NodeID, "band_steering", true, 4,
				"steer dual-band clients off crowded 2.4 GHz")
			s.Category = domain.CategoryRoaming
			out = append(out, s)
		}
	}
	return out
}

// packBalanceCoverage flags weak wireless backhauls. The backhaul RSSI is
// what the primary hears of the peer's radio; a peer below -70 dBm moves
// half the mesh's airtime through a marginal link.
func (e *Engine) packBalanceCoverage(snap *domain.NetworkSnapshot, scans map[domain.Band]domain.SpectrumScan) []domain.Suggestion {
	var out []domain.Suggestion
	for _, n := range snap.Nodes {
		if n.IsPrimary || n.Backhaul != domain.BackhaulWireless {
			continue
		}
		rssi, ok := backhaulRSSI(snap, n)
		if !ok || rssi >= -70 {
			continue
		}
		var affected []string
		for _, d := range snap.Devices {
			if d.AttachedNode == n.ID {
				affected = append(affected, d.MAC)
			}
		}
		out = append(out, domain.Suggestion{
			Priority:        7,
			Category:        domain.CategoryBackhaul,
			ActionType:      ActionWireBackhaul,
			Parameters:      map[string]string{"node": n.ID},
			CurrentValue:    fmt.Sprintf("wireless (%d dBm)", rssi),
			TargetValue:     "wired",
			Risk:            domain.RiskLow,
			Confidence:      0.85,
			Improvement:     "wired backhaul removes the weak hop entirely",
			AffectedDevices: affected,
		})
	}
	return out
}

// backhaulRSSI looks the peer's own association up among the devices: a
// wirelessly backhauled node appears as a wireless client of its uplink.
func backhaulRSSI(snap *domain.NetworkSnapshot, n domain.Node) (int, bool) {
	d, ok := snap.DeviceByMAC(n.MAC)
	if !ok || !d.Link.Wireless() || d.RSSI == 0 {
		return 0, false
	}
	return d.RSSI, true
}

func featureToggle(nodeID, feature string, enable bool, priority int, why string) domain.Suggestion {
	action := ActionEnableFeature
	target := "enabled"
	current := "disabled"
	if !enable {
		action = ActionDisableFeature
		target = "disabled"
		current = "enabled"
	}
	return domain.Suggestion{
		Priority:     priority,
		Category:     domain.CategoryFeatureToggle,
		ActionType:   action,
		Parameters:   map[string]string{"node": nodeID, "feature": feature},
		CurrentValue: current,
		TargetValue:  target,
		Risk:         domain.RiskLow,
		Confidence:   0.7,
		Improvement:  why,
	}
}
