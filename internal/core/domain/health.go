package domain

// HealthScore is the 0-100 summary of the network with per-category
// subscores.
type HealthScore struct {
	Overall      int `json:"overall"`
	Signal       int `json:"signal"`
	Channel      int `json:"channel"`
	Zigbee       int `json:"zigbee"`
	Interference int `json:"interference"`
	Stability    int `json:"stability"`
}

// EnvironmentScore is the composite computed at the end of a scan.
type EnvironmentScore struct {
	Overall              int `json:"overall"`
	WifiHealth           int `json:"wifi_health"`
	SpectrumClarity      int `json:"spectrum_clarity"`
	CrossProtocolHarmony int `json:"cross_protocol_harmony"`
	Stability            int `json:"stability"`
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ComputeHealthScore derives the health summary from a snapshot.
func ComputeHealthScore(s *NetworkSnapshot) HealthScore {
	h := HealthScore{Signal: 100, Channel: 100, Zigbee: 100, Interference: 100, Stability: 100}

	wireless := 0
	for _, d := range s.Devices {
		if !d.Link.Wireless() || d.RSSI == 0 {
			continue
		}
		wireless++
		switch {
		case d.RSSI < -80:
			h.Signal -= 15
		case d.RSSI < -70:
			h.Signal -= 5
		}
		if d.Status == StatusUnstable {
			h.Stability -= 10
		}
		if d.DisconnectCount > 5 {
			h.Stability -= 5
		}
	}

	// Channel pressure: neighbors sharing a channel with our radios.
	for _, r := range s.Radios {
		shared := 0
		for _, n := range s.Neighbors {
			if n.Band == r.Band && n.Channel == r.Channel {
				shared++
			}
		}
		h.Channel -= 5 * shared
		if shared > 0 && r.Band == Band24GHz {
			h.Interference -= 3 * shared
		}
	}

	if s.Zigbee != nil {
		for _, r := range s.Radios {
			if r.Band != Band24GHz {
				continue
			}
			overlap := ZigbeeOverlap(r.Channel, s.Zigbee.CoordinatorChannel)
			h.Zigbee -= int(overlap * 60)
		}
		unavailable := 0
		for _, zd := range s.Zigbee.Devices {
			if !zd.Available {
				unavailable++
			}
		}
		h.Zigbee -= 5 * unavailable
	}

	h.Signal = clampScore(h.Signal)
	h.Channel = clampScore(h.Channel)
	h.Zigbee = clampScore(h.Zigbee)
	h.Interference = clampScore(h.Interference)
	h.Stability = clampScore(h.Stability)
	h.Overall = clampScore((h.Signal*3 + h.Channel*2 + h.Zigbee + h.Interference*2 + h.Stability*2) / 10)
	return h
}
