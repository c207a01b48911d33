package domain

import "time"

// SourceHealth records whether one data source contributed to a snapshot.
type SourceHealth struct {
	Available bool      `json:"available"`
	Error     string    `json:"error,omitempty"`
	Duration  float64   `json:"duration_sec,omitempty"`
	At        time.Time `json:"at,omitempty"`
}

// SourceHealthVector is keyed by source name: router, nodes, hub, snmp.
type SourceHealthVector map[string]SourceHealth

// SwitchPort is one interface row of an SNMP-managed switch.
type SwitchPort struct {
	Index     int     `json:"index"`
	Name      string  `json:"name"`
	Up        bool    `json:"up"`
	SpeedMbps int64   `json:"speed_mbps"`
	InOctets  uint64  `json:"in_octets"`
	OutOctets uint64  `json:"out_octets"`
	PoEWatts  float64 `json:"poe_watts,omitempty"`
}

// SwitchInfo is the walked state of one managed switch. A nil Status entry
// in a snapshot means the host did not respond.
type SwitchInfo struct {
	Host  string       `json:"host"`
	Ports []SwitchPort `json:"ports,omitempty"`
	VLANs []int        `json:"vlans,omitempty"`
}

// NetworkSnapshot is the immutable aggregate produced by one scan. Nothing
// mutates a snapshot after publication; a new scan publishes a new value.
type NetworkSnapshot struct {
	Timestamp    time.Time              `json:"ts"`
	Nodes        []Node                 `json:"nodes"`
	Radios       []Radio                `json:"radios"`
	Devices      []Device               `json:"devices"`
	Neighbors    []NeighborAP           `json:"neighbors,omitempty"`
	Zigbee       *ZigbeeNetwork         `json:"zigbee,omitempty"`
	Switches     map[string]*SwitchInfo `json:"switches,omitempty"`
	SourceHealth SourceHealthVector     `json:"source_health"`
	Environment  EnvironmentScore       `json:"environment"`
}

// PrimaryNode returns the primary node, if present.
func (s *NetworkSnapshot) PrimaryNode() (Node, bool) {
	for _, n := range s.Nodes {
		if n.IsPrimary {
			return n, true
		}
	}
	return Node{}, false
}

// NodeByMAC looks a node up by hardware address.
func (s *NetworkSnapshot) NodeByMAC(mac string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.MAC == mac {
			return n, true
		}
	}
	return Node{}, false
}

// DeviceByMAC looks a device up by hardware address.
func (s *NetworkSnapshot) DeviceByMAC(mac string) (Device, bool) {
	for _, d := range s.Devices {
		if d.MAC == mac {
			return d, true
		}
	}
	return Device{}, false
}

// RadioFor returns the radio of a node on a band.
func (s *NetworkSnapshot) RadioFor(nodeID string, band Band) (Radio, bool) {
	for _, r := range s.Radios {
		if r.NodeID == nodeID && r.Band == band {
			return r, true
		}
	}
	return Radio{}, false
}

// Severity grades a detected problem.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Problem is one issue derived from a snapshot, consumed by the problems
// action and the alert router.
type Problem struct {
	Key       string    `json:"key"` // stable identity for cooldowns
	Category  string    `json:"category"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	DeviceMAC string    `json:"device,omitempty"`
	NodeID    string    `json:"node,omitempty"`
	At        time.Time `json:"at"`
}
