package domain

import "time"

// Band identifies a Wi-Fi radio band.
type Band string

const (
	Band24GHz Band = "2.4GHz"
	Band5GHz  Band = "5GHz"
	Band5GHz2 Band = "5GHz-2" // second 5 GHz radio on tri-band units
	Band6GHz  Band = "6GHz"
)

// Backhaul describes how a mesh node reaches the primary.
type Backhaul string

const (
	BackhaulWired    Backhaul = "wired"
	BackhaulWireless Backhaul = "wireless"
)

// Node is one access point of the mesh.
type Node struct {
	ID               string    `json:"id"`
	MAC              string    `json:"mac"` // canonical lowercase colon-form
	IP               string    `json:"ip"`
	Alias            string    `json:"alias,omitempty"`
	Model            string    `json:"model,omitempty"`
	IsPrimary        bool      `json:"is_primary"`
	Mode             string    `json:"mode,omitempty"` // router or ap
	Backhaul         Backhaul  `json:"backhaul"`
	BackhaulCost     int       `json:"backhaul_cost"` // raw cost from the membership record
	Firmware         string    `json:"firmware,omitempty"`
	Uptime           int64     `json:"uptime_sec,omitempty"`
	CPUPercent       float64   `json:"cpu_pct,omitempty"`
	MemoryPercent    float64   `json:"mem_pct,omitempty"`
	ConnectedClients int       `json:"clients"`
	Reachable        bool      `json:"reachable"`
	LastSeen         time.Time `json:"last_seen"`
}

// Radio is the per-band configuration of one node.
type Radio struct {
	NodeID        string `json:"node_id"`
	Band          Band   `json:"band"`
	Channel       int    `json:"channel"`
	WidthMHz      int    `json:"width_mhz"` // 20, 40, 80, 160, 320
	TxPowerPct    int    `json:"tx_power_pct"`
	Standard      string `json:"standard,omitempty"` // e.g. 802.11ax
	Security      string `json:"security,omitempty"` // e.g. WPA2, WPA3
	BandSteering  bool   `json:"band_steering"`
	Beamforming   bool   `json:"beamforming"`
	MUMIMO        bool   `json:"mu_mimo"`
	OFDMA         bool   `json:"ofdma"`
	RoamingAssist bool   `json:"roaming_assist"`
}

// channelPlan maps each band to its valid channel set. Single source of
// truth; radios are validated against it and the spectrum analyser iterates
// it when scoring candidates.
var channelPlan = map[Band][]int{
	Band24GHz: {1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13},
	Band5GHz: {36, 40, 44, 48, 52, 56, 60, 64, 100, 104, 108, 112,
		116, 120, 124, 128, 132, 136, 140, 144, 149, 153, 157, 161, 165},
	Band5GHz2: {100, 104, 108, 112, 116, 120, 124, 128, 132, 136, 140,
		144, 149, 153, 157, 161, 165},
	Band6GHz: {1, 5, 9, 13, 17, 21, 25, 29, 33, 37, 41, 45, 49, 53, 57,
		61, 65, 69, 73, 77, 81, 85, 89, 93},
}

// ValidChannels returns the channel set for a band. The returned slice must
// not be mutated.
func ValidChannels(b Band) []int {
	return channelPlan[b]
}

// ValidChannel reports whether c is a legal channel on band b.
func ValidChannel(b Band, c int) bool {
	for _, ch := range channelPlan[b] {
		if ch == c {
			return true
		}
	}
	return false
}

// ChannelFreqMHz returns the center frequency of a Wi-Fi channel in MHz.
// Returns 0 for channels outside the plan.
func ChannelFreqMHz(b Band, c int) float64 {
	if !ValidChannel(b, c) {
		return 0
	}
	switch b {
	case Band24GHz:
		if c == 14 {
			return 2484
		}
		return 2407 + 5*float64(c)
	case Band5GHz, Band5GHz2:
		return 5000 + 5*float64(c)
	case Band6GHz:
		return 5950 + 5*float64(c)
	}
	return 0
}
